package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jashan-lco/banzai/internal/dateutil"
	"github.com/jashan-lco/banzai/internal/db"
	"github.com/jashan-lco/banzai/internal/logging"
	"github.com/jashan-lco/banzai/internal/stacking"
)

// Runner executes one stacking attempt and reports a tagged outcome.
type Runner interface {
	Do(ctx context.Context, req stacking.Request) stacking.Outcome
}

// Audit records the task lifecycle in the catalog.
type Audit interface {
	RecordTaskQueued(rec db.TaskRecord) error
	RecordTaskStart(id string) error
	RecordTaskResult(id string, status string, errMsg string) error
}

// Event is broadcast to subscribers after each task attempt.
type Event struct {
	Request stacking.Request `json:"request"`
	Attempt int              `json:"attempt"`
	Status  string           `json:"status"`
	Error   string           `json:"error,omitempty"`
}

type item struct {
	req     stacking.Request
	attempt int
}

// Queue is an in-process, at-least-once deferred task runner. Tasks wait out
// their countdown, execute on a worker pool, and are re-armed on retryable
// outcomes until the retry budget is exhausted. Ordering across tasks is not
// guaranteed; concurrent executions for the same logical work are safe
// because the catalog upsert is keyed.
type Queue struct {
	runner     Runner
	audit      Audit
	log        *slog.Logger
	maxRetries int

	tasks    chan item
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	pending  sync.WaitGroup
	stopOnce sync.Once

	mu        sync.Mutex
	subs      map[int]chan Event
	nextSubID int
}

// New starts a queue with the given worker concurrency.
func New(ctx context.Context, concurrency int, runner Runner, audit Audit, maxRetries int, logger *slog.Logger) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	ctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		runner:     runner,
		audit:      audit,
		log:        logger,
		maxRetries: maxRetries,
		tasks:      make(chan item, concurrency*2),
		ctx:        ctx,
		cancel:     cancel,
		subs:       make(map[int]chan Event),
	}

	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

// Enqueue arms a stacking task to execute after countdown elapses.
func (q *Queue) Enqueue(req stacking.Request, countdown time.Duration) error {
	if q.ctx.Err() != nil {
		return errors.New("queue is stopped")
	}
	if q.audit != nil {
		_ = q.audit.RecordTaskQueued(db.TaskRecord{
			ID:          req.ID,
			Site:        req.Site,
			TelescopeID: req.InstrumentID,
			FrameType:   req.FrameType,
			MinDate:     dateutil.Format(req.MinDate),
			MaxDate:     dateutil.Format(req.MaxDate),
			Status:      "queued",
		})
	}
	q.log.Info("stacking task enqueued",
		"id", req.ID,
		"site", req.Site,
		"instrument_id", req.InstrumentID,
		"frame_type", req.FrameType,
		"countdown_s", int(countdown.Seconds()),
	)
	q.pending.Add(1)
	q.arm(item{req: req, attempt: 1}, countdown)
	return nil
}

// Wait blocks until every enqueued task has settled: completed, failed,
// exhausted its retries, or been dropped by Stop. One-shot callers use it to
// drain armed countdowns before shutting the queue down.
func (q *Queue) Wait() {
	q.pending.Wait()
}

// arm delivers the item to the worker pool after delay.
func (q *Queue) arm(it item, delay time.Duration) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-q.ctx.Done():
				q.pending.Done()
				return
			case <-timer.C:
			}
		}
		select {
		case <-q.ctx.Done():
			q.pending.Done()
		case q.tasks <- it:
		}
	}()
}

// Stop cancels pending work and waits for in-flight attempts to finish.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.cancel()
		q.wg.Wait()
		q.mu.Lock()
		for id, ch := range q.subs {
			close(ch)
			delete(q.subs, id)
		}
		q.mu.Unlock()
	})
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case it := <-q.tasks:
			q.execute(it)
		}
	}
}

func (q *Queue) execute(it item) {
	req := it.req
	logging.LogTaskStart(q.log, req.Site, req.InstrumentID, req.FrameType,
		dateutil.Format(req.MinDate), dateutil.Format(req.MaxDate), it.attempt)
	if q.audit != nil {
		_ = q.audit.RecordTaskStart(req.ID)
	}

	outcome := q.runner.Do(q.ctx, req)

	switch outcome.Status {
	case stacking.Succeeded:
		if q.audit != nil {
			_ = q.audit.RecordTaskResult(req.ID, "completed", "")
		}
		q.broadcast(Event{Request: req, Attempt: it.attempt, Status: "completed"})
		q.pending.Done()

	case stacking.Retry:
		if it.attempt > q.maxRetries {
			q.log.Warn("stacking task retry budget exhausted",
				"id", req.ID,
				"attempts", it.attempt,
				"error", errString(outcome.Err),
			)
			if q.audit != nil {
				_ = q.audit.RecordTaskResult(req.ID, "exhausted", errString(outcome.Err))
			}
			q.broadcast(Event{Request: req, Attempt: it.attempt, Status: "exhausted", Error: errString(outcome.Err)})
			q.pending.Done()
			return
		}
		if q.audit != nil {
			_ = q.audit.RecordTaskResult(req.ID, "retry_scheduled", errString(outcome.Err))
		}
		q.broadcast(Event{Request: req, Attempt: it.attempt, Status: "retry_scheduled", Error: errString(outcome.Err)})
		q.arm(item{req: req, attempt: it.attempt + 1}, outcome.After)

	case stacking.Fatal:
		if q.audit != nil {
			_ = q.audit.RecordTaskResult(req.ID, "failed", errString(outcome.Err))
		}
		q.broadcast(Event{Request: req, Attempt: it.attempt, Status: "failed", Error: errString(outcome.Err)})
		q.pending.Done()
	}
}

// Subscribe returns a channel of task events and an unsubscribe function.
func (q *Queue) Subscribe() (<-chan Event, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextSubID
	q.nextSubID++
	ch := make(chan Event, 8)
	q.subs[id] = ch
	unsub := func() {
		q.mu.Lock()
		if c, ok := q.subs[id]; ok {
			close(c)
			delete(q.subs, id)
		}
		q.mu.Unlock()
	}
	return ch, unsub
}

func (q *Queue) broadcast(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, ch := range q.subs {
		select {
		case ch <- ev:
		default:
			q.log.Warn("event channel full", "subscriber", id, "task", ev.Request.ID)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
