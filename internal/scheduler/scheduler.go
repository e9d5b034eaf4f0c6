package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jashan-lco/banzai/internal/config"
	"github.com/jashan-lco/banzai/internal/db"
	"github.com/jashan-lco/banzai/internal/logging"
	"github.com/jashan-lco/banzai/internal/observations"
	"github.com/jashan-lco/banzai/internal/stacking"
)

// BlockSource returns the observation blocks for a site and time range.
type BlockSource interface {
	GetCalibrationBlocks(ctx context.Context, site string, minDate, maxDate time.Time) ([]observations.Block, error)
}

// InstrumentSource returns the active instruments at a site.
type InstrumentSource interface {
	GetInstrumentsAtSite(site string) ([]db.Telescope, error)
}

// Enqueuer accepts deferred stacking work.
type Enqueuer interface {
	Enqueue(req stacking.Request, countdown time.Duration) error
}

// Scheduler decides, per instrument and calibration type, when to trigger a
// stacking task. It enqueues work into an at-least-once queue; deduplication
// is not guaranteed here, only by the task's own re-check at execution time.
type Scheduler struct {
	instruments InstrumentSource
	blocks      BlockSource
	queue       Enqueuer
	cal         config.Calibrations
	log         *slog.Logger
	now         func() time.Time
}

// New wires a scheduler with its collaborators.
func New(instruments InstrumentSource, blocks BlockSource, queue Enqueuer, cal config.Calibrations, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		instruments: instruments,
		blocks:      blocks,
		queue:       queue,
		cal:         cal,
		log:         logger,
		now:         time.Now,
	}
}

// ScheduleStacking runs one scheduling pass for a site over [minDate, maxDate).
// For each configured frame type with at least one matching block, one task
// per instrument is enqueued with a countdown of
// max(0, latest block end + type delay - now). If the block source or the
// instrument registry is unreachable, the whole cycle for the site is
// skipped; the next periodic run retries naturally.
func (s *Scheduler) ScheduleStacking(ctx context.Context, site string, minDate, maxDate time.Time) error {
	instruments, err := s.instruments.GetInstrumentsAtSite(site)
	if err != nil {
		return fmt.Errorf("get instruments at %s: %w", site, err)
	}
	if len(instruments) == 0 {
		s.log.Warn("no instruments registered at site", "site", site)
		return nil
	}

	blocks, err := s.blocks.GetCalibrationBlocks(ctx, site, minDate, maxDate)
	if err != nil {
		return fmt.Errorf("get observation blocks for %s: %w", site, err)
	}

	for _, frameType := range s.cal.FrameTypes {
		matched := observations.FilterForType(blocks, frameType)
		if len(matched) == 0 {
			continue
		}

		countdown := s.countdown(matched, frameType)
		enqueued := 0
		for _, instrument := range instruments {
			req := stacking.Request{
				ID:           taskID(site, instrument.ID, frameType, minDate),
				Site:         site,
				MinDate:      minDate,
				MaxDate:      maxDate,
				InstrumentID: instrument.ID,
				FrameType:    frameType,
				Blocks:       matched,
			}
			if err := s.queue.Enqueue(req, countdown); err != nil {
				s.log.Error("failed to enqueue stacking task",
					"site", site,
					"instrument", instrument.Instrument,
					"frame_type", frameType,
					"error", err,
				)
				continue
			}
			enqueued++
		}
		logging.LogScheduleCycle(s.log, site, frameType, len(matched), enqueued)
	}
	return nil
}

// countdown computes the delay before stacking may start: the time until the
// latest matching block ends, plus the per-type availability lag. The latest
// end is taken across all instruments at the site, matching the upstream
// scheduler; instruments whose blocks end earlier wait for the site-wide
// latest end.
func (s *Scheduler) countdown(blocks []observations.Block, frameType string) time.Duration {
	latestEnd, ok := observations.LatestEnd(blocks)
	if !ok {
		return 0
	}
	delay := time.Duration(s.cal.Delay(frameType)) * time.Second
	countdown := latestEnd.Add(delay).Sub(s.now())
	if countdown < 0 {
		return 0
	}
	return countdown
}

func taskID(site string, instrumentID int64, frameType string, minDate time.Time) string {
	return fmt.Sprintf("%s-%d-%s-%s", site, instrumentID, frameType, minDate.UTC().Format("20060102T150405"))
}

// Run executes scheduling passes for all configured sites at the configured
// interval until ctx is cancelled. Each pass covers the lookback window
// ending now.
func (s *Scheduler) Run(ctx context.Context, sch config.Scheduler) error {
	interval := time.Duration(sch.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lookback := time.Duration(sch.LookbackHours) * time.Hour
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runAllSites(ctx, sch.Sites, lookback)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runAllSites(ctx, sch.Sites, lookback)
		}
	}
}

func (s *Scheduler) runAllSites(ctx context.Context, sites []string, lookback time.Duration) {
	now := s.now()
	for _, site := range sites {
		if err := s.ScheduleStacking(ctx, site, now.Add(-lookback), now); err != nil {
			s.log.Error("scheduling cycle skipped", "site", site, "error", err)
		}
	}
}
