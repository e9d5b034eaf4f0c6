package stacking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jashan-lco/banzai/internal/dateutil"
	"github.com/jashan-lco/banzai/internal/db"
	"github.com/jashan-lco/banzai/internal/logging"
	"github.com/jashan-lco/banzai/internal/observations"
)

// ErrNotEnoughImages signals that fewer raw calibration frames than the
// stacking threshold were found. The condition is retryable: frames may
// still be arriving.
var ErrNotEnoughImages = errors.New("not enough calibration images to stack")

// Request is the immutable payload of one stacking task. It carries enough
// information to be replayed idempotently if retried.
type Request struct {
	ID           string
	Site         string
	MinDate      time.Time
	MaxDate      time.Time
	InstrumentID int64
	FrameType    string
	Blocks       []observations.Block
}

// Status classifies the outcome of one task execution.
type Status int

const (
	Succeeded Status = iota
	Retry
	Fatal
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Retry:
		return "retry"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one task execution. The queue adapter
// translates it into its native re-arm or drop behavior.
type Outcome struct {
	Status Status
	After  time.Duration // re-arm delay when Status == Retry
	Err    error
}

func succeeded() Outcome { return Outcome{Status: Succeeded} }

func retryAfter(d time.Duration, err error) Outcome {
	return Outcome{Status: Retry, After: d, Err: err}
}

func fatal(err error) Outcome { return Outcome{Status: Fatal, Err: err} }

// MasterFrameBuilder combines a set of raw calibration frames into one
// master frame and records it in the catalog.
type MasterFrameBuilder interface {
	MakeMaster(ctx context.Context, instrument db.Telescope, frameType string, minDate, maxDate time.Time, images []db.CalibrationImage) error
}

// Catalog is the store surface the stacker needs.
type Catalog interface {
	GetInstrumentByID(id int64) (db.Telescope, error)
	IndividualCalibrationImages(telescopeID int64, frameType string, minDate, maxDate time.Time) ([]db.CalibrationImage, error)
}

// Stacker executes stacking tasks against the catalog.
type Stacker struct {
	catalog    Catalog
	builder    MasterFrameBuilder
	minImages  int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewStacker wires a stacker with its collaborators.
func NewStacker(catalog Catalog, builder MasterFrameBuilder, minImages int, retryDelay time.Duration, logger *slog.Logger) *Stacker {
	if minImages < 1 {
		minImages = 1
	}
	return &Stacker{
		catalog:    catalog,
		builder:    builder,
		minImages:  minImages,
		retryDelay: retryDelay,
		log:        logger,
	}
}

// Do runs one stacking attempt. An unresolvable instrument id is fatal:
// retrying cannot fix a bad identity. Too few qualifying frames yields a
// retryable outcome so the task is re-armed, not abandoned.
func (s *Stacker) Do(ctx context.Context, req Request) Outcome {
	start := time.Now()

	instrument, err := s.catalog.GetInstrumentByID(req.InstrumentID)
	if err != nil {
		if errors.Is(err, db.ErrUnknownInstrument) {
			logging.LogTaskError(s.log, req.InstrumentID, req.FrameType,
				dateutil.Format(req.MinDate), dateutil.Format(req.MaxDate), err)
			return fatal(err)
		}
		return retryAfter(s.retryDelay, fmt.Errorf("resolve instrument: %w", err))
	}

	images, err := s.catalog.IndividualCalibrationImages(req.InstrumentID, req.FrameType, req.MinDate, req.MaxDate)
	if err != nil {
		return retryAfter(s.retryDelay, fmt.Errorf("query calibration images: %w", err))
	}

	if len(images) < s.minImages {
		s.log.Info("deferring stack, not enough frames yet",
			"site", instrument.Site,
			"instrument", instrument.Instrument,
			"frame_type", req.FrameType,
			"found", len(images),
			"needed", s.minImages,
		)
		return retryAfter(s.retryDelay,
			fmt.Errorf("%w: found %d, need %d", ErrNotEnoughImages, len(images), s.minImages))
	}

	if err := s.builder.MakeMaster(ctx, instrument, req.FrameType, req.MinDate, req.MaxDate, images); err != nil {
		logging.LogTaskError(s.log, req.InstrumentID, req.FrameType,
			dateutil.Format(req.MinDate), dateutil.Format(req.MaxDate), err)
		return retryAfter(s.retryDelay, fmt.Errorf("make master frame: %w", err))
	}

	logging.LogTaskComplete(s.log, req.InstrumentID, req.FrameType, time.Since(start), len(images))
	return succeeded()
}
