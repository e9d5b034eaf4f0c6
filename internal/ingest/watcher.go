package ingest

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/jashan-lco/banzai/internal/db"
	"github.com/jashan-lco/banzai/internal/frames"
	"github.com/jashan-lco/banzai/internal/qc"
)

// Watcher monitors incoming data directories and records new raw frames in
// the catalog as their header sidecars appear.
type Watcher struct {
	watcher   *fsnotify.Watcher
	watchDirs []string
	ingester  *Ingester
	log       *slog.Logger
	done      chan struct{}
}

// Ingester records one frame into the catalog.
type Ingester struct {
	store    *db.Store
	checker  *qc.HeaderChecker
	calTypes map[string]bool
	log      *slog.Logger
}

// NewIngester wires frame ingestion. frameTypes lists the obstypes treated
// as calibration frames.
func NewIngester(store *db.Store, checker *qc.HeaderChecker, frameTypes []string, logger *slog.Logger) *Ingester {
	calTypes := make(map[string]bool, len(frameTypes))
	for _, t := range frameTypes {
		calTypes[t] = true
	}
	return &Ingester{store: store, checker: checker, calTypes: calTypes, log: logger}
}

// IngestSidecar loads the header sidecar at path and records its frame.
// Frames with header diagnostics are still ingested; frames from unknown
// instruments are skipped with a warning since no catalog row can own them.
func (i *Ingester) IngestSidecar(path string) error {
	frame, err := frames.Load(path)
	if err != nil {
		return err
	}

	if diags := i.checker.Check(frame); len(diags) > 0 {
		i.log.Warn("frame ingested with header diagnostics",
			"filename", frame.Filename, "diagnostics", len(diags))
	}

	telescopeID, err := i.store.GetTelescopeID(frame.Site, frame.Instrument)
	if err != nil {
		if errors.Is(err, db.ErrUnknownInstrument) {
			i.log.Warn("skipping frame from unregistered instrument",
				"filename", frame.Filename,
				"site", frame.Site,
				"instrument", frame.Instrument,
			)
			return nil
		}
		return err
	}

	if err := i.store.SaveImage(frame.ImageRecord(telescopeID)); err != nil {
		return err
	}

	if i.calTypes[frame.ObsType] {
		if err := i.store.SaveCalibrationImage(frame.CalibrationRecord(telescopeID)); err != nil {
			return err
		}
		i.log.Info("raw calibration frame ingested",
			"filename", frame.Filename,
			"type", frame.ObsType,
			"site", frame.Site,
			"instrument", frame.Instrument,
			"dayobs", frame.DayObs,
		)
	}
	return nil
}

// IngestDir ingests every header sidecar already present under dir.
func (i *Ingester) IngestDir(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+frames.SidecarExt))
	if err != nil {
		return 0, err
	}
	ingested := 0
	for _, path := range matches {
		if err := i.IngestSidecar(path); err != nil {
			i.log.Error("failed to ingest frame", "path", path, "error", err)
			continue
		}
		ingested++
	}
	return ingested, nil
}

// NewWatcher creates a filesystem watcher over watchPaths.
func NewWatcher(watchPaths []string, ingester *Ingester, logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:   watcher,
		watchDirs: watchPaths,
		ingester:  ingester,
		log:       logger,
		done:      make(chan struct{}),
	}, nil
}

// Start begins monitoring the configured directories.
func (w *Watcher) Start() error {
	for _, dir := range w.watchDirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.log.Info("watching incoming data directory", "dir", dir)
	}
	go w.processEvents()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, frames.SidecarExt) {
				continue
			}
			if err := w.ingester.IngestSidecar(event.Name); err != nil {
				w.log.Error("failed to ingest frame", "path", event.Name, "error", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}
