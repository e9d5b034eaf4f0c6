package ingest

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jashan-lco/banzai/internal/db"
	"github.com/jashan-lco/banzai/internal/qc"
)

func newTestIngester(t *testing.T) (*Ingester, *db.Store) {
	t.Helper()
	store, err := db.New(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := store.SyncInstruments([]db.Camera{{Site: "coj", Instrument: "fa16", CameraType: "1m0-SciCam"}}); err != nil {
		t.Fatalf("failed to seed instrument: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	checker := qc.NewHeaderChecker(logger)
	return NewIngester(store, checker, []string{"BIAS", "DARK", "SKY_FLAT"}, logger), store
}

func writeSidecar(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write sidecar: %v", err)
	}
	return path
}

const biasSidecar = `{
    "SITEID": "coj", "INSTRUME": "fa16", "OBSTYPE": "BIAS",
    "DAY-OBS": "20190219", "DATE-OBS": "2019-02-19T20:27:49",
    "CCDSUM": "1 1", "EXPTIME": 0.0
}`

const scienceSidecar = `{
    "SITEID": "coj", "INSTRUME": "fa16", "OBSTYPE": "EXPOSE",
    "DAY-OBS": "20190219", "DATE-OBS": "2019-02-19T22:00:00",
    "CCDSUM": "1 1", "EXPTIME": 120.0, "OBJECT": "M42"
}`

func TestIngestSidecarRecordsCalibrationFrame(t *testing.T) {
	ingester, store := newTestIngester(t)
	dir := t.TempDir()
	path := writeSidecar(t, dir, "coj1m011-fa16-20190219-0001-b00.fits.json", biasSidecar)

	if err := ingester.IngestSidecar(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := store.GetTelescopeID("coj", "fa16")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var imageCount, calCount int
	if err := store.DB.QueryRow(`SELECT COUNT(*) FROM images WHERE telescope_id=?;`, id).Scan(&imageCount); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if err := store.DB.QueryRow(`SELECT COUNT(*) FROM calimages WHERE telescope_id=? AND type='BIAS';`, id).Scan(&calCount); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if imageCount != 1 || calCount != 1 {
		t.Fatalf("expected 1 image and 1 calimage row, got %d and %d", imageCount, calCount)
	}
}

func TestIngestSidecarScienceFrameSkipsCalimages(t *testing.T) {
	ingester, store := newTestIngester(t)
	dir := t.TempDir()
	path := writeSidecar(t, dir, "coj1m011-fa16-20190219-0002-e00.fits.json", scienceSidecar)

	if err := ingester.IngestSidecar(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var imageCount, calCount int
	if err := store.DB.QueryRow(`SELECT COUNT(*) FROM images;`).Scan(&imageCount); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if err := store.DB.QueryRow(`SELECT COUNT(*) FROM calimages;`).Scan(&calCount); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if imageCount != 1 || calCount != 0 {
		t.Fatalf("expected 1 image and no calimage rows, got %d and %d", imageCount, calCount)
	}
}

func TestIngestSidecarSkipsUnknownInstrument(t *testing.T) {
	ingester, store := newTestIngester(t)
	dir := t.TempDir()
	sidecar := `{"SITEID": "lsc", "INSTRUME": "fl99", "OBSTYPE": "BIAS", "DAY-OBS": "20190219"}`
	path := writeSidecar(t, dir, "lsc1m005-fl99-20190219-0001-b00.fits.json", sidecar)

	if err := ingester.IngestSidecar(path); err != nil {
		t.Fatalf("unknown instrument should be skipped, not an error: %v", err)
	}

	var imageCount int
	if err := store.DB.QueryRow(`SELECT COUNT(*) FROM images;`).Scan(&imageCount); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if imageCount != 0 {
		t.Fatalf("expected no rows for unknown instrument, got %d", imageCount)
	}
}

func TestIngestDirHandlesBadSidecars(t *testing.T) {
	ingester, _ := newTestIngester(t)
	dir := t.TempDir()
	writeSidecar(t, dir, "good.fits.json", biasSidecar)
	writeSidecar(t, dir, "bad.fits.json", "not json")
	writeSidecar(t, dir, "ignored.txt", "not a sidecar")

	ingested, err := ingester.IngestDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ingested != 1 {
		t.Fatalf("expected 1 ingested frame, got %d", ingested)
	}
}
