package bpm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jashan-lco/banzai/internal/db"
)

func writeMaskFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mask.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write mask file: %v", err)
	}
	return path
}

func TestLoadValidMask(t *testing.T) {
	path := writeMaskFile(t, `{"nx": 3, "ny": 2, "data": [[0, 1, 0], [0, 0, 1]]}`)

	mask, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mask.NX != 3 || mask.NY != 2 {
		t.Fatalf("unexpected shape: %dx%d", mask.NX, mask.NY)
	}
	if mask.Data[0][1] != 1 || mask.Data[1][2] != 1 {
		t.Fatalf("flags not preserved: %+v", mask.Data)
	}
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	cases := map[string]string{
		"wrong row count":    `{"nx": 2, "ny": 3, "data": [[0, 0], [0, 0]]}`,
		"wrong column count": `{"nx": 3, "ny": 2, "data": [[0, 0, 0], [0, 0]]}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeMaskFile(t, content)); err == nil {
				t.Fatal("expected shape error")
			}
		})
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	if _, err := Load(writeMaskFile(t, `not json`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyZeroesFlaggedPixels(t *testing.T) {
	mask := Mask{NX: 3, NY: 2, Data: [][]uint8{{0, 1, 0}, {0, 0, 1}}}
	data := [][]float64{{10, 20, 30}, {40, 50, 60}}

	if err := Apply(data, mask); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]float64{{10, 0, 30}, {40, 50, 0}}
	for y := range want {
		for x := range want[y] {
			if data[y][x] != want[y][x] {
				t.Fatalf("pixel (%d,%d) = %g, want %g", y, x, data[y][x], want[y][x])
			}
		}
	}
}

func TestApplyRejectsShapeMismatch(t *testing.T) {
	mask := Mask{NX: 2, NY: 2, Data: [][]uint8{{0, 0}, {0, 0}}}
	if err := Apply([][]float64{{1, 2, 3}, {4, 5, 6}}, mask); err == nil {
		t.Fatal("expected shape mismatch error")
	}
	if err := Apply([][]float64{{1, 2}}, mask); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestMaskPathResolvesThroughCatalog(t *testing.T) {
	store, err := db.New(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	if _, err := store.SyncInstruments([]db.Camera{{Site: "coj", Instrument: "fa16", CameraType: "1m0-SciCam"}}); err != nil {
		t.Fatalf("failed to seed instrument: %v", err)
	}
	id, err := store.GetTelescopeID("coj", "fa16")
	if err != nil {
		t.Fatalf("failed to resolve instrument: %v", err)
	}
	if err := store.SaveBPM(db.BadPixelMask{TelescopeID: id, Filename: "bpm-fa16.json", Filepath: "/masks/coj", CCDSum: "1 1"}); err != nil {
		t.Fatalf("failed to save mask record: %v", err)
	}

	loader := NewLoader(store)
	path, err := loader.MaskPath(id, "1 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != filepath.Join("/masks/coj", "bpm-fa16.json") {
		t.Fatalf("unexpected mask path: %q", path)
	}

	if _, err := loader.MaskPath(id+1, "1 1"); !errors.Is(err, ErrNoMask) {
		t.Fatalf("expected ErrNoMask for unknown instrument, got %v", err)
	}
}
