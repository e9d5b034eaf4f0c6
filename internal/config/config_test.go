package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("BANZAI_CONFIG", filepath.Join(t.TempDir(), "does-not-exist.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Calibrations.MinImagesToStack != 2 {
		t.Fatalf("unexpected stacking threshold: %d", cfg.Calibrations.MinImagesToStack)
	}
	if len(cfg.Calibrations.FrameTypes) != 3 {
		t.Fatalf("unexpected frame types: %v", cfg.Calibrations.FrameTypes)
	}
	if cfg.Scheduler.IntervalSeconds != 300 || cfg.Scheduler.LookbackHours != 24 {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected server default: %q", cfg.Server.Addr)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
        "database": {"path": "/data/banzai.db"},
        "calibrations": {
            "frame_types": ["BIAS"],
            "stack_delays": {"BIAS": 60},
            "min_images_to_stack": 5,
            "max_retries": 2,
            "retry_delay": 30,
            "workers": 1
        },
        "scheduler": {"interval_seconds": 60, "sites": ["coj"], "lookback_hours": 12}
    }`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("BANZAI_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Path != "/data/banzai.db" {
		t.Fatalf("database path not overridden: %q", cfg.Database.Path)
	}
	if cfg.Calibrations.MinImagesToStack != 5 || cfg.Calibrations.Delay("BIAS") != 60 {
		t.Fatalf("calibration settings not overridden: %+v", cfg.Calibrations)
	}
	if len(cfg.Scheduler.Sites) != 1 || cfg.Scheduler.Sites[0] != "coj" {
		t.Fatalf("scheduler sites not overridden: %+v", cfg.Scheduler)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Observations.TimeoutSeconds != 30 {
		t.Fatalf("untouched section lost its default: %+v", cfg.Observations)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("BANZAI_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.json")
	t.Setenv("BANZAI_CONFIG", path)

	resolved, err := Path()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != path {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}

	if err := WriteDefault(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("written default config did not load: %v", err)
	}
	if cfg.Calibrations.MinImagesToStack != 2 || cfg.Scheduler.IntervalSeconds != 300 {
		t.Fatalf("written config lost defaults: %+v", cfg)
	}

	if err := WriteDefault(path); err == nil {
		t.Fatal("expected error overwriting an existing config file")
	}
}

func TestDelayUnknownTypeIsZero(t *testing.T) {
	cal := Calibrations{StackDelays: map[string]int{"BIAS": 300}}
	if d := cal.Delay("SKY_FLAT"); d != 0 {
		t.Fatalf("expected zero delay for unconfigured type, got %d", d)
	}
}
