package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/banzai/config.json"
	defaultInterval   = 300
)

// Config holds user-editable settings for the reduction pipeline.
type Config struct {
	Database     Database     `json:"database"`
	Observations Observations `json:"observations"`
	Calibrations Calibrations `json:"calibrations"`
	Scheduler    Scheduler    `json:"scheduler"`
	Ingest       Ingest       `json:"ingest"`
	Logging      Logging      `json:"logging"`
	Server       Server       `json:"server"`
}

// Database configures the calibration catalog store.
type Database struct {
	Path string `json:"path"`
}

// Observations configures the external block and instrument sources.
type Observations struct {
	PortalAddress   string `json:"portal_address"`   // observation portal returning scheduled blocks
	ConfigDBAddress string `json:"configdb_address"` // instrument configuration source
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// Calibrations configures stacking policy per calibration frame type.
type Calibrations struct {
	FrameTypes       []string       `json:"frame_types"`
	StackDelays      map[string]int `json:"stack_delays"` // seconds of expected frame availability lag per type
	MinImagesToStack int            `json:"min_images_to_stack"`
	MaxRetries       int            `json:"max_retries"`
	RetryDelay       int            `json:"retry_delay"` // seconds before retrying an under-populated stack
	Workers          int            `json:"workers"`
}

// Scheduler configures the periodic stacking scheduler.
type Scheduler struct {
	IntervalSeconds int      `json:"interval_seconds"`
	Sites           []string `json:"sites"`
	LookbackHours   int      `json:"lookback_hours"`
}

// Ingest configures raw frame ingestion.
type Ingest struct {
	WatchDirs  []string `json:"watch_dirs"`
	RawDataDir string   `json:"raw_data_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Server configures the HTTP API.
type Server struct {
	Addr string `json:"addr"`
}

// Delay returns the configured stacking delay for a frame type in seconds.
func (c Calibrations) Delay(frameType string) int {
	return c.StackDelays[frameType]
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("BANZAI_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Path returns the resolved config file location: BANZAI_CONFIG if set,
// the default location otherwise, with ~ expanded.
func Path() (string, error) {
	path := os.Getenv("BANZAI_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	return expandUser(path)
}

// WriteDefault writes the default configuration to path. Refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(defaultConfig(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func defaultConfig() *Config {
	return &Config{
		Database: Database{
			Path: filepath.Join(os.TempDir(), "banzai.db"),
		},
		Observations: Observations{
			PortalAddress:   "http://observation-portal.lco.gtn/api/observations/",
			ConfigDBAddress: "http://configdb.lco.gtn/sites/",
			TimeoutSeconds:  30,
		},
		Calibrations: Calibrations{
			FrameTypes: []string{"BIAS", "DARK", "SKY_FLAT"},
			StackDelays: map[string]int{
				"BIAS":     300,
				"DARK":     300,
				"SKY_FLAT": 1800,
			},
			MinImagesToStack: 2,
			MaxRetries:       5,
			RetryDelay:       600,
			Workers:          4,
		},
		Scheduler: Scheduler{
			IntervalSeconds: defaultInterval,
			LookbackHours:   24,
		},
		Ingest: Ingest{
			RawDataDir: "./data",
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Server: Server{
			Addr: ":8080",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
