package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptureConfig drives the epdweb front-end: which page to screenshot, how
// often, and at what viewport size.
type CaptureConfig struct {
	// URL is the page rendered onto the panel.
	URL string `yaml:"url" json:"url"`

	// RefreshCron is a cron-style schedule string (e.g. "*/5 * * * *")
	// for periodic re-capture.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Width and Height are the browser viewport in pixels. Zero means
	// the panel's screen dimensions.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// TimeoutSec bounds a single capture.
	TimeoutSec int `yaml:"timeout_sec" json:"timeout_sec"`
}

// Config is the top-level configuration shared by the front-ends.
type Config struct {
	// Framebuffer overrides the discovered panel device path.
	Framebuffer string `yaml:"framebuffer" json:"framebuffer"`

	// Sensor overrides the discovered temperature sensor path.
	Sensor string `yaml:"sensor" json:"sensor"`

	// Waveforms is the path of a YAML waveform table. Empty selects the
	// built-in table.
	Waveforms string `yaml:"waveforms" json:"waveforms"`

	// Mode is the default rendering mode name (e.g. "GC16").
	Mode string `yaml:"mode" json:"mode"`

	// DryRun skips all device I/O; useful on development machines.
	DryRun bool `yaml:"dry_run" json:"dry_run"`

	// PerfReport, if non-empty, is where the timing CSV is written on
	// shutdown.
	PerfReport string `yaml:"perf_report" json:"perf_report"`

	// PowerOffTimeoutMs is the idle time before the panel is powered
	// down, in milliseconds.
	PowerOffTimeoutMs int `yaml:"power_off_timeout_ms" json:"power_off_timeout_ms"`

	// TemperatureReadIntervalSec rate-limits sensor reads, in seconds.
	TemperatureReadIntervalSec int `yaml:"temperature_read_interval_sec" json:"temperature_read_interval_sec"`

	// LogLevel is DEBUG, INFO, or ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Capture configures the epdweb front-end.
	Capture CaptureConfig `yaml:"capture" json:"capture"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:                       "GC16",
		PowerOffTimeoutMs:          3000,
		TemperatureReadIntervalSec: 30,
		LogLevel:                   "INFO",
		Capture: CaptureConfig{
			RefreshCron: "*/5 * * * *",
			TimeoutSec:  30,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Mode == "" {
		c.Mode = "GC16"
	}
	if c.PowerOffTimeoutMs <= 0 {
		c.PowerOffTimeoutMs = 3000
	}
	if c.TemperatureReadIntervalSec <= 0 {
		c.TemperatureReadIntervalSec = 30
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "ERROR":
		// ok
	default:
		c.LogLevel = "INFO"
	}
	if c.Capture.RefreshCron == "" {
		c.Capture.RefreshCron = "*/5 * * * *"
	}
	if c.Capture.TimeoutSec <= 0 {
		c.Capture.TimeoutSec = 30
	}
}

// PowerOffTimeout returns the idle power-down threshold as a Duration.
func (c *Config) PowerOffTimeout() time.Duration {
	return time.Duration(c.PowerOffTimeoutMs) * time.Millisecond
}

// TemperatureReadInterval returns the sensor read interval as a Duration.
func (c *Config) TemperatureReadInterval() time.Duration {
	return time.Duration(c.TemperatureReadIntervalSec) * time.Second
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".epdfb-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
