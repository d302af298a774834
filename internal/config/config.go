package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the capture pipeline
type Config struct {
	Env string `yaml:"env" env:"WAYTRACK_ENV" env-default:"local"`

	Log struct {
		Level  string `yaml:"level" env:"WAYTRACK_LOG_LEVEL" env-default:"info"`
		Format string `yaml:"format" env:"WAYTRACK_LOG_FORMAT" env-default:"json"`
	} `yaml:"log"`

	Tracking   TrackingConfig   `yaml:"tracking"`
	Capture    CaptureConfig    `yaml:"capture"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Spool      SpoolConfig      `yaml:"spool"`
}

// TrackingConfig controls the socket client and the debounce coordinator
type TrackingConfig struct {
	// WarmupPeriod drops every event arriving this soon after session start
	WarmupPeriod time.Duration `yaml:"warmup_period" env:"WAYTRACK_WARMUP_PERIOD" env-default:"10s"`
	// SettleDelay lets compositor state settle before arming the debounce window
	SettleDelay    time.Duration `yaml:"settle_delay" env:"WAYTRACK_SETTLE_DELAY" env-default:"100ms"`
	DebounceWindow time.Duration `yaml:"debounce_window" env:"WAYTRACK_DEBOUNCE_WINDOW" env-default:"10s"`
	// BackupInterval re-captures the current window even without switches
	BackupInterval    time.Duration `yaml:"backup_interval" env:"WAYTRACK_BACKUP_INTERVAL" env-default:"5m"`
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff" env:"WAYTRACK_RECONNECT_BACKOFF" env-default:"5s"`
	IntrospectTimeout time.Duration `yaml:"introspect_timeout" env:"WAYTRACK_INTROSPECT_TIMEOUT" env-default:"5s"`
}

// CaptureConfig controls the screenshot and OCR pipeline
type CaptureConfig struct {
	// BaseDir is the root for screenshots and metadata; defaults to
	// ~/.local/share/waytrack/screenshots when empty
	BaseDir string `yaml:"base_dir" env:"WAYTRACK_CAPTURE_DIR"`
	// Mode is "window" (focused window region) or "screen" (focused output)
	Mode               string        `yaml:"mode" env:"WAYTRACK_CAPTURE_MODE" env-default:"window"`
	Quality            int           `yaml:"quality" env:"WAYTRACK_CAPTURE_QUALITY" env-default:"80"`
	ScreenshotTimeout  time.Duration `yaml:"screenshot_timeout" env:"WAYTRACK_SCREENSHOT_TIMEOUT" env-default:"10s"`
	ScreenshotMaxBytes int64         `yaml:"screenshot_max_bytes" env:"WAYTRACK_SCREENSHOT_MAX_BYTES" env-default:"52428800"`
	OCREnabled         bool          `yaml:"ocr_enabled" env:"WAYTRACK_OCR_ENABLED" env-default:"true"`
	OCRTimeout         time.Duration `yaml:"ocr_timeout" env:"WAYTRACK_OCR_TIMEOUT" env-default:"60s"`
	OCRMaxBytes        int64         `yaml:"ocr_max_bytes" env:"WAYTRACK_OCR_MAX_BYTES" env-default:"10485760"`
	OCRMaxChars        int           `yaml:"ocr_max_chars" env:"WAYTRACK_OCR_MAX_CHARS" env-default:"2000"`
	// FastDatasetFile is probed per capture; when present and readable the
	// OCR tool runs against the fast trained data instead of its default
	FastDatasetFile string `yaml:"fast_dataset_file" env:"WAYTRACK_FAST_DATASET_FILE" env-default:"/usr/share/tessdata_fast/eng.traineddata"`
}

// EnrichmentConfig selects and tunes the browser URL enrichment strategy
type EnrichmentConfig struct {
	// Strategy is "handoff", "devtools" or "none"
	Strategy        string        `yaml:"strategy" env:"WAYTRACK_ENRICH_STRATEGY" env-default:"handoff"`
	HandoffPath     string        `yaml:"handoff_path" env:"WAYTRACK_HANDOFF_PATH"`
	HandoffMaxAge   time.Duration `yaml:"handoff_max_age" env:"WAYTRACK_HANDOFF_MAX_AGE" env-default:"15s"`
	DevtoolsPort    int           `yaml:"devtools_port" env:"WAYTRACK_DEVTOOLS_PORT" env-default:"9222"`
	DevtoolsTimeout time.Duration `yaml:"devtools_timeout" env:"WAYTRACK_DEVTOOLS_TIMEOUT" env-default:"2s"`
}

// SpoolConfig controls the durable event spool used when the consumer
// rejects an event
type SpoolConfig struct {
	Enabled       bool          `yaml:"enabled" env:"WAYTRACK_SPOOL_ENABLED" env-default:"false"`
	Path          string        `yaml:"path" env:"WAYTRACK_SPOOL_PATH"`
	DrainInterval time.Duration `yaml:"drain_interval" env:"WAYTRACK_SPOOL_DRAIN_INTERVAL" env-default:"60s"`
	RetryCeiling  int           `yaml:"retry_ceiling" env:"WAYTRACK_SPOOL_RETRY_CEILING" env-default:"10"`
}

// Load reads configuration from a YAML file with environment overrides
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := cfg.fillDerived(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by defaults and environment
// variables alone, for embedders that do not ship a config file
func Default() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment config: %w", err)
	}
	if err := cfg.fillDerived(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) fillDerived() error {
	if c.Capture.BaseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		c.Capture.BaseDir = filepath.Join(home, ".local", "share", "waytrack", "screenshots")
	}
	if c.Enrichment.HandoffPath == "" {
		c.Enrichment.HandoffPath = filepath.Join(os.TempDir(), "waytrack-active-tab.json")
	}
	if c.Spool.Enabled && c.Spool.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		c.Spool.Path = filepath.Join(home, ".local", "share", "waytrack", "spool.db")
	}
	if c.Capture.Quality < 1 || c.Capture.Quality > 100 {
		return fmt.Errorf("capture quality must be 1-100, got %d", c.Capture.Quality)
	}
	switch c.Capture.Mode {
	case "window", "screen":
	default:
		return fmt.Errorf("capture mode must be \"window\" or \"screen\", got %q", c.Capture.Mode)
	}
	switch c.Enrichment.Strategy {
	case "handoff", "devtools", "none":
	default:
		return fmt.Errorf("enrichment strategy must be \"handoff\", \"devtools\" or \"none\", got %q", c.Enrichment.Strategy)
	}
	return nil
}
