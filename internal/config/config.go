package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the sync agent.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Remote   Remote   `yaml:"remote"`
	Sync     Sync     `yaml:"sync"`
	Calendar Calendar `yaml:"calendar"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
}

// Storage holds paths for the live dataset and the agent's working files.
type Storage struct {
	DataDir     string `yaml:"data_dir"`     // live dataset root
	ScratchDir  string `yaml:"scratch_dir"`  // downloaded artifacts
	RuntimeDir  string `yaml:"runtime_dir"`  // lock and state files
	JournalPath string `yaml:"journal_path"` // sqlite sync journal
}

// Remote addresses the release repository.
type Remote struct {
	BaseURL         string `yaml:"base_url"`
	KeyPattern      string `yaml:"key_pattern"` // fmt pattern taking YYYYMMDD
	HTTPTimeoutSecs int    `yaml:"http_timeout_secs"`
}

// Sync controls the daily check window and retry behaviour.
type Sync struct {
	WindowStart       string `yaml:"window_start"` // "16:00"
	WindowEnd         string `yaml:"window_end"`   // "22:00"
	MaxRetries        int    `yaml:"max_retries"`
	RetryDelaySecs    int    `yaml:"retry_delay_secs"`
	LockStalenessSecs int    `yaml:"lock_staleness_secs"`
	MaxLagDays        int    `yaml:"max_lag_days"` // 0 = unlimited publication lag tolerated
}

// Calendar points at the hand-maintained holiday list and bounds the
// trading-day searches.
type Calendar struct {
	HolidaysFile string `yaml:"holidays_file"`
	MaxWalkDays  int    `yaml:"max_walk_days"`
}

// Alpaca holds credentials for the trading-calendar API, used only by the
// holiday refresh command.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// RetryDelay returns the inter-attempt download delay as a duration.
func (s Sync) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySecs) * time.Second
}

// LockStaleness returns the lock staleness threshold as a duration.
func (s Sync) LockStaleness() time.Duration {
	return time.Duration(s.LockStalenessSecs) * time.Second
}

// HTTPTimeout returns the per-request HTTP timeout as a duration.
func (r Remote) HTTPTimeout() time.Duration {
	return time.Duration(r.HTTPTimeoutSecs) * time.Second
}

// LockPath returns the lock record location under the runtime directory.
func (s Storage) LockPath() string {
	return filepath.Join(s.RuntimeDir, "sync.lock")
}

// StatePath returns the last-synced record location under the runtime
// directory.
func (s Storage) StatePath() string {
	return filepath.Join(s.RuntimeDir, "last-synced")
}

// TargetPath returns the last-satisfied-target record location under the
// runtime directory.
func (s Storage) TargetPath() string {
	return filepath.Join(s.RuntimeDir, "last-target")
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills in the documented default values for fields the file
// leaves unset.
func applyDefaults(cfg *Config) {
	if cfg.Remote.KeyPattern == "" {
		cfg.Remote.KeyPattern = "qlib_bin_%s.tar.gz"
	}
	if cfg.Remote.HTTPTimeoutSecs == 0 {
		cfg.Remote.HTTPTimeoutSecs = 300
	}
	if cfg.Sync.WindowStart == "" {
		cfg.Sync.WindowStart = "16:00"
	}
	if cfg.Sync.WindowEnd == "" {
		cfg.Sync.WindowEnd = "22:00"
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.RetryDelaySecs == 0 {
		cfg.Sync.RetryDelaySecs = 10
	}
	if cfg.Sync.LockStalenessSecs == 0 {
		cfg.Sync.LockStalenessSecs = 3600
	}
	if cfg.Calendar.MaxWalkDays == 0 {
		cfg.Calendar.MaxWalkDays = 9
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Storage.ScratchDir == "" && cfg.Storage.DataDir != "" {
		cfg.Storage.ScratchDir = filepath.Join(cfg.Storage.DataDir, "..", "scratch")
	}
	if cfg.Storage.RuntimeDir == "" && cfg.Storage.DataDir != "" {
		cfg.Storage.RuntimeDir = filepath.Join(cfg.Storage.DataDir, "..", "run")
	}
	if cfg.Storage.JournalPath == "" && cfg.Storage.RuntimeDir != "" {
		cfg.Storage.JournalPath = filepath.Join(cfg.Storage.RuntimeDir, "journal.db")
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SCRATCH_DIR"); v != "" {
		cfg.Storage.ScratchDir = v
	}
	if v := os.Getenv("RUNTIME_DIR"); v != "" {
		cfg.Storage.RuntimeDir = v
	}
	if v := os.Getenv("REMOTE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// validate rejects configurations the agent cannot run with.
func validate(cfg *Config) error {
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("config: storage.data_dir is required")
	}
	if cfg.Remote.BaseURL == "" {
		return fmt.Errorf("config: remote.base_url is required")
	}
	if cfg.Calendar.HolidaysFile == "" {
		return fmt.Errorf("config: calendar.holidays_file is required")
	}
	for _, w := range []string{cfg.Sync.WindowStart, cfg.Sync.WindowEnd} {
		if _, err := time.Parse("15:04", w); err != nil {
			return fmt.Errorf("config: invalid window time %q: %w", w, err)
		}
	}
	return nil
}
