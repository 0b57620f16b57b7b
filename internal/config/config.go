package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Configuration system:
// - AppConfig is the root TOML document.
// - Use brief comments here for reference only; flags documented in main.go's -h output.

// AppConfig represents the complete application configuration.
type AppConfig struct {
	// Server configuration for the diagnostics HTTP endpoint.
	Server ServerConfig `toml:"server"`

	// Storage configuration for the persisted statistics blob.
	Storage StorageConfig `toml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains the optional self-monitoring HTTP server settings.
type ServerConfig struct {
	// Listen address (default: "localhost:9187"). Empty disables the HTTP server.
	ListenAddress string `toml:"listen_address"`

	// Metrics endpoint path (default: "/metrics")
	MetricsPath string `toml:"metrics_path"`
}

// StorageConfig contains settings for the on-disk statistics blob.
type StorageConfig struct {
	// Directory holding current.bin (default: "/data/system/procstats")
	BaseDir string `toml:"base_dir"`

	// Interval between scheduled async writes (default: 30m, matches should_write_now).
	WriteInterval time.Duration `toml:"write_interval"`

	// PSS sample throttle window (default: 30s, see ProcessRecord.AddPSS).
	PSSThrottle time.Duration `toml:"pss_throttle"`
}

// LoggingConfig contains the complete logging configuration.
type LoggingConfig struct {
	// Default logging settings applied to all loggers.
	Defaults LogDefaults `toml:"defaults"`

	// Output configurations - can have multiple outputs.
	Outputs []LogOutput `toml:"outputs"`

	// Sampling window for repeated warning/error logs on hot accumulation paths.
	SampleWindow time.Duration `toml:"sample_window"`
}

// LogDefaults contains default logger settings.
type LogDefaults struct {
	// Log level (default: "info")
	Level string `toml:"level"`

	// Include caller information (default: 0)
	Caller int `toml:"caller"`

	// Time field name (default: "time")
	TimeField string `toml:"time_field"`

	// Time format (default: "" = RFC3339 with milliseconds)
	TimeFormat string `toml:"time_format"`

	// Time zone (default: "Local")
	TimeLocation string `toml:"time_location"`
}

// LogOutput represents a single output configuration.
type LogOutput struct {
	// Output type: "console", "file".
	Type string `toml:"type"`

	// Enable this output (default: true)
	Enabled bool `toml:"enabled"`

	Console *ConsoleConfig `toml:"console,omitempty"`
	File    *FileConfig    `toml:"file,omitempty"`
}

// ConsoleConfig contains console/terminal output settings.
type ConsoleConfig struct {
	// Use fast JSON output (default: false)
	FastIO bool `toml:"fast_io"`

	// Output format when fast_io=false (default: "auto")
	Format string `toml:"format"`

	// Enable colored output (default: true)
	ColorOutput bool `toml:"color_output"`

	// Quote string values (default: true)
	QuoteString bool `toml:"quote_string"`

	// Output destination (default: "stderr")
	Writer string `toml:"writer"`
}

// FileConfig contains file output settings.
type FileConfig struct {
	// Log file path (required)
	Filename string `toml:"filename"`

	// Maximum file size in megabytes (default: 10)
	MaxSize int64 `toml:"max_size"`

	// Maximum number of old log files to keep (default: 7)
	MaxBackups int `toml:"max_backups"`

	// Create directory if it doesn't exist (default: true)
	EnsureFolder bool `toml:"ensure_folder"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			ListenAddress: "localhost:9187",
			MetricsPath:   "/metrics",
		},
		Storage: StorageConfig{
			BaseDir:       "/data/system/procstats",
			WriteInterval: 30 * time.Minute,
			PSSThrottle:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Defaults: LogDefaults{
				Level:        "info",
				Caller:       0,
				TimeField:    "time",
				TimeFormat:   "",
				TimeLocation: "Local",
			},
			Outputs: []LogOutput{
				{
					Type:    "console",
					Enabled: true,
					Console: &ConsoleConfig{
						FastIO:      false,
						Format:      "auto",
						ColorOutput: true,
						QuoteString: true,
						Writer:      "stderr",
					},
				},
				{
					Type:    "file",
					Enabled: false,
					File: &FileConfig{
						Filename:     "logs/procstats.log",
						MaxSize:      10,
						MaxBackups:   7,
						EnsureFolder: true,
					},
				},
			},
			SampleWindow: 10 * time.Second,
		},
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config file not found: %s", configPath)
	}

	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a TOML file.
func SaveConfig(configPath string, cfg *AppConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", configPath, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *AppConfig) Validate() error {
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir cannot be empty")
	}
	if c.Storage.WriteInterval <= 0 {
		return fmt.Errorf("storage.write_interval must be positive")
	}
	if c.Storage.PSSThrottle < 0 {
		return fmt.Errorf("storage.pss_throttle cannot be negative")
	}

	hasEnabledOutput := false
	for _, output := range c.Logging.Outputs {
		if output.Enabled {
			hasEnabledOutput = true
			break
		}
	}
	if !hasEnabledOutput {
		return fmt.Errorf("at least one logging output must be enabled")
	}

	return nil
}
