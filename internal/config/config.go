package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main vvbridge configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Instrument connection pool
	Instrument InstrumentConfig `json:"instrument" mapstructure:"instrument"`

	// Profile catalog
	Profiles ProfilesConfig `json:"profiles" mapstructure:"profiles"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `json:"host" mapstructure:"host"`
	Port           int      `json:"port" mapstructure:"port"`
	CORSOrigins    []string `json:"cors_origins" mapstructure:"cors_origins"`
	RequestTimeout int      `json:"request_timeout" mapstructure:"request_timeout"` // seconds
	StatusInterval int      `json:"status_interval" mapstructure:"status_interval"` // seconds, websocket stream
}

// InstrumentConfig holds the automation connection pool configuration. All
// values are fixed for the process lifetime.
type InstrumentConfig struct {
	ProgID         string `json:"prog_id" mapstructure:"prog_id"`
	MaxInstances   int    `json:"max_instances" mapstructure:"max_instances"`
	RetryAttempts  int    `json:"retry_attempts" mapstructure:"retry_attempts"`
	ConnectTimeout int    `json:"connect_timeout" mapstructure:"connect_timeout"` // seconds
	BackoffBase    int    `json:"backoff_base" mapstructure:"backoff_base"`       // milliseconds
	BackoffCap     int    `json:"backoff_cap" mapstructure:"backoff_cap"`         // milliseconds
	AcquireTimeout int    `json:"acquire_timeout" mapstructure:"acquire_timeout"` // seconds
	ShutdownGrace  int    `json:"shutdown_grace" mapstructure:"shutdown_grace"`   // seconds
}

// ProfilesConfig holds the test profile catalog configuration
type ProfilesConfig struct {
	ProfileDir string   `json:"profile_dir" mapstructure:"profile_dir"`
	ReportDir  string   `json:"report_dir" mapstructure:"report_dir"`
	Extensions []string `json:"extensions" mapstructure:"extensions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	MaxSize  int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge   int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           5000,
			CORSOrigins:    []string{"*"},
			RequestTimeout: 30,
			StatusInterval: 2,
		},
		Instrument: InstrumentConfig{
			ProgID:         "VibrationVIEW.Application",
			MaxInstances:   5,
			RetryAttempts:  5,
			ConnectTimeout: 10,
			BackoffBase:    100,
			BackoffCap:     800,
			AcquireTimeout: 15,
			ShutdownGrace:  5,
		},
		Profiles: ProfilesConfig{
			ProfileDir: `C:\VibrationVIEW\Profiles`,
			ReportDir:  `C:\VibrationVIEW\Reports`,
			Extensions: []string{".vrp", ".vsp", ".vkp", ".vtp"},
		},
		Logging: LoggingConfig{
			Level:    "info",
			MaxSize:  100,
			MaxAge:   7,
			Compress: true,
		},
		DataDir: "",
	}
}

// ConnectTimeoutDuration returns the per-attempt connection budget
func (c InstrumentConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// BackoffBaseDuration returns the base retry delay
func (c InstrumentConfig) BackoffBaseDuration() time.Duration {
	return time.Duration(c.BackoffBase) * time.Millisecond
}

// BackoffCapDuration returns the retry delay ceiling
func (c InstrumentConfig) BackoffCapDuration() time.Duration {
	return time.Duration(c.BackoffCap) * time.Millisecond
}

// AcquireTimeoutDuration returns the default per-request acquire budget
func (c InstrumentConfig) AcquireTimeoutDuration() time.Duration {
	return time.Duration(c.AcquireTimeout) * time.Second
}

// ShutdownGraceDuration returns how long shutdown waits for leased handles
func (c InstrumentConfig) ShutdownGraceDuration() time.Duration {
	return time.Duration(c.ShutdownGrace) * time.Second
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	if c.Instrument.ProgID == "" {
		return fmt.Errorf("instrument prog_id is required")
	}
	if c.Instrument.MaxInstances < 1 {
		return fmt.Errorf("instrument max_instances must be at least 1")
	}
	if c.Instrument.RetryAttempts < 1 {
		return fmt.Errorf("instrument retry_attempts must be at least 1")
	}
	if c.Instrument.ConnectTimeout < 1 {
		return fmt.Errorf("instrument connect_timeout must be at least 1 second")
	}
	if c.Instrument.BackoffBase < 1 {
		return fmt.Errorf("instrument backoff_base must be at least 1 millisecond")
	}
	if c.Instrument.BackoffCap < c.Instrument.BackoffBase {
		return fmt.Errorf("instrument backoff_cap must be >= backoff_base")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	valid := false
	for _, l := range validLevels {
		if c.Logging.Level == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log level %q (must be: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}
