package config

import (
	"strings"
	"time"

	"github.com/wharfd/wharfd/internal/bytesize"
	"github.com/wharfd/wharfd/pkg/security"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyServerDefaults(&cfg.Server)
	applySecurityDefaults(&cfg.Security)
	applyUsersDefaults(&cfg.Users)
	cfg.API.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyServerDefaults sets FTP listener defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 2121
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 64
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 64 * bytesize.KiB
	}
	// Root has no default, it is required and must be configured
}

// applySecurityDefaults sets security ledger defaults.
func applySecurityDefaults(cfg *SecurityConfig) {
	def := security.DefaultConfig()

	if cfg.MaxPerAddress == 0 {
		cfg.MaxPerAddress = def.MaxPerAddress
	}
	if cfg.BanThreshold == 0 {
		cfg.BanThreshold = def.BanThreshold
	}
	if cfg.BanDuration == 0 {
		cfg.BanDuration = def.BanDuration
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.RateMaxRequests == 0 {
		cfg.RateMaxRequests = def.RateMaxRequests
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = def.SweepInterval
	}
}

// applyUsersDefaults sets credential store defaults.
func applyUsersDefaults(cfg *UsersConfig) {
	if cfg.Watch == nil {
		watch := true
		cfg.Watch = &watch
	}
	// Path has no default, it is required and must be configured
}

// LedgerConfig converts the security section into the ledger's own config type.
func (c *SecurityConfig) LedgerConfig() security.Config {
	return security.Config{
		MaxPerAddress:   c.MaxPerAddress,
		BanThreshold:    c.BanThreshold,
		BanDuration:     c.BanDuration,
		RateWindow:      c.RateWindow,
		RateMaxRequests: c.RateMaxRequests,
		SweepInterval:   c.SweepInterval,
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Root: "/srv/wharfd",
		},
		Users: UsersConfig{
			Path: "/etc/wharfd/users.yaml",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
