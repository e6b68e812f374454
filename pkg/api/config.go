// Package api serves the administrative HTTP surface: health, Prometheus
// metrics, and JWT-protected operational endpoints over the performance and
// security ledgers.
package api

import (
	"fmt"
	"os"
	"time"
)

// jwtSecretEnvVar overrides the configured JWT secret when set.
const jwtSecretEnvVar = "WHARFD_API_JWT_SECRET"

// APIConfig configures the admin API HTTP server.
//
// When Enabled is false, no API server is started (zero overhead).
type APIConfig struct {
	// Enabled controls whether the API server is started.
	// Default: true. A pointer distinguishes "not set" from "explicitly false".
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress is the IP address to bind to. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the HTTP port for the API endpoints.
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response writes.
	// Default: 10s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle limit. Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// JWTSecret signs admin API tokens. Must be at least 32 characters.
	// The WHARFD_API_JWT_SECRET environment variable takes precedence.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// AdminUsername is the login for POST /api/v1/auth/login.
	// Default: "admin"
	AdminUsername string `mapstructure:"admin_username" yaml:"admin_username"`

	// AdminPasswordHash is the bcrypt hash of the admin password.
	// Required when the API is enabled.
	AdminPasswordHash string `mapstructure:"admin_password_hash" yaml:"admin_password_hash"`
}

// IsEnabled returns whether the API server is enabled. Defaults to true.
func (c *APIConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// ResolveJWTSecret returns the effective signing secret, preferring the
// environment variable over the configured value.
func (c *APIConfig) ResolveJWTSecret() string {
	if env := os.Getenv(jwtSecretEnvVar); env != "" {
		return env
	}
	return c.JWTSecret
}

// Validate checks the fields an enabled API cannot run without.
func (c *APIConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if len(c.ResolveJWTSecret()) < 32 {
		return fmt.Errorf("api: jwt_secret must be at least 32 characters (or set %s)", jwtSecretEnvVar)
	}
	if c.AdminPasswordHash == "" {
		return fmt.Errorf("api: admin_password_hash is required when the API is enabled")
	}
	return nil
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *APIConfig) ApplyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.AdminUsername == "" {
		c.AdminUsername = "admin"
	}
}
