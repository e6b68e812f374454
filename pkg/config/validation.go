package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. validator.Validate caches
// struct metadata, so a single instance is reused for every call.
var validate = validator.New()

// Validate checks the configuration for errors.
//
// Struct tags handle field-level rules (required values, ranges, enums);
// cross-field rules that tags cannot express are checked explicitly.
//
// Returns an error describing the first problem found, or nil if the
// configuration is valid.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("invalid value for %s: failed %q constraint", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}

	if cfg.Server.IdleTimeout < 0 {
		return fmt.Errorf("server.idle_timeout must not be negative")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if cfg.Security.BanDuration <= 0 {
		return fmt.Errorf("security.ban_duration must be positive")
	}
	if cfg.Security.RateWindow <= 0 {
		return fmt.Errorf("security.rate_window must be positive")
	}
	if cfg.Security.SweepInterval <= 0 {
		return fmt.Errorf("security.sweep_interval must be positive")
	}

	if cfg.API.IsEnabled() && cfg.API.Port == cfg.Server.Port {
		return fmt.Errorf("api.port %d collides with server.port", cfg.API.Port)
	}
	if err := cfg.API.Validate(); err != nil {
		return err
	}

	return nil
}
