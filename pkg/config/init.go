package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented configuration template written by InitConfig.
// Every value shown is the default; uncomment and edit to override.
const sampleConfig = `# wharfd Configuration File
#
# Values shown are the defaults. Environment variables with the WHARFD_
# prefix override file values, e.g. WHARFD_LOGGING_LEVEL=DEBUG.

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: "INFO"
  # Output format: text or json
  format: "text"
  # Destination: stdout, stderr, or a file path
  output: "stdout"

server:
  # Address to bind the FTP listener to (empty binds all interfaces)
  bind_address: ""
  # FTP control connection port
  port: 2121
  # Directory tree sessions are confined to (required)
  root: "/srv/wharfd"
  # Maximum concurrent sessions; excess connections are rejected
  max_connections: 64
  # Sessions idle longer than this are closed
  idle_timeout: "5m"
  # Maximum wait for sessions to drain on shutdown
  shutdown_timeout: "30s"
  # Transfer buffer size (supports 64Ki, 1MB, ...)
  chunk_size: "64Ki"

security:
  # Simultaneous connections allowed per source address
  max_per_address: 5
  # Failed logins before an address is banned
  ban_threshold: 3
  # How long a ban lasts
  ban_duration: "15m"
  # Command rate limit window and budget per address
  rate_window: "1m"
  rate_max_requests: 120
  # How often expired security state is swept out
  sweep_interval: "1m"

users:
  # YAML file with usernames and bcrypt password hashes (required).
  # Generate hashes with: wharfd hash <password>
  path: "/etc/wharfd/users.yaml"
  # Reload the file automatically when it changes
  watch: true

metrics:
  # Prometheus metrics, served at /metrics on the admin API
  enabled: false

api:
  # Admin HTTP API (status, security ledger, shutdown)
  enabled: true
  port: 8080
  # JWT signing secret, at least 32 characters.
  # Can also be set via WHARFD_API_JWT_SECRET.
  #jwt_secret: ""
  admin_username: "admin"
  # bcrypt hash of the admin password; generate with: wharfd hash <password>
  #admin_password_hash: ""

#telemetry:
#  enabled: true
#  endpoint: "localhost:4317"
#  insecure: true
#  sample_rate: 1.0
`

// InitConfig creates a sample configuration file at the default location.
//
// Returns the path the file was written to. Fails if the file already
// exists unless force is true.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath creates a sample configuration file at the given path.
// Fails if the file already exists unless force is true.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Sample configs carry no secrets but keep the restrictive mode anyway,
	// since users fill secrets in here.
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
