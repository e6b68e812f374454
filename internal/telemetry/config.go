package telemetry

// Config carries the OTLP trace export settings.
type Config struct {
	// Enabled turns span export on. When false Init installs a no-op
	// provider and all span helpers become cheap pass-throughs.
	Enabled bool

	// ServiceName and ServiceVersion identify this process in the
	// trace backend.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint string

	// Insecure disables TLS on the exporter connection.
	Insecure bool

	// SampleRate in [0, 1]: the fraction of traces to record.
	SampleRate float64
}

// DefaultConfig returns the settings used when no telemetry section is
// present in the server configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "wharfd",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
