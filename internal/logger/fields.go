package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so session activity
// can be aggregated and queried per client, per user, and per verb.
const (
	// Distributed tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// Session & client
	KeySessionID  = "session_id"  // UUID assigned when the control connection is accepted
	KeyClientIP   = "client_ip"   // Client IP address (without port)
	KeyClientAddr = "client_addr" // Full remote address (IP:port)
	KeyUser       = "user"        // Authenticated username

	// Protocol
	KeyVerb  = "verb"  // FTP verb: USER, RETR, STOR, ...
	KeyCode  = "code"  // Numeric reply code sent to the client
	KeyReply = "reply" // Reply text

	// File system
	KeyPath    = "path"     // Path relative to the session root
	KeyOldPath = "old_path" // Rename source
	KeyNewPath = "new_path" // Rename target
	KeySize    = "size"     // File size in bytes
	KeyBytes   = "bytes"    // Bytes transferred

	// Timing
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds

	// Errors
	KeyError = "error" // Error message
)
