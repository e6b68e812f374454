package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for FTP operations.
// Client keys follow OpenTelemetry semantic conventions; protocol-specific
// keys use the "ftp." prefix.
const (
	// Client attributes
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// Session attributes
	AttrSessionID = "ftp.session_id"
	AttrUser      = "ftp.user"

	// Command attributes
	AttrVerb      = "ftp.verb"
	AttrReplyCode = "ftp.reply_code"
	AttrPath      = "ftp.path"
	AttrBytes     = "ftp.bytes"
)

// StartCommandSpan starts a span for an FTP command dispatch.
// The span name follows the "ftp.<verb>" convention (e.g. "ftp.RETR").
func StartCommandSpan(ctx context.Context, verb, sessionID, clientIP string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, fmt.Sprintf("ftp.%s", verb),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrVerb, verb),
			attribute.String(AttrSessionID, sessionID),
			attribute.String(AttrClientIP, clientIP),
		),
	)
}

// EndCommandSpan records the reply code on the span and ends it.
func EndCommandSpan(span trace.Span, code int) {
	span.SetAttributes(attribute.Int(AttrReplyCode, code))
	span.End()
}
