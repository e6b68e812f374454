package ftp

import (
	"fmt"
	"strings"
)

// ============================================================================
// Reply
// ============================================================================

// Reply is one protocol response. Single-line replies serialize as
// "CODE text\r\n"; multi-line replies use the RFC 959 continuation form
// ("CODE-first", indented middle lines, "CODE last").
type Reply struct {
	Code  int
	Lines []string
}

// NewReply builds a single-line reply.
func NewReply(code int, format string, args ...any) Reply {
	if len(args) == 0 {
		return Reply{Code: code, Lines: []string{format}}
	}
	return Reply{Code: code, Lines: []string{fmt.Sprintf(format, args...)}}
}

// MultiReply builds a multi-line reply. At least two lines are expected;
// with a single line it degrades to the single-line form.
func MultiReply(code int, lines ...string) Reply {
	return Reply{Code: code, Lines: lines}
}

// IsZero reports whether the reply carries nothing to send. Handlers that
// stream their full response themselves return a zero reply.
func (r Reply) IsZero() bool {
	return r.Code == 0 && len(r.Lines) == 0
}

// String serializes the reply with CRLF line endings.
func (r Reply) String() string {
	if len(r.Lines) <= 1 {
		text := ""
		if len(r.Lines) == 1 {
			text = r.Lines[0]
		}
		return fmt.Sprintf("%d %s\r\n", r.Code, text)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d-%s\r\n", r.Code, r.Lines[0]))
	for _, line := range r.Lines[1 : len(r.Lines)-1] {
		b.WriteString(" ")
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString(fmt.Sprintf("%d %s\r\n", r.Code, r.Lines[len(r.Lines)-1]))
	return b.String()
}

// ============================================================================
// Canned Replies
// ============================================================================

// Replies every session can receive regardless of the verb that triggered
// them. Verb-specific texts live with their handlers.
var (
	// ReplyGreeting opens every session.
	ReplyGreeting = NewReply(220, "FTP server ready")

	// ReplyGoodbye closes a QUIT.
	ReplyGoodbye = NewReply(221, "Goodbye")

	// ReplyNotLoggedIn rejects authenticated-only verbs before login.
	ReplyNotLoggedIn = NewReply(530, "Not logged in")

	// ReplyBadSequence rejects out-of-order commands.
	ReplyBadSequence = NewReply(503, "Bad sequence of commands")

	// ReplyNotImplemented rejects unknown verbs.
	ReplyNotImplemented = NewReply(502, "Command not implemented")

	// ReplySyntaxError rejects missing or malformed parameters.
	ReplySyntaxError = NewReply(501, "Syntax error in parameters")

	// ReplyLocalError reports a fault recovered while processing a command.
	ReplyLocalError = NewReply(451, "Requested action aborted: local error in processing")

	// ReplyServiceUnavailable is sent before closing on admission rejects,
	// idle timeouts and rate-limit violations.
	ReplyServiceUnavailable = NewReply(421, "Service not available, closing control connection")
)
