// Package ftp implements the protocol engine: the per-session command state
// machine that interprets RFC 959 verbs, enforces auth ordering, and streams
// transfer payloads over the control connection.
package ftp

import (
	"context"
	"strings"
	"time"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/telemetry"
	"github.com/wharfd/wharfd/pkg/metrics"
	"github.com/wharfd/wharfd/pkg/security"
)

// DefaultChunkSize is the transfer buffer size used when the engine is
// constructed with a non-positive chunk size.
const DefaultChunkSize = 64 * 1024

// Authenticator verifies login credentials. The user store implements it;
// tests supply a fake.
type Authenticator interface {
	// Verify reports whether the password is correct for the user. A
	// missing user and a wrong password are indistinguishable.
	Verify(username, password string) bool
}

// Engine executes commands against sessions. One engine instance serves all
// sessions; it holds no per-session state, so it is safe for concurrent use
// by every worker.
type Engine struct {
	auth      Authenticator
	ledger    *security.Ledger
	metrics   metrics.FTPMetrics
	chunkSize int
}

// NewEngine constructs the protocol engine. ledger and recorder may be nil,
// which disables failed-login escalation and metrics respectively.
func NewEngine(auth Authenticator, ledger *security.Ledger, recorder metrics.FTPMetrics, chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Engine{
		auth:      auth,
		ledger:    ledger,
		metrics:   recorder,
		chunkSize: chunkSize,
	}
}

// handlerFunc processes one command. A non-zero Reply is written to the
// client by the worker; streaming handlers write their preliminary reply and
// payload to the session connection themselves and return the completion
// reply. A non-nil error means the transport is broken and the session must
// end; the reply (if any) is still attempted first.
type handlerFunc func(ctx context.Context, s *Session, arg string) (Reply, error)

// Verbs accepted in any auth state.
var alwaysAllowed = map[string]bool{
	"USER": true,
	"PASS": true,
	"QUIT": true,
	"SYST": true,
	"FEAT": true,
}

// Dispatch parses one command line, enforces auth-state preconditions, and
// runs the handler. It owns every state transition of the session's coarse
// auth state.
func (e *Engine) Dispatch(ctx context.Context, s *Session, line string) (Reply, error) {
	verb, arg := parseCommand(line)
	if verb == "" {
		return NewReply(500, "Syntax error, command unrecognized"), nil
	}

	lc := logger.NewLogContext(s.ID, s.ClientIP).WithVerb(verb)
	lc.User = s.Username
	ctx = logger.WithContext(ctx, lc)

	ctx, span := telemetry.StartCommandSpan(ctx, verb, s.ID, s.ClientIP)
	start := time.Now()

	reply, err := e.dispatch(ctx, s, verb, arg)

	telemetry.EndCommandSpan(span, reply.Code)
	if e.metrics != nil {
		e.metrics.RecordCommand(verb, reply.Code, time.Since(start))
	}
	logger.DebugCtx(ctx, "Command processed",
		logger.KeyCode, reply.Code,
		logger.KeyDurationMs, lc.DurationMs())

	return reply, err
}

func (e *Engine) dispatch(ctx context.Context, s *Session, verb, arg string) (Reply, error) {
	if s.State == StateClosed {
		return ReplyBadSequence, nil
	}

	handler, known := e.handlers()[verb]

	// While a USER is pending, only PASS continues the login exchange;
	// the always-allowed verbs remain available.
	if s.State == StateUsernameGiven && verb != "PASS" && !alwaysAllowed[verb] {
		return ReplyBadSequence, nil
	}

	if !known {
		return ReplyNotImplemented, nil
	}

	if !alwaysAllowed[verb] && s.State != StateAuthenticated {
		return ReplyNotLoggedIn, nil
	}

	return handler(ctx, s, arg)
}

// handlers maps verbs to their implementations. Built per call to keep the
// engine method set the single source of truth; the map is small and dispatch
// cost is dwarfed by socket I/O.
func (e *Engine) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		// Login exchange
		"USER": e.handleUSER,
		"PASS": e.handlePASS,
		"QUIT": e.handleQUIT,

		// System and session options
		"SYST": e.handleSYST,
		"FEAT": e.handleFEAT,
		"NOOP": e.handleNOOP,
		"TYPE": e.handleTYPE,
		"OPTS": e.handleOPTS,
		"STAT": e.handleSTAT,
		"ALLO": e.handleALLO,

		// Directory navigation
		"PWD":  e.handlePWD,
		"CWD":  e.handleCWD,
		"CDUP": e.handleCDUP,

		// Listings
		"LIST": e.handleLIST,
		"MLSD": e.handleMLSD,
		"MLST": e.handleMLST,

		// Transfers
		"RETR": e.handleRETR,
		"STOR": e.handleSTOR,

		// File management
		"DELE": e.handleDELE,
		"MKD":  e.handleMKD,
		"RMD":  e.handleRMD,
		"RNFR": e.handleRNFR,
		"RNTO": e.handleRNTO,

		// Metadata
		"SIZE": e.handleSIZE,
		"MDTM": e.handleMDTM,
	}
}

// parseCommand splits a line into an upper-cased verb and its raw argument.
// The argument keeps interior spaces so filenames with spaces survive.
func parseCommand(line string) (verb, arg string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return strings.ToUpper(line[:i]), strings.TrimSpace(line[i+1:])
	}
	return strings.ToUpper(line), ""
}
