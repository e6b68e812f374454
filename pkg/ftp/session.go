package ftp

import (
	"io"
	"net"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Auth State Machine
// ============================================================================

// AuthState is the coarse per-session authentication state. Transitions
// happen only inside Engine.Dispatch, so illegal transitions (a second PASS,
// commands after QUIT) are rejected in one place.
type AuthState int

const (
	// StateUnauthenticated is the initial state; only USER, PASS, QUIT,
	// SYST and FEAT are accepted.
	StateUnauthenticated AuthState = iota

	// StateUsernameGiven means USER was accepted and PASS is expected next.
	StateUsernameGiven

	// StateAuthenticated unlocks the full verb table.
	StateAuthenticated

	// StateClosed means QUIT was processed; the worker must tear down.
	StateClosed
)

// String returns the state name for logs.
func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateUsernameGiven:
		return "username_given"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ============================================================================
// Transfer Type
// ============================================================================

// TransferType is the TYPE setting of a session. Payloads are always moved
// verbatim; the flag only changes what TYPE reports back.
type TransferType string

const (
	TransferASCII  TransferType = "A"
	TransferBinary TransferType = "I"
)

// ============================================================================
// Session
// ============================================================================

// Session is the per-connection protocol state. It is created by the worker
// on accept and mutated only by that worker, so no field needs locking.
//
// Cwd and renameSource are virtual paths (rooted at "/", confined to Root);
// Root is the absolute filesystem path the session is jailed to.
type Session struct {
	// ID uniquely identifies the session in logs and traces.
	ID string

	// RemoteAddr is the full client address ("ip:port").
	RemoteAddr string

	// ClientIP is the client address without the port, as keyed by the
	// security ledger.
	ClientIP string

	// State is the coarse auth state; see AuthState.
	State AuthState

	// Username is set once PASS succeeds.
	Username string

	// Root is the absolute filesystem directory this session is confined to.
	Root string

	// Cwd is the virtual current directory, always "/" or below.
	Cwd string

	// TransferType reflects the last accepted TYPE command.
	TransferType TransferType

	// LastActivity is refreshed by the worker on every command line read.
	LastActivity time.Time

	// Conn carries replies and transfer payloads. The worker wires the
	// buffered reader side and the raw connection write side together.
	Conn io.ReadWriter

	// pendingUsername holds the USER argument until PASS resolves it.
	pendingUsername string

	// renameSource is the resolved filesystem path recorded by RNFR,
	// cleared on every RNTO exit path.
	renameSource string

	// renameSourceVirtual mirrors renameSource for reply text.
	renameSourceVirtual string

	// allocSize is the upload length declared by ALLO, consumed by the
	// next STOR. Zero means no declaration.
	allocSize int64

	utf8Enabled bool
}

// NewSession creates a session in the unauthenticated state, rooted at root
// with "/" as the working directory.
func NewSession(remoteAddr, root string, conn io.ReadWriter) *Session {
	ip := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		ip = host
	}
	return &Session{
		ID:           uuid.New().String(),
		RemoteAddr:   remoteAddr,
		ClientIP:     ip,
		State:        StateUnauthenticated,
		Root:         root,
		Cwd:          "/",
		TransferType: TransferBinary,
		LastActivity: time.Now(),
		Conn:         conn,
	}
}

// Touch refreshes the idle clock.
func (s *Session) Touch() {
	s.LastActivity = time.Now()
}

// clearRename drops any pending RNFR state.
func (s *Session) clearRename() {
	s.renameSource = ""
	s.renameSourceVirtual = ""
}

// takeAllocSize returns the declared upload length and resets it, so a stale
// ALLO never applies to a later transfer.
func (s *Session) takeAllocSize() int64 {
	n := s.allocSize
	s.allocSize = 0
	return n
}
