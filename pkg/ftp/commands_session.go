package ftp

import (
	"context"
	"strconv"
	"strings"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/vfs"
)

// ============================================================================
// Login Exchange
// ============================================================================

// handleUSER records the username and asks for a password. Issued mid-session
// it restarts the login exchange, dropping the current identity.
func (e *Engine) handleUSER(ctx context.Context, s *Session, arg string) (Reply, error) {
	if arg == "" {
		return ReplySyntaxError, nil
	}

	s.pendingUsername = arg
	s.Username = ""
	s.State = StateUsernameGiven
	s.clearRename()

	return NewReply(331, "User %s OK. Password required", arg), nil
}

func (e *Engine) handlePASS(ctx context.Context, s *Session, arg string) (Reply, error) {
	switch s.State {
	case StateUsernameGiven:
	case StateUnauthenticated:
		return NewReply(503, "Login with USER first"), nil
	default:
		return ReplyBadSequence, nil
	}

	username := s.pendingUsername
	s.pendingUsername = ""

	if e.auth != nil && e.auth.Verify(username, arg) {
		s.State = StateAuthenticated
		s.Username = username
		if e.ledger != nil {
			e.ledger.RecordSuccessfulLogin(s.ClientIP)
		}
		logger.InfoCtx(ctx, "User logged in", logger.KeyUser, username)
		return NewReply(230, "User %s logged in", username), nil
	}

	s.State = StateUnauthenticated
	if e.metrics != nil {
		e.metrics.RecordLoginFailure()
	}
	if e.ledger != nil && e.ledger.RecordFailedLogin(s.ClientIP) {
		if e.metrics != nil {
			e.metrics.RecordBan()
		}
	}
	logger.WarnCtx(ctx, "Authentication failed", logger.KeyUser, username)

	return NewReply(530, "Authentication failed"), nil
}

func (e *Engine) handleQUIT(ctx context.Context, s *Session, arg string) (Reply, error) {
	s.State = StateClosed
	return ReplyGoodbye, nil
}

// ============================================================================
// System and Session Options
// ============================================================================

func (e *Engine) handleSYST(ctx context.Context, s *Session, arg string) (Reply, error) {
	return NewReply(215, "UNIX Type: L8"), nil
}

func (e *Engine) handleFEAT(ctx context.Context, s *Session, arg string) (Reply, error) {
	return MultiReply(211,
		"Features:",
		"SIZE",
		"MDTM",
		"MLST type*;size*;modify*;perm*;",
		"MLSD",
		"UTF8",
		"End",
	), nil
}

func (e *Engine) handleNOOP(ctx context.Context, s *Session, arg string) (Reply, error) {
	return NewReply(200, "NOOP command successful"), nil
}

func (e *Engine) handleTYPE(ctx context.Context, s *Session, arg string) (Reply, error) {
	switch strings.ToUpper(arg) {
	case "A":
		s.TransferType = TransferASCII
		return NewReply(200, "Switching to ASCII mode"), nil
	case "I":
		s.TransferType = TransferBinary
		return NewReply(200, "Switching to Binary mode"), nil
	default:
		return NewReply(504, "Command not implemented for that parameter"), nil
	}
}

func (e *Engine) handleOPTS(ctx context.Context, s *Session, arg string) (Reply, error) {
	if arg == "" {
		return NewReply(501, "OPTS command requires arguments"), nil
	}

	option, value := parseCommand(arg)
	if option != "UTF8" {
		return NewReply(504, "Command not implemented for that parameter"), nil
	}

	switch strings.ToUpper(value) {
	case "ON":
		s.utf8Enabled = true
		return NewReply(200, "UTF8 set to on"), nil
	case "OFF":
		s.utf8Enabled = false
		return NewReply(200, "UTF8 set to off"), nil
	default:
		return NewReply(501, "Unsupported option"), nil
	}
}

// handleALLO records the upload length the client will send, consumed by the
// next STOR to delimit end-of-data on the shared control connection.
func (e *Engine) handleALLO(ctx context.Context, s *Session, arg string) (Reply, error) {
	if arg == "" {
		return ReplySyntaxError, nil
	}

	// "ALLO <size> R <record-size>" per RFC 959; only the size matters here.
	sizeArg := arg
	if i := strings.IndexByte(arg, ' '); i >= 0 {
		sizeArg = arg[:i]
	}
	size, err := strconv.ParseInt(sizeArg, 10, 64)
	if err != nil || size < 0 {
		return ReplySyntaxError, nil
	}

	s.allocSize = size
	return NewReply(200, "ALLO command okay"), nil
}

// handleSTAT without a path reports the session; with a path it reports that
// path's entries over the control connection.
func (e *Engine) handleSTAT(ctx context.Context, s *Session, arg string) (Reply, error) {
	if arg == "" {
		return MultiReply(211,
			"FTP server status:",
			"Connected from "+s.RemoteAddr,
			"Logged in as "+s.Username,
			"TYPE: "+string(s.TransferType),
			"Working directory: "+s.Cwd,
			"End of status",
		), nil
	}

	osPath, virtual, err := vfs.ResolveSafe(s.Root, s.Cwd, arg)
	if err != nil {
		return NewReply(550, "File or directory not found"), nil
	}
	info, err := vfs.GetInfo(osPath)
	if err != nil {
		return NewReply(550, "File or directory not found"), nil
	}

	lines := []string{"Status of " + virtual + ":"}
	if info.IsDir {
		entries, err := vfs.ListDirectory(osPath)
		if err != nil {
			return NewReply(550, "Failed to read directory"), nil
		}
		for _, entry := range entries {
			lines = append(lines, formatListLine(entry))
		}
	} else {
		lines = append(lines, formatListLine(info))
	}
	lines = append(lines, "End of status")

	return MultiReply(213, lines...), nil
}
