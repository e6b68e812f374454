package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/ftp"
)

// sessionConn pairs the buffered command reader with the raw connection
// writer so streaming handlers read payload bytes already buffered by the
// line reader. Each Read refreshes the read deadline and each Write the
// write deadline, so a transfer is bounded by inactivity per chunk, not by
// total duration: an upload that keeps delivering bytes never times out,
// while a peer that stops reading or writing trips the deadline after one
// quiet interval.
type sessionConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

func (c *sessionConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.reader.Read(p)
}

func (c *sessionConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.conn.Write(p)
}

// serveConn runs the read/dispatch/write loop for one session until
// disconnect, idle timeout, QUIT, rate-limit violation or shutdown.
func (s *Server) serveConn(ctx context.Context, tcpConn net.Conn) {
	reader := bufio.NewReader(tcpConn)
	sc := &sessionConn{conn: tcpConn, reader: reader, timeout: s.Config.IdleTimeout}
	sess := ftp.NewSession(tcpConn.RemoteAddr().String(), s.Config.Root, sc)

	lc := logger.NewLogContext(sess.ID, sess.ClientIP)
	logCtx := logger.WithContext(ctx, lc)
	logger.InfoCtx(logCtx, "Session started", logger.KeyClientAddr, sess.RemoteAddr)

	if !s.writeReply(sc, ftp.ReplyGreeting) {
		return
	}

	for {
		if s.Config.IdleTimeout > 0 {
			_ = tcpConn.SetReadDeadline(time.Now().Add(s.Config.IdleTimeout))
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			s.logReadEnd(logCtx, err)
			if isTimeout(err) && !s.shuttingDown() {
				s.writeReply(sc, ftp.ReplyServiceUnavailable)
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		sess.Touch()

		// The rate window counts command lines, not connections.
		if s.ledger.IsRateLimitExceeded(sess.ClientIP) {
			logger.WarnCtx(logCtx, "Rate limit exceeded, closing session")
			s.writeReply(sc, ftp.ReplyServiceUnavailable)
			return
		}

		reply, fatal := s.process(ctx, sess, line)

		if !reply.IsZero() && !s.writeReply(sc, reply) {
			return
		}
		if fatal != nil {
			logger.DebugCtx(logCtx, "Session transport error", logger.KeyError, fatal)
			return
		}
		if sess.State == ftp.StateClosed {
			logger.InfoCtx(logCtx, "Session ended", logger.KeyUser, sess.Username)
			return
		}
	}
}

// process dispatches one command, converting a handler panic into a 451 so a
// fault in one command never takes down the session, let alone the server.
func (s *Server) process(ctx context.Context, sess *ftp.Session, line string) (reply ftp.Reply, fatal error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while processing command",
				logger.KeySessionID, sess.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			reply, fatal = ftp.ReplyLocalError, nil
		}
	}()

	return s.engine.Dispatch(ctx, sess, line)
}

// writeReply writes a reply to the session transport, reporting false when
// the transport is gone.
func (s *Server) writeReply(w io.Writer, reply ftp.Reply) bool {
	_, err := w.Write([]byte(reply.String()))
	if err != nil {
		logger.Debug("Failed to write reply", logger.KeyError, err)
		return false
	}
	return true
}

func (s *Server) logReadEnd(ctx context.Context, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.DebugCtx(ctx, "Client disconnected")
	case isTimeout(err):
		if s.shuttingDown() {
			logger.DebugCtx(ctx, "Session interrupted by shutdown")
		} else {
			logger.InfoCtx(ctx, "Session idle timeout")
		}
	default:
		logger.DebugCtx(ctx, "Read error", logger.KeyError, err)
	}
}

func (s *Server) shuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
