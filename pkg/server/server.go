// Package server owns the FTP listening socket: it admits connections
// through the security ledger, bounds the worker pool, and runs one worker
// goroutine per session until graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/ftp"
	"github.com/wharfd/wharfd/pkg/metrics"
	"github.com/wharfd/wharfd/pkg/security"
)

// Rejection reasons reported to metrics at admission.
const (
	rejectBanned     = "banned"
	rejectAddressCap = "per_address_cap"
	rejectServerFull = "server_full"
)

// Config holds the listener and worker-pool configuration, fixed for the
// server's lifetime.
type Config struct {
	// BindAddress is the IP address to bind to.
	// Empty string or "0.0.0.0" binds to all interfaces.
	BindAddress string

	// Port is the TCP port to listen on. 0 selects an ephemeral port.
	Port int

	// Root is the directory tree sessions are confined to.
	Root string

	// MaxConnections limits concurrent sessions across all clients.
	// 0 means unlimited. Excess connections are rejected with 421,
	// never queued.
	MaxConnections int

	// IdleTimeout ends sessions that send nothing for this long.
	// 0 disables the idle check.
	IdleTimeout time.Duration

	// ShutdownTimeout is the maximum wait for active sessions to drain
	// during graceful shutdown before they are force-closed.
	ShutdownTimeout time.Duration

	// MetricsLogInterval is the interval at which to log server activity.
	// 0 disables periodic logging.
	MetricsLogInterval time.Duration
}

// Server is the connection acceptor. It owns the listener and the worker
// pool; protocol behavior is delegated to the engine.
//
// All exported methods are safe for concurrent use; Stop is idempotent.
type Server struct {
	Config Config

	engine  *ftp.Engine
	ledger  *security.Ledger
	metrics metrics.FTPMetrics

	// listener is closed during shutdown to stop accepting.
	listener   net.Listener
	listenerMu sync.RWMutex

	// activeConns tracks worker goroutines for graceful shutdown.
	activeConns sync.WaitGroup

	shutdownOnce sync.Once

	// shutdown signals the accept loop to stop.
	shutdown chan struct{}

	// connCount is the live session gauge.
	connCount atomic.Int32

	// connSemaphore bounds the worker pool when MaxConnections > 0.
	connSemaphore chan struct{}

	// shutdownCtx is cancelled during shutdown to abort in-flight commands.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeSockets maps remote address to net.Conn for forced closure.
	activeSockets sync.Map

	// ListenerReady is closed once the listener accepts connections.
	// Tests use it to synchronize with startup.
	ListenerReady chan struct{}
}

// New creates a stopped server. Call Serve to start. The ledger is required;
// the metrics recorder may be nil.
func New(cfg Config, engine *ftp.Engine, ledger *security.Ledger, recorder metrics.FTPMetrics) *Server {
	var sem chan struct{}
	if cfg.MaxConnections > 0 {
		sem = make(chan struct{}, cfg.MaxConnections)
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())

	return &Server{
		Config:         cfg,
		engine:         engine,
		ledger:         ledger,
		metrics:        recorder,
		shutdown:       make(chan struct{}),
		connSemaphore:  sem,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancel,
		ListenerReady:  make(chan struct{}),
	}
}

// Serve binds the listener and accepts connections until ctx is cancelled or
// Stop is called. A fatal bind error is returned immediately; transient
// accept errors are logged and the loop continues.
func (s *Server) Serve(ctx context.Context) error {
	listenAddr := fmt.Sprintf("%s:%d", s.Config.BindAddress, s.Config.Port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create FTP listener on %s: %w", listenAddr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.ListenerReady)

	logger.Info("FTP server listening", "address", listener.Addr().String())

	go func() {
		<-ctx.Done()
		logger.Info("FTP shutdown signal received", logger.KeyError, ctx.Err())
		s.initiateShutdown()
	}()

	if s.Config.MetricsLogInterval > 0 {
		go s.logActivity(ctx)
	}

	for {
		tcpConn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting FTP connection", logger.KeyError, err)
				continue
			}
		}

		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", logger.KeyError, err)
			}
		}

		s.admitAndServe(tcpConn)
	}
}

// admitAndServe runs admission control and either spawns a worker or writes
// a single 421 and closes. Excess connections are rejected, never queued.
func (s *Server) admitAndServe(tcpConn net.Conn) {
	addr := tcpConn.RemoteAddr().String()
	ip := hostOnly(addr)

	if err := s.ledger.AdmitAndRegister(ip); err != nil {
		reason := rejectAddressCap
		if err == security.ErrBanned {
			reason = rejectBanned
		}
		s.reject(tcpConn, reason)
		return
	}

	// Bound the worker pool without blocking the accept loop.
	if s.connSemaphore != nil {
		select {
		case s.connSemaphore <- struct{}{}:
		default:
			s.ledger.UnregisterConnection(ip)
			s.reject(tcpConn, rejectServerFull)
			return
		}
	}

	s.activeConns.Add(1)
	active := s.connCount.Add(1)
	s.activeSockets.Store(addr, tcpConn)

	if s.metrics != nil {
		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(active)
	}
	logger.Debug("FTP connection accepted", logger.KeyClientAddr, addr, "active", active)

	go func() {
		defer func() {
			s.ledger.UnregisterConnection(ip)
			s.activeSockets.Delete(addr)
			_ = tcpConn.Close()

			s.activeConns.Done()
			remaining := s.connCount.Add(-1)
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			if s.metrics != nil {
				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(remaining)
			}
			logger.Debug("FTP connection closed", logger.KeyClientAddr, addr, "active", remaining)
		}()

		s.serveConn(s.shutdownCtx, tcpConn)
	}()
}

// reject writes a single 421 and closes the socket before any session exists.
func (s *Server) reject(tcpConn net.Conn, reason string) {
	_, _ = tcpConn.Write([]byte(ftp.ReplyServiceUnavailable.String()))
	_ = tcpConn.Close()
	if s.metrics != nil {
		s.metrics.RecordConnectionRejected(reason)
	}
	logger.Info("FTP connection rejected",
		logger.KeyClientAddr, tcpConn.RemoteAddr().String(),
		"reason", reason)
}

// initiateShutdown stops accepting, unblocks pending reads and cancels
// in-flight commands. Safe to call multiple times.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing FTP listener", logger.KeyError, err)
			}
		}
		s.listenerMu.Unlock()

		// Unblock workers sitting in a read so they observe shutdown.
		deadline := time.Now().Add(100 * time.Millisecond)
		s.activeSockets.Range(func(key, value any) bool {
			if conn, ok := value.(net.Conn); ok {
				_ = conn.SetReadDeadline(deadline)
			}
			return true
		})

		s.cancelRequests()
	})
}

// gracefulShutdown waits for workers to drain, force-closing stragglers
// after the configured timeout.
func (s *Server) gracefulShutdown() error {
	active := s.connCount.Load()
	logger.Info("FTP graceful shutdown: waiting for active sessions",
		"active", active, "timeout", s.Config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	timeout := s.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-done:
		logger.Info("FTP graceful shutdown complete: all sessions closed")
		return nil
	case <-time.After(timeout):
		remaining := s.connCount.Load()
		logger.Warn("FTP shutdown timeout exceeded - forcing closure", "active", remaining)
		s.forceCloseConnections()
		return fmt.Errorf("ftp shutdown timeout: %d connections force-closed", remaining)
	}
}

// forceCloseConnections closes every remaining socket.
func (s *Server) forceCloseConnections() {
	s.activeSockets.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err == nil {
			if s.metrics != nil {
				s.metrics.RecordConnectionForceClosed()
			}
			logger.Debug("Force-closed connection", logger.KeyClientAddr, key)
		}
		return true
	})
}

// Stop initiates graceful shutdown and waits for sessions to drain. With a
// nil ctx the configured ShutdownTimeout applies; otherwise ctx bounds the
// wait.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("FTP shutdown context cancelled", "active", s.connCount.Load())
		return ctx.Err()
	}
}

// Addr returns the bound listener address. Blocks until the listener is
// ready, which makes it safe for tests that start Serve in a goroutine.
func (s *Server) Addr() string {
	<-s.ListenerReady

	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ActiveConnections returns the live session count.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

// logActivity periodically logs the live session count.
func (s *Server) logActivity(ctx context.Context) {
	ticker := time.NewTicker(s.Config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("FTP server activity", "active_connections", s.connCount.Load())
		}
	}
}

// hostOnly strips the port from a remote address for ledger keying.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
