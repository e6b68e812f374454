package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharfd/pkg/ftp"
	"github.com/wharfd/wharfd/pkg/security"
)

// ============================================================================
// Test Helpers
// ============================================================================

type fakeAuth map[string]string

func (a fakeAuth) Verify(username, password string) bool {
	pw, ok := a[username]
	return ok && pw == password
}

type testServer struct {
	*Server
	cancel context.CancelFunc
	errCh  chan error
}

func startServer(t *testing.T, cfg Config, ledgerCfg security.Config) *testServer {
	t.Helper()

	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}

	ledger := security.NewLedger(ledgerCfg)
	engine := ftp.NewEngine(fakeAuth{"alice": "secret"}, ledger, nil, 0)
	srv := New(cfg, engine, ledger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx); close(errCh) }()

	ts := &testServer{Server: srv, cancel: cancel, errCh: errCh}
	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.errCh:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	require.NotEmpty(t, srv.Addr())
	return ts
}

// ftpClient wraps a raw control connection for tests.
type ftpClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialFTP(t *testing.T, addr string) *ftpClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &ftpClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *ftpClient) readLine(t *testing.T) string {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func (c *ftpClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
}

func (c *ftpClient) cmd(t *testing.T, line string) string {
	t.Helper()
	c.send(t, line)
	return c.readLine(t)
}

func (c *ftpClient) login(t *testing.T) {
	t.Helper()
	require.True(t, strings.HasPrefix(c.readLine(t), "220 "))
	require.True(t, strings.HasPrefix(c.cmd(t, "USER alice"), "331 "))
	require.True(t, strings.HasPrefix(c.cmd(t, "PASS secret"), "230 "))
}

// ============================================================================
// Session Lifecycle
// ============================================================================

func TestServer_GreetingAndQuit(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{}, security.Config{})
	client := dialFTP(t, srv.Addr())

	assert.Equal(t, "220 FTP server ready", client.readLine(t))
	assert.Equal(t, "221 Goodbye", client.cmd(t, "QUIT"))
}

func TestServer_FullSessionOverTCP(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello wharf"), 0o644))

	srv := startServer(t, Config{Root: root}, security.Config{})
	client := dialFTP(t, srv.Addr())
	client.login(t)

	assert.Equal(t, `257 "/" is the current directory`, client.cmd(t, "PWD"))

	// Download rides the control connection: 150 mark, payload, then 226.
	assert.Equal(t, "150 Opening data connection for hello.txt (11 bytes)", client.cmd(t, "RETR hello.txt"))
	payload := make([]byte, 11)
	_, err := io.ReadFull(client.reader, payload)
	require.NoError(t, err)
	assert.Equal(t, "hello wharf", string(payload))
	assert.Equal(t, "226 Transfer complete", client.readLine(t))

	// Upload with a declared length keeps the session usable afterwards.
	assert.True(t, strings.HasPrefix(client.cmd(t, "ALLO 5"), "200 "))
	client.send(t, "STOR up.txt")
	assert.True(t, strings.HasPrefix(client.readLine(t), "150 "))
	_, err = client.conn.Write([]byte("12345"))
	require.NoError(t, err)
	assert.Equal(t, "226 Transfer complete", client.readLine(t))

	stored, err := os.ReadFile(filepath.Join(root, "up.txt"))
	require.NoError(t, err)
	assert.Equal(t, "12345", string(stored))

	assert.Equal(t, "221 Goodbye", client.cmd(t, "QUIT"))
}

func TestServer_SilentDisconnect(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{}, security.Config{})
	client := dialFTP(t, srv.Addr())
	client.readLine(t)
	require.NoError(t, client.conn.Close())

	assert.Eventually(t, func() bool {
		return srv.ActiveConnections() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestServer_IdleTimeout(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{IdleTimeout: 150 * time.Millisecond}, security.Config{})
	client := dialFTP(t, srv.Addr())
	client.readLine(t)

	// Say nothing and wait for the server to hang up.
	assert.Equal(t, "421 Service not available, closing control connection", client.readLine(t))
}

func TestServer_SlowUploadOutlivesIdleTimeout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	srv := startServer(t, Config{Root: root, IdleTimeout: 500 * time.Millisecond}, security.Config{})
	client := dialFTP(t, srv.Addr())
	client.login(t)

	require.True(t, strings.HasPrefix(client.cmd(t, "ALLO 10"), "200 "))
	client.send(t, "STOR slow.bin")
	require.True(t, strings.HasPrefix(client.readLine(t), "150 "))

	// Total duration is twice the idle timeout, but no single gap comes
	// close to it. The deadline must track per-chunk activity, so an
	// actively-flowing upload is never cut off.
	for i := 0; i < 10; i++ {
		_, err := client.conn.Write([]byte{byte('0' + i)})
		require.NoError(t, err)
		time.Sleep(100 * time.Millisecond)
	}

	assert.Equal(t, "226 Transfer complete", client.readLine(t))
	stored, err := os.ReadFile(filepath.Join(root, "slow.bin"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(stored))
}

func TestServer_StalledDownloadFreesWorker(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	big, err := os.Create(filepath.Join(root, "big.bin"))
	require.NoError(t, err)
	require.NoError(t, big.Truncate(64<<20))
	require.NoError(t, big.Close())

	srv := startServer(t, Config{Root: root, IdleTimeout: 300 * time.Millisecond}, security.Config{})
	client := dialFTP(t, srv.Addr())
	client.login(t)

	// Request the file but never read the payload. Once the socket
	// buffers fill, each chunk write must hit the write deadline instead
	// of pinning the worker forever.
	client.send(t, "RETR big.bin")
	require.True(t, strings.HasPrefix(client.readLine(t), "150 "))

	assert.Eventually(t, func() bool {
		return srv.ActiveConnections() == 0
	}, 5*time.Second, 50*time.Millisecond, "worker still held by the stalled transfer")
}

// ============================================================================
// Admission Control
// ============================================================================

func TestServer_MaxConnectionsRejectsExcess(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{MaxConnections: 1}, security.Config{MaxPerAddress: 100})

	first := dialFTP(t, srv.Addr())
	require.True(t, strings.HasPrefix(first.readLine(t), "220 "))

	second := dialFTP(t, srv.Addr())
	assert.True(t, strings.HasPrefix(second.readLine(t), "421 "), "excess connection must be rejected, not queued")

	// Freeing the slot lets new connections in.
	assert.Equal(t, "221 Goodbye", first.cmd(t, "QUIT"))
	assert.Eventually(t, func() bool {
		return srv.ActiveConnections() == 0
	}, 3*time.Second, 10*time.Millisecond)

	third := dialFTP(t, srv.Addr())
	assert.True(t, strings.HasPrefix(third.readLine(t), "220 "))
}

func TestServer_BannedAddressRejected(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{}, security.Config{BanThreshold: 2, BanDuration: time.Minute})

	// Two failed logins impose a ban on 127.0.0.1.
	client := dialFTP(t, srv.Addr())
	client.readLine(t)
	for i := 0; i < 2; i++ {
		require.True(t, strings.HasPrefix(client.cmd(t, "USER alice"), "331 "))
		require.True(t, strings.HasPrefix(client.cmd(t, "PASS wrong"), "530 "))
	}

	// The next connection is rejected before any session exists, even
	// though the credentials would be correct.
	banned := dialFTP(t, srv.Addr())
	assert.True(t, strings.HasPrefix(banned.readLine(t), "421 "))
}

func TestServer_RateLimitClosesSession(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{}, security.Config{RateWindow: time.Minute, RateMaxRequests: 5})
	client := dialFTP(t, srv.Addr())
	client.readLine(t)

	var last string
	for i := 0; i < 6; i++ {
		last = client.cmd(t, "SYST")
	}
	assert.True(t, strings.HasPrefix(last, "421 "), "burst past the rate budget must end the session")
}

// ============================================================================
// Shutdown
// ============================================================================

func TestServer_GracefulShutdownDrainsSessions(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{}, security.Config{})
	client := dialFTP(t, srv.Addr())
	client.readLine(t)

	srv.cancel()

	select {
	case err := <-srv.errCh:
		assert.NoError(t, err, "idle sessions must drain within the timeout")
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestServer_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{}, security.Config{})
	require.NotEmpty(t, srv.Addr())

	assert.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestServer_BindFailure(t *testing.T) {
	t.Parallel()

	// Occupy a port, then ask the server to bind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	ledger := security.NewLedger(security.Config{})
	engine := ftp.NewEngine(fakeAuth{}, ledger, nil, 0)
	srv := New(Config{BindAddress: "127.0.0.1", Port: port, Root: t.TempDir()}, engine, ledger, nil)

	err = srv.Serve(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprint(port))
}
