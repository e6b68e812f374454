package ftp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// testConn satisfies the session's io.ReadWriter. Reads come from r (EOF
// when nil); writes accumulate in w for inspection, with writes counting
// the individual Write calls.
type testConn struct {
	r      io.Reader
	w      bytes.Buffer
	writes int
}

func (c *testConn) Read(p []byte) (int, error) {
	if c.r == nil {
		return 0, io.EOF
	}
	return c.r.Read(p)
}

func (c *testConn) Write(p []byte) (int, error) {
	c.writes++
	return c.w.Write(p)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	auth := fakeAuth{"alice": "secret", "bob": "hunter2"}
	return NewEngine(auth, security.NewLedger(security.Config{}), nil, 0)
}

func newTestSession(t *testing.T, root string) (*Session, *testConn) {
	t.Helper()
	conn := &testConn{}
	return NewSession("10.0.0.5:52000", root, conn), conn
}

// login drives the USER/PASS exchange to the authenticated state.
func login(t *testing.T, e *Engine, s *Session) {
	t.Helper()
	reply, err := e.Dispatch(context.Background(), s, "USER alice")
	require.NoError(t, err)
	require.Equal(t, 331, reply.Code)
	reply, err = e.Dispatch(context.Background(), s, "PASS secret")
	require.NoError(t, err)
	require.Equal(t, 230, reply.Code)
	require.Equal(t, StateAuthenticated, s.State)
}

func dispatch(t *testing.T, e *Engine, s *Session, line string) Reply {
	t.Helper()
	reply, err := e.Dispatch(context.Background(), s, line)
	require.NoError(t, err)
	return reply
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
}

// ============================================================================
// Auth State Machine
// ============================================================================

func TestAuth_LoginSequence(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())

	reply := dispatch(t, e, s, "USER alice")
	assert.Equal(t, 331, reply.Code)
	assert.Contains(t, reply.Lines[0], "alice")
	assert.Equal(t, StateUsernameGiven, s.State)

	reply = dispatch(t, e, s, "PASS secret")
	assert.Equal(t, 230, reply.Code)
	assert.Equal(t, StateAuthenticated, s.State)
	assert.Equal(t, "alice", s.Username)
}

func TestAuth_PassWithoutUser(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())

	reply := dispatch(t, e, s, "PASS secret")
	assert.Equal(t, 503, reply.Code)
	assert.Equal(t, "Login with USER first", reply.Lines[0])
}

func TestAuth_WrongPassword(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())

	dispatch(t, e, s, "USER alice")
	reply := dispatch(t, e, s, "PASS wrong")
	assert.Equal(t, 530, reply.Code)
	assert.Equal(t, StateUnauthenticated, s.State)
	assert.Empty(t, s.Username)

	// The username given to USER is consumed; PASS again needs a new USER.
	reply = dispatch(t, e, s, "PASS secret")
	assert.Equal(t, 503, reply.Code)
}

func TestAuth_CommandBeforeLogin(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())

	for _, verb := range []string{"PWD", "CWD /x", "LIST", "RETR a", "STOR a", "DELE a", "MKD d", "NOOP", "SIZE a", "TYPE I"} {
		reply := dispatch(t, e, s, verb)
		assert.Equal(t, 530, reply.Code, "verb %q must require auth", verb)
	}
}

func TestAuth_AlwaysAllowedVerbs(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())

	assert.Equal(t, 215, dispatch(t, e, s, "SYST").Code)
	assert.Equal(t, 211, dispatch(t, e, s, "FEAT").Code)
	assert.Equal(t, 221, dispatch(t, e, s, "QUIT").Code)
	assert.Equal(t, StateClosed, s.State)
}

func TestAuth_NonPassWhileUsernameGiven(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())

	dispatch(t, e, s, "USER alice")
	reply := dispatch(t, e, s, "PWD")
	assert.Equal(t, 503, reply.Code)

	// SYST stays available mid-exchange.
	assert.Equal(t, 215, dispatch(t, e, s, "SYST").Code)
}

func TestAuth_ReloginRestartsExchange(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())
	login(t, e, s)

	reply := dispatch(t, e, s, "USER bob")
	assert.Equal(t, 331, reply.Code)
	assert.Equal(t, StateUsernameGiven, s.State)
	assert.Empty(t, s.Username)

	reply = dispatch(t, e, s, "PASS hunter2")
	assert.Equal(t, 230, reply.Code)
	assert.Equal(t, "bob", s.Username)
}

func TestAuth_FailedLoginsEscalateToBan(t *testing.T) {
	t.Parallel()

	ledger := security.NewLedger(security.Config{BanThreshold: 3, BanDuration: time.Minute})
	e := NewEngine(fakeAuth{"alice": "secret"}, ledger, nil, 0)
	s, _ := newTestSession(t, t.TempDir())

	for i := 0; i < 3; i++ {
		dispatch(t, e, s, "USER alice")
		reply := dispatch(t, e, s, "PASS wrong")
		require.Equal(t, 530, reply.Code)
	}

	assert.False(t, ledger.IsConnectionAllowed("10.0.0.5"),
		"address must be banned after hitting the threshold")
}

// ============================================================================
// Dispatch Edges
// ============================================================================

func TestDispatch_UnknownVerb(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())
	login(t, e, s)

	reply := dispatch(t, e, s, "XYZZY")
	assert.Equal(t, 502, reply.Code)
}

func TestDispatch_EmptyLine(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())

	reply := dispatch(t, e, s, "   ")
	assert.Equal(t, 500, reply.Code)
}

func TestDispatch_VerbCaseInsensitive(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())

	reply := dispatch(t, e, s, "user alice")
	assert.Equal(t, 331, reply.Code)
}

func TestDispatch_AfterClose(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())

	dispatch(t, e, s, "QUIT")
	reply := dispatch(t, e, s, "SYST")
	assert.Equal(t, 503, reply.Code)
}

// ============================================================================
// Directory Navigation
// ============================================================================

func TestCWD_Navigation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pub", "docs"), 0o755))

	e := newTestEngine(t)
	s, _ := newTestSession(t, root)
	login(t, e, s)

	assert.Equal(t, `"/" is the current directory`, dispatch(t, e, s, "PWD").Lines[0])

	reply := dispatch(t, e, s, "CWD pub")
	assert.Equal(t, 250, reply.Code)
	assert.Equal(t, "/pub", s.Cwd)

	reply = dispatch(t, e, s, "CWD docs")
	assert.Equal(t, 250, reply.Code)
	assert.Equal(t, "/pub/docs", s.Cwd)

	reply = dispatch(t, e, s, "CWD /pub")
	assert.Equal(t, 250, reply.Code)
	assert.Equal(t, "/pub", s.Cwd)

	reply = dispatch(t, e, s, "CDUP")
	assert.Equal(t, 250, reply.Code)
	assert.Equal(t, "/", s.Cwd)

	reply = dispatch(t, e, s, "CDUP")
	assert.Equal(t, 250, reply.Code)
	assert.Equal(t, "/", s.Cwd)
}

func TestCWD_EscapeAttemptFails(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())
	login(t, e, s)

	reply := dispatch(t, e, s, "CWD ../../../etc")
	assert.Equal(t, 550, reply.Code)
	assert.Equal(t, "/", s.Cwd, "escape attempt must not move the session")
}

func TestCWD_MissingOrFileTarget(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "plain.txt", "x")

	e := newTestEngine(t)
	s, _ := newTestSession(t, root)
	login(t, e, s)

	assert.Equal(t, 550, dispatch(t, e, s, "CWD nope").Code)
	assert.Equal(t, 550, dispatch(t, e, s, "CWD plain.txt").Code)
	assert.Equal(t, "/", s.Cwd)
}

// ============================================================================
// File Management
// ============================================================================

func TestMKD_RMD(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	e := newTestEngine(t)
	s, _ := newTestSession(t, root)
	login(t, e, s)

	reply := dispatch(t, e, s, "MKD incoming")
	assert.Equal(t, 257, reply.Code)
	assert.DirExists(t, filepath.Join(root, "incoming"))

	assert.Equal(t, 550, dispatch(t, e, s, "MKD incoming").Code, "duplicate MKD must fail")

	writeFile(t, root, "incoming/keep.txt", "x")
	assert.Equal(t, 550, dispatch(t, e, s, "RMD incoming").Code, "non-empty RMD must fail")

	require.NoError(t, os.Remove(filepath.Join(root, "incoming", "keep.txt")))
	reply = dispatch(t, e, s, "RMD incoming")
	assert.Equal(t, 250, reply.Code)
	assert.NoDirExists(t, filepath.Join(root, "incoming"))
}

func TestDELE(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "junk.txt", "x")
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))

	e := newTestEngine(t)
	s, _ := newTestSession(t, root)
	login(t, e, s)

	assert.Equal(t, 550, dispatch(t, e, s, "DELE dir").Code, "DELE on a directory must fail")
	assert.Equal(t, 550, dispatch(t, e, s, "DELE nope").Code)

	reply := dispatch(t, e, s, "DELE junk.txt")
	assert.Equal(t, 250, reply.Code)
	assert.NoFileExists(t, filepath.Join(root, "junk.txt"))
}

// ============================================================================
// Two-Step Rename
// ============================================================================

func TestRename_Success(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "old.txt", "payload")

	e := newTestEngine(t)
	s, _ := newTestSession(t, root)
	login(t, e, s)

	assert.Equal(t, 350, dispatch(t, e, s, "RNFR old.txt").Code)
	assert.Equal(t, 250, dispatch(t, e, s, "RNTO new.txt").Code)
	assert.NoFileExists(t, filepath.Join(root, "old.txt"))
	assert.FileExists(t, filepath.Join(root, "new.txt"))
}

func TestRename_RNTOWithoutRNFR(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())
	login(t, e, s)

	assert.Equal(t, 503, dispatch(t, e, s, "RNTO new.txt").Code)
}

func TestRename_FailedRNTOClearsPendingState(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "old.txt", "payload")

	e := newTestEngine(t)
	s, _ := newTestSession(t, root)
	login(t, e, s)

	assert.Equal(t, 350, dispatch(t, e, s, "RNFR old.txt").Code)
	assert.Equal(t, 553, dispatch(t, e, s, "RNTO bad\x01name").Code)

	// The stale rename source must not be completable.
	assert.Equal(t, 503, dispatch(t, e, s, "RNTO new.txt").Code)
	assert.FileExists(t, filepath.Join(root, "old.txt"))
}

func TestRename_MissingSource(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())
	login(t, e, s)

	assert.Equal(t, 550, dispatch(t, e, s, "RNFR missing.txt").Code)
	assert.Equal(t, 503, dispatch(t, e, s, "RNTO new.txt").Code)
}

// ============================================================================
// Metadata Queries
// ============================================================================

func TestSIZE_MDTM(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "data.bin", "1234567890")
	modTime := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "data.bin"), modTime, modTime))

	e := newTestEngine(t)
	s, _ := newTestSession(t, root)
	login(t, e, s)

	reply := dispatch(t, e, s, "SIZE data.bin")
	assert.Equal(t, 213, reply.Code)
	assert.Equal(t, "10", reply.Lines[0])

	reply = dispatch(t, e, s, "MDTM data.bin")
	assert.Equal(t, 213, reply.Code)
	assert.Equal(t, "20260314092653", reply.Lines[0])

	assert.Equal(t, 550, dispatch(t, e, s, "SIZE nope").Code)
	assert.Equal(t, 550, dispatch(t, e, s, fmt.Sprintf("SIZE %s", ".")).Code, "SIZE on a directory must fail")
	assert.Equal(t, 550, dispatch(t, e, s, "MDTM .").Code, "MDTM on a directory must fail")
}

// ============================================================================
// Session Options
// ============================================================================

func TestTYPE(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())
	login(t, e, s)

	assert.Equal(t, 200, dispatch(t, e, s, "TYPE A").Code)
	assert.Equal(t, TransferASCII, s.TransferType)

	assert.Equal(t, 200, dispatch(t, e, s, "TYPE I").Code)
	assert.Equal(t, TransferBinary, s.TransferType)

	assert.Equal(t, 504, dispatch(t, e, s, "TYPE E").Code)
}

func TestOPTS_UTF8(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())
	login(t, e, s)

	assert.Equal(t, 200, dispatch(t, e, s, "OPTS UTF8 ON").Code)
	assert.True(t, s.utf8Enabled)

	assert.Equal(t, 200, dispatch(t, e, s, "OPTS UTF8 OFF").Code)
	assert.False(t, s.utf8Enabled)

	assert.Equal(t, 501, dispatch(t, e, s, "OPTS UTF8 MAYBE").Code)
	assert.Equal(t, 504, dispatch(t, e, s, "OPTS MLST size").Code)
	assert.Equal(t, 501, dispatch(t, e, s, "OPTS").Code)
}

func TestSTAT_Session(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	s, _ := newTestSession(t, t.TempDir())
	login(t, e, s)

	reply := dispatch(t, e, s, "STAT")
	assert.Equal(t, 211, reply.Code)
	text := reply.String()
	assert.Contains(t, text, "Connected from 10.0.0.5:52000")
	assert.Contains(t, text, "Logged in as alice")
	assert.Contains(t, text, "Working directory: /")
}

func TestSTAT_Path(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "abc")

	e := newTestEngine(t)
	s, _ := newTestSession(t, root)
	login(t, e, s)

	reply := dispatch(t, e, s, "STAT a.txt")
	assert.Equal(t, 213, reply.Code)
	assert.Contains(t, reply.String(), "a.txt")

	assert.Equal(t, 550, dispatch(t, e, s, "STAT nope").Code)
}

// ============================================================================
// Concurrent Session Isolation
// ============================================================================

func TestSessions_Isolated(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "b"), 0o755))
	writeFile(t, root, "a/src.txt", "x")

	e := newTestEngine(t)
	s1, _ := newTestSession(t, root)
	s2, _ := newTestSession(t, root)
	login(t, e, s1)
	login(t, e, s2)

	dispatch(t, e, s1, "CWD a")
	dispatch(t, e, s2, "CWD b")
	assert.Equal(t, "/a", s1.Cwd)
	assert.Equal(t, "/b", s2.Cwd)

	// Pending rename state never leaks across sessions.
	dispatch(t, e, s1, "RNFR src.txt")
	assert.Equal(t, 503, dispatch(t, e, s2, "RNTO dst.txt").Code)
	assert.Equal(t, 250, dispatch(t, e, s1, "RNTO dst.txt").Code)
}

// ============================================================================
// Reply Serialization
// ============================================================================

func TestReply_SingleLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "200 NOOP command successful\r\n",
		NewReply(200, "NOOP command successful").String())
}

func TestReply_MultiLine(t *testing.T) {
	t.Parallel()

	r := MultiReply(211, "Features:", "SIZE", "MDTM", "End")
	lines := strings.Split(strings.TrimSuffix(r.String(), "\r\n"), "\r\n")
	assert.Equal(t, []string{"211-Features:", " SIZE", " MDTM", "211 End"}, lines)
}
