package security

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance ledger time deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLedger(cfg Config) (*Ledger, *fakeClock) {
	l := NewLedger(cfg)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l.now = clock.Now
	return l, clock
}

// ============================================================================
// Admission Tests
// ============================================================================

func TestAdmit_NewAddressAllowed(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{})
	assert.NoError(t, l.Admit("10.0.0.1"))
	assert.True(t, l.IsConnectionAllowed("10.0.0.1"))
}

func TestAdmit_PerAddressCap(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{MaxPerAddress: 2})

	l.RegisterConnection("10.0.0.1")
	assert.NoError(t, l.Admit("10.0.0.1"))

	l.RegisterConnection("10.0.0.1")
	assert.ErrorIs(t, l.Admit("10.0.0.1"), ErrTooManyConnections)

	// Other addresses are unaffected
	assert.NoError(t, l.Admit("10.0.0.2"))

	// Freeing a slot re-admits
	l.UnregisterConnection("10.0.0.1")
	assert.NoError(t, l.Admit("10.0.0.1"))
}

func TestAdmitAndRegister_CapHoldsUnderContention(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{MaxPerAddress: 3})

	// Simultaneous dials from one address must not be able to pass the
	// cap check before any of them is counted.
	const dials = 32
	var wg sync.WaitGroup
	var admitted atomic.Int32
	for i := 0; i < dials; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.AdmitAndRegister("10.0.0.7") == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 3, admitted.Load())
	assert.ErrorIs(t, l.Admit("10.0.0.7"), ErrTooManyConnections)

	// Freeing a slot re-admits, same as the two-step path.
	l.UnregisterConnection("10.0.0.7")
	assert.NoError(t, l.AdmitAndRegister("10.0.0.7"))
}

func TestAdmitAndRegister_BannedAddress(t *testing.T) {
	t.Parallel()

	l, clock := newTestLedger(Config{BanThreshold: 1, BanDuration: time.Minute})
	require.True(t, l.RecordFailedLogin("10.0.0.8"))

	assert.ErrorIs(t, l.AdmitAndRegister("10.0.0.8"), ErrBanned)

	clock.Advance(2 * time.Minute)
	assert.NoError(t, l.AdmitAndRegister("10.0.0.8"))
}

func TestUnregister_NeverNegative(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{MaxPerAddress: 1})
	l.UnregisterConnection("10.0.0.9")
	l.RegisterConnection("10.0.0.9")
	assert.ErrorIs(t, l.Admit("10.0.0.9"), ErrTooManyConnections)
}

// ============================================================================
// Ban Tests
// ============================================================================

func TestBanThreshold(t *testing.T) {
	t.Parallel()

	l, clock := newTestLedger(Config{BanThreshold: 3, BanDuration: 10 * time.Minute})

	assert.False(t, l.RecordFailedLogin("10.0.0.5"))
	assert.False(t, l.RecordFailedLogin("10.0.0.5"))
	assert.NoError(t, l.Admit("10.0.0.5"), "below threshold, still admitted")

	// Third failure imposes the ban
	assert.True(t, l.RecordFailedLogin("10.0.0.5"))
	assert.ErrorIs(t, l.Admit("10.0.0.5"), ErrBanned)

	// Ban expires after the full duration
	clock.Advance(10*time.Minute + time.Second)
	assert.NoError(t, l.Admit("10.0.0.5"))
}

func TestBan_SurvivesSuccessfulLogin(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{BanThreshold: 2, BanDuration: time.Hour})

	l.RecordFailedLogin("10.0.0.5")
	require.True(t, l.RecordFailedLogin("10.0.0.5"))

	// A successful login clears the failure counter only; the ban stays.
	l.RecordSuccessfulLogin("10.0.0.5")
	assert.ErrorIs(t, l.Admit("10.0.0.5"), ErrBanned)
}

func TestSuccessfulLogin_ClearsFailures(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{BanThreshold: 3, BanDuration: time.Hour})

	l.RecordFailedLogin("10.0.0.5")
	l.RecordFailedLogin("10.0.0.5")
	l.RecordSuccessfulLogin("10.0.0.5")

	// Counter restarted: two more failures do not ban
	assert.False(t, l.RecordFailedLogin("10.0.0.5"))
	assert.False(t, l.RecordFailedLogin("10.0.0.5"))
	assert.True(t, l.RecordFailedLogin("10.0.0.5"))
}

func TestBan_IsolatedPerAddress(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{BanThreshold: 2, BanDuration: time.Hour})

	l.RecordFailedLogin("10.0.0.5")
	l.RecordFailedLogin("10.0.0.5")

	assert.ErrorIs(t, l.Admit("10.0.0.5"), ErrBanned)
	assert.NoError(t, l.Admit("10.0.0.6"))
}

func TestUnban(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{BanThreshold: 1, BanDuration: time.Hour})

	require.True(t, l.RecordFailedLogin("10.0.0.5"))
	require.ErrorIs(t, l.Admit("10.0.0.5"), ErrBanned)

	assert.True(t, l.Unban("10.0.0.5"))
	assert.NoError(t, l.Admit("10.0.0.5"))

	// No active ban, nothing to lift
	assert.False(t, l.Unban("10.0.0.5"))
	assert.False(t, l.Unban("10.99.99.99"))
}

// ============================================================================
// Rate Window Tests
// ============================================================================

func TestRateLimit_WithinBudget(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{RateWindow: time.Minute, RateMaxRequests: 3})

	for i := 0; i < 3; i++ {
		assert.False(t, l.IsRateLimitExceeded("10.0.0.7"), "request %d", i)
	}
	assert.True(t, l.IsRateLimitExceeded("10.0.0.7"))
}

func TestRateLimit_WindowReset(t *testing.T) {
	t.Parallel()

	l, clock := newTestLedger(Config{RateWindow: time.Minute, RateMaxRequests: 2})

	require.False(t, l.IsRateLimitExceeded("10.0.0.7"))
	require.False(t, l.IsRateLimitExceeded("10.0.0.7"))
	require.True(t, l.IsRateLimitExceeded("10.0.0.7"))

	// A request in an expired window resets and is allowed
	clock.Advance(time.Minute + time.Second)
	assert.False(t, l.IsRateLimitExceeded("10.0.0.7"))
}

// ============================================================================
// Sweep Tests
// ============================================================================

func TestSweep_RemovesIdleRecords(t *testing.T) {
	t.Parallel()

	l, clock := newTestLedger(Config{
		BanThreshold: 1,
		BanDuration:  time.Minute,
		RateWindow:   time.Minute,
	})

	// Idle record: connected once, then disconnected
	l.RegisterConnection("10.0.0.1")
	l.UnregisterConnection("10.0.0.1")

	// Banned record: survives sweep until ban expiry
	l.RecordFailedLogin("10.0.0.2")

	// Live record: active connection
	l.RegisterConnection("10.0.0.3")

	removed := l.Sweep()
	assert.Equal(t, 1, removed, "only the idle record is sweep-eligible")
	assert.Len(t, l.Snapshot(), 2)

	// After ban expiry the banned record goes too
	clock.Advance(2 * time.Minute)
	removed = l.Sweep()
	assert.Equal(t, 1, removed)

	snaps := l.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, "10.0.0.3", snaps[0].Address)
}

func TestSweep_ExpiredWindowCleared(t *testing.T) {
	t.Parallel()

	l, clock := newTestLedger(Config{RateWindow: time.Minute, RateMaxRequests: 5})

	l.IsRateLimitExceeded("10.0.0.4")
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, l.Sweep())
	assert.Empty(t, l.Snapshot())
}

// ============================================================================
// Snapshot & Concurrency Tests
// ============================================================================

func TestSnapshot(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{BanThreshold: 1, BanDuration: time.Hour})

	l.RegisterConnection("10.0.0.8")
	l.RecordFailedLogin("10.0.0.8")

	snaps := l.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, "10.0.0.8", snaps[0].Address)
	assert.Equal(t, 1, snaps[0].ActiveConnections)
	assert.True(t, snaps[0].Banned)
	assert.False(t, snaps[0].BannedUntil.IsZero())
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{
		MaxPerAddress:   1000,
		BanThreshold:    1000000,
		RateMaxRequests: 1000000,
	})

	const workers = 16
	const iterations = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			addr := fmt.Sprintf("10.1.0.%d", w%4)
			for i := 0; i < iterations; i++ {
				l.RegisterConnection(addr)
				l.IsRateLimitExceeded(addr)
				l.RecordFailedLogin(addr)
				l.Admit(addr)
				l.UnregisterConnection(addr)
			}
		}(w)
	}
	wg.Wait()

	// Every register was paired with an unregister
	for _, snap := range l.Snapshot() {
		assert.Zero(t, snap.ActiveConnections, "address %s", snap.Address)
	}
}

func TestFailedLoginStorms_IsolatedAcrossAddresses(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(Config{BanThreshold: 3, BanDuration: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := fmt.Sprintf("10.2.0.%d", i)
			for j := 0; j < 3; j++ {
				l.RecordFailedLogin(addr)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		assert.ErrorIs(t, l.Admit(fmt.Sprintf("10.2.0.%d", i)), ErrBanned)
	}
}
