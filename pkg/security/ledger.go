// Package security implements per-address admission control and abuse
// mitigation: connection caps, failed-login banning, and request rate
// limiting. One Ledger is shared by every connection worker; a background
// sweep bounds its memory under bursty or unique-address traffic.
package security

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wharfd/wharfd/internal/logger"
)

var (
	// ErrBanned is returned by Admit while an address ban is in effect.
	ErrBanned = errors.New("address is banned")

	// ErrTooManyConnections is returned by Admit when the per-address
	// connection cap is reached.
	ErrTooManyConnections = errors.New("too many connections from address")
)

// Config holds the security ledger tuning knobs. All values must be
// positive; use DefaultConfig as a baseline.
type Config struct {
	// MaxPerAddress is the maximum simultaneous connections per source address.
	MaxPerAddress int

	// BanThreshold is the number of failed logins that triggers a ban.
	BanThreshold int

	// BanDuration is how long a ban lasts. A ban always runs its full
	// course; later successful logins do not lift it.
	BanDuration time.Duration

	// RateWindow is the fixed duration of the per-address request window.
	RateWindow time.Duration

	// RateMaxRequests is the number of requests allowed within one window.
	RateMaxRequests int

	// SweepInterval is how often expired state is swept out.
	SweepInterval time.Duration
}

// DefaultConfig returns the default security configuration.
func DefaultConfig() Config {
	return Config{
		MaxPerAddress:   5,
		BanThreshold:    3,
		BanDuration:     15 * time.Minute,
		RateWindow:      time.Minute,
		RateMaxRequests: 120,
		SweepInterval:   time.Minute,
	}
}

// record tracks one source address. Fields are guarded by mu, so updates to
// different addresses never contend.
type record struct {
	mu sync.Mutex

	activeConnections int
	failedLogins      int
	bannedUntil       time.Time
	windowStart       time.Time
	windowCount       int
}

// RecordSnapshot is a read-only copy of one address's state, used by the
// administrative surface.
type RecordSnapshot struct {
	Address           string    `json:"address"`
	ActiveConnections int       `json:"active_connections"`
	FailedLogins      int       `json:"failed_logins"`
	Banned            bool      `json:"banned"`
	BannedUntil       time.Time `json:"banned_until,omitzero"`
	RequestsInWindow  int       `json:"requests_in_window"`
}

// Ledger tracks untrusted-client behavior per source address.
//
// Thread safety: all methods are safe for arbitrary concurrent use from every
// connection worker. The sync.Map keyed by address localizes contention to
// same-key access.
type Ledger struct {
	cfg     Config
	records sync.Map // address string -> *record

	// now is swappable for tests.
	now func() time.Time
}

// NewLedger creates a security ledger with the given configuration.
// Zero or negative config values fall back to DefaultConfig values.
func NewLedger(cfg Config) *Ledger {
	def := DefaultConfig()
	if cfg.MaxPerAddress <= 0 {
		cfg.MaxPerAddress = def.MaxPerAddress
	}
	if cfg.BanThreshold <= 0 {
		cfg.BanThreshold = def.BanThreshold
	}
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = def.BanDuration
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.RateMaxRequests <= 0 {
		cfg.RateMaxRequests = def.RateMaxRequests
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	return &Ledger{
		cfg: cfg,
		now: time.Now,
	}
}

// get returns the record for addr, creating it on first contact.
func (l *Ledger) get(addr string) *record {
	if r, ok := l.records.Load(addr); ok {
		return r.(*record)
	}
	r, _ := l.records.LoadOrStore(addr, &record{})
	return r.(*record)
}

// Admit reports whether a new connection from addr may be accepted.
// Returns ErrBanned for an unexpired ban, ErrTooManyConnections when the
// per-address cap is reached, nil otherwise. Checked by the acceptor before
// a worker is allocated.
func (l *Ledger) Admit(addr string) error {
	r := l.get(addr)
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.now().Before(r.bannedUntil) {
		return ErrBanned
	}
	if r.activeConnections >= l.cfg.MaxPerAddress {
		return ErrTooManyConnections
	}
	return nil
}

// IsConnectionAllowed reports whether a connection from addr would be admitted.
func (l *Ledger) IsConnectionAllowed(addr string) bool {
	return l.Admit(addr) == nil
}

// AdmitAndRegister admits addr and counts the connection in one critical
// section, so concurrent dials from one address cannot all pass the cap
// check before any of them is counted. A nil return means the connection
// is registered and must be balanced by UnregisterConnection.
func (l *Ledger) AdmitAndRegister(addr string) error {
	r := l.get(addr)
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.now().Before(r.bannedUntil) {
		return ErrBanned
	}
	if r.activeConnections >= l.cfg.MaxPerAddress {
		return ErrTooManyConnections
	}
	r.activeConnections++
	return nil
}

// RegisterConnection increments the active-connection count for addr.
func (l *Ledger) RegisterConnection(addr string) {
	r := l.get(addr)
	r.mu.Lock()
	r.activeConnections++
	r.mu.Unlock()
}

// UnregisterConnection decrements the active-connection count for addr.
// Zero-count records become sweep-eligible; they are not removed here.
func (l *Ledger) UnregisterConnection(addr string) {
	r := l.get(addr)
	r.mu.Lock()
	if r.activeConnections > 0 {
		r.activeConnections--
	}
	r.mu.Unlock()
}

// RecordFailedLogin increments the failed-login counter for addr. When the
// counter reaches the configured threshold a ban is imposed and the counter
// resets. Returns true when this call imposed a ban.
func (l *Ledger) RecordFailedLogin(addr string) bool {
	r := l.get(addr)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failedLogins++
	if r.failedLogins < l.cfg.BanThreshold {
		return false
	}

	r.failedLogins = 0
	r.bannedUntil = l.now().Add(l.cfg.BanDuration)
	logger.Warn("address banned after repeated login failures",
		logger.KeyClientIP, addr,
		"until", r.bannedUntil.Format(time.RFC3339))
	return true
}

// RecordSuccessfulLogin clears the failed-login counter for addr. An already
// imposed ban is left in place and runs its full course.
func (l *Ledger) RecordSuccessfulLogin(addr string) {
	r := l.get(addr)
	r.mu.Lock()
	r.failedLogins = 0
	r.mu.Unlock()
}

// IsRateLimitExceeded counts one request against addr's current window and
// reports whether the window budget is exhausted. A request arriving after
// the window expired resets the window and is allowed.
func (l *Ledger) IsRateLimitExceeded(addr string) bool {
	r := l.get(addr)
	r.mu.Lock()
	defer r.mu.Unlock()

	now := l.now()
	if r.windowStart.IsZero() || now.Sub(r.windowStart) >= l.cfg.RateWindow {
		r.windowStart = now
		r.windowCount = 1
		return false
	}

	r.windowCount++
	return r.windowCount > l.cfg.RateMaxRequests
}

// Unban lifts an active ban on addr. Returns true if a ban was in effect.
// This is an operator action exposed by the administrative surface; protocol
// side bans always run their full course.
func (l *Ledger) Unban(addr string) bool {
	v, ok := l.records.Load(addr)
	if !ok {
		return false
	}
	r := v.(*record)
	r.mu.Lock()
	defer r.mu.Unlock()

	if !l.now().Before(r.bannedUntil) {
		return false
	}
	r.bannedUntil = time.Time{}
	return true
}

// Snapshot returns a copy of every tracked address's state.
func (l *Ledger) Snapshot() []RecordSnapshot {
	var out []RecordSnapshot
	now := l.now()

	l.records.Range(func(key, value any) bool {
		addr := key.(string)
		r := value.(*record)

		r.mu.Lock()
		snap := RecordSnapshot{
			Address:           addr,
			ActiveConnections: r.activeConnections,
			FailedLogins:      r.failedLogins,
			Banned:            now.Before(r.bannedUntil),
			RequestsInWindow:  r.windowCount,
		}
		if snap.Banned {
			snap.BannedUntil = r.bannedUntil
		}
		r.mu.Unlock()

		out = append(out, snap)
		return true
	})
	return out
}

// StartSweeper runs the periodic sweep until ctx is cancelled.
// The sweep removes records with no active connections, no unexpired ban,
// no pending failed logins, and an expired rate window.
func (l *Ledger) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := l.Sweep()
				if removed > 0 {
					logger.Debug("security ledger sweep", "removed", removed)
				}
			}
		}
	}()
}

// Sweep removes expired state and returns the number of records dropped.
// Exported so tests and the sweeper goroutine share one implementation.
func (l *Ledger) Sweep() int {
	now := l.now()
	removed := 0

	l.records.Range(func(key, value any) bool {
		r := value.(*record)

		r.mu.Lock()
		// Expired bans and windows are logically cleared even if the record
		// itself survives because of live connections.
		if !r.bannedUntil.IsZero() && !now.Before(r.bannedUntil) {
			r.bannedUntil = time.Time{}
		}
		if !r.windowStart.IsZero() && now.Sub(r.windowStart) >= l.cfg.RateWindow {
			r.windowStart = time.Time{}
			r.windowCount = 0
		}
		idle := r.activeConnections == 0 &&
			r.failedLogins == 0 &&
			r.bannedUntil.IsZero() &&
			r.windowStart.IsZero()
		r.mu.Unlock()

		if idle {
			l.records.Delete(key)
			removed++
		}
		return true
	})
	return removed
}
