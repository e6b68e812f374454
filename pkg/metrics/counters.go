package metrics

import (
	"sync/atomic"
	"time"
)

// PerformanceCounters is the in-process performance ledger: independent
// monotonically increasing counters plus a live connection gauge. It
// implements FTPMetrics so it can sit alongside the Prometheus recorder, and
// its Snapshot feeds the administrative API.
//
// No cross-field atomicity is required or provided; each counter is
// individually atomic.
type PerformanceCounters struct {
	startTime time.Time

	totalConnections    atomic.Uint64
	rejectedConnections atomic.Uint64
	forceClosed         atomic.Uint64
	activeConnections   atomic.Int32

	totalCommands atomic.Uint64
	errorReplies  atomic.Uint64

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	loginFailures atomic.Uint64
	bansImposed   atomic.Uint64
}

// CountersSnapshot is a point-in-time copy of every counter.
type CountersSnapshot struct {
	UptimeSeconds       int64  `json:"uptime_seconds"`
	TotalConnections    uint64 `json:"total_connections"`
	RejectedConnections uint64 `json:"rejected_connections"`
	ForceClosed         uint64 `json:"force_closed_connections"`
	ActiveConnections   int32  `json:"active_connections"`
	TotalCommands       uint64 `json:"total_commands"`
	ErrorReplies        uint64 `json:"error_replies"`
	BytesSent           uint64 `json:"bytes_sent"`
	BytesReceived       uint64 `json:"bytes_received"`
	LoginFailures       uint64 `json:"login_failures"`
	BansImposed         uint64 `json:"bans_imposed"`
}

// NewPerformanceCounters creates a zeroed performance ledger.
func NewPerformanceCounters() *PerformanceCounters {
	return &PerformanceCounters{startTime: time.Now()}
}

func (p *PerformanceCounters) RecordConnectionAccepted() {
	p.totalConnections.Add(1)
}

func (p *PerformanceCounters) RecordConnectionClosed() {}

func (p *PerformanceCounters) RecordConnectionRejected(string) {
	p.rejectedConnections.Add(1)
}

func (p *PerformanceCounters) RecordConnectionForceClosed() {
	p.forceClosed.Add(1)
}

func (p *PerformanceCounters) SetActiveConnections(count int32) {
	p.activeConnections.Store(count)
}

func (p *PerformanceCounters) RecordCommand(_ string, code int, _ time.Duration) {
	p.totalCommands.Add(1)
	if code >= 400 {
		p.errorReplies.Add(1)
	}
}

func (p *PerformanceCounters) RecordTransferBytes(direction string, bytes int64) {
	if bytes <= 0 {
		return
	}
	switch direction {
	case DirectionSent:
		p.bytesSent.Add(uint64(bytes))
	case DirectionReceived:
		p.bytesReceived.Add(uint64(bytes))
	}
}

func (p *PerformanceCounters) RecordLoginFailure() {
	p.loginFailures.Add(1)
}

func (p *PerformanceCounters) RecordBan() {
	p.bansImposed.Add(1)
}

// Snapshot returns a copy of all counters.
func (p *PerformanceCounters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		UptimeSeconds:       int64(time.Since(p.startTime).Seconds()),
		TotalConnections:    p.totalConnections.Load(),
		RejectedConnections: p.rejectedConnections.Load(),
		ForceClosed:         p.forceClosed.Load(),
		ActiveConnections:   p.activeConnections.Load(),
		TotalCommands:       p.totalCommands.Load(),
		ErrorReplies:        p.errorReplies.Load(),
		BytesSent:           p.bytesSent.Load(),
		BytesReceived:       p.bytesReceived.Load(),
		LoginFailures:       p.loginFailures.Load(),
		BansImposed:         p.bansImposed.Load(),
	}
}
