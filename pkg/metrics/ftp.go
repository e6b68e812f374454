package metrics

import "time"

// Transfer directions for RecordTransferBytes.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// FTPMetrics provides observability for the FTP server.
//
// Implementations record connection lifecycle, command outcomes, transfer
// volume, and security events. The interface is optional: a nil recorder
// disables collection with zero overhead.
type FTPMetrics interface {
	// RecordConnectionAccepted counts a connection admitted to a worker.
	RecordConnectionAccepted()

	// RecordConnectionClosed counts a worker teardown.
	RecordConnectionClosed()

	// RecordConnectionRejected counts a connection refused at admission,
	// labeled with the rejection reason ("banned", "per_address_cap",
	// "server_full").
	RecordConnectionRejected(reason string)

	// RecordConnectionForceClosed counts a connection closed by shutdown.
	RecordConnectionForceClosed()

	// SetActiveConnections updates the live connection gauge.
	SetActiveConnections(count int32)

	// RecordCommand records one processed command with its verb, the reply
	// code sent, and processing duration.
	RecordCommand(verb string, code int, duration time.Duration)

	// RecordTransferBytes records payload bytes moved in the given direction
	// (DirectionSent for RETR/LIST output, DirectionReceived for STOR input).
	RecordTransferBytes(direction string, bytes int64)

	// RecordLoginFailure counts a failed PASS attempt.
	RecordLoginFailure()

	// RecordBan counts a ban imposed by the security ledger.
	RecordBan()
}

// multiMetrics fans out to several recorders.
type multiMetrics []FTPMetrics

// Combine returns a recorder that forwards to every non-nil recorder given.
// Returns nil when none remain.
func Combine(recorders ...FTPMetrics) FTPMetrics {
	var out multiMetrics
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (m multiMetrics) RecordConnectionAccepted() {
	for _, r := range m {
		r.RecordConnectionAccepted()
	}
}

func (m multiMetrics) RecordConnectionClosed() {
	for _, r := range m {
		r.RecordConnectionClosed()
	}
}

func (m multiMetrics) RecordConnectionRejected(reason string) {
	for _, r := range m {
		r.RecordConnectionRejected(reason)
	}
}

func (m multiMetrics) RecordConnectionForceClosed() {
	for _, r := range m {
		r.RecordConnectionForceClosed()
	}
}

func (m multiMetrics) SetActiveConnections(count int32) {
	for _, r := range m {
		r.SetActiveConnections(count)
	}
}

func (m multiMetrics) RecordCommand(verb string, code int, duration time.Duration) {
	for _, r := range m {
		r.RecordCommand(verb, code, duration)
	}
}

func (m multiMetrics) RecordTransferBytes(direction string, bytes int64) {
	for _, r := range m {
		r.RecordTransferBytes(direction, bytes)
	}
}

func (m multiMetrics) RecordLoginFailure() {
	for _, r := range m {
		r.RecordLoginFailure()
	}
}

func (m multiMetrics) RecordBan() {
	for _, r := range m {
		r.RecordBan()
	}
}
