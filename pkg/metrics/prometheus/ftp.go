// Package prometheus provides the Prometheus-backed implementation of the
// metrics interfaces.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wharfd/wharfd/pkg/metrics"
)

// ftpMetrics is the Prometheus implementation of metrics.FTPMetrics.
type ftpMetrics struct {
	connectionsTotal   prometheus.Counter
	connectionsClosed  prometheus.Counter
	connectionsReject  *prometheus.CounterVec
	connectionsForced  prometheus.Counter
	activeConnections  prometheus.Gauge
	commandsTotal      *prometheus.CounterVec
	commandDuration    *prometheus.HistogramVec
	transferBytesTotal *prometheus.CounterVec
	loginFailures      prometheus.Counter
	bansImposed        prometheus.Counter
}

// NewFTPMetrics creates a Prometheus-backed FTPMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewFTPMetrics() metrics.FTPMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &ftpMetrics{
		connectionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "wharfd_connections_total",
			Help: "Total number of accepted control connections",
		}),
		connectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "wharfd_connections_closed_total",
			Help: "Total number of closed control connections",
		}),
		connectionsReject: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wharfd_connections_rejected_total",
				Help: "Connections refused at admission by reason",
			},
			[]string{"reason"}, // "banned", "per_address_cap", "server_full"
		),
		connectionsForced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "wharfd_connections_force_closed_total",
			Help: "Connections force-closed during shutdown",
		}),
		activeConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "wharfd_active_connections",
			Help: "Current number of live control connections",
		}),
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wharfd_commands_total",
				Help: "Processed FTP commands by verb and reply code",
			},
			[]string{"verb", "code"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "wharfd_command_duration_milliseconds",
				Help: "Command processing duration in milliseconds",
				Buckets: []float64{
					0.1,   // metadata commands
					0.5,
					1,
					5,
					10,
					50,
					100,
					500,
					1000,  // small transfers
					5000,
					30000, // large transfers
				},
			},
			[]string{"verb"},
		),
		transferBytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wharfd_transfer_bytes_total",
				Help: "Payload bytes transferred by direction",
			},
			[]string{"direction"}, // "sent", "received"
		),
		loginFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "wharfd_login_failures_total",
			Help: "Failed PASS attempts",
		}),
		bansImposed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "wharfd_bans_imposed_total",
			Help: "Address bans imposed by the security ledger",
		}),
	}
}

func (m *ftpMetrics) RecordConnectionAccepted() {
	m.connectionsTotal.Inc()
}

func (m *ftpMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *ftpMetrics) RecordConnectionRejected(reason string) {
	m.connectionsReject.WithLabelValues(reason).Inc()
}

func (m *ftpMetrics) RecordConnectionForceClosed() {
	m.connectionsForced.Inc()
}

func (m *ftpMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *ftpMetrics) RecordCommand(verb string, code int, duration time.Duration) {
	m.commandsTotal.WithLabelValues(verb, strconv.Itoa(code)).Inc()
	m.commandDuration.WithLabelValues(verb).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *ftpMetrics) RecordTransferBytes(direction string, bytes int64) {
	if bytes > 0 {
		m.transferBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

func (m *ftpMetrics) RecordLoginFailure() {
	m.loginFailures.Inc()
}

func (m *ftpMetrics) RecordBan() {
	m.bansImposed.Inc()
}
