package handlers

import (
	"net/http"

	"github.com/wharfd/wharfd/pkg/metrics"
)

// ServerStats is the slice of the FTP acceptor the status endpoint reads.
type ServerStats interface {
	ActiveConnections() int32
}

// StatusHandler serves the performance-ledger snapshot.
type StatusHandler struct {
	counters *metrics.PerformanceCounters
	server   ServerStats
	version  string
}

// NewStatusHandler creates a status handler. server may be nil in tests.
func NewStatusHandler(counters *metrics.PerformanceCounters, server ServerStats, version string) *StatusHandler {
	return &StatusHandler{counters: counters, server: server, version: version}
}

// statusPayload is the GET /api/v1/status response body.
type statusPayload struct {
	Version  string                   `json:"version"`
	Counters metrics.CountersSnapshot `json:"counters"`
}

// Status handles GET /api/v1/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.counters.Snapshot()
	if h.server != nil {
		// The gauge in the ledger lags the acceptor by a metrics call;
		// prefer the live count.
		snap.ActiveConnections = h.server.ActiveConnections()
	}

	writeJSON(w, http.StatusOK, okResponse(statusPayload{
		Version:  h.version,
		Counters: snap,
	}))
}

// HealthHandler serves the unauthenticated liveness probe.
type HealthHandler struct {
	version string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "wharfd",
		"version": h.version,
	}))
}
