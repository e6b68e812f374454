package handlers

import (
	"net/http"

	"github.com/wharfd/wharfd/internal/logger"
)

// ShutdownHandler triggers a graceful server shutdown.
type ShutdownHandler struct {
	shutdown func()
}

// NewShutdownHandler creates a shutdown handler. The callback is invoked
// asynchronously so the HTTP response can be written first.
func NewShutdownHandler(shutdown func()) *ShutdownHandler {
	return &ShutdownHandler{shutdown: shutdown}
}

// Shutdown handles POST /api/v1/shutdown.
func (h *ShutdownHandler) Shutdown(w http.ResponseWriter, r *http.Request) {
	if h.shutdown == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("Shutdown not available"))
		return
	}

	logger.Info("Shutdown requested via admin API")
	writeJSON(w, http.StatusAccepted, okResponse(map[string]string{"shutdown": "initiated"}))

	go h.shutdown()
}
