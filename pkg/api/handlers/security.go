package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/security"
)

// SecurityHandler exposes the security ledger: per-address records and
// administrative unbanning.
type SecurityHandler struct {
	ledger *security.Ledger
}

// NewSecurityHandler creates a security handler.
func NewSecurityHandler(ledger *security.Ledger) *SecurityHandler {
	return &SecurityHandler{ledger: ledger}
}

// List handles GET /api/v1/security.
func (h *SecurityHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse(map[string]interface{}{
		"records": h.ledger.Snapshot(),
	}))
}

// Unban handles DELETE /api/v1/security/bans/{addr}. Lifting a ban that
// does not exist is a 404 so operators notice typos.
func (h *SecurityHandler) Unban(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	if addr == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("Address required"))
		return
	}

	if !h.ledger.Unban(addr) {
		writeJSON(w, http.StatusNotFound, errorResponse("No active ban for address"))
		return
	}

	logger.Info("Ban lifted by administrator", logger.KeyClientIP, addr)
	writeJSON(w, http.StatusOK, okResponse(map[string]string{"unbanned": addr}))
}
