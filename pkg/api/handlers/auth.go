package handlers

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/api/auth"
)

// AuthHandler issues and refreshes admin API tokens against the single
// configured administrator account.
type AuthHandler struct {
	jwtService    *auth.JWTService
	adminUsername string
	adminHash     string
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(jwtService *auth.JWTService, adminUsername, adminPasswordHash string) *AuthHandler {
	return &AuthHandler{
		jwtService:    jwtService,
		adminUsername: adminUsername,
		adminHash:     adminPasswordHash,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.adminUsername)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(h.adminHash), []byte(req.Password)) == nil
	if !userOK || !passOK {
		logger.Warn("Admin API login failed", logger.KeyUser, req.Username)
		writeJSON(w, http.StatusUnauthorized, errorResponse("Invalid credentials"))
		return
	}

	pair, err := h.jwtService.GenerateTokenPair(req.Username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("Failed to generate tokens"))
		return
	}

	logger.Info("Admin API login", logger.KeyUser, req.Username)
	writeJSON(w, http.StatusOK, okResponse(pair))
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse("Invalid or expired refresh token"))
		return
	}

	pair, err := h.jwtService.GenerateTokenPair(claims.Username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("Failed to generate tokens"))
		return
	}

	writeJSON(w, http.StatusOK, okResponse(pair))
}
