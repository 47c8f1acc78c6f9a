package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/exafs/flowadmin/internal/config"
	mw "github.com/exafs/flowadmin/internal/server/middleware"
	"github.com/exafs/flowadmin/internal/service"
)

// TokenHandler covers session issuance and the token echo endpoint.
type TokenHandler struct {
	store    *config.Store
	authSvc  *service.AuthService
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewTokenHandler creates a TokenHandler issuing tokens with the given TTL.
func NewTokenHandler(store *config.Store, authSvc *service.AuthService, tokenTTL time.Duration, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		store:    store,
		authSvc:  authSvc,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// TestToken echoes the caller's resolved identity and permission level,
// so integrations can verify their credentials.
// GET /api/v3/test_token
func (h *TokenHandler) TestToken(w http.ResponseWriter, r *http.Request) {
	identity := mw.GetIdentity(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject":    identity.Subject,
		"kind":       identity.Kind,
		"org_id":     identity.OrgID,
		"permission": identity.EffectivePermission().String(),
		"read_only":  identity.ReadOnly,
	})
}

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse is the response payload for a successful token issuance.
type tokenResponse struct {
	Token     string `json:"access_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

// Login authenticates a local user account and returns a session JWT.
// POST /api/v3/auth/session
func (h *TokenHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeDenied(w, http.StatusUnauthorized)
			return
		}
		writeError(w, http.StatusInternalServerError, "Authentication error: "+err.Error())
		return
	}

	if !user.IsActive || config.HashSecret(req.Password) != user.PasswordHash {
		writeDenied(w, http.StatusUnauthorized)
		return
	}

	token, err := h.authSvc.IssueToken(user, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token: "+err.Error())
		return
	}

	_ = h.store.UpdateUserLastLogin(r.Context(), user.ID)

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.tokenTTL.Seconds()),
	})
}

// Exchange trades an already-verified machine key for a short-lived session
// JWT, so scripted clients can switch to token auth after one key use.
// GET /api/v3/auth
func (h *TokenHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	identity := mw.GetIdentity(r.Context())
	if identity.Kind != "machine" {
		writeError(w, http.StatusBadRequest, "Token exchange requires a machine key")
		return
	}

	token, err := h.authSvc.IssueTokenForKey(identity, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.tokenTTL.Seconds()),
	})
}
