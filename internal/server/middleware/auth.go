package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/exafs/flowadmin/internal/model"
	"github.com/exafs/flowadmin/internal/service"
)

type contextKeyAuth string

// IdentityKey is the context key for the authenticated identity.
const IdentityKey contextKeyAuth = "auth_identity"

// Authenticate returns an HTTP middleware that validates the request's
// credentials. It supports two methods:
//
//  1. Machine API key via the x-api-key header (service consumers)
//  2. User session JWT via the x-access-token header
//
// On success, a model.Identity is attached to the request context. Every
// failure produces the same generic 401 body; the specific verification
// error (missing, expired, invalid) is only recorded in the log.
func Authenticate(authSvc *service.AuthService, tokenHeader, keyHeader string, logger *slog.Logger) func(http.Handler) http.Handler {
	if tokenHeader == "" {
		tokenHeader = "x-access-token"
	}
	if keyHeader == "" {
		keyHeader = "x-api-key"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				identity *model.Identity
				err      error
			)

			if apiKey := r.Header.Get(keyHeader); apiKey != "" {
				identity, err = authSvc.VerifyAPIKey(r.Context(), apiKey)
			} else if token := r.Header.Get(tokenHeader); token != "" {
				identity, err = authSvc.VerifyToken(token)
			} else {
				err = service.ErrMissingToken
			}

			if err != nil {
				logger.Warn("authentication failed",
					"reason", err,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)
				writeAuthError(w, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity extracts the authenticated identity from the context.
// Returns nil if no identity is present (i.e., unauthenticated request).
func GetIdentity(ctx context.Context) *model.Identity {
	if id, ok := ctx.Value(IdentityKey).(*model.Identity); ok {
		return id
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Same body for every denial; the status code alone says 401 vs 403.
	w.Write([]byte(`{"error":{"code":` + httpStatusString(status) + `,"message":"access denied"}}`))
}

func httpStatusString(code int) string {
	switch code {
	case 401:
		return "401"
	case 403:
		return "403"
	default:
		return "500"
	}
}
