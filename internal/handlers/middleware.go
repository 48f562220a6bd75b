package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/moorlabs/driftsync/internal/models"
)

// TokenVerifier resolves a bearer token into a Caller. Satisfied by
// services.AuthService; tests substitute a static verifier.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*models.Caller, error)
}

type contextKey string

const callerKey contextKey = "caller"

// CallerFrom returns the authenticated caller stored by Authenticate.
func CallerFrom(ctx context.Context) (models.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(models.Caller)
	return caller, ok
}

// Authenticate resolves the bearer token and pins the caller to the project
// in the URL. A token for another tenant gets PROJECT_NOT_FOUND, not a hint
// that the project exists.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, models.CodeUnauthorized, "missing bearer token")
				return
			}

			caller, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, models.CodeUnauthorized, "invalid token")
				return
			}

			if projectID := chi.URLParam(r, "projectID"); projectID != caller.TenantID {
				writeError(w, http.StatusNotFound, models.CodeProjectNotFound, "project not found")
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, *caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
