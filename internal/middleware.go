// Package internal holds the request middleware shared by every
// authenticated route.
package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/johndosdos/courier/internal/auth"
)

// Middleware validates the client's JWT, falling back to the refresh token.
// Requests without a session get a JSON 401.
func Middleware(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := a.Authenticate(w, r)
			if err != nil {
				if !errors.Is(err, auth.ErrNoSession) {
					slog.ErrorContext(r.Context(), "session lookup failed", "error", err)
				}
				unauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	err := json.NewEncoder(w).Encode(map[string]string{
		"error": "Not signed in.",
		"code":  "unauthorized",
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to write response", "error", err)
	}
}
