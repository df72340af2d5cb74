package handler

import (
	"net/http"

	"github.com/johndosdos/courier/internal/auth"
)

// RefreshToken handles issuance of a new JWT from the refresh token.
func RefreshToken(a *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.RefreshSession(w, r); err != nil {
			writeErr(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
