package handler

import (
	"net/http"

	"github.com/johndosdos/courier/internal/auth"
)

// ServeRoot sends signed-in users to their inbox. Everyone else gets a 401.
func ServeRoot(a *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.Authenticate(w, r); err != nil {
			writeErr(w, r, err)
			return
		}

		http.Redirect(w, r, "/messages", http.StatusSeeOther)
	}
}
