// Package handler binds the messaging, identity and notifier components to
// HTTP. Handlers speak JSON and accept either JSON or form bodies.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/identity"
	"github.com/johndosdos/courier/internal/messaging"
	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// UserLookup resolves the signed-in user.
type UserLookup interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.WarnContext(r.Context(), "failed to write response", "error", err)
	}
}

// writeErr maps domain errors onto status codes. Unknown errors are logged
// and reported as 500 without detail.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, body := http.StatusInternalServerError, errorBody{Error: "Server error.", Code: "internal"}

	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, messaging.ErrValidation):
		status, body = http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation"}
	case errors.As(err, &verrs), errors.Is(err, store.ErrInvalidArgument):
		status, body = http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation"}
	case errors.Is(err, messaging.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		status, body = http.StatusNotFound, errorBody{Error: "Not found.", Code: "not_found"}
	case errors.Is(err, store.ErrConcurrencyFailure):
		status, body = http.StatusConflict, errorBody{Error: "The record changed; please retry.", Code: "conflict"}
	case errors.Is(err, identity.ErrEmailTaken):
		status, body = http.StatusConflict, errorBody{Error: "Email is already registered.", Code: "email_taken"}
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, auth.ErrNoUserInContext):
		status, body = http.StatusUnauthorized, errorBody{Error: "Not signed in.", Code: "unauthorized"}
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path)
	}

	writeJSON(w, r, status, body)
}

// readFields returns the request's fields from a JSON object or a form.
func readFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		fields := map[string]string{}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&fields); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON body", messaging.ErrValidation)
		}
		return fields, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: invalid form data", messaging.ErrValidation)
	}
	fields := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		fields[k] = r.PostForm.Get(k)
	}
	return fields, nil
}

// currentUser loads the user the auth middleware put in the context.
func currentUser(r *http.Request, users UserLookup) (*model.User, error) {
	userID, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		return nil, err
	}

	u, err := users.FindUserByID(r.Context(), userID)
	if errors.Is(err, identity.ErrUserNotFound) {
		// Account deleted while the session was live.
		return nil, auth.ErrNoSession
	}
	return u, err
}
