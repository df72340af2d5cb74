package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/identity"
	"github.com/johndosdos/courier/internal/messaging"
	"github.com/johndosdos/courier/internal/model"
)

type signupRequest struct {
	Email           string `validate:"required,email,max=254"`
	Password        string `validate:"required,min=8,max=128"`
	ConfirmPassword string `validate:"eqfield=Password"`
	FirstName       string `validate:"max=100"`
	LastName        string `validate:"max=100"`
}

type accountResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func accountBody(u model.User) accountResponse {
	return accountResponse{ID: u.ID.String(), Email: u.Email, DisplayName: u.DisplayName()}
}

// SubmitSignupForm handles user account creation.
func SubmitSignupForm(dir *identity.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		fields, err := readFields(w, r)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		req := signupRequest{
			Email:           fields["email"],
			Password:        fields["password"],
			ConfirmPassword: fields["confirm_password"],
			FirstName:       fields["first_name"],
			LastName:        fields["last_name"],
		}
		if err := validate.Struct(req); err != nil {
			writeErr(w, r, fmt.Errorf("%w: %w", messaging.ErrValidation, err))
			return
		}

		hashedPw, err := auth.HashPassword(req.Password)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		user, err := dir.Register(ctx, identity.NewUser{
			Email:          req.Email,
			FirstName:      req.FirstName,
			LastName:       req.LastName,
			HashedPassword: hashedPw,
		})
		if err != nil {
			writeErr(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, accountBody(user))
	}
}

// SubmitLoginForm checks credentials and starts a session.
func SubmitLoginForm(dir *identity.Directory, a *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		fields, err := readFields(w, r)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		invalid := errorBody{Error: "Invalid email or password.", Code: "unauthorized"}

		user, hash, err := dir.PasswordHash(ctx, fields["email"])
		if errors.Is(err, identity.ErrUserNotFound) {
			writeJSON(w, r, http.StatusUnauthorized, invalid)
			return
		}
		if err != nil {
			writeErr(w, r, err)
			return
		}

		ok, err := auth.CheckPasswordHash(fields["password"], hash)
		if err != nil {
			slog.ErrorContext(ctx, "cannot verify password, hash may be corrupted", "error", err)
			writeErr(w, r, err)
			return
		}
		if !ok {
			writeJSON(w, r, http.StatusUnauthorized, invalid)
			return
		}

		if err := a.IssueSession(ctx, w, user.ID); err != nil {
			writeErr(w, r, err)
			return
		}

		slog.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID.String()))
		writeJSON(w, r, http.StatusOK, accountBody(user))
	}
}

// SubmitLogoutReq revokes the user's refresh token and clears the cookies.
func SubmitLogoutReq(a *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.ClearSession(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}
