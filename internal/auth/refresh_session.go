package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	AccessCookie  = "jwt"
	RefreshCookie = "refresh_token"
)

var ErrNoSession = errors.New("internal/auth: no valid session")

// Options configures token lifetimes and cookie attributes.
type Options struct {
	Secret        string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SecureCookies bool
}

// Authenticator binds users to browser sessions through two cookies: a
// short-lived JWT and a long-lived refresh token.
type Authenticator struct {
	tokens *RefreshStore
	opts   Options
	log    *slog.Logger
}

func NewAuthenticator(tokens *RefreshStore, opts Options, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Authenticator{
		tokens: tokens,
		opts:   opts,
		log:    logger.With("component", "auth"),
	}
}

// IssueSession sets fresh access and refresh cookies for userID.
func (a *Authenticator) IssueSession(ctx context.Context, w http.ResponseWriter, userID uuid.UUID) error {
	refreshToken, err := a.tokens.Make(ctx, userID, a.opts.RefreshTTL)
	if err != nil {
		return fmt.Errorf("internal/auth: failed to make refresh token: %w", err)
	}

	if err := a.setAccessCookie(w, userID); err != nil {
		return err
	}
	a.setCookie(w, RefreshCookie, refreshToken, int(a.opts.RefreshTTL.Seconds()))
	return nil
}

// Authenticate resolves the request's user. A valid JWT wins; otherwise a
// live refresh token mints a new JWT cookie.
func (a *Authenticator) Authenticate(w http.ResponseWriter, r *http.Request) (uuid.UUID, error) {
	if c, err := r.Cookie(AccessCookie); err == nil {
		if userID, err := ValidateJWT(c.Value, a.opts.Secret); err == nil {
			return userID, nil
		}
	}

	return a.RefreshSession(w, r)
}

// RefreshSession handles issuance of JWT from the refresh token cookie.
func (a *Authenticator) RefreshSession(w http.ResponseWriter, r *http.Request) (uuid.UUID, error) {
	c, err := r.Cookie(RefreshCookie)
	if err != nil {
		return uuid.UUID{}, ErrNoSession
	}

	userID, err := a.tokens.UserFromToken(r.Context(), c.Value)
	if errors.Is(err, ErrInvalidRefreshToken) {
		return uuid.UUID{}, ErrNoSession
	}
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("internal/auth: failed to retrieve user from refresh token: %w", err)
	}

	if err := a.setAccessCookie(w, userID); err != nil {
		return uuid.UUID{}, err
	}

	a.log.DebugContext(r.Context(), "access token refreshed", "user_id", userID)
	return userID, nil
}

// ClearSession revokes the refresh token, if any, and expires both cookies.
func (a *Authenticator) ClearSession(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(RefreshCookie); err == nil {
		if err := a.tokens.Revoke(r.Context(), c.Value); err != nil {
			a.log.WarnContext(r.Context(), "failed to process token deletion", "error", err)
		}
	}

	a.setCookie(w, AccessCookie, "", -1)
	a.setCookie(w, RefreshCookie, "", -1)
}

func (a *Authenticator) setAccessCookie(w http.ResponseWriter, userID uuid.UUID) error {
	token, err := MakeJWT(userID, a.opts.Secret, a.opts.Issuer, a.opts.AccessTTL)
	if err != nil {
		return fmt.Errorf("internal/auth: failed to make JWT: %w", err)
	}
	a.setCookie(w, AccessCookie, token, int(a.opts.AccessTTL.Seconds()))
	return nil
}

func (a *Authenticator) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   a.opts.SecureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
