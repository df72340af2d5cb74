package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/johndosdos/courier/internal"
	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/identity"
	"github.com/johndosdos/courier/internal/messaging"
	"github.com/johndosdos/courier/internal/ratelimiter"
	ws "github.com/johndosdos/courier/internal/websocket"
)

// Deps are the components the router serves.
type Deps struct {
	Directory *identity.Directory
	Auth      *auth.Authenticator
	Messaging *messaging.Service
	Hub       *ws.Hub
	Sessions  SessionOptions

	// AccountLimiter guards the /account routes, ComposeLimiter guards
	// POST /messages. Either may be nil.
	AccountLimiter *ratelimiter.Limiter
	ComposeLimiter *ratelimiter.Limiter
}

// NewRouter wires every route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", ServeRoot(d.Auth))

	r.Route("/account", func(r chi.Router) {
		r.Use(throttle(d.AccountLimiter))
		r.Post("/signup", SubmitSignupForm(d.Directory))
		r.Post("/login", SubmitLoginForm(d.Directory, d.Auth))
		r.Post("/logout", SubmitLogoutReq(d.Auth))
		r.Post("/refresh", RefreshToken(d.Auth))
	})

	r.Group(func(r chi.Router) {
		r.Use(internal.Middleware(d.Auth))

		r.Get("/messages", ServeInbox(d.Messaging, d.Directory))
		r.With(throttle(d.ComposeLimiter)).Post("/messages", SubmitMessage(d.Messaging, d.Directory))
		r.Get("/messages/sent", ServeSent(d.Messaging, d.Directory))
		r.Get("/messages/{messageID}", ServeMessage(d.Messaging, d.Directory))
		r.Get("/compose", ServeComposeDraft(d.Messaging))
		r.Get("/users/autocomplete", ServeAutocomplete(d.Messaging))
		r.Get("/ws", ServeWs(d.Hub, d.Sessions))
		r.Get("/events", StreamSSE(d.Hub, d.Sessions))
	})

	return r
}

func throttle(l *ratelimiter.Limiter) func(http.Handler) http.Handler {
	if l == nil {
		return func(h http.Handler) http.Handler { return h }
	}
	return l.Middleware
}
