// Package main our entry point.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/nats-io/nats.go"

	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/broker"
	"github.com/johndosdos/courier/internal/broker/worker"
	"github.com/johndosdos/courier/internal/config"
	"github.com/johndosdos/courier/internal/database"
	"github.com/johndosdos/courier/internal/handler"
	"github.com/johndosdos/courier/internal/identity"
	"github.com/johndosdos/courier/internal/messaging"
	"github.com/johndosdos/courier/internal/ratelimiter"
	"github.com/johndosdos/courier/internal/store"
	ws "github.com/johndosdos/courier/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := config.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting application...")

	// Init DB
	log.Info("Initializing database connection...", "driver", cfg.DBDriver)
	db, err := database.Open(ctx, cfg.DBDriver, cfg.DBURL)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	if err := db.Migrate(ctx, log); err != nil {
		return err
	}

	dir := identity.NewDirectory(db.DB, log)
	stores := store.NewProvider(db.DB, log)

	tokens := auth.NewRefreshStore(db.DB)
	authenticator := auth.NewAuthenticator(tokens, auth.Options{
		Secret:        cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		SecureCookies: cfg.SecureCookies,
	}, log)

	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(log.With("component", "scheduler")),
	)
	if err != nil {
		return err
	}
	if _, err := auth.ScheduleTokenPurge(scheduler, tokens, cfg.TokenPurgeInterval, log); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			log.Warn("failed to shutdown scheduler", "error", err)
		}
	}()

	// hub.Run is our central hub that is always listening for session events.
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	var notifier messaging.Notifier = hub

	// Init NATS
	if cfg.NATSEnabled() {
		log.Info("Initializing NATS connection...")

		conn, err := connectNATS(cfg)
		if err != nil {
			return err
		}
		defer func() {
			// Drain NATS connection.
			if err := conn.Drain(); err != nil {
				log.Warn("couldn't drain NATS conn", "error", err)
			}
		}()

		if _, err := broker.Subscribe(ctx, conn, worker.HubDelivery(hub, log), log); err != nil {
			return err
		}
		notifier = broker.NewPublisher(conn, log)
	}

	svc := messaging.NewService(stores, dir, notifier, messaging.Config{
		MaxTextLength: cfg.MessageTextMaxLength,
		PushTimeout:   cfg.PushTimeout,
	}, log)

	accountLimiter := ratelimiter.New("account", ratelimiter.Config{
		Requests: cfg.RateLimitRequests,
		Window:   cfg.RateLimitWindow,
	}, ratelimiter.ByIP, log)
	composeLimiter := ratelimiter.New("compose", ratelimiter.Config{
		Requests: cfg.ComposeLimitRequests,
		Window:   cfg.ComposeLimitWindow,
	}, ratelimiter.ByUser, log)
	for _, l := range []*ratelimiter.Limiter{accountLimiter, composeLimiter} {
		if _, err := l.Schedule(scheduler, time.Minute); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr: "0.0.0.0:" + cfg.Port,
		Handler: handler.NewRouter(handler.Deps{
			Directory:      dir,
			Auth:           authenticator,
			Messaging:      svc,
			Hub:            hub,
			AccountLimiter: accountLimiter,
			ComposeLimiter: composeLimiter,
			Sessions: handler.SessionOptions{
				OriginPatterns: cfg.WSOriginPatterns,
				Buffer:         cfg.SessionBuffer,
			},
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       30 * time.Second,
		// No WriteTimeout: websocket and SSE sessions are long-lived.
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutdown signal received; shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", "error", err)
	}

	log.Info("Server stopped")
	return nil
}

func connectNATS(cfg config.Config) (*nats.Conn, error) {
	var opts []nats.Option

	if cfg.NATSCred != "" {
		opts = append(opts, nats.UserCredentials(cfg.NATSCred))
	} else if cfg.NATSUser != "" && cfg.NATSPassword != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}

	opts = append(opts,
		nats.Name("courier"),
		nats.Timeout(5*time.Second),
	)

	return nats.Connect(cfg.NATSURL, opts...)
}
