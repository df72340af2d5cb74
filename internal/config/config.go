// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the configuration variables.
type Config struct {
	Port string `envconfig:"PORT" default:"8080" validate:"required,numeric"`

	DBDriver string `envconfig:"DB_DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`
	DBURL    string `envconfig:"DB_URL" required:"true" validate:"required"`

	NATSURL      string `envconfig:"NATS_URL"`
	NATSCred     string `envconfig:"NATS_CRED"`
	NATSUser     string `envconfig:"NATS_USER"`
	NATSPassword string `envconfig:"NATS_PASSWORD"`

	JWTSecret          string        `envconfig:"JWT_SECRET" required:"true" validate:"required,min=16"`
	JWTIssuer          string        `envconfig:"JWT_ISS" default:"courier"`
	AccessTokenTTL     time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"5m" validate:"gt=0"`
	RefreshTokenTTL    time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"168h" validate:"gtfield=AccessTokenTTL"`
	TokenPurgeInterval time.Duration `envconfig:"TOKEN_PURGE_INTERVAL" default:"1h" validate:"gt=0"`
	SecureCookies      bool          `envconfig:"SECURE_COOKIES" default:"true"`

	// The title column is fixed at 100 characters; the body limit is policy.
	MessageTextMaxLength int           `envconfig:"MESSAGE_TEXT_MAX_LENGTH" default:"4000" validate:"min=1"`
	PushTimeout          time.Duration `envconfig:"PUSH_TIMEOUT" default:"5s" validate:"gt=0"`
	SessionBuffer        int           `envconfig:"SESSION_BUFFER" default:"64" validate:"min=1"`

	// Account endpoints are limited per client IP, compose per signed-in user.
	RateLimitRequests    int           `envconfig:"RATE_LIMIT_REQUESTS" default:"30" validate:"min=1"`
	RateLimitWindow      time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m" validate:"gt=0"`
	ComposeLimitRequests int           `envconfig:"COMPOSE_LIMIT_REQUESTS" default:"20" validate:"min=1"`
	ComposeLimitWindow   time.Duration `envconfig:"COMPOSE_LIMIT_WINDOW" default:"1m" validate:"gt=0"`

	WSOriginPatterns []string `envconfig:"WS_ORIGIN_PATTERNS"`
	LogLevel         string   `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

var validate = validator.New()

// Load reads an optional .env file, then decodes and validates the
// environment.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode environment: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: invalid: %w", err)
	}

	return cfg, nil
}

// NATSEnabled reports whether notifications are relayed through NATS.
func (c Config) NATSEnabled() bool {
	return c.NATSURL != ""
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: true,
	}))
}
