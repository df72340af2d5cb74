package config

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noEnvFile points godotenv at a file that does not exist so a developer's
// local .env never leaks into the tests.
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("DB_URL", "file:test.db")
		t.Setenv("JWT_SECRET", "0123456789abcdef")

		cfg, err := Load(noEnvFile(t))
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, "postgres", cfg.DBDriver)
		assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
		assert.Equal(t, 168*time.Hour, cfg.RefreshTokenTTL)
		assert.Equal(t, 4000, cfg.MessageTextMaxLength)
		assert.Equal(t, 20, cfg.ComposeLimitRequests)
		assert.Equal(t, time.Minute, cfg.ComposeLimitWindow)
		assert.True(t, cfg.SecureCookies)
		assert.False(t, cfg.NATSEnabled())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DB_URL", "file:test.db")
		t.Setenv("DB_DRIVER", "sqlite")
		t.Setenv("JWT_SECRET", "0123456789abcdef")
		t.Setenv("NATS_URL", "nats://localhost:4222")
		t.Setenv("MESSAGE_TEXT_MAX_LENGTH", "100")
		t.Setenv("WS_ORIGIN_PATTERNS", "example.com,*.example.com")

		cfg, err := Load(noEnvFile(t))
		require.NoError(t, err)

		assert.Equal(t, "sqlite", cfg.DBDriver)
		assert.Equal(t, 100, cfg.MessageTextMaxLength)
		assert.True(t, cfg.NATSEnabled())
		assert.Equal(t, []string{"example.com", "*.example.com"}, cfg.WSOriginPatterns)
	})

	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing DB_URL", map[string]string{"JWT_SECRET": "0123456789abcdef"}},
		{"short secret", map[string]string{"DB_URL": "x", "JWT_SECRET": "short"}},
		{"unknown driver", map[string]string{"DB_URL": "x", "JWT_SECRET": "0123456789abcdef", "DB_DRIVER": "mysql"}},
		{"refresh shorter than access", map[string]string{
			"DB_URL": "x", "JWT_SECRET": "0123456789abcdef",
			"ACCESS_TOKEN_TTL": "1h", "REFRESH_TOKEN_TTL": "30m",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_URL", "")
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(noEnvFile(t))
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn")

	log.Info("hidden")
	log.Warn("shown", slog.String("k", "v"))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
