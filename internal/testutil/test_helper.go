// Package testutil provides a migrated database for tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/courier/internal/database"
	"github.com/johndosdos/courier/internal/model"
)

func ProjectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "../../")
	return root
}

// Logger discards output so test runs stay quiet.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// DbInit returns a freshly migrated database. Tests run against a SQLite
// file in t.TempDir() unless TEST_DB_URL names a Postgres database, in which
// case the schema is reset before and after the test.
func DbInit(t testing.TB) *database.DB {
	t.Helper()

	_ = godotenv.Load(filepath.Join(ProjectRoot(), ".env"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	testURL := os.Getenv("TEST_DB_URL")

	var (
		db  *database.DB
		err error
	)
	if testURL != "" {
		db, err = database.Open(ctx, database.DriverPostgres, testURL)
		require.NoError(t, err)
		require.NoError(t, db.Reset(ctx))
	} else {
		db, err = database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "courier.db"))
		require.NoError(t, err)
	}

	require.NoError(t, db.Migrate(ctx, Logger()))

	t.Cleanup(func() {
		if testURL != "" {
			resetCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := db.Reset(resetCtx); err != nil {
				t.Logf("db.Reset() error = %+v", err)
			}
		}
		if err := db.Close(); err != nil {
			t.Logf("db.Close() error = %+v", err)
		}
	})

	return db
}

// InsertUser writes a user row directly, bypassing the identity directory.
func InsertUser(t testing.TB, db *database.DB, email, fullName string) model.User {
	t.Helper()

	u := model.User{
		ID:        uuid.New(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if fullName != "" {
		u.FullName = &fullName
	}

	_, err := db.ExecContext(context.Background(),
		db.Rebind(`INSERT INTO users (id, email, full_name, created_at) VALUES (?, ?, ?, ?)`),
		u.ID, u.Email, u.FullName, u.CreatedAt)
	require.NoError(t, err)

	return u
}
