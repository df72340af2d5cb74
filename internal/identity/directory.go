// Package identity is the user directory: account registration and user
// lookup by email or id.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/johndosdos/courier/internal/model"
)

var (
	ErrUserNotFound = errors.New("identity: user not found")
	ErrEmailTaken   = errors.New("identity: email already registered")
)

const userColumns = `id, email, first_name, last_name, full_name, created_at`

// NewUser holds what signup collects. HashedPassword is an argon2id hash.
type NewUser struct {
	Email          string
	FirstName      string
	LastName       string
	HashedPassword string
}

// Directory reads and writes user accounts.
type Directory struct {
	db  *sqlx.DB
	log *slog.Logger
}

func NewDirectory(db *sqlx.DB, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Directory{db: db, log: logger.With("component", "identity")}
}

// Register creates the user and password rows in one transaction.
func (d *Directory) Register(ctx context.Context, nu NewUser) (model.User, error) {
	email := strings.TrimSpace(nu.Email)

	u := model.User{
		ID:        uuid.New(),
		Email:     email,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if first := strings.TrimSpace(nu.FirstName); first != "" {
		u.FirstName = &first
	}
	if last := strings.TrimSpace(nu.LastName); last != "" {
		u.LastName = &last
	}
	if full := strings.TrimSpace(nu.FirstName + " " + nu.LastName); full != "" {
		u.FullName = &full
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM users WHERE email = ?`), email); err != nil {
		return model.User{}, fmt.Errorf("failed to check email: %w", err)
	}
	if n > 0 {
		return model.User{}, ErrEmailTaken
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO users (id, email, first_name, last_name, full_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		u.ID, u.Email, u.FirstName, u.LastName, u.FullName, u.CreatedAt)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to create user entry in database: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO passwords (user_id, hashed_password, created_at) VALUES (?, ?, ?)`),
		u.ID, nu.HashedPassword, u.CreatedAt)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to create password entry in database: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.User{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	d.log.InfoContext(ctx, "user signed up", "user_id", u.ID)
	return u, nil
}

// FindUserByName looks a user up by login name, which is the email.
func (d *Directory) FindUserByName(ctx context.Context, name string) (*model.User, error) {
	return d.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.TrimSpace(name))
}

func (d *Directory) FindUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return d.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (d *Directory) findOne(ctx context.Context, query string, arg any) (*model.User, error) {
	var u model.User
	err := d.db.GetContext(ctx, &u, d.db.Rebind(query), arg)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to retrieve user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// ListEmails returns every registered email in byte order.
func (d *Directory) ListEmails(ctx context.Context) ([]string, error) {
	emails := []string{}
	if err := d.db.SelectContext(ctx, &emails, `SELECT email FROM users`); err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	slices.Sort(emails)
	return emails, nil
}

// SearchEmails returns the emails starting with prefix, case-sensitively.
// An empty prefix matches everything.
func (d *Directory) SearchEmails(ctx context.Context, prefix string) ([]string, error) {
	if prefix == "" {
		return d.ListEmails(ctx)
	}

	// substr keeps the match case-sensitive on both dialects, where LIKE
	// would not on SQLite.
	emails := []string{}
	err := d.db.SelectContext(ctx, &emails, d.db.Rebind(`
		SELECT email FROM users
		WHERE substr(email, 1, ?) = ?`), len([]rune(prefix)), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	// Byte order; database collations disagree on case.
	slices.Sort(emails)
	return emails, nil
}

// PasswordHash returns the stored hash and user for email.
func (d *Directory) PasswordHash(ctx context.Context, email string) (model.User, string, error) {
	var row struct {
		model.User
		HashedPassword string `db:"hashed_password"`
	}
	err := d.db.GetContext(ctx, &row, d.db.Rebind(`
		SELECT u.id, u.email, u.first_name, u.last_name, u.full_name, u.created_at, p.hashed_password
		FROM users u
		JOIN passwords p ON p.user_id = u.id
		WHERE u.email = ?`), strings.TrimSpace(email))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.User{}, "", ErrUserNotFound
	case err != nil:
		return model.User{}, "", fmt.Errorf("failed to retrieve password: %w", err)
	}
	return row.User, row.HashedPassword, nil
}

// DeleteUser removes the account. Messages the user sent survive with a
// dangling sender id.
func (d *Directory) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := d.db.ExecContext(ctx, d.db.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}

	d.log.InfoContext(ctx, "user deleted", "user_id", id)
	return nil
}
