// Package store persists messages and the user-message recipient
// association.
//
// A Provider is shared by the whole process. Each request acquires its own
// Store from it and releases the Store when done; a released Store rejects
// every call with ErrDisposed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/johndosdos/courier/internal/model"
)

// MessageStore is single-entity CRUD and field access for messages.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	Update(ctx context.Context, m *model.Message) error
	Delete(ctx context.Context, m *model.Message) error

	MessageID(ctx context.Context, m *model.Message) (uuid.UUID, error)
	MessageTitle(ctx context.Context, m *model.Message) (*string, error)
	SetMessageTitle(ctx context.Context, m *model.Message, title *string) error
	MessageText(ctx context.Context, m *model.Message) (*string, error)
	SetMessageText(ctx context.Context, m *model.Message, text *string) error
	MessageCreateDate(ctx context.Context, m *model.Message) (time.Time, error)
	SetMessageCreateDate(ctx context.Context, m *model.Message, createDate time.Time) error
	MessageSenderID(ctx context.Context, m *model.Message) (uuid.NullUUID, error)
	SetSender(ctx context.Context, m *model.Message, userID uuid.UUID) error

	FindByID(ctx context.Context, id uuid.UUID) (*model.Message, error)
	FindByTitle(ctx context.Context, title string) (*model.Message, error)
}

// UserMessageStore manages who receives which message and derives the
// per-user views.
type UserMessageStore interface {
	AddRecipient(ctx context.Context, user *model.User, m *model.Message) error
	AddRecipients(ctx context.Context, user *model.User, messages []*model.Message) error
	GetInboxForUser(ctx context.Context, user *model.User) ([]model.Message, error)
	GetRecipientsOfMessage(ctx context.Context, m *model.Message) ([]model.User, error)
	SetSender(ctx context.Context, m *model.Message, userID uuid.UUID) error
	GetSender(ctx context.Context, m *model.Message) (*model.User, error)
	GetMessagesSentByUser(ctx context.Context, user *model.User) ([]model.Message, error)
}

var (
	_ MessageStore     = (*Store)(nil)
	_ UserMessageStore = (*Store)(nil)
)

// Provider hands out request-scoped stores over a shared connection pool.
type Provider struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewProvider creates a Provider backed by db.
func NewProvider(db *sqlx.DB, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Provider{
		db:  db,
		log: logger.With("component", "store"),
	}
}

// Acquire starts a store scope. The caller must Release it.
func (p *Provider) Acquire() *Store {
	return &Store{db: p.db, q: p.db, log: p.log}
}

// Do runs fn with a store that is released when fn returns.
func (p *Provider) Do(ctx context.Context, fn func(s *Store) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	s := p.Acquire()
	defer s.Release()

	return fn(s)
}

// InTx runs fn with a store bound to a single transaction. The transaction
// commits when fn returns nil and rolls back otherwise, including when ctx
// is cancelled before commit.
func (p *Provider) InTx(ctx context.Context, fn func(s *Store) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	s := &Store{q: tx, tx: tx, log: p.log}
	defer s.Release()

	if err := fn(s); err != nil {
		rollback(ctx, p.log, tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, log *slog.Logger, tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.WarnContext(ctx, "error rolling back transaction", "error", err)
	}
}

// Store is a request-scoped handle. It is not safe for use after Release.
type Store struct {
	db  *sqlx.DB // nil when bound to a transaction
	q   sqlx.ExtContext
	tx  *sqlx.Tx
	log *slog.Logger

	released atomic.Bool
}

// Release ends the store's lifetime. It is idempotent.
func (s *Store) Release() {
	s.released.Store(true)
}

// check runs before every operation, ahead of any side effect.
func (s *Store) check(ctx context.Context) error {
	if s.released.Load() {
		return ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// withTx runs fn inside the store's transaction, or a new one when the store
// is not transaction-bound.
func (s *Store) withTx(ctx context.Context, fn func(q sqlx.ExtContext) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		rollback(ctx, s.log, tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) rebind(query string) string {
	return s.q.Rebind(query)
}

func invalid(what string) error {
	return fmt.Errorf("%w: %s is nil", ErrInvalidArgument, what)
}
