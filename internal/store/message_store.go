package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/johndosdos/courier/internal/model"
)

// MaxTitleLength is the width of the title column.
const MaxTitleLength = 100

const messageColumns = `id, title, text, created_at, sender_id, version`

// Create inserts m. A zero id or creation date is filled in first.
func (s *Store) Create(ctx context.Context, m *model.Message) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if m == nil {
		return invalid("message")
	}
	if err := validateTitle(m.Title); err != nil {
		return err
	}

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	// Postgres keeps microseconds; normalize so reads compare equal.
	m.CreatedAt = m.CreatedAt.UTC().Truncate(time.Microsecond)

	query := s.rebind(`
		INSERT INTO messages (id, title, text, created_at, sender_id, version)
		VALUES (?, ?, ?, ?, ?, 1)`)

	if _, err := s.q.ExecContext(ctx, query, m.ID, m.Title, m.Text, m.CreatedAt, m.SenderID); err != nil {
		s.log.ErrorContext(ctx, "error creating message", "message_id", m.ID, "error", err)
		return fmt.Errorf("failed to create message %s: %w", m.ID, err)
	}
	m.Version = 1

	s.log.DebugContext(ctx, "message created", "message_id", m.ID)
	return nil
}

// Update writes the mutable fields of m. The id and creation date are never
// rewritten. It fails with ErrConcurrencyFailure when the stored version no
// longer matches m.Version.
func (s *Store) Update(ctx context.Context, m *model.Message) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if m == nil {
		return invalid("message")
	}
	if err := validateTitle(m.Title); err != nil {
		return err
	}

	query := s.rebind(`
		UPDATE messages
		SET title = ?, text = ?, sender_id = ?, version = version + 1
		WHERE id = ? AND version = ?`)

	res, err := s.q.ExecContext(ctx, query, m.Title, m.Text, m.SenderID, m.ID, m.Version)
	if err != nil {
		return fmt.Errorf("failed to update message %s: %w", m.ID, err)
	}
	if err := expectOneRow(res); err != nil {
		s.log.WarnContext(ctx, "concurrent update detected", "message_id", m.ID, "version", m.Version)
		return err
	}

	m.Version++
	return nil
}

// Delete removes m and, through the cascade, its recipient rows.
func (s *Store) Delete(ctx context.Context, m *model.Message) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if m == nil {
		return invalid("message")
	}

	res, err := s.q.ExecContext(ctx,
		s.rebind(`DELETE FROM messages WHERE id = ? AND version = ?`),
		m.ID, m.Version)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", m.ID, err)
	}
	if err := expectOneRow(res); err != nil {
		s.log.WarnContext(ctx, "concurrent delete detected", "message_id", m.ID, "version", m.Version)
		return err
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return ErrConcurrencyFailure
	}
	return nil
}

func validateTitle(title *string) error {
	if title != nil && utf8.RuneCountInString(*title) > MaxTitleLength {
		return fmt.Errorf("%w: title longer than %d characters", ErrInvalidArgument, MaxTitleLength)
	}
	return nil
}

// The accessors below read or write the in-memory entity only. Changes reach
// the database on the next Create or Update.

func (s *Store) MessageID(ctx context.Context, m *model.Message) (uuid.UUID, error) {
	if err := s.check(ctx); err != nil {
		return uuid.Nil, err
	}
	if m == nil {
		return uuid.Nil, invalid("message")
	}
	return m.ID, nil
}

func (s *Store) MessageTitle(ctx context.Context, m *model.Message) (*string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, invalid("message")
	}
	return m.Title, nil
}

func (s *Store) SetMessageTitle(ctx context.Context, m *model.Message, title *string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if m == nil {
		return invalid("message")
	}
	m.Title = title
	return nil
}

func (s *Store) MessageText(ctx context.Context, m *model.Message) (*string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, invalid("message")
	}
	return m.Text, nil
}

func (s *Store) SetMessageText(ctx context.Context, m *model.Message, text *string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if m == nil {
		return invalid("message")
	}
	m.Text = text
	return nil
}

func (s *Store) MessageCreateDate(ctx context.Context, m *model.Message) (time.Time, error) {
	if err := s.check(ctx); err != nil {
		return time.Time{}, err
	}
	if m == nil {
		return time.Time{}, invalid("message")
	}
	return m.CreatedAt, nil
}

// SetMessageCreateDate only matters before Create; Update ignores it.
func (s *Store) SetMessageCreateDate(ctx context.Context, m *model.Message, createDate time.Time) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if m == nil {
		return invalid("message")
	}
	m.CreatedAt = createDate
	return nil
}

func (s *Store) MessageSenderID(ctx context.Context, m *model.Message) (uuid.NullUUID, error) {
	if err := s.check(ctx); err != nil {
		return uuid.NullUUID{}, err
	}
	if m == nil {
		return uuid.NullUUID{}, invalid("message")
	}
	return m.SenderID, nil
}

// SetSender records the composing user. It must happen before Create so the
// message is never visible without its sender.
func (s *Store) SetSender(ctx context.Context, m *model.Message, userID uuid.UUID) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if m == nil {
		return invalid("message")
	}
	m.SenderID = uuid.NullUUID{UUID: userID, Valid: true}
	return nil
}

// FindByID returns the message with the given id or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	return s.findOne(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
}

// FindByTitle returns the earliest inserted message with the given title or
// ErrNotFound. Titles are not unique.
func (s *Store) FindByTitle(ctx context.Context, title string) (*model.Message, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	return s.findOne(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE title = ? ORDER BY seq LIMIT 1`, title)
}

func (s *Store) findOne(ctx context.Context, query string, arg any) (*model.Message, error) {
	var m model.Message
	err := sqlx.GetContext(ctx, s.q, &m, s.rebind(query), arg)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to find message: %w", err)
	}

	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}
