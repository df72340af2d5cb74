package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/johndosdos/courier/internal/model"
)

const (
	joinedMessageColumns = `m.id, m.title, m.text, m.created_at, m.sender_id, m.version`
	userColumns          = `id, email, first_name, last_name, full_name, created_at`
)

// AddRecipient links user to m as a recipient. Both must already exist.
func (s *Store) AddRecipient(ctx context.Context, user *model.User, m *model.Message) error {
	return s.AddRecipients(ctx, user, []*model.Message{m})
}

// AddRecipients links user to every message in messages. Either all links
// are written or none are.
func (s *Store) AddRecipients(ctx context.Context, user *model.User, messages []*model.Message) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if user == nil {
		return invalid("user")
	}
	for _, m := range messages {
		if m == nil {
			return invalid("message")
		}
	}
	if len(messages) == 0 {
		return nil
	}

	query := s.rebind(`INSERT INTO message_recipients (message_id, user_id) VALUES (?, ?)`)

	err := s.withTx(ctx, func(q sqlx.ExtContext) error {
		for _, m := range messages {
			if _, err := q.ExecContext(ctx, query, m.ID, user.ID); err != nil {
				return fmt.Errorf("failed to link message %s to user %s: %w", m.ID, user.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "error adding recipients", "user_id", user.ID, "error", err)
		return err
	}
	return nil
}

// GetInboxForUser returns every message user received, newest first. It
// returns ErrNotFound when the user does not exist, and an empty slice when
// the user has no messages.
func (s *Store) GetInboxForUser(ctx context.Context, user *model.User) ([]model.Message, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if user == nil {
		return nil, invalid("user")
	}

	if err := s.userExists(ctx, user); err != nil {
		return nil, err
	}

	inbox := []model.Message{}
	err := sqlx.SelectContext(ctx, s.q, &inbox, s.rebind(`
		SELECT `+joinedMessageColumns+`
		FROM messages m
		JOIN message_recipients r ON r.message_id = m.id
		WHERE r.user_id = ?
		ORDER BY m.created_at DESC, m.seq DESC`), user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inbox for user %s: %w", user.ID, err)
	}

	for i := range inbox {
		inbox[i].CreatedAt = inbox[i].CreatedAt.UTC()
	}
	return inbox, nil
}

// GetRecipientsOfMessage returns the users m was sent to. It returns
// ErrNotFound when the message does not exist.
func (s *Store) GetRecipientsOfMessage(ctx context.Context, m *model.Message) ([]model.User, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, invalid("message")
	}

	var n int
	if err := sqlx.GetContext(ctx, s.q, &n,
		s.rebind(`SELECT COUNT(*) FROM messages WHERE id = ?`), m.ID); err != nil {
		return nil, fmt.Errorf("failed to look up message %s: %w", m.ID, err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	recipients := []model.User{}
	err := sqlx.SelectContext(ctx, s.q, &recipients, s.rebind(`
		SELECT u.id, u.email, u.first_name, u.last_name, u.full_name, u.created_at
		FROM users u
		JOIN message_recipients r ON r.user_id = u.id
		WHERE r.message_id = ?
		ORDER BY u.email`), m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients of message %s: %w", m.ID, err)
	}
	return recipients, nil
}

// GetSender resolves the sender of m. A message without a sender, or whose
// sender account was deleted, yields a nil user and no error.
func (s *Store) GetSender(ctx context.Context, m *model.Message) (*model.User, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, invalid("message")
	}
	if !m.SenderID.Valid {
		return nil, nil
	}

	var u model.User
	err := sqlx.GetContext(ctx, s.q, &u,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), m.SenderID.UUID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to resolve sender of message %s: %w", m.ID, err)
	}
	return &u, nil
}

// GetMessagesSentByUser returns the messages user composed, newest first.
// The result is never nil.
func (s *Store) GetMessagesSentByUser(ctx context.Context, user *model.User) ([]model.Message, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if user == nil {
		return nil, invalid("user")
	}

	sent := []model.Message{}
	err := sqlx.SelectContext(ctx, s.q, &sent, s.rebind(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE sender_id = ?
		ORDER BY created_at DESC, seq DESC`), user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages sent by user %s: %w", user.ID, err)
	}

	for i := range sent {
		sent[i].CreatedAt = sent[i].CreatedAt.UTC()
	}
	return sent, nil
}

func (s *Store) userExists(ctx context.Context, user *model.User) error {
	var n int
	if err := sqlx.GetContext(ctx, s.q, &n,
		s.rebind(`SELECT COUNT(*) FROM users WHERE id = ?`), user.ID); err != nil {
		return fmt.Errorf("failed to look up user %s: %w", user.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
