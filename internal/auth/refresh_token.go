package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrInvalidRefreshToken = errors.New("internal/auth: refresh token is invalid, expired or revoked")

// RefreshStore persists opaque refresh tokens.
type RefreshStore struct {
	db *sqlx.DB
}

func NewRefreshStore(db *sqlx.DB) *RefreshStore {
	return &RefreshStore{db: db}
}

// Make issues a new refresh token for userID.
func (s *RefreshStore) Make(ctx context.Context, userID uuid.UUID, expiresIn time.Duration) (string, error) {
	rnd := make([]byte, 32)

	// rand.Read() never returns an error.
	_, _ = rand.Read(rnd)
	token := hex.EncodeToString(rnd)

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO refresh_tokens (token, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)`),
		token, userID, now, now.Add(expiresIn))
	if err != nil {
		return "", fmt.Errorf("database error: %w", err)
	}

	return token, nil
}

// UserFromToken returns the owner of a live token.
func (s *RefreshStore) UserFromToken(ctx context.Context, token string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.db.GetContext(ctx, &userID, s.db.Rebind(`
		SELECT user_id FROM refresh_tokens
		WHERE token = ? AND revoked_at IS NULL AND expires_at > ?`),
		token, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.UUID{}, ErrInvalidRefreshToken
		}
		return uuid.UUID{}, fmt.Errorf("database error: %w", err)
	}

	return userID, nil
}

// Revoke marks token unusable. Unknown tokens are ignored.
func (s *RefreshStore) Revoke(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE refresh_tokens SET revoked_at = ? WHERE token = ? AND revoked_at IS NULL`),
		time.Now().UTC(), token)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// PurgeExpired deletes tokens that expired or were revoked before now.
func (s *RefreshStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM refresh_tokens WHERE expires_at <= ? OR revoked_at IS NOT NULL`),
		now.UTC())
	if err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}
	return res.RowsAffected()
}
