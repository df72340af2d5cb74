// Package broker relays notifications between server instances over NATS, so
// a user's sessions receive events whichever instance handled the compose.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/johndosdos/courier/internal/model"
)

// Envelope is the wire payload of one relayed notification.
type Envelope struct {
	UserID uuid.UUID     `json:"user_id"`
	Events []model.Event `json:"events"`
}

// Publisher implements the notifier contract by publishing to NATS.
type Publisher struct {
	conn *nats.Conn
	log  *slog.Logger
}

func NewPublisher(conn *nats.Conn, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{conn: conn, log: logger.With("component", "broker")}
}

// Notify publishes the content and toast events for recipientID.
func (p *Publisher) Notify(ctx context.Context, recipientID, messageID uuid.UUID, senderName string) error {
	if p.conn == nil {
		return errors.New("nats connection is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(Envelope{
		UserID: recipientID,
		Events: model.MessageEvents(messageID, senderName),
	})
	if err != nil {
		return err
	}

	subject := UserSubject(recipientID)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to [%s]: %w", subject, err)
	}

	p.log.DebugContext(ctx, "publish successful", "subject", subject)
	return nil
}

func Encode(env Envelope) ([]byte, error) {
	p, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("could not encode payload to JSON: %w", err)
	}
	return p, nil
}

// Decode parses a relayed payload. The subject's user id must match the
// envelope's.
func Decode(subject string, data []byte) (Envelope, error) {
	userID, err := UserFromSubject(subject)
	if err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("could not decode payload: %w", err)
	}
	if env.UserID != userID {
		return Envelope{}, fmt.Errorf("payload for %s published on %s", env.UserID, subject)
	}
	return env, nil
}

// Subscribe hands every relayed envelope to handle until ctx is done, then
// drains the subscription.
func Subscribe(ctx context.Context, conn *nats.Conn, handle func(context.Context, Envelope), logger *slog.Logger) (*nats.Subscription, error) {
	if conn == nil {
		return nil, errors.New("nats connection is nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sub, err := conn.Subscribe(SubjectAllUsers, func(msg *nats.Msg) {
		env, err := Decode(msg.Subject, msg.Data)
		if err != nil {
			logger.WarnContext(ctx, "dropping relayed payload", "subject", msg.Subject, "error", err)
			return
		}
		handle(ctx, env)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to [%s]: %w", SubjectAllUsers, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			logger.Warn("failed to drain subscription", "error", err)
		}
	}()

	return sub, nil
}
