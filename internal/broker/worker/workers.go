// Package worker connects broker subscriptions to local consumers.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/broker"
	"github.com/johndosdos/courier/internal/model"
)

// Deliverer queues events for the local sessions of a user.
type Deliverer interface {
	Deliver(ctx context.Context, userID uuid.UUID, events ...model.Event) error
}

// HubDelivery forwards relayed envelopes into the local hub.
func HubDelivery(hub Deliverer, log *slog.Logger) func(context.Context, broker.Envelope) {
	return func(ctx context.Context, env broker.Envelope) {
		if err := hub.Deliver(ctx, env.UserID, env.Events...); err != nil && !errors.Is(err, context.Canceled) {
			log.WarnContext(ctx, "relayed delivery failed", "user_id", env.UserID, "error", err)
		}
	}
}
