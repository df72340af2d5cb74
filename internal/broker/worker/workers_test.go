package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/johndosdos/courier/internal/broker"
	"github.com/johndosdos/courier/internal/model"
)

type recordingHub struct {
	userID uuid.UUID
	events []model.Event
	err    error
}

func (h *recordingHub) Deliver(_ context.Context, userID uuid.UUID, events ...model.Event) error {
	h.userID = userID
	h.events = events
	return h.err
}

func TestHubDelivery(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bob := uuid.New()
	env := broker.Envelope{UserID: bob, Events: model.MessageEvents(uuid.New(), "Alice")}

	hub := &recordingHub{}
	HubDelivery(hub, log)(context.Background(), env)
	assert.Equal(t, bob, hub.userID)
	assert.Equal(t, env.Events, hub.events)

	failing := &recordingHub{err: errors.New("hub stopped")}
	assert.NotPanics(t, func() { HubDelivery(failing, log)(context.Background(), env) })
}
