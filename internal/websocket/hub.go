package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/model"
)

var ErrHubStopped = errors.New("internal/websocket: hub stopped")

type Registration struct {
	Client *Client
	Done   chan struct{}
}

type sessionQuery struct {
	userID uuid.UUID
	reply  chan int
}

type delivery struct {
	userID uuid.UUID
	events []model.Event
}

// Hub tracks the live sessions of every connected user and pushes events to
// them. The session registry is owned by Run; everything else talks to it
// through channels.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	Register   chan Registration
	Unregister chan *Client
	deliveries chan delivery
	queries    chan sessionQuery
	stopped    chan struct{}
	log        *slog.Logger
}

// NewHub returns a new instance of Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		Register:   make(chan Registration),
		Unregister: make(chan *Client),
		deliveries: make(chan delivery, 1024),
		queries:    make(chan sessionQuery),
		stopped:    make(chan struct{}),
		log:        logger.With("component", "hub"),
	}
}

// Run manages session registration and event delivery until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case reg := <-h.Register:
			client := reg.Client
			sessions, ok := h.clients[client.UserID]
			if !ok {
				sessions = make(map[*Client]struct{})
				h.clients[client.UserID] = sessions
			}
			sessions[client] = struct{}{}
			client.Hub = h
			close(reg.Done)
			h.log.DebugContext(ctx, "session registered",
				"user_id", client.UserID, "sessions", len(sessions))

		case client := <-h.Unregister:
			sessions := h.clients[client.UserID]
			if _, ok := sessions[client]; !ok {
				continue
			}
			delete(sessions, client)
			if len(sessions) == 0 {
				delete(h.clients, client.UserID)
			}
			close(client.MessageCh)

		case d := <-h.deliveries:
			for client := range h.clients[d.userID] {
				for _, ev := range d.events {
					select {
					case client.MessageCh <- ev:
					default:
						h.log.WarnContext(ctx, "skipping event - channel full or client slow",
							"user_id", d.userID, "event_type", ev.Type)
					}
				}
			}

		case q := <-h.queries:
			q.reply <- len(h.clients[q.userID])

		case <-ctx.Done():
			h.log.InfoContext(ctx, "hub stopping", "reason", ctx.Err())
			return
		}
	}
}

func (h *Hub) shutdown() {
	close(h.stopped)
	for _, sessions := range h.clients {
		for client := range sessions {
			close(client.MessageCh)
		}
	}
	clear(h.clients)
}

// Join registers c and waits until the hub has accepted it.
func (h *Hub) Join(ctx context.Context, c *Client) error {
	reg := Registration{Client: c, Done: make(chan struct{})}

	select {
	case h.Register <- reg:
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-reg.Done
	return nil
}

// Leave unregisters c. After a stopped hub it is a no-op.
func (h *Hub) Leave(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.stopped:
	}
}

// Notify pushes a content event carrying messageID and then a toast event
// carrying senderName to every session of recipientID. Users without a
// session are skipped silently.
func (h *Hub) Notify(ctx context.Context, recipientID, messageID uuid.UUID, senderName string) error {
	return h.Deliver(ctx, recipientID, model.MessageEvents(messageID, senderName)...)
}

// Deliver queues events for every session of userID.
func (h *Hub) Deliver(ctx context.Context, userID uuid.UUID, events ...model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-h.stopped:
		return ErrHubStopped
	default:
	}

	select {
	case h.deliveries <- delivery{userID: userID, events: events}:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionCount reports how many live sessions userID holds.
func (h *Hub) SessionCount(ctx context.Context, userID uuid.UUID) (int, error) {
	q := sessionQuery{userID: userID, reply: make(chan int, 1)}

	select {
	case h.queries <- q:
	case <-h.stopped:
		return 0, ErrHubStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return <-q.reply, nil
}
