package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johndosdos/courier/internal/model"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Client is one live session of a user. conn is nil for sessions that are
// not websockets, such as server-sent event streams.
type Client struct {
	UserID     uuid.UUID
	conn       *websocket.Conn
	Hub        *Hub
	MessageCh  chan model.Event
	messageLim *rate.Limiter
}

func NewClient(conn *websocket.Conn, userID uuid.UUID, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		conn:      conn,
		MessageCh: make(chan model.Event, buffer),
		UserID:    userID,
	}
}

// SetMessageLimiter caps inbound frames from the peer.
func (c *Client) SetMessageLimiter(requests int, window time.Duration) {
	l := rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
	c.messageLim = l
}

// WriteMessage writes queued events to the websocket as JSON and pings the
// peer while idle.
func (c *Client) WriteMessage(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.MessageCh:
			// The hub closes the channel on unregister or shutdown.
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "session closed") //nolint:errcheck
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, ev)
			cancel()
			if err != nil {
				slog.WarnContext(ctx, "failed to write event",
					"error", err,
					"event_type", ev.Type,
					"user_id", c.UserID.String())
				continue
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.DebugContext(ctx, "keepalive failed", "error", err, "user_id", c.UserID.String())
				c.conn.CloseNow() //nolint:errcheck
				return
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled") //nolint:errcheck
			return
		}
	}
}
