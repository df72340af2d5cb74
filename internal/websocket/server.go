package websocket

import (
	"context"
	"log/slog"

	"github.com/coder/websocket"
)

// ReadMessage drains the incoming websocket stream until the peer goes away,
// then unregisters the session. Peers have nothing to send; frames are read
// only to observe close and are rate limited.
func (c *Client) ReadMessage(ctx context.Context) {
	defer func() {
		c.Hub.Leave(c)
		c.conn.CloseNow() //nolint:errcheck
	}()

	for {
		msgType, p, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				slog.WarnContext(ctx, "websocket read failed", "error", err)
			}
			return
		}

		slog.DebugContext(ctx, "ignoring inbound frame",
			"type", msgType.String(), "size", len(p), "user_id", c.UserID.String())

		if c.messageLim != nil && !c.messageLim.Allow() {
			c.conn.Close(websocket.StatusPolicyViolation, "too many messages") //nolint:errcheck
			return
		}
	}
}
