package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/johndosdos/courier/internal/auth"
	ws "github.com/johndosdos/courier/internal/websocket"
)

// SessionOptions configures live notification sessions.
type SessionOptions struct {
	OriginPatterns []string
	Buffer         int
}

// ServeWs handles the client's websocket connection upgrade.
func ServeWs(h *ws.Hub, opts SessionOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := auth.GetUserFromContext(ctx)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to upgrade connection to websocket", "error", err)
			return
		}

		// We'll register our new client to the central hub.
		c := ws.NewClient(conn, userID, opts.Buffer)
		c.SetMessageLimiter(10, time.Second)
		if err := h.Join(ctx, c); err != nil {
			conn.Close(websocket.StatusTryAgainLater, "server shutting down") //nolint:errcheck
			return
		}
		slog.DebugContext(ctx, "upgraded connection", "user_id", userID.String())

		// We block on c.ReadMessage() because the request context will be canceled as soon
		// we return from the ServeWs() handler.
		go c.WriteMessage(ctx)
		c.ReadMessage(ctx)
	}
}
