package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/johndosdos/courier/internal/auth"
	ws "github.com/johndosdos/courier/internal/websocket"
)

const sseKeepalive = 10 * time.Second

// StreamSSE registers a server-sent events session with the hub. Events use
// the same type and data as the websocket session.
func StreamSSE(h *ws.Hub, opts SessionOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := auth.GetUserFromContext(ctx)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		c := ws.NewClient(nil, userID, opts.Buffer)
		if err := h.Join(ctx, c); err != nil {
			http.Error(w, "Server shutting down.", http.StatusServiceUnavailable)
			return
		}
		defer h.Leave(c)

		w.Header().Set("X-Accel-Buffering", "no")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		rc := http.NewResponseController(w)
		if err := rc.Flush(); err != nil {
			slog.WarnContext(ctx, "streaming unsupported", "error", err)
			return
		}

		ticker := time.NewTicker(sseKeepalive)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-c.MessageCh:
				if !ok {
					return
				}

				fmt.Fprintf(w, "event: %s\n", ev.Type) //nolint:errcheck
				fmt.Fprintf(w, "data: %s\n\n", strings.ReplaceAll(ev.Data, "\n", " ")) //nolint:errcheck

				if err := rc.Flush(); err != nil {
					slog.DebugContext(ctx, "could not flush buffer to writer", "error", err)
					return
				}

			case <-ticker.C:
				fmt.Fprint(w, ": \n\n") //nolint:errcheck
				if err := rc.Flush(); err != nil {
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}
}
