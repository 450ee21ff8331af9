package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const liveWriteTimeout = 5 * time.Second

// GET /api/me/yield/live streams the caller's tracker state: the current
// state on connect, then one message per change, including the saving flag.
// Slow clients skip intermediate states.
func (h *Handler) yieldLive(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	states, unsubscribe := t.Subscribe()
	defer unsubscribe()

	// Client messages are not expected; reading detects disconnects.
	ctx := conn.CloseRead(r.Context())

	if err := writeState(ctx, conn, t.State()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "tracker closed")
				return
			}
			if err := writeState(ctx, conn, st); err != nil {
				h.logger.Debug("live write failed", "user_id", UserID(r.Context()), "error", err)
				return
			}
		}
	}
}

func writeState(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
