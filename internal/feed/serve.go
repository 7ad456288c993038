package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Serve pumps stream events to ws as JSON text frames until the peer goes
// away, ctx is done, or the stream ends. The stream is always closed on
// return.
func Serve(ctx context.Context, ws *websocket.Conn, stream Stream, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	conn := NewConnection(ws)
	conn.Start()
	defer stream.Close()

	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		ws.SetReadLimit(4096)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		// Subscribers never send data frames; reading only services control
		// frames and detects the close.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.CloseGoingAway, "server shutting down")
			return
		case <-peerGone:
			conn.Close(websocket.CloseNormalClosure, "subscription closed")
			return
		case <-conn.Done():
			return
		case ev, ok := <-events:
			if !ok {
				logger.Info("feed stream ended, asking subscriber to resubscribe", "error", stream.Err())
				conn.Close(CloseResubscribe, "resubscribe")
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				logger.Error("failed to encode feed event", "error", err)
				continue
			}
			if err := conn.Send(payload); err != nil {
				logger.Warn("feed send failed", "error", err)
				return
			}
		}
	}
}
