// Package realtime pushes live query snapshots to websocket clients.
package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
	"github.com/anonto42/chyrp-lite/backend/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Frame is one message sent to a client. Data is always the full current
// result of the live query.
type Frame struct {
	Type    string      `json:"type"`
	Version uint64      `json:"version"`
	Data    interface{} `json:"data"`
}

// NewUpgrader accepts upgrades from the allowed origins, or from any origin
// when the list contains "*".
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || lo.Contains(allowedOrigins, "*") {
				return true
			}
			return lo.Contains(allowedOrigins, origin)
		},
	}
}

// Stream writes every snapshot from ch to conn as a frame of the given type.
// It returns when ch is closed, ctx ends or the client disconnects, and
// closes conn.
func Stream[S any](ctx context.Context, conn *websocket.Conn, view, frameType string, ch <-chan services.Snapshot[S]) {
	metrics.LiveSubscribers.WithLabelValues(view).Inc()
	defer metrics.LiveSubscribers.WithLabelValues(view).Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readPump(conn, cancel)
	writePump(ctx, conn, frameType, ch)
}

// readPump discards client messages and keeps the read deadline moving with
// pongs. It cancels the stream when the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
	}
}

func writePump[S any](ctx context.Context, conn *websocket.Conn, frameType string, ch <-chan services.Snapshot[S]) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	closeWith := func(code int, text string) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
	}

	for {
		select {
		case <-ctx.Done():
			closeWith(websocket.CloseGoingAway, "")
			return

		case snap, ok := <-ch:
			if !ok {
				closeWith(websocket.CloseNormalClosure, "subscription ended")
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if err := conn.WriteJSON(Frame{Type: frameType, Version: snap.Version, Data: snap.Value}); err != nil {
				log.Debug().Err(err).Msg("failed to write snapshot frame")
				return
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
