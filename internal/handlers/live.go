package handlers

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/realtime"
	"github.com/anonto42/chyrp-lite/backend/internal/services"
)

// serveLive upgrades the request and streams a per-connection live view fed
// by watch. The watch is cancelled when the client goes away.
func serveLive[S any](c echo.Context, upgrader *websocket.Upgrader, view, frameType string, watch func(context.Context, func(S)) error) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		log.Debug().Err(err).Str("view", view).Msg("Websocket upgrade failed")
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	live := services.NewLiveView[S]()
	go func() {
		defer live.Close()
		if err := watch(ctx, func(value S) { live.Replace(value) }); err != nil {
			log.Warn().Err(err).Str("view", view).Msg("Live subscription ended")
		}
	}()

	ch, unsubscribe := live.Subscribe()
	defer unsubscribe()
	realtime.Stream(ctx, conn, view, frameType, ch)
	return nil
}
