package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/realtime"
	"github.com/anonto42/chyrp-lite/backend/internal/services"
)

// FeedHandler serves the shared post feed
type FeedHandler struct {
	feed     *services.FeedSynchronizer
	upgrader *websocket.Upgrader
}

// NewFeedHandler creates a new FeedHandler
func NewFeedHandler(feed *services.FeedSynchronizer, upgrader *websocket.Upgrader) *FeedHandler {
	return &FeedHandler{feed: feed, upgrader: upgrader}
}

// RegisterFeedRoutes registers feed-related routes
func (h *FeedHandler) RegisterFeedRoutes(public *echo.Group) {
	public.GET("/feed", h.GetFeed)
	public.GET("/feed/live", h.WatchFeed)
}

// GetFeed returns the held feed snapshot, newest first. author and tag narrow
// the list.
func (h *FeedHandler) GetFeed(c echo.Context) error {
	snap, ok := h.feed.Snapshot()
	if !ok {
		posts, err := h.feed.Current(c.Request().Context())
		if err != nil {
			return httpError(err)
		}
		snap = services.Snapshot[[]models.Post]{Value: posts}
	}

	posts := snap.Value
	if author := c.QueryParam("author"); author != "" {
		posts = lo.Filter(posts, func(p models.Post, _ int) bool { return p.Author.ID == author })
	}
	if tag := c.QueryParam("tag"); tag != "" {
		posts = lo.Filter(posts, func(p models.Post, _ int) bool { return lo.Contains(p.Tags, tag) })
	}
	if posts == nil {
		posts = []models.Post{}
	}
	return c.JSON(http.StatusOK, services.Snapshot[[]models.Post]{Version: snap.Version, Value: posts})
}

// WatchFeed streams every feed snapshot over a websocket
func (h *FeedHandler) WatchFeed(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	ch, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()
	realtime.Stream(c.Request().Context(), conn, "feed", "feed.snapshot", ch)
	return nil
}
