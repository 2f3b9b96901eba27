package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/services"
)

// LikeHandler handles like-related HTTP requests
type LikeHandler struct {
	engagementService *services.EngagementService
}

// NewLikeHandler creates a new LikeHandler
func NewLikeHandler(engagementService *services.EngagementService) *LikeHandler {
	return &LikeHandler{engagementService: engagementService}
}

// RegisterLikeRoutes registers like-related routes
func (h *LikeHandler) RegisterLikeRoutes(protected *echo.Group) {
	protected.POST("/posts/:id/like", h.ToggleLike)
}

// ToggleLike flips the caller's like on a post. With {"liked": bool} the
// client's own view of the current state decides the direction; without it
// the server's held feed snapshot does.
func (h *LikeHandler) ToggleLike(c echo.Context) error {
	sess, err := requireSession(c)
	if err != nil {
		return err
	}
	var req models.LikeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}

	postID := c.Param("id")
	var liked bool
	if req.Liked != nil {
		liked, err = h.engagementService.SetLike(c.Request().Context(), postID, sess.UID, *req.Liked)
	} else {
		liked, err = h.engagementService.ToggleLike(c.Request().Context(), postID, sess.UID)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"postId": postID, "liked": liked})
}
