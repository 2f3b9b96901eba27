package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/chyrp-lite/backend/internal/services"
)

// FollowHandler handles follow-related HTTP requests
type FollowHandler struct {
	followService *services.FollowService
}

// NewFollowHandler creates a new FollowHandler
func NewFollowHandler(followService *services.FollowService) *FollowHandler {
	return &FollowHandler{followService: followService}
}

// RegisterFollowRoutes registers follow-related routes
func (h *FollowHandler) RegisterFollowRoutes(protected *echo.Group) {
	protected.POST("/users/:id/follow", h.FollowUser)
	protected.DELETE("/users/:id/follow", h.UnfollowUser)
}

// FollowUser follows a user
func (h *FollowHandler) FollowUser(c echo.Context) error {
	sess, err := requireSession(c)
	if err != nil {
		return err
	}
	targetID := c.Param("id")
	if err := h.followService.Follow(c.Request().Context(), sess.UID, targetID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"userId": targetID, "following": true})
}

// UnfollowUser unfollows a user
func (h *FollowHandler) UnfollowUser(c echo.Context) error {
	sess, err := requireSession(c)
	if err != nil {
		return err
	}
	targetID := c.Param("id")
	if err := h.followService.Unfollow(c.Request().Context(), sess.UID, targetID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"userId": targetID, "following": false})
}
