package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/storage"
)

// RegisterFeatherRoutes registers the per-type post editor routes
func (h *PostHandler) RegisterFeatherRoutes(public, protected *echo.Group) {
	public.GET("/feathers", h.ListFeathers)
	protected.POST("/feathers/:type", h.CreateFeatherPost, h.bodyLimit())
}

// ListFeathers returns every post type and its content fields
func (h *PostHandler) ListFeathers(c echo.Context) error {
	return c.JSON(http.StatusOK, models.Feathers())
}

// CreateFeatherPost creates a post of the type in the path. Files are
// uploaded one after another in single requests.
func (h *PostHandler) CreateFeatherPost(c echo.Context) error {
	t, err := models.ParsePostType(c.Param("type"))
	if err != nil {
		return httpError(err)
	}
	return h.createPost(c, string(t), storage.Sequential)
}
