package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/services"
)

// ProfileHandler serves the caller's profile, other users' profiles and the
// community listing.
type ProfileHandler struct {
	profileService *services.ProfileService
	upgrader       *websocket.Upgrader
	maxUploadBytes int64
}

// NewProfileHandler creates a new ProfileHandler
func NewProfileHandler(profileService *services.ProfileService, upgrader *websocket.Upgrader, maxUploadBytes int64) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
		upgrader:       upgrader,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterProfileRoutes registers profile routes. Reads go on public, writes
// on protected.
func (h *ProfileHandler) RegisterProfileRoutes(public, protected *echo.Group) {
	protected.GET("/profile", h.GetMyProfile)
	protected.PUT("/profile", h.UpdateProfile)
	protected.PUT("/profile/avatar", h.UploadAvatar, uploadBodyLimit(h.maxUploadBytes, 1))

	public.GET("/users/:id", h.GetUserProfile)
	public.GET("/users/:id/live", h.WatchUserProfile)
	public.GET("/community", h.ListCommunity)
}

// GetMyProfile returns the caller's profile, repairing a stale display name
func (h *ProfileHandler) GetMyProfile(c echo.Context) error {
	sess, err := requireSession(c)
	if err != nil {
		return err
	}
	profile, err := h.profileService.GetOwn(c.Request().Context(), sess)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

// UpdateProfile applies a partial update to the caller's profile
func (h *ProfileHandler) UpdateProfile(c echo.Context) error {
	sess, err := requireSession(c)
	if err != nil {
		return err
	}
	var patch models.ProfilePatch
	if err := bindAndValidate(c, &patch); err != nil {
		return err
	}

	profile, err := h.profileService.Update(c.Request().Context(), sess, patch)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

// UploadAvatar stores the "avatar" form file and sets it as the caller's avatar
func (h *ProfileHandler) UploadAvatar(c echo.Context) error {
	sess, err := requireSession(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("avatar")
	if err != nil {
		return multipartError(err, "avatar file is required")
	}
	upload, closeFile, err := openUpload(fh, h.maxUploadBytes)
	if err != nil {
		return err
	}
	defer closeFile()

	profile, err := h.profileService.UploadAvatar(c.Request().Context(), sess, upload)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

// GetUserProfile returns a user's profile, or defaults when none is stored
func (h *ProfileHandler) GetUserProfile(c echo.Context) error {
	profile, err := h.profileService.Get(c.Request().Context(), c.Param("id"), optionalSession(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

// WatchUserProfile streams a user's profile over a websocket
func (h *ProfileHandler) WatchUserProfile(c echo.Context) error {
	uid := c.Param("id")
	return serveLive(c, h.upgrader, "profile", "profile.snapshot", func(ctx context.Context, deliver func(*models.Profile)) error {
		return h.profileService.Watch(ctx, uid, deliver)
	})
}

// ListCommunity returns every profile
func (h *ProfileHandler) ListCommunity(c echo.Context) error {
	profiles, err := h.profileService.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profiles)
}
