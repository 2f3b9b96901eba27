package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/services"
)

// CommentHandler handles comment-related HTTP requests
type CommentHandler struct {
	commentService *services.CommentService
	profileService *services.ProfileService
	upgrader       *websocket.Upgrader
}

// NewCommentHandler creates a new CommentHandler
func NewCommentHandler(commentService *services.CommentService, profileService *services.ProfileService, upgrader *websocket.Upgrader) *CommentHandler {
	return &CommentHandler{
		commentService: commentService,
		profileService: profileService,
		upgrader:       upgrader,
	}
}

// RegisterCommentRoutes registers comment-related routes. Comments cannot be
// edited or deleted.
func (h *CommentHandler) RegisterCommentRoutes(public, protected *echo.Group) {
	public.GET("/posts/:id/comments", h.GetComments)
	public.GET("/posts/:id/comments/live", h.WatchComments)
	protected.POST("/posts/:id/comments", h.CreateComment)
}

// CreateComment appends a comment to a post
func (h *CommentHandler) CreateComment(c echo.Context) error {
	sess, err := requireSession(c)
	if err != nil {
		return err
	}
	var req models.CreateCommentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	profile, err := h.profileService.Get(c.Request().Context(), sess.UID, sess)
	if err != nil {
		return httpError(err)
	}
	comment, err := h.commentService.Append(c.Request().Context(), c.Param("id"), profile.AsAuthor(), req.Text)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, comment)
}

// GetComments lists a post's comments, oldest first unless order=desc
func (h *CommentHandler) GetComments(c echo.Context) error {
	order, err := models.ParseCommentOrder(c.QueryParam("order"))
	if err != nil {
		return httpError(err)
	}
	comments, err := h.commentService.List(c.Request().Context(), c.Param("id"), order)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, comments)
}

// WatchComments streams a post's comments over a websocket
func (h *CommentHandler) WatchComments(c echo.Context) error {
	order, err := models.ParseCommentOrder(c.QueryParam("order"))
	if err != nil {
		return httpError(err)
	}
	postID := c.Param("id")
	return serveLive(c, h.upgrader, "comments", "comments.snapshot", func(ctx context.Context, deliver func([]models.Comment)) error {
		return h.commentService.Watch(ctx, postID, order, deliver)
	})
}
