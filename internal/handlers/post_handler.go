package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/services"
	"github.com/anonto42/chyrp-lite/backend/internal/session"
	"github.com/anonto42/chyrp-lite/backend/internal/storage"
)

// PostHandler handles HTTP requests related to posts
type PostHandler struct {
	postService    *services.PostService
	profileService *services.ProfileService
	maxUploadBytes int64
	maxUploadFiles int
}

// NewPostHandler creates a new PostHandler
func NewPostHandler(postService *services.PostService, profileService *services.ProfileService, maxUploadBytes int64, maxUploadFiles int) *PostHandler {
	return &PostHandler{
		postService:    postService,
		profileService: profileService,
		maxUploadBytes: maxUploadBytes,
		maxUploadFiles: maxUploadFiles,
	}
}

func (h *PostHandler) bodyLimit() echo.MiddlewareFunc {
	return uploadBodyLimit(h.maxUploadBytes, h.maxUploadFiles)
}

// RegisterPostRoutes registers post-related routes
func (h *PostHandler) RegisterPostRoutes(public, protected *echo.Group) {
	public.GET("/posts/:id", h.GetPost)
	protected.POST("/posts", h.CreatePost, h.bodyLimit())
	protected.PUT("/posts/:id", h.UpdatePost)
	protected.DELETE("/posts/:id", h.DeletePost)
}

// CreatePost creates a post from a JSON body or a multipart form with files.
// Multipart uploads are resumable unless upload_mode says otherwise.
func (h *PostHandler) CreatePost(c echo.Context) error {
	return h.createPost(c, "", storage.Resumable)
}

// postForm is a create request after decoding either body format.
type postForm struct {
	postType string
	content  json.RawMessage
	fields   map[string]interface{}
	tags     []string
	files    []services.Upload
	mode     storage.UploadMode
}

func isMultipart(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// createPost writes a post of postType, or of the type named in the request
// when postType is empty.
func (h *PostHandler) createPost(c echo.Context, postType string, mode storage.UploadMode) error {
	sess, err := requireSession(c)
	if err != nil {
		return err
	}

	form := postForm{postType: postType, mode: mode}
	closeFiles := func() {}
	if isMultipart(c) {
		closeFiles, err = h.readMultipart(c, &form)
	} else {
		err = h.readJSON(c, &form)
	}
	if err != nil {
		return err
	}
	defer closeFiles()

	t, err := models.ParsePostType(form.postType)
	if err != nil {
		return httpError(err)
	}
	var content models.PostContent
	if form.fields != nil {
		content, err = models.ContentFromMap(t, form.fields)
	} else {
		content, err = models.DecodeContent(t, form.content)
	}
	if err != nil {
		return httpError(err)
	}

	author, err := h.author(c, sess)
	if err != nil {
		return httpError(err)
	}
	post, err := h.postService.Create(c.Request().Context(), author, services.CreatePostInput{
		Type:    t,
		Content: content,
		Tags:    form.tags,
		Files:   form.files,
		Mode:    form.mode,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, post)
}

func (h *PostHandler) readJSON(c echo.Context, form *postForm) error {
	var req models.CreatePostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if form.postType != "" {
		req.Type = form.postType
	}
	if err := c.Validate(&req); err != nil {
		return httpError(err)
	}
	form.postType = req.Type
	form.content = req.Content
	form.tags = req.Tags
	return nil
}

// readMultipart reads type, content (a JSON string, or one form value per
// content field), tags (comma separated), upload_mode and the "files" parts.
func (h *PostHandler) readMultipart(c echo.Context, form *postForm) (func(), error) {
	mf, err := c.MultipartForm()
	if err != nil {
		return nil, multipartError(err, "Invalid multipart form")
	}
	if form.postType == "" {
		form.postType = c.FormValue("type")
	}
	if form.postType == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "type is required")
	}
	if raw := c.FormValue("content"); raw != "" {
		form.content = json.RawMessage(raw)
	} else if t, err := models.ParsePostType(form.postType); err == nil {
		form.fields = contentFields(c, t)
	}
	form.tags = models.ParseTags(c.FormValue("tags"))
	if m := c.FormValue("upload_mode"); m != "" {
		switch storage.UploadMode(m) {
		case storage.Sequential, storage.Resumable:
			form.mode = storage.UploadMode(m)
		default:
			return nil, echo.NewHTTPError(http.StatusBadRequest, "upload_mode must be sequential or resumable")
		}
	}

	files, closeFiles, err := openUploads(mf.File["files"], h.maxUploadBytes, h.maxUploadFiles)
	if err != nil {
		return nil, err
	}
	form.files = files
	return closeFiles, nil
}

// contentFields collects the content fields of t from individual form values.
func contentFields(c echo.Context, t models.PostType) map[string]interface{} {
	fields := map[string]interface{}{}
	for _, f := range models.Feathers() {
		if f.Type != t {
			continue
		}
		for _, field := range f.Fields {
			if v := c.FormValue(field.Name); v != "" {
				fields[field.Name] = v
			}
		}
	}
	return fields
}

func (h *PostHandler) author(c echo.Context, sess *session.Session) (models.Author, error) {
	profile, err := h.profileService.Get(c.Request().Context(), sess.UID, sess)
	if err != nil {
		return models.Author{}, err
	}
	return profile.AsAuthor(), nil
}

// GetPost retrieves a post by ID
func (h *PostHandler) GetPost(c echo.Context) error {
	post, err := h.postService.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, post)
}

// ownPost loads the post and checks that the caller wrote it.
func (h *PostHandler) ownPost(c echo.Context, sess *session.Session, action string) (*models.Post, error) {
	post, err := h.postService.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, httpError(err)
	}
	if post.Author.ID != sess.UID {
		return nil, echo.NewHTTPError(http.StatusForbidden, "You are not authorized to "+action+" this post")
	}
	return post, nil
}

// UpdatePost updates the content and tags of the caller's post
func (h *PostHandler) UpdatePost(c echo.Context) error {
	sess, err := requireSession(c)
	if err != nil {
		return err
	}
	var req models.UpdatePostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}

	existing, err := h.ownPost(c, sess, "update")
	if err != nil {
		return err
	}

	var patch models.PostPatch
	if len(req.Content) > 0 {
		content, err := models.DecodeContent(existing.Type, req.Content)
		if err != nil {
			return httpError(err)
		}
		patch.Content = content
	}
	if req.Tags != nil {
		patch.Tags = append([]string{}, (*req.Tags)...)
	}
	if patch.Content == nil && patch.Tags == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Nothing to update")
	}

	post, err := h.postService.Update(c.Request().Context(), existing.ID, patch)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, post)
}

// DeletePost deletes the caller's post. Its comments are kept.
func (h *PostHandler) DeletePost(c echo.Context) error {
	sess, err := requireSession(c)
	if err != nil {
		return err
	}
	post, err := h.ownPost(c, sess, "delete")
	if err != nil {
		return err
	}
	if err := h.postService.Delete(c.Request().Context(), post); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
