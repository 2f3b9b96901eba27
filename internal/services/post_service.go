package services

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
	"github.com/anonto42/chyrp-lite/backend/internal/storage"
	"github.com/anonto42/chyrp-lite/backend/validators"
)

const (
	flowCreatePost = "create_post"
	// pendingMediaURL stands in for an upload's URL while validating.
	pendingMediaURL = "https://storage.invalid/pending"
)

// Upload is a file attached to a new post.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// CreatePostInput carries everything needed to write a new post.
type CreatePostInput struct {
	Type    models.PostType
	Content models.PostContent
	Tags    []string
	Files   []Upload
	// Mode selects how Files reach blob storage. Sequential is the legacy
	// feather path; resumable uploads in chunks and reports progress.
	Mode storage.UploadMode
}

// PostService is the post mutation gateway.
type PostService struct {
	posts      repositories.PostRepository
	blobs      storage.BlobStore
	ledger     *Ledger
	retry      RetryPolicy
	compensate bool
	now        func() time.Time
}

func NewPostService(posts repositories.PostRepository, blobs storage.BlobStore, ledger *Ledger, retry RetryPolicy, compensate bool) *PostService {
	return &PostService{
		posts:      posts,
		blobs:      blobs,
		ledger:     ledger,
		retry:      retry,
		compensate: compensate,
		now:        time.Now,
	}
}

// Create uploads the attachments, then writes the post with no likes and a
// zero comment count. The first upload becomes the media URL of Photo, Video
// and Audio content.
func (s *PostService) Create(ctx context.Context, author models.Author, in CreatePostInput) (*models.Post, error) {
	if in.Content == nil {
		return nil, models.NewValidationError("content is required")
	}
	if in.Content.Type() != in.Type {
		return nil, models.NewValidationError("content does not match post type " + string(in.Type))
	}
	if url, isMedia := models.MediaURL(in.Content); isMedia && url == "" && len(in.Files) == 0 {
		return nil, models.NewValidationError(string(in.Type) + " posts need a url or an uploaded file")
	}
	if len(in.Files) > 0 && s.blobs == nil {
		return nil, models.NewValidationError("file uploads are not enabled")
	}
	// Check everything but the media URL now so bad input never uploads.
	precheck := in.Content
	if len(in.Files) > 0 {
		precheck = models.WithMedia(precheck, pendingMediaURL, in.Files[0].Filename)
	}
	if err := validators.ValidateStruct(precheck); err != nil {
		return nil, err
	}

	post := &models.Post{
		ID:        uuid.NewString(),
		Author:    author,
		Type:      in.Type,
		Content:   in.Content,
		Tags:      models.NormalizeTags(in.Tags),
		Likes:     []string{},
		CreatedAt: s.now().UTC(),
	}
	logger := log.With().Str("flow", flowCreatePost).Str("post_id", post.ID).Str("uid", author.ID).Logger()

	uploaded := map[string]bool{}
	upload := Step{
		Name: "upload_attachments",
		Do: func(ctx context.Context) error {
			attachments, err := s.uploadAll(ctx, author.ID, in.Files, in.Mode)
			if err != nil {
				return err
			}
			for _, a := range attachments {
				uploaded[a.Path] = true
			}
			post.Attachments = attachments
			if len(attachments) > 0 {
				post.Content = models.WithMedia(post.Content, attachments[0].URL, attachments[0].Filename)
			}
			return nil
		},
		Undo: func(ctx context.Context) error {
			var errs []error
			for path := range uploaded {
				if err := s.blobs.Delete(ctx, path); err != nil {
					errs = append(errs, err)
					continue
				}
				delete(uploaded, path)
			}
			return errors.Join(errs...)
		},
	}
	write := Step{
		Name: "write_post",
		Do: func(ctx context.Context) error {
			if err := validators.ValidateStruct(post.Content); err != nil {
				return err
			}
			err := s.retry.Create(ctx, "posts.create", func() error { return s.posts.CreatePost(ctx, post) })
			if err != nil {
				metrics.WriteFailures.WithLabelValues("create_post").Inc()
			}
			return err
		},
	}

	steps := []Step{write}
	if len(in.Files) > 0 {
		steps = []Step{upload, write}
	}
	err := Saga{Flow: flowCreatePost, Compensate: s.compensate, Retry: s.retry}.Run(ctx, steps...)
	if err != nil {
		var partial *PartialFailureError
		if errors.As(err, &partial) && !partial.Compensated {
			for path := range uploaded {
				s.ledger.Record(ctx, models.Inconsistency{Kind: models.KindOrphanBlob, SubjectID: path, TargetID: post.ID})
			}
		}
		logger.Error().Err(err).Msg("Failed to create post")
		return nil, err
	}

	logger.Info().Str("type", string(post.Type)).Int("attachments", len(post.Attachments)).Msg("Post created")
	return post, nil
}

// uploadAll uploads files one after another. On failure the files already
// uploaded in this call are removed before returning.
func (s *PostService) uploadAll(ctx context.Context, owner string, files []Upload, mode storage.UploadMode) ([]models.Attachment, error) {
	attachments := make([]models.Attachment, 0, len(files))
	for _, f := range files {
		path := storage.ObjectPath("posts", owner, f.Filename)
		obj, err := s.blobs.Upload(ctx, path, f.Body, storage.UploadOptions{
			ContentType: f.ContentType,
			Mode:        mode,
			Progress: func(written int64) {
				log.Debug().Str("path", path).Int64("written", written).Msg("Upload progress")
			},
		})
		if err != nil {
			for _, a := range attachments {
				if delErr := s.blobs.Delete(ctx, a.Path); delErr != nil {
					s.ledger.Record(ctx, models.Inconsistency{Kind: models.KindOrphanBlob, SubjectID: a.Path})
				}
			}
			return nil, err
		}
		attachments = append(attachments, models.Attachment{
			URL:      obj.URL,
			Kind:     models.KindForContentType(f.ContentType),
			Filename: f.Filename,
			Path:     obj.Path,
		})
	}
	return attachments, nil
}

func (s *PostService) Get(ctx context.Context, id string) (*models.Post, error) {
	return s.posts.GetPostByID(ctx, id)
}

// Update applies a partial write of content and tags. Concurrent updates are
// last writer wins.
func (s *PostService) Update(ctx context.Context, id string, patch models.PostPatch) (*models.Post, error) {
	if patch.Content != nil {
		if err := validators.ValidateStruct(patch.Content); err != nil {
			return nil, err
		}
	}
	if patch.Tags != nil {
		patch.Tags = models.NormalizeTags(patch.Tags)
	}
	updatedAt := s.now().UTC()
	err := s.retry.Do(ctx, "posts.update", func(int) error {
		return s.posts.UpdatePost(ctx, id, patch, updatedAt)
	})
	if err != nil {
		metrics.WriteFailures.WithLabelValues("update_post").Inc()
		return nil, err
	}
	log.Info().Str("post_id", id).Msg("Post updated")
	return s.posts.GetPostByID(ctx, id)
}

// Delete removes the post document only. Its comments stay in place and its
// attachment blobs are handed to the ledger for sweeping.
func (s *PostService) Delete(ctx context.Context, post *models.Post) error {
	err := s.retry.Do(ctx, "posts.delete", func(attempt int) error {
		err := s.posts.DeletePost(ctx, post.ID)
		if attempt > 1 && errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		metrics.WriteFailures.WithLabelValues("delete_post").Inc()
		return err
	}
	for _, a := range post.Attachments {
		if a.Path != "" {
			s.ledger.Record(ctx, models.Inconsistency{Kind: models.KindOrphanBlob, SubjectID: a.Path, TargetID: post.ID})
		}
	}
	log.Info().Str("post_id", post.ID).Msg("Post deleted")
	return nil
}
