package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
)

const commentsView = "comments"

// CommentService appends comments and serves live comment listings. Comments
// are never edited or removed, so the post counter only ever goes up.
type CommentService struct {
	posts    repositories.PostRepository
	comments repositories.CommentRepository
	ledger   *Ledger
	retry    RetryPolicy
	now      func() time.Time
}

func NewCommentService(posts repositories.PostRepository, comments repositories.CommentRepository, ledger *Ledger, retry RetryPolicy) *CommentService {
	return &CommentService{
		posts:    posts,
		comments: comments,
		ledger:   ledger,
		retry:    retry,
		now:      time.Now,
	}
}

// Append writes the comment, then increments the post's commentCount. When
// the increment fails the counter is recounted from the comment collection;
// if that fails too the post is recorded for the reconciler. The comment is
// returned either way.
func (s *CommentService) Append(ctx context.Context, postID string, author models.Author, text string) (*models.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.NewValidationError("text is required")
	}
	if _, err := s.posts.GetPostByID(ctx, postID); err != nil {
		return nil, err
	}

	comment := &models.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		Author:    author,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	logger := log.With().Str("post_id", postID).Str("comment_id", comment.ID).Str("uid", author.ID).Logger()

	if err := s.retry.Create(ctx, "comments.create", func() error { return s.comments.CreateComment(ctx, comment) }); err != nil {
		metrics.WriteFailures.WithLabelValues("create_comment").Inc()
		logger.Error().Err(err).Msg("Failed to write comment")
		return nil, err
	}

	// An increment is not idempotent, so it is tried once and repaired by
	// recounting instead of retried.
	if err := s.posts.IncrementCommentCount(ctx, postID); err != nil {
		metrics.WriteFailures.WithLabelValues("increment_comment_count").Inc()
		logger.Warn().Err(err).Msg("Comment counter increment failed, recounting")
		if repairErr := s.RecountComments(ctx, postID); repairErr != nil {
			metrics.Compensations.WithLabelValues("append_comment", "recorded").Inc()
			logger.Error().Err(repairErr).Msg("Comment counter repair failed")
			s.ledger.Record(ctx, models.Inconsistency{Kind: models.KindCommentCountDrift, SubjectID: postID})
		} else {
			metrics.Compensations.WithLabelValues("append_comment", "compensated").Inc()
		}
	}

	logger.Info().Msg("Comment added")
	return comment, nil
}

// RecountComments sets the post's commentCount to the size of its comment
// collection.
func (s *CommentService) RecountComments(ctx context.Context, postID string) error {
	return s.retry.Do(ctx, "comments.recount", func(int) error {
		n, err := s.comments.CountComments(ctx, postID)
		if err != nil {
			return err
		}
		return s.posts.SetCommentCount(ctx, postID, n)
	})
}

func (s *CommentService) List(ctx context.Context, postID string, order models.CommentOrder) ([]models.Comment, error) {
	return s.comments.ListComments(ctx, postID, order)
}

// Watch streams the post's comments in the given order until ctx ends. Each
// delivery is the full current list.
func (s *CommentService) Watch(ctx context.Context, postID string, order models.CommentOrder, deliver func([]models.Comment)) error {
	watch := func(ctx context.Context, fn func([]models.Comment)) error {
		return s.comments.WatchComments(ctx, postID, order, fn)
	}
	return runLive(ctx, commentsView, s.retry, false, watch, deliver)
}
