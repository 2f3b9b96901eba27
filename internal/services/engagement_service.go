package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
)

// EngagementService toggles likes. The liked state is read from the feed
// snapshot held in memory, not re-fetched, and the write is a set operation
// so repeated toggles against a stale snapshot never double-add.
type EngagementService struct {
	posts repositories.PostRepository
	feed  *FeedSynchronizer
	retry RetryPolicy
}

func NewEngagementService(posts repositories.PostRepository, feed *FeedSynchronizer, retry RetryPolicy) *EngagementService {
	return &EngagementService{posts: posts, feed: feed, retry: retry}
}

// ToggleLike flips the caller's like based on the held snapshot and returns
// the optimistic new state.
func (s *EngagementService) ToggleLike(ctx context.Context, postID, uid string) (bool, error) {
	liked, err := s.likedInSnapshot(ctx, postID, uid)
	if err != nil {
		return false, err
	}
	return s.SetLike(ctx, postID, uid, liked)
}

// SetLike applies the toggle against the caller's own belief of the current
// state: it removes the like when believedLiked is true and adds it otherwise.
func (s *EngagementService) SetLike(ctx context.Context, postID, uid string, believedLiked bool) (bool, error) {
	op, write := "likes.add", s.posts.AddLike
	if believedLiked {
		op, write = "likes.remove", s.posts.RemoveLike
	}
	if err := s.retry.Do(ctx, op, func(int) error { return write(ctx, postID, uid) }); err != nil {
		metrics.WriteFailures.WithLabelValues(op).Inc()
		log.Error().Err(err).Str("post_id", postID).Str("uid", uid).Msg("Failed to update like")
		return believedLiked, err
	}
	log.Debug().Str("post_id", postID).Str("uid", uid).Bool("liked", !believedLiked).Msg("Like updated")
	return !believedLiked, nil
}

func (s *EngagementService) likedInSnapshot(ctx context.Context, postID, uid string) (bool, error) {
	if s.feed != nil {
		if post, ok := s.feed.Lookup(postID); ok {
			return post.LikedBy(uid), nil
		}
	}
	post, err := s.posts.GetPostByID(ctx, postID)
	if err != nil {
		return false, err
	}
	return post.LikedBy(uid), nil
}
