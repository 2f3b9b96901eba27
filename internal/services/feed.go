package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
)

const feedView = "feed"

// FeedSynchronizer keeps one live query over all posts, newest first, and
// replaces its view with every delivery.
type FeedSynchronizer struct {
	posts repositories.PostRepository
	retry RetryPolicy
	view  *LiveView[[]models.Post]
}

func NewFeedSynchronizer(posts repositories.PostRepository, retry RetryPolicy) *FeedSynchronizer {
	return &FeedSynchronizer{
		posts: posts,
		retry: retry,
		view:  NewLiveView[[]models.Post](),
	}
}

// Run blocks until ctx is cancelled. The shared query is reopened after every
// failure for as long as the service runs. Subscribers are released when it
// returns.
func (f *FeedSynchronizer) Run(ctx context.Context) error {
	defer f.view.Close()
	log.Info().Msg("Feed synchronizer started")
	err := runLive(ctx, feedView, f.retry, true, f.posts.WatchPosts, func(posts []models.Post) {
		version := f.view.Replace(posts)
		log.Debug().Uint64("version", version).Int("posts", len(posts)).Msg("Feed snapshot replaced")
	})
	if err != nil {
		log.Error().Err(err).Msg("Feed synchronizer stopped")
		return err
	}
	log.Info().Msg("Feed synchronizer stopped")
	return nil
}

// Snapshot returns the latest delivered feed. ok is false before the first
// delivery.
func (f *FeedSynchronizer) Snapshot() (Snapshot[[]models.Post], bool) {
	return f.view.Snapshot()
}

// Subscribe streams feed snapshots; see LiveView.Subscribe.
func (f *FeedSynchronizer) Subscribe() (<-chan Snapshot[[]models.Post], func()) {
	return f.view.Subscribe()
}

// Current returns the held feed, or reads the store when no snapshot has
// arrived yet.
func (f *FeedSynchronizer) Current(ctx context.Context) ([]models.Post, error) {
	if snap, ok := f.view.Snapshot(); ok {
		return snap.Value, nil
	}
	return f.posts.ListPosts(ctx)
}

// Lookup finds a post in the held snapshot without a store read.
func (f *FeedSynchronizer) Lookup(postID string) (*models.Post, bool) {
	snap, ok := f.view.Snapshot()
	if !ok {
		return nil, false
	}
	for i := range snap.Value {
		if snap.Value[i].ID == postID {
			post := snap.Value[i]
			return &post, true
		}
	}
	return nil, false
}
