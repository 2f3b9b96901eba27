package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/anonto42/chyrp-lite/backend/internal/identity"
	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
)

var (
	errFlaky = errors.New("store unavailable")

	fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.LocalUser{}, &models.Inconsistency{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestLedger(t *testing.T) (*Ledger, repositories.InconsistencyRepository) {
	repo := repositories.NewPostgresInconsistencyRepository(setupTestDB(t))
	return NewLedger(repo), repo
}

func newLocalIdentity(t *testing.T) *identity.LocalProvider {
	return identity.NewLocalProvider(repositories.NewPostgresUserRepository(setupTestDB(t)), func(context.Context, string, string) {})
}

// failures counts down failures per operation name. A negative count fails
// forever.
type failures struct {
	mu    sync.Mutex
	left  map[string]int
	calls map[string]int
}

func newFailures() *failures {
	return &failures{left: map[string]int{}, calls: map[string]int{}}
}

func (f *failures) set(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left[op] = n
}

func (f *failures) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	n := f.left[op]
	switch {
	case n < 0:
		return errFlaky
	case n > 0:
		f.left[op] = n - 1
		return errFlaky
	}
	return nil
}

func (f *failures) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

type flakyPosts struct {
	repositories.PostRepository
	f *failures
}

func (p flakyPosts) CreatePost(ctx context.Context, post *models.Post) error {
	if err := p.f.hit("CreatePost"); err != nil {
		return err
	}
	return p.PostRepository.CreatePost(ctx, post)
}

func (p flakyPosts) AddLike(ctx context.Context, postID, uid string) error {
	if err := p.f.hit("AddLike"); err != nil {
		return err
	}
	return p.PostRepository.AddLike(ctx, postID, uid)
}

func (p flakyPosts) RemoveLike(ctx context.Context, postID, uid string) error {
	if err := p.f.hit("RemoveLike"); err != nil {
		return err
	}
	return p.PostRepository.RemoveLike(ctx, postID, uid)
}

func (p flakyPosts) IncrementCommentCount(ctx context.Context, postID string) error {
	if err := p.f.hit("IncrementCommentCount"); err != nil {
		return err
	}
	return p.PostRepository.IncrementCommentCount(ctx, postID)
}

func (p flakyPosts) SetCommentCount(ctx context.Context, postID string, count int) error {
	if err := p.f.hit("SetCommentCount"); err != nil {
		return err
	}
	return p.PostRepository.SetCommentCount(ctx, postID, count)
}

func (p flakyPosts) WatchPosts(ctx context.Context, deliver func([]models.Post)) error {
	if err := p.f.hit("WatchPosts"); err != nil {
		return err
	}
	return p.PostRepository.WatchPosts(ctx, deliver)
}

type flakyProfiles struct {
	repositories.ProfileRepository
	f *failures
}

func (p flakyProfiles) CreateProfile(ctx context.Context, profile *models.Profile) error {
	if err := p.f.hit("CreateProfile"); err != nil {
		return err
	}
	return p.ProfileRepository.CreateProfile(ctx, profile)
}

func (p flakyProfiles) AddFollowing(ctx context.Context, uid, targetID string) error {
	if err := p.f.hit("AddFollowing"); err != nil {
		return err
	}
	return p.ProfileRepository.AddFollowing(ctx, uid, targetID)
}

func (p flakyProfiles) RemoveFollowing(ctx context.Context, uid, targetID string) error {
	if err := p.f.hit("RemoveFollowing"); err != nil {
		return err
	}
	return p.ProfileRepository.RemoveFollowing(ctx, uid, targetID)
}

func (p flakyProfiles) RemoveFollower(ctx context.Context, uid, followerID string) error {
	if err := p.f.hit("RemoveFollower"); err != nil {
		return err
	}
	return p.ProfileRepository.RemoveFollower(ctx, uid, followerID)
}

func seedProfile(t *testing.T, repo repositories.ProfileRepository, uid, name string) {
	t.Helper()
	require.NoError(t, repo.CreateProfile(context.Background(), models.NewProfile(uid, name, name+"@example.com", time.Now().UTC())))
}

func seedPost(t *testing.T, repo repositories.PostRepository, id string) *models.Post {
	t.Helper()
	post := &models.Post{
		ID:        id,
		Author:    models.Author{ID: "author", DisplayName: "Author"},
		Type:      models.PostTypeText,
		Content:   models.TextContent{Text: "seed"},
		Tags:      []string{},
		Likes:     []string{},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreatePost(context.Background(), post))
	return post
}
