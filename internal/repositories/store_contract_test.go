package repositories

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
)

func storeBackends(t *testing.T) map[string]func(t *testing.T) *Store {
	backends := map[string]func(t *testing.T) *Store{
		"memory": func(t *testing.T) *Store {
			s, _ := NewMemoryBackedStore()
			return s
		},
	}
	if os.Getenv("FIRESTORE_EMULATOR_HOST") != "" {
		backends["firestore"] = func(t *testing.T) *Store {
			client, err := firestore.NewClient(context.Background(), "chyrp-test-"+uuid.NewString()[:8])
			require.NoError(t, err)
			t.Cleanup(func() { _ = client.Close() })
			return NewFirestoreStore(client)
		}
	}
	if uri := os.Getenv("MONGO_TEST_URI"); uri != "" {
		backends["mongo"] = func(t *testing.T) *Store {
			client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
			require.NoError(t, err)
			db := client.Database("chyrp_test_" + uuid.NewString()[:8])
			t.Cleanup(func() {
				_ = db.Drop(context.Background())
				_ = client.Disconnect(context.Background())
			})
			return NewMongoStore(db)
		}
	}
	return backends
}

func newTestPost(id string, createdAt time.Time) *models.Post {
	return &models.Post{
		ID:        id,
		Author:    models.Author{ID: "author", DisplayName: "Author"},
		Type:      models.PostTypeText,
		Content:   models.TextContent{Title: "t", Text: "hello"},
		Tags:      []string{"a", "b"},
		Likes:     []string{},
		CreatedAt: createdAt.UTC().Truncate(time.Millisecond),
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("posts", func(t *testing.T) { testPostContract(t, open(t)) })
			t.Run("comments", func(t *testing.T) { testCommentContract(t, open(t)) })
			t.Run("profiles", func(t *testing.T) { testProfileContract(t, open(t)) })
			t.Run("live posts", func(t *testing.T) { testWatchPosts(t, open(t)) })
		})
	}
}

func testPostContract(t *testing.T, s *Store) {
	ctx := context.Background()
	now := time.Now()
	older := newTestPost(uuid.NewString(), now.Add(-time.Minute))
	newer := newTestPost(uuid.NewString(), now)
	require.NoError(t, s.Posts.CreatePost(ctx, older))
	require.NoError(t, s.Posts.CreatePost(ctx, newer))

	err := s.Posts.CreatePost(ctx, newTestPost(older.ID, now))
	assert.True(t, errors.Is(err, models.ErrConflict), "got %v", err)

	posts, err := s.Posts.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, newer.ID, posts[0].ID, "newest first")
	assert.Equal(t, models.TextContent{Title: "t", Text: "hello"}, posts[0].Content)
	assert.Equal(t, []string{"a", "b"}, posts[0].Tags)

	// set-add is idempotent
	require.NoError(t, s.Posts.AddLike(ctx, older.ID, "u1"))
	require.NoError(t, s.Posts.AddLike(ctx, older.ID, "u1"))
	require.NoError(t, s.Posts.AddLike(ctx, older.ID, "u2"))
	require.NoError(t, s.Posts.RemoveLike(ctx, older.ID, "u2"))
	require.NoError(t, s.Posts.RemoveLike(ctx, older.ID, "nobody"))
	got, err := s.Posts.GetPostByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, got.Likes)

	require.NoError(t, s.Posts.IncrementCommentCount(ctx, older.ID))
	require.NoError(t, s.Posts.IncrementCommentCount(ctx, older.ID))
	got, err = s.Posts.GetPostByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CommentCount)
	require.NoError(t, s.Posts.SetCommentCount(ctx, older.ID, 7))

	updatedAt := now.Add(time.Second).UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Posts.UpdatePost(ctx, older.ID, models.PostPatch{Tags: []string{"c"}}, updatedAt))
	got, err = s.Posts.GetPostByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got.Tags)
	assert.Equal(t, 7, got.CommentCount)
	assert.Equal(t, models.TextContent{Title: "t", Text: "hello"}, got.Content, "content untouched by a tags-only patch")
	require.NotNil(t, got.UpdatedAt)
	assert.True(t, updatedAt.Equal(*got.UpdatedAt))

	require.NoError(t, s.Posts.DeletePost(ctx, older.ID))
	_, err = s.Posts.GetPostByID(ctx, older.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.True(t, errors.Is(s.Posts.AddLike(ctx, older.ID, "u1"), models.ErrNotFound))
}

func testCommentContract(t *testing.T, s *Store) {
	ctx := context.Background()
	post := newTestPost(uuid.NewString(), time.Now())
	require.NoError(t, s.Posts.CreatePost(ctx, post))

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, text := range []string{"first", "second", "third"} {
		require.NoError(t, s.Comments.CreateComment(ctx, &models.Comment{
			ID:        uuid.NewString(),
			PostID:    post.ID,
			Author:    models.Author{ID: "u1", DisplayName: "U1"},
			Text:      text,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	asc, err := s.Comments.ListComments(ctx, post.ID, models.CommentsOldestFirst)
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, "first", asc[0].Text)

	desc, err := s.Comments.ListComments(ctx, post.ID, models.CommentsNewestFirst)
	require.NoError(t, err)
	assert.Equal(t, "third", desc[0].Text)

	n, err := s.Comments.CountComments(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testProfileContract(t *testing.T, s *Store) {
	ctx := context.Background()
	a := models.NewProfile(uuid.NewString(), "alice", "alice@example.com", time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, s.Profiles.CreateProfile(ctx, a))

	_, err := s.Profiles.GetProfile(ctx, "missing-"+uuid.NewString())
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, s.Profiles.AddFollower(ctx, a.ID, "b"))
	require.NoError(t, s.Profiles.AddFollower(ctx, a.ID, "b"))
	require.NoError(t, s.Profiles.AddFollowing(ctx, a.ID, "c"))
	require.NoError(t, s.Profiles.UpdateProfile(ctx, a.ID, map[string]interface{}{"bio": "hi", "displayName": "Alice"}))

	got, err := s.Profiles.GetProfile(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Exists)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "hi", got.Bio)
	assert.Equal(t, []string{"b"}, got.Followers)
	assert.Equal(t, []string{"c"}, got.Following)

	require.NoError(t, s.Profiles.RemoveFollower(ctx, a.ID, "b"))
	require.NoError(t, s.Profiles.RemoveFollowing(ctx, a.ID, "c"))
	got, err = s.Profiles.GetProfile(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Followers)
	assert.Empty(t, got.Following)

	err = s.Profiles.AddFollower(ctx, "missing-"+uuid.NewString(), "b")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func testWatchPosts(t *testing.T, s *Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu        sync.Mutex
		snapshots [][]models.Post
	)
	done := make(chan error, 1)
	go func() {
		done <- s.Posts.WatchPosts(ctx, func(posts []models.Post) {
			mu.Lock()
			snapshots = append(snapshots, posts)
			mu.Unlock()
		})
	}()

	latest := func() []models.Post {
		mu.Lock()
		defer mu.Unlock()
		if len(snapshots) == 0 {
			return nil
		}
		return snapshots[len(snapshots)-1]
	}

	post := newTestPost(uuid.NewString(), time.Now())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) > 0
	}, 5*time.Second, 10*time.Millisecond, "initial snapshot")

	require.NoError(t, s.Posts.CreatePost(context.Background(), post))
	require.Eventually(t, func() bool {
		posts := latest()
		return len(posts) == 1 && posts[0].ID == post.ID
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Posts.AddLike(context.Background(), post.ID, "u1"))
	require.Eventually(t, func() bool {
		posts := latest()
		return len(posts) == 1 && posts[0].LikedBy("u1")
	}, 5*time.Second, 10*time.Millisecond, "each delivery carries the full current list")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestMongoListPostsSkipsUndecodable(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	db := client.Database("chyrp_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	s := NewMongoStore(db)

	good := newTestPost(uuid.NewString(), time.Now())
	require.NoError(t, s.Posts.CreatePost(ctx, good))
	_, err = db.Collection(postsCollection).InsertOne(ctx, map[string]interface{}{
		"_id":       "broken",
		"type":      "hologram",
		"createdAt": time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	posts, err := s.Posts.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, good.ID, posts[0].ID)
}
