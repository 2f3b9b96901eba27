package services

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
)

func TestCommentService_AppendIncrementsByOne(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	svc := NewCommentService(store.Posts, store.Comments, nil, fastRetry)
	ctx := context.Background()
	seedPost(t, store.Posts, "p1")

	for i := 1; i <= 3; i++ {
		c, err := svc.Append(ctx, "p1", alice, "comment")
		require.NoError(t, err)
		assert.Equal(t, "p1", c.PostID)

		post, err := store.Posts.GetPostByID(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, i, post.CommentCount)
	}

	n, err := store.Comments.CountComments(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCommentService_NoRemovalPath(t *testing.T) {
	methods := func(typ reflect.Type) []string {
		names := make([]string, typ.NumMethod())
		for i := range names {
			names[i] = typ.Method(i).Name
		}
		return names
	}

	for _, name := range methods(reflect.TypeOf((*repositories.CommentRepository)(nil)).Elem()) {
		assert.False(t, strings.HasPrefix(name, "Delete"), name)
		assert.False(t, strings.HasPrefix(name, "Update"), name)
	}
	for _, name := range methods(reflect.TypeOf(&CommentService{})) {
		assert.False(t, strings.HasPrefix(name, "Delete"), name)
	}
	for _, name := range methods(reflect.TypeOf((*repositories.PostRepository)(nil)).Elem()) {
		assert.NotContains(t, name, "Decrement")
	}
}

func TestCommentService_AppendValidation(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	svc := NewCommentService(store.Posts, store.Comments, nil, fastRetry)
	ctx := context.Background()

	_, err := svc.Append(ctx, "missing", alice, "hi")
	assert.ErrorIs(t, err, models.ErrNotFound)

	seedPost(t, store.Posts, "p1")
	_, err = svc.Append(ctx, "p1", alice, "   ")
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestCommentService_IncrementFailureIsRepaired(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	f := newFailures()
	posts := flakyPosts{PostRepository: store.Posts, f: f}
	ledger, ledgerRepo := newTestLedger(t)
	svc := NewCommentService(posts, store.Comments, ledger, fastRetry)
	ctx := context.Background()
	seedPost(t, store.Posts, "p1")

	_, err := svc.Append(ctx, "p1", alice, "one")
	require.NoError(t, err)

	f.set("IncrementCommentCount", 1)
	c, err := svc.Append(ctx, "p1", alice, "two")
	require.NoError(t, err, "the comment was written, so the caller sees success")
	assert.Equal(t, "two", c.Text)
	assert.Equal(t, 2, f.count("IncrementCommentCount"), "one increment per append, never retried")

	post, err := store.Posts.GetPostByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, post.CommentCount, "recount repaired the counter")

	open, err := ledgerRepo.CountOpen()
	require.NoError(t, err)
	assert.Zero(t, open)
}

func TestCommentService_UnrepairedDriftIsRecorded(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	f := newFailures()
	f.set("IncrementCommentCount", -1)
	f.set("SetCommentCount", -1)
	ledger, ledgerRepo := newTestLedger(t)
	svc := NewCommentService(flakyPosts{PostRepository: store.Posts, f: f}, store.Comments, ledger, fastRetry)
	ctx := context.Background()
	seedPost(t, store.Posts, "p1")

	_, err := svc.Append(ctx, "p1", alice, "lost count")
	require.NoError(t, err)

	post, err := store.Posts.GetPostByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, post.CommentCount, "counter under-reports until repaired")

	entries, err := ledgerRepo.ListByKind(models.KindCommentCountDrift, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p1", entries[0].SubjectID)
}

func TestCommentService_WatchBothOrders(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	svc := NewCommentService(store.Posts, store.Comments, nil, fastRetry)
	seedPost(t, store.Posts, "p1")
	base := time.Now().UTC()
	svc.now = func() time.Time { base = base.Add(time.Second); return base }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	latest := map[models.CommentOrder][]models.Comment{}
	for _, order := range []models.CommentOrder{models.CommentsOldestFirst, models.CommentsNewestFirst} {
		order := order
		go func() {
			_ = svc.Watch(ctx, "p1", order, func(comments []models.Comment) {
				mu.Lock()
				latest[order] = comments
				mu.Unlock()
			})
		}()
	}

	_, err := svc.Append(context.Background(), "p1", alice, "first")
	require.NoError(t, err)
	_, err = svc.Append(context.Background(), "p1", alice, "second")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		asc, desc := latest[models.CommentsOldestFirst], latest[models.CommentsNewestFirst]
		return len(asc) == 2 && len(desc) == 2 && asc[0].Text == "first" && desc[0].Text == "second"
	}, time.Second, time.Millisecond)
}
