package repositories

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
)

func TestInconsistencyRepository(t *testing.T) {
	repo := NewPostgresInconsistencyRepository(setupTestDB(t))

	first := &models.Inconsistency{Kind: models.KindFollowAsymmetry, SubjectID: "a", TargetID: "b", Detail: "follow"}
	require.NoError(t, repo.Record(first))
	require.NotZero(t, first.ID)

	t.Run("open duplicates collapse", func(t *testing.T) {
		dup := &models.Inconsistency{Kind: models.KindFollowAsymmetry, SubjectID: "a", TargetID: "b", Detail: "follow"}
		require.NoError(t, repo.Record(dup))
		assert.Equal(t, first.ID, dup.ID)

		n, err := repo.CountOpen()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	require.NoError(t, repo.Record(&models.Inconsistency{Kind: models.KindCommentCountDrift, SubjectID: "post-1"}))

	t.Run("failures are counted", func(t *testing.T) {
		require.NoError(t, repo.MarkFailed(first.ID, errors.New("still down")))
		require.NoError(t, repo.MarkFailed(first.ID, errors.New("still down")))
		open, err := repo.ListByKind(models.KindFollowAsymmetry, false)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, 2, open[0].Attempts)
		assert.Equal(t, "still down", open[0].LastError)
	})

	t.Run("resolve", func(t *testing.T) {
		require.NoError(t, repo.MarkResolved(first.ID))

		open, err := repo.ListOpen(0, 0)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, models.KindCommentCountDrift, open[0].Kind)

		all, err := repo.ListByKind(models.KindFollowAsymmetry, true)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.True(t, all[0].Resolved)
		assert.NotNil(t, all[0].ResolvedAt)

		// A resolved entry does not block a new one.
		again := &models.Inconsistency{Kind: models.KindFollowAsymmetry, SubjectID: "a", TargetID: "b"}
		require.NoError(t, repo.Record(again))
		assert.NotEqual(t, first.ID, again.ID)
	})
}

func TestInconsistencyRepository_LatestIntentWins(t *testing.T) {
	repo := NewPostgresInconsistencyRepository(setupTestDB(t))

	follow := &models.Inconsistency{Kind: models.KindFollowAsymmetry, SubjectID: "a", TargetID: "b", Detail: "follow"}
	require.NoError(t, repo.Record(follow))
	require.NoError(t, repo.MarkFailed(follow.ID, errors.New("down")))

	unfollow := &models.Inconsistency{Kind: models.KindFollowAsymmetry, SubjectID: "a", TargetID: "b", Detail: "unfollow"}
	require.NoError(t, repo.Record(unfollow))
	assert.Equal(t, follow.ID, unfollow.ID)

	open, err := repo.ListOpen(0, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "unfollow", open[0].Detail)
	assert.Zero(t, open[0].Attempts)
	assert.Empty(t, open[0].LastError)
}

func TestInconsistencyRepository_ListOpenOrdersByAttempts(t *testing.T) {
	repo := NewPostgresInconsistencyRepository(setupTestDB(t))

	old := &models.Inconsistency{Kind: models.KindCommentCountDrift, SubjectID: "old"}
	require.NoError(t, repo.Record(old))
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.MarkFailed(old.ID, errors.New("down")))
	}
	fresh := &models.Inconsistency{Kind: models.KindCommentCountDrift, SubjectID: "fresh"}
	require.NoError(t, repo.Record(fresh))

	open, err := repo.ListOpen(1, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "fresh", open[0].SubjectID)

	open, err = repo.ListOpen(0, 3)
	require.NoError(t, err)
	require.Len(t, open, 1, "entries at the attempt limit are parked")
	assert.Equal(t, "fresh", open[0].SubjectID)
}
