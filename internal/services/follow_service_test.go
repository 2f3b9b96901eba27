package services

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
)

func followState(t *testing.T, profiles repositories.ProfileRepository, follower, followed string) (inFollowers, inFollowing bool) {
	t.Helper()
	ctx := context.Background()
	a, err := profiles.GetProfile(ctx, follower)
	require.NoError(t, err)
	b, err := profiles.GetProfile(ctx, followed)
	require.NoError(t, err)
	return lo.Contains(b.Followers, follower), lo.Contains(a.Following, followed)
}

func TestFollowService_FollowAndUnfollow(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	seedProfile(t, store.Profiles, "a", "alice")
	seedProfile(t, store.Profiles, "b", "bob")
	svc := NewFollowService(store.Profiles, nil, fastRetry, true)
	ctx := context.Background()

	require.NoError(t, svc.Follow(ctx, "a", "b"))
	require.NoError(t, svc.Follow(ctx, "a", "b"))
	inFollowers, inFollowing := followState(t, store.Profiles, "a", "b")
	assert.True(t, inFollowers)
	assert.True(t, inFollowing)

	b, err := store.Profiles.GetProfile(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, b.Followers, "following twice adds once")

	require.NoError(t, svc.Unfollow(ctx, "a", "b"))
	inFollowers, inFollowing = followState(t, store.Profiles, "a", "b")
	assert.False(t, inFollowers)
	assert.False(t, inFollowing)

	err = svc.Follow(ctx, "a", "a")
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestFollowService_PartialFailureWithoutCompensation(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	seedProfile(t, store.Profiles, "a", "alice")
	seedProfile(t, store.Profiles, "b", "bob")
	f := newFailures()
	f.set("AddFollowing", -1)
	ledger, ledgerRepo := newTestLedger(t)
	svc := NewFollowService(flakyProfiles{ProfileRepository: store.Profiles, f: f}, ledger, fastRetry, false)

	err := svc.Follow(context.Background(), "a", "b")
	var partial *PartialFailureError
	require.True(t, errors.As(err, &partial))
	assert.False(t, partial.Compensated)

	inFollowers, inFollowing := followState(t, store.Profiles, "a", "b")
	assert.True(t, inFollowers, "b lists a as a follower")
	assert.False(t, inFollowing, "but a does not list b: the graph is asymmetric")

	entries, err := ledgerRepo.ListByKind(models.KindFollowAsymmetry, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].SubjectID)
	assert.Equal(t, "b", entries[0].TargetID)
	assert.Equal(t, "follow", entries[0].Detail)
}

func TestFollowService_PartialFailureIsRolledBack(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	seedProfile(t, store.Profiles, "a", "alice")
	seedProfile(t, store.Profiles, "b", "bob")
	f := newFailures()
	f.set("AddFollowing", -1)
	ledger, ledgerRepo := newTestLedger(t)
	svc := NewFollowService(flakyProfiles{ProfileRepository: store.Profiles, f: f}, ledger, fastRetry, true)

	err := svc.Follow(context.Background(), "a", "b")
	var partial *PartialFailureError
	require.True(t, errors.As(err, &partial))
	assert.True(t, partial.Compensated)

	inFollowers, inFollowing := followState(t, store.Profiles, "a", "b")
	assert.False(t, inFollowers)
	assert.False(t, inFollowing)

	open, err := ledgerRepo.CountOpen()
	require.NoError(t, err)
	assert.Zero(t, open)
}

func TestFollowService_UnfollowPartialFailure(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	seedProfile(t, store.Profiles, "a", "alice")
	seedProfile(t, store.Profiles, "b", "bob")
	ctx := context.Background()
	require.NoError(t, NewFollowService(store.Profiles, nil, fastRetry, true).Follow(ctx, "a", "b"))

	f := newFailures()
	f.set("RemoveFollowing", -1)
	ledger, ledgerRepo := newTestLedger(t)
	svc := NewFollowService(flakyProfiles{ProfileRepository: store.Profiles, f: f}, ledger, fastRetry, false)
	require.Error(t, svc.Unfollow(ctx, "a", "b"))

	inFollowers, inFollowing := followState(t, store.Profiles, "a", "b")
	assert.False(t, inFollowers)
	assert.True(t, inFollowing)

	entries, err := ledgerRepo.ListByKind(models.KindFollowAsymmetry, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "unfollow", entries[0].Detail)

	require.NoError(t, NewFollowService(store.Profiles, nil, NoRetry, true).Repair(ctx, "a", "b", "unfollow"))
	inFollowers, inFollowing = followState(t, store.Profiles, "a", "b")
	assert.False(t, inFollowers)
	assert.False(t, inFollowing)
}
