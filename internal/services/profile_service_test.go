package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
	"github.com/anonto42/chyrp-lite/backend/internal/session"
	"github.com/anonto42/chyrp-lite/backend/internal/storage"
)

func strPtr(s string) *string { return &s }

func TestProfileService_GetMissingGivesDefaults(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	svc := NewProfileService(store.Profiles, nil, nil, fastRetry)
	ctx := context.Background()

	p, err := svc.Get(ctx, "ghost", nil)
	require.NoError(t, err)
	assert.False(t, p.Exists)
	assert.Equal(t, models.DefaultDisplayName, p.DisplayName)

	p, err = svc.Get(ctx, "ghost", &session.Session{UID: "ghost", Email: "casper@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "casper", p.DisplayName, "email local-part when no name is known")
}

func TestProfileService_GetOwnRepairsDisplayName(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	idp := newLocalIdentity(t)
	ctx := context.Background()
	id, err := idp.SignUp(ctx, "fay@example.com", "secret1", "Fay")
	require.NoError(t, err)
	seedProfile(t, store.Profiles, id.UID, "stale")

	svc := NewProfileService(store.Profiles, idp, nil, fastRetry)
	p, err := svc.GetOwn(ctx, &session.Session{UID: id.UID, DisplayName: "Fay"})
	require.NoError(t, err)
	assert.Equal(t, "Fay", p.DisplayName)

	stored, err := store.Profiles.GetProfile(ctx, id.UID)
	require.NoError(t, err)
	assert.Equal(t, "Fay", stored.DisplayName)
}

func TestProfileService_Update(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	idp := newLocalIdentity(t)
	ctx := context.Background()
	id, err := idp.SignUp(ctx, "gus@example.com", "secret1", "Gus")
	require.NoError(t, err)
	sess := &session.Session{UID: id.UID, Email: id.Email, DisplayName: "Gus"}
	svc := NewProfileService(store.Profiles, idp, storage.NewMemoryStore(), fastRetry)

	p, err := svc.Update(ctx, sess, models.ProfilePatch{Bio: strPtr("hello")})
	require.NoError(t, err, "a missing profile is created")
	assert.True(t, p.Exists)
	assert.Equal(t, "hello", p.Bio)
	assert.Equal(t, "Gus", p.DisplayName)

	p, err = svc.Update(ctx, sess, models.ProfilePatch{DisplayName: strPtr("Gustav"), Twitter: strPtr("@gus")})
	require.NoError(t, err)
	assert.Equal(t, "Gustav", p.DisplayName)
	assert.Equal(t, "hello", p.Bio)
	got, err := idp.GetIdentity(ctx, id.UID)
	require.NoError(t, err)
	assert.Equal(t, "Gustav", got.DisplayName, "identity follows the profile")

	_, err = svc.Update(ctx, sess, models.ProfilePatch{})
	assert.True(t, models.IsCode(err, models.CodeValidation))
	_, err = svc.Update(ctx, sess, models.ProfilePatch{AvatarURL: strPtr("not a url")})
	assert.True(t, models.IsCode(err, models.CodeValidation))

	p, err = svc.UploadAvatar(ctx, sess, Upload{Filename: "me.png", ContentType: "image/png", Body: strings.NewReader("png")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.AvatarURL, "memory://avatars/"+id.UID+"/"))

	_, err = svc.UploadAvatar(ctx, sess, Upload{Filename: "me.txt", ContentType: "text/plain", Body: strings.NewReader("x")})
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestProfileService_WatchAndList(t *testing.T) {
	store, _ := repositories.NewMemoryBackedStore()
	svc := NewProfileService(store.Profiles, nil, nil, fastRetry)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var latest *models.Profile
	go func() {
		_ = svc.Watch(ctx, "hal", func(p *models.Profile) {
			mu.Lock()
			latest = p
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return latest != nil && !latest.Exists
	}, time.Second, time.Millisecond, "missing profile streams defaults")

	seedProfile(t, store.Profiles, "hal", "hal")
	require.NoError(t, store.Profiles.AddFollower(context.Background(), "hal", "ivy"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return latest.Exists && len(latest.Followers) == 1
	}, time.Second, time.Millisecond)

	profiles, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, profiles, 1)

	require.NoError(t, svc.Ensure(context.Background(), "hal", "other", ""))
	require.NoError(t, svc.Ensure(context.Background(), "jo", "Jo", "jo@example.com"))
	profiles, err = svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
}
