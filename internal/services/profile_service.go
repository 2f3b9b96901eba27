package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/identity"
	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
	"github.com/anonto42/chyrp-lite/backend/internal/session"
	"github.com/anonto42/chyrp-lite/backend/internal/storage"
	"github.com/anonto42/chyrp-lite/backend/validators"
)

const profileView = "profile"

// ProfileService reads and writes profile documents. A missing document is
// never an error for readers: they get a default profile instead.
type ProfileService struct {
	profiles repositories.ProfileRepository
	idp      identity.Provider
	blobs    storage.BlobStore
	retry    RetryPolicy
	now      func() time.Time
}

func NewProfileService(profiles repositories.ProfileRepository, idp identity.Provider, blobs storage.BlobStore, retry RetryPolicy) *ProfileService {
	return &ProfileService{profiles: profiles, idp: idp, blobs: blobs, retry: retry, now: time.Now}
}

// Get returns uid's profile, or defaults when it has no profile document.
// viewer may be nil.
func (s *ProfileService) Get(ctx context.Context, uid string, viewer *session.Session) (*models.Profile, error) {
	profile, err := s.profiles.GetProfile(ctx, uid)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	name, email := s.identityName(ctx, uid, viewer)
	log.Debug().Str("uid", uid).Msg("Profile document missing, serving defaults")
	return models.DefaultProfile(uid, name, email), nil
}

func (s *ProfileService) identityName(ctx context.Context, uid string, viewer *session.Session) (string, string) {
	if viewer != nil && viewer.UID == uid {
		return viewer.DisplayName, viewer.Email
	}
	if s.idp == nil {
		return "", ""
	}
	id, err := s.idp.GetIdentity(ctx, uid)
	if err != nil {
		log.Debug().Err(err).Str("uid", uid).Msg("Identity lookup failed")
		return "", ""
	}
	return id.DisplayName, id.Email
}

// GetOwn returns the caller's profile. When the identity's display name
// differs from the stored one, the stored one is repaired.
func (s *ProfileService) GetOwn(ctx context.Context, sess *session.Session) (*models.Profile, error) {
	profile, err := s.Get(ctx, sess.UID, sess)
	if err != nil || !profile.Exists {
		return profile, err
	}

	name := sess.DisplayName
	if s.idp != nil {
		if id, err := s.idp.GetIdentity(ctx, sess.UID); err == nil {
			name = id.DisplayName
		}
	}
	if name == "" || name == profile.DisplayName {
		return profile, nil
	}
	if err := s.profiles.UpdateProfile(ctx, sess.UID, map[string]interface{}{"displayName": name}); err != nil {
		log.Warn().Err(err).Str("uid", sess.UID).Msg("Display name repair failed")
		return profile, nil
	}
	log.Info().Str("uid", sess.UID).Str("from", profile.DisplayName).Str("to", name).Msg("Display name repaired")
	profile.DisplayName = name
	return profile, nil
}

// Update writes the set fields of patch, creating the profile document when it
// is missing. A display name change is written to the identity first.
func (s *ProfileService) Update(ctx context.Context, sess *session.Session, patch models.ProfilePatch) (*models.Profile, error) {
	if err := validators.ValidateStruct(patch); err != nil {
		return nil, err
	}
	fields := patch.Fields()
	if len(fields) == 0 {
		return nil, models.NewValidationError("no profile fields to update")
	}

	if patch.DisplayName != nil && s.idp != nil {
		if err := s.idp.UpdateDisplayName(ctx, sess.UID, *patch.DisplayName); err != nil {
			return nil, err
		}
	}

	_, err := s.profiles.GetProfile(ctx, sess.UID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		profile := models.NewProfile(sess.UID, sess.DisplayName, sess.Email, s.now().UTC())
		patch.Apply(profile)
		err = s.retry.Create(ctx, "profiles.create", func() error { return s.profiles.CreateProfile(ctx, profile) })
		if errors.Is(err, models.ErrConflict) {
			err = s.updateFields(ctx, sess.UID, fields)
		}
	case err == nil:
		err = s.updateFields(ctx, sess.UID, fields)
	}
	if err != nil {
		metrics.WriteFailures.WithLabelValues("update_profile").Inc()
		log.Error().Err(err).Str("uid", sess.UID).Msg("Failed to update profile")
		return nil, err
	}

	log.Info().Str("uid", sess.UID).Int("fields", len(fields)).Msg("Profile updated")
	return s.Get(ctx, sess.UID, sess)
}

func (s *ProfileService) updateFields(ctx context.Context, uid string, fields map[string]interface{}) error {
	return s.retry.Do(ctx, "profiles.update", func(int) error {
		return s.profiles.UpdateProfile(ctx, uid, fields)
	})
}

// UploadAvatar stores the image in blob storage and points avatarUrl at it.
func (s *ProfileService) UploadAvatar(ctx context.Context, sess *session.Session, file Upload) (*models.Profile, error) {
	if s.blobs == nil {
		return nil, models.NewValidationError("file uploads are not enabled")
	}
	if models.KindForContentType(file.ContentType) != models.AttachmentImage {
		return nil, models.NewValidationError("avatar must be an image")
	}
	obj, err := s.blobs.Upload(ctx, storage.ObjectPath("avatars", sess.UID, file.Filename), file.Body, storage.UploadOptions{
		ContentType: file.ContentType,
		Mode:        storage.Sequential,
	})
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, sess, models.ProfilePatch{AvatarURL: &obj.URL})
}

// Watch streams uid's profile until ctx ends. A missing document is
// delivered as defaults.
func (s *ProfileService) Watch(ctx context.Context, uid string, deliver func(*models.Profile)) error {
	var fallback *models.Profile
	return runLive(ctx, profileView, s.retry, false, func(ctx context.Context, fn func(*models.Profile)) error {
		return s.profiles.WatchProfile(ctx, uid, fn)
	}, func(profile *models.Profile) {
		if profile == nil {
			if fallback == nil {
				name, email := s.identityName(ctx, uid, nil)
				fallback = models.DefaultProfile(uid, name, email)
			}
			profile = fallback
		}
		deliver(profile)
	})
}

// List returns the community listing.
func (s *ProfileService) List(ctx context.Context) ([]models.Profile, error) {
	return s.profiles.ListProfiles(ctx)
}

// Ensure creates uid's profile document if it does not exist.
func (s *ProfileService) Ensure(ctx context.Context, uid, displayName, email string) error {
	profile := models.NewProfile(uid, displayName, email, s.now().UTC())
	err := s.retry.Do(ctx, "profiles.create", func(int) error { return s.profiles.CreateProfile(ctx, profile) })
	if errors.Is(err, models.ErrConflict) {
		return nil
	}
	return err
}
