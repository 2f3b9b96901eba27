package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
)

// FollowService writes both sides of a follow edge: the caller in the
// target's followers, then the target in the caller's following.
type FollowService struct {
	profiles   repositories.ProfileRepository
	ledger     *Ledger
	retry      RetryPolicy
	compensate bool
}

func NewFollowService(profiles repositories.ProfileRepository, ledger *Ledger, retry RetryPolicy, compensate bool) *FollowService {
	return &FollowService{profiles: profiles, ledger: ledger, retry: retry, compensate: compensate}
}

func (s *FollowService) Follow(ctx context.Context, uid, targetID string) error {
	return s.run(ctx, "follow", uid, targetID,
		s.profiles.AddFollower, s.profiles.RemoveFollower, s.profiles.AddFollowing)
}

func (s *FollowService) Unfollow(ctx context.Context, uid, targetID string) error {
	return s.run(ctx, "unfollow", uid, targetID,
		s.profiles.RemoveFollower, s.profiles.AddFollower, s.profiles.RemoveFollowing)
}

type edgeWrite func(ctx context.Context, uid, otherID string) error

func (s *FollowService) run(ctx context.Context, action, uid, targetID string, followers, undoFollowers, following edgeWrite) error {
	if uid == targetID {
		return models.NewValidationError("you cannot follow yourself")
	}
	retried := func(op string, write edgeWrite, a, b string) func(context.Context) error {
		return func(ctx context.Context) error {
			return s.retry.Do(ctx, op, func(int) error { return write(ctx, a, b) })
		}
	}
	saga := Saga{Flow: action, Compensate: s.compensate, Retry: s.retry}
	err := saga.Run(ctx,
		Step{
			Name: "followers",
			Do:   retried(action+".followers", followers, targetID, uid),
			Undo: func(ctx context.Context) error { return undoFollowers(ctx, targetID, uid) },
		},
		Step{
			Name: "following",
			Do:   retried(action+".following", following, uid, targetID),
		},
	)

	var partial *PartialFailureError
	if errors.As(err, &partial) && !partial.Compensated {
		s.ledger.Record(ctx, models.Inconsistency{
			Kind:      models.KindFollowAsymmetry,
			SubjectID: uid,
			TargetID:  targetID,
			Detail:    action,
		})
	}
	if err != nil {
		log.Error().Err(err).Str("uid", uid).Str("target_id", targetID).Str("flow", action).Msg("Follow graph write failed")
		return err
	}
	log.Info().Str("uid", uid).Str("target_id", targetID).Str("flow", action).Msg("Follow graph updated")
	return nil
}

// Repair re-applies the intended edge on both sides. Both writes are set
// operations, so the side that already holds the edge is unchanged.
func (s *FollowService) Repair(ctx context.Context, uid, targetID, action string) error {
	if action == "unfollow" {
		if err := s.profiles.RemoveFollower(ctx, targetID, uid); err != nil {
			return err
		}
		return s.profiles.RemoveFollowing(ctx, uid, targetID)
	}
	if err := s.profiles.AddFollower(ctx, targetID, uid); err != nil {
		return err
	}
	return s.profiles.AddFollowing(ctx, uid, targetID)
}
