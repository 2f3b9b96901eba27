package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/identity"
	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/storage"
)

const (
	reconcileBatch = 100
	// Entries are parked after this many failed repairs and need an operator.
	maxRepairAttempts = 10
)

// Reconciler repairs the entries of the ledger.
type Reconciler struct {
	ledger   *Ledger
	follows  *FollowService
	comments *CommentService
	profiles *ProfileService
	idp      identity.Provider
	blobs    storage.BlobStore
}

func NewReconciler(ledger *Ledger, follows *FollowService, comments *CommentService, profiles *ProfileService, idp identity.Provider, blobs storage.BlobStore) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		follows:  follows,
		comments: comments,
		profiles: profiles,
		idp:      idp,
		blobs:    blobs,
	}
}

// ReconcileStats summarizes one pass.
type ReconcileStats struct {
	Resolved int
	Failed   int
	// Parked counts failures that used up the last repair attempt.
	Parked int
}

// Run processes one batch of open entries and returns how many were repaired.
func (r *Reconciler) Run(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats
	if r.ledger == nil || r.ledger.repo == nil {
		return stats, nil
	}
	entries, err := r.ledger.Open(reconcileBatch, maxRepairAttempts)
	if err != nil {
		return stats, fmt.Errorf("listing open inconsistencies: %w", err)
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		err := r.repair(ctx, entry)
		r.ledger.resolve(entry, err)
		if err != nil {
			stats.Failed++
			level := zerolog.WarnLevel
			if entry.Attempts+1 >= maxRepairAttempts {
				level = zerolog.ErrorLevel
				stats.Parked++
			}
			log.WithLevel(level).Err(err).Uint("entry_id", entry.ID).Str("kind", string(entry.Kind)).Int("attempts", entry.Attempts+1).Msg("Repair failed")
			continue
		}
		stats.Resolved++
	}
	r.ledger.refreshGauge()
	if len(entries) > 0 {
		log.Info().Int("resolved", stats.Resolved).Int("failed", stats.Failed).Int("parked", stats.Parked).Msg("Reconciliation pass finished")
	}
	return stats, ctx.Err()
}

func (r *Reconciler) repair(ctx context.Context, entry models.Inconsistency) error {
	switch entry.Kind {
	case models.KindFollowAsymmetry:
		return r.follows.Repair(ctx, entry.SubjectID, entry.TargetID, entry.Detail)
	case models.KindCommentCountDrift:
		err := r.comments.RecountComments(ctx, entry.SubjectID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	case models.KindOrphanBlob:
		if r.blobs == nil {
			return errors.New("no blob store configured")
		}
		return r.blobs.Delete(ctx, entry.SubjectID)
	case models.KindProfileMissing:
		id, err := r.idp.GetIdentity(ctx, entry.SubjectID)
		if code := identity.CodeOf(err); code == identity.CodeUserNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return r.profiles.Ensure(ctx, id.UID, models.FallbackDisplayName(entry.Detail, id.Email), id.Email)
	}
	return fmt.Errorf("unknown inconsistency kind %q", entry.Kind)
}
