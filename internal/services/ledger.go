package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
)

// Ledger records half-applied multi-step writes for the reconciler. A nil
// Ledger only logs.
type Ledger struct {
	repo repositories.InconsistencyRepository
}

func NewLedger(repo repositories.InconsistencyRepository) *Ledger {
	return &Ledger{repo: repo}
}

// Record stores an inconsistency. Failing to store it is logged, never
// returned, so the caller's own error stays the one reported.
func (l *Ledger) Record(_ context.Context, entry models.Inconsistency) {
	logger := log.With().
		Str("kind", string(entry.Kind)).
		Str("subject_id", entry.SubjectID).
		Str("target_id", entry.TargetID).
		Logger()
	if l == nil || l.repo == nil {
		logger.Warn().Msg("Inconsistency detected, no ledger configured")
		return
	}
	if err := l.repo.Record(&entry); err != nil {
		logger.Error().Err(err).Msg("Failed to record inconsistency")
		return
	}
	logger.Warn().Uint("entry_id", entry.ID).Msg("Inconsistency recorded")
	l.refreshGauge()
}

func (l *Ledger) refreshGauge() {
	if l == nil || l.repo == nil {
		return
	}
	n, err := l.repo.CountOpen()
	if err != nil {
		log.Error().Err(err).Msg("Failed to count open inconsistencies")
		return
	}
	metrics.InconsistenciesOpen.Set(float64(n))
}

// Open returns up to limit unresolved entries that have failed fewer than
// maxAttempts repairs, least attempted first.
func (l *Ledger) Open(limit, maxAttempts int) ([]models.Inconsistency, error) {
	if l == nil || l.repo == nil {
		return nil, nil
	}
	return l.repo.ListOpen(limit, maxAttempts)
}

func (l *Ledger) resolve(entry models.Inconsistency, cause error) {
	result := "resolved"
	var err error
	if cause == nil {
		err = l.repo.MarkResolved(entry.ID)
	} else {
		result = "failed"
		err = l.repo.MarkFailed(entry.ID, cause)
	}
	metrics.Repairs.WithLabelValues(string(entry.Kind), result).Inc()
	if err != nil {
		log.Error().Err(err).Uint("entry_id", entry.ID).Msg("Failed to update inconsistency")
	}
}
