package repositories

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
)

// InconsistencyRepository is the repair ledger of half-applied multi-step
// writes.
type InconsistencyRepository interface {
	Record(entry *models.Inconsistency) error
	ListOpen(limit, maxAttempts int) ([]models.Inconsistency, error)
	ListByKind(kind models.InconsistencyKind, includeResolved bool) ([]models.Inconsistency, error)
	CountOpen() (int64, error)
	MarkResolved(id uint) error
	MarkFailed(id uint, cause error) error
}

type postgresInconsistencyRepository struct {
	db *gorm.DB
}

func NewPostgresInconsistencyRepository(db *gorm.DB) InconsistencyRepository {
	return &postgresInconsistencyRepository{db: db}
}

// Record stores entry unless an open entry with the same kind, subject and
// target already exists. A duplicate with a different detail replaces the
// detail of the open entry, since detail carries the latest intent, and starts
// its attempt count over.
func (r *postgresInconsistencyRepository) Record(entry *models.Inconsistency) error {
	var existing models.Inconsistency
	err := r.db.Where("kind = ? AND subject_id = ? AND target_id = ? AND resolved = ?", entry.Kind, entry.SubjectID, entry.TargetID, false).
		First(&existing).Error
	if err == nil {
		if existing.Detail != entry.Detail {
			err = r.db.Model(&existing).Updates(map[string]interface{}{
				"detail":     entry.Detail,
				"attempts":   0,
				"last_error": "",
			}).Error
			if err != nil {
				return err
			}
			existing.Detail = entry.Detail
			existing.Attempts = 0
			existing.LastError = ""
		}
		*entry = existing
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return r.db.Create(entry).Error
}

// ListOpen returns unresolved entries with the fewest attempts first, oldest
// first among equals. Entries that reached maxAttempts are parked and left
// out; zero means no limit.
func (r *postgresInconsistencyRepository) ListOpen(limit, maxAttempts int) ([]models.Inconsistency, error) {
	var entries []models.Inconsistency
	q := r.db.Where("resolved = ?", false)
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	q = q.Order("attempts ASC").Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entries).Error
	return entries, err
}

func (r *postgresInconsistencyRepository) ListByKind(kind models.InconsistencyKind, includeResolved bool) ([]models.Inconsistency, error) {
	var entries []models.Inconsistency
	q := r.db.Where("kind = ?", kind)
	if !includeResolved {
		q = q.Where("resolved = ?", false)
	}
	err := q.Order("created_at DESC").Find(&entries).Error
	return entries, err
}

func (r *postgresInconsistencyRepository) CountOpen() (int64, error) {
	var count int64
	err := r.db.Model(&models.Inconsistency{}).Where("resolved = ?", false).Count(&count).Error
	return count, err
}

func (r *postgresInconsistencyRepository) MarkResolved(id uint) error {
	now := time.Now()
	return r.db.Model(&models.Inconsistency{}).Where("id = ?", id).
		Updates(map[string]interface{}{"resolved": true, "resolved_at": &now}).Error
}

func (r *postgresInconsistencyRepository) MarkFailed(id uint, cause error) error {
	return r.db.Model(&models.Inconsistency{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + ?", 1),
			"last_error": cause.Error(),
		}).Error
}
