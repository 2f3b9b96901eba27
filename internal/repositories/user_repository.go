package repositories

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
)

// UserRepository stores the identities of the local identity provider.
type UserRepository interface {
	CreateUser(user *models.LocalUser) error
	GetUserByUID(uid string) (*models.LocalUser, error)
	GetUserByEmail(email string) (*models.LocalUser, error)
	GetUserByResetToken(tokenHash string) (*models.LocalUser, error)
	UpdateUser(user *models.LocalUser) error
	DeleteUser(uid string) error
	ListUIDs() ([]string, error)
}

// PostgresUserRepository implements UserRepository on gorm. Despite the name it
// runs on any gorm dialect, sqlite included.
type PostgresUserRepository struct {
	db *gorm.DB
}

// NewPostgresUserRepository creates a new PostgresUserRepository
func NewPostgresUserRepository(db *gorm.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func gormError(err error, resource string, id interface{}) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.NewNotFoundError(resource, id)
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(strings.ToLower(err.Error()), "unique"):
		return &models.AppError{Code: models.CodeConflict, Message: resource + " already exists", Err: err}
	}
	return err
}

func (r *PostgresUserRepository) CreateUser(user *models.LocalUser) error {
	user.Email = strings.ToLower(user.Email)
	return gormError(r.db.Create(user).Error, "user", user.Email)
}

func (r *PostgresUserRepository) GetUserByUID(uid string) (*models.LocalUser, error) {
	var user models.LocalUser
	if err := r.db.Where("uid = ?", uid).First(&user).Error; err != nil {
		return nil, gormError(err, "user", uid)
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetUserByEmail(email string) (*models.LocalUser, error) {
	var user models.LocalUser
	if err := r.db.Where("email = ?", strings.ToLower(email)).First(&user).Error; err != nil {
		return nil, gormError(err, "user", email)
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetUserByResetToken(tokenHash string) (*models.LocalUser, error) {
	var user models.LocalUser
	if err := r.db.Where("reset_token_hash = ? AND reset_token_hash <> ''", tokenHash).First(&user).Error; err != nil {
		return nil, gormError(err, "reset code", "")
	}
	return &user, nil
}

func (r *PostgresUserRepository) UpdateUser(user *models.LocalUser) error {
	return gormError(r.db.Save(user).Error, "user", user.UID)
}

// DeleteUser hard-deletes so the email can be registered again.
func (r *PostgresUserRepository) DeleteUser(uid string) error {
	res := r.db.Unscoped().Where("uid = ?", uid).Delete(&models.LocalUser{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("user", uid)
	}
	return nil
}

func (r *PostgresUserRepository) ListUIDs() ([]string, error) {
	var uids []string
	err := r.db.Model(&models.LocalUser{}).Order("id").Pluck("uid", &uids).Error
	return uids, err
}
