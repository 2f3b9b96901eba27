package repositories

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/chyrp-lite/backend/internal/models"
)

func TestUserRepository(t *testing.T) {
	repo := NewPostgresUserRepository(setupTestDB(t))

	user := &models.LocalUser{UID: "u1", Email: "Alice@Example.com", DisplayName: "alice", Password: "hash"}
	require.NoError(t, repo.CreateUser(user))
	assert.NotZero(t, user.ID)

	t.Run("lookup is case insensitive on email", func(t *testing.T) {
		got, err := repo.GetUserByEmail("alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UID)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		err := repo.CreateUser(&models.LocalUser{UID: "u2", Email: "alice@example.com"})
		assert.True(t, models.IsCode(err, models.CodeConflict), "got %v", err)
	})

	t.Run("missing uid is not found", func(t *testing.T) {
		_, err := repo.GetUserByUID("nobody")
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	t.Run("reset token lookup", func(t *testing.T) {
		got, err := repo.GetUserByUID("u1")
		require.NoError(t, err)
		got.ResetTokenHash = "abc"
		require.NoError(t, repo.UpdateUser(got))

		found, err := repo.GetUserByResetToken("abc")
		require.NoError(t, err)
		assert.Equal(t, "u1", found.UID)

		_, err = repo.GetUserByResetToken("")
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	t.Run("delete frees the email", func(t *testing.T) {
		require.NoError(t, repo.DeleteUser("u1"))
		assert.True(t, errors.Is(repo.DeleteUser("u1"), models.ErrNotFound))
		require.NoError(t, repo.CreateUser(&models.LocalUser{UID: "u3", Email: "alice@example.com"}))

		uids, err := repo.ListUIDs()
		require.NoError(t, err)
		assert.Equal(t, []string{"u3"}, uids)
	})
}
