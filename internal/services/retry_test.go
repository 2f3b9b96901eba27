package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/chyrp-lite/backend/internal/identity"
	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/storage"
)

func TestRetryPolicy_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		err := fastRetry.Do(ctx, "op", func(int) error {
			calls++
			if calls < 3 {
				return errFlaky
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := fastRetry.Do(ctx, "op", func(int) error {
			calls++
			return errFlaky
		})
		assert.ErrorIs(t, err, errFlaky)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		for _, permanent := range []error{
			models.NewNotFoundError("post", "p1"),
			models.NewValidationError("bad"),
			identity.NewError(identity.CodeEmailExists, nil),
			storage.ErrStorageUnavailable,
			context.Canceled,
		} {
			calls := 0
			err := fastRetry.Do(ctx, "op", func(int) error {
				calls++
				return permanent
			})
			assert.True(t, errors.Is(err, permanent), "got %v", err)
			assert.Equal(t, 1, calls, "%v", permanent)
		}
	})

	t.Run("no retry policy calls once", func(t *testing.T) {
		calls := 0
		_ = NoRetry.Do(ctx, "op", func(int) error {
			calls++
			return errFlaky
		})
		assert.Equal(t, 1, calls)
	})
}

func TestRetryPolicy_Create(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := fastRetry.Create(ctx, "create", func() error {
		calls++
		if calls == 1 {
			return errFlaky
		}
		return models.ErrConflict
	})
	assert.NoError(t, err, "a conflict after a failed attempt means the first write landed")

	err = fastRetry.Create(ctx, "create", func() error { return models.ErrConflict })
	assert.ErrorIs(t, err, models.ErrConflict, "a conflict on the first attempt is a real duplicate")
}
