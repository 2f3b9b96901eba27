package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaga(t *testing.T) {
	ctx := context.Background()

	record := func(log *[]string, name string, err error) func(context.Context) error {
		return func(context.Context) error {
			*log = append(*log, name)
			return err
		}
	}

	t.Run("all steps succeed", func(t *testing.T) {
		var calls []string
		err := Saga{Flow: "test", Compensate: true, Retry: NoRetry}.Run(ctx,
			Step{Name: "a", Do: record(&calls, "a", nil), Undo: record(&calls, "undo a", nil)},
			Step{Name: "b", Do: record(&calls, "b", nil)},
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, calls)
	})

	t.Run("first step failure is returned as is", func(t *testing.T) {
		var calls []string
		err := Saga{Flow: "test", Compensate: true, Retry: NoRetry}.Run(ctx,
			Step{Name: "a", Do: record(&calls, "a", errFlaky), Undo: record(&calls, "undo a", nil)},
			Step{Name: "b", Do: record(&calls, "b", nil)},
		)
		assert.Equal(t, errFlaky, err)
		assert.Equal(t, []string{"a"}, calls)
	})

	t.Run("later failure undoes in reverse", func(t *testing.T) {
		var calls []string
		err := Saga{Flow: "test", Compensate: true, Retry: NoRetry}.Run(ctx,
			Step{Name: "a", Do: record(&calls, "a", nil), Undo: record(&calls, "undo a", nil)},
			Step{Name: "b", Do: record(&calls, "b", nil), Undo: record(&calls, "undo b", nil)},
			Step{Name: "c", Do: record(&calls, "c", errFlaky)},
		)
		var partial *PartialFailureError
		require.True(t, errors.As(err, &partial))
		assert.True(t, partial.Compensated)
		assert.Equal(t, "c", partial.Step)
		assert.ErrorIs(t, err, errFlaky)
		assert.Equal(t, []string{"a", "b", "c", "undo b", "undo a"}, calls)
	})

	t.Run("without compensation the partial state stays", func(t *testing.T) {
		var calls []string
		err := Saga{Flow: "test", Compensate: false, Retry: NoRetry}.Run(ctx,
			Step{Name: "a", Do: record(&calls, "a", nil), Undo: record(&calls, "undo a", nil)},
			Step{Name: "b", Do: record(&calls, "b", errFlaky)},
		)
		var partial *PartialFailureError
		require.True(t, errors.As(err, &partial))
		assert.False(t, partial.Compensated)
		assert.Equal(t, []string{"a", "b"}, calls)
	})

	t.Run("failed undo is reported", func(t *testing.T) {
		var calls []string
		err := Saga{Flow: "test", Compensate: true, Retry: NoRetry}.Run(ctx,
			Step{Name: "a", Do: record(&calls, "a", nil), Undo: record(&calls, "undo a", errFlaky)},
			Step{Name: "b", Do: record(&calls, "b", errors.New("b failed"))},
		)
		var partial *PartialFailureError
		require.True(t, errors.As(err, &partial))
		assert.False(t, partial.Compensated)
		assert.EqualError(t, partial.Err, "b failed")
	})
}
