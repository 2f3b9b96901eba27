package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/chyrp-lite/backend/internal/services"
)

type countingReconciler struct {
	runs atomic.Int32
}

func (r *countingReconciler) Run(context.Context) (services.ReconcileStats, error) {
	r.runs.Add(1)
	return services.ReconcileStats{Resolved: 1}, nil
}

func TestScheduler(t *testing.T) {
	r := &countingReconciler{}
	s, err := NewScheduler("@every 1s", r)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Entries())

	s.Start()
	require.Eventually(t, func() bool { return r.runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestSchedulerDisabled(t *testing.T) {
	s, err := NewScheduler("", &countingReconciler{})
	require.NoError(t, err)
	assert.Zero(t, s.Entries())
	s.Start()
	s.Stop()
}

func TestSchedulerBadSpec(t *testing.T) {
	_, err := NewScheduler("every now and then", &countingReconciler{})
	assert.Error(t, err)
}
