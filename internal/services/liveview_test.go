package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveView_LastSnapshotWins(t *testing.T) {
	view := NewLiveView[[]int]()
	_, ok := view.Snapshot()
	assert.False(t, ok)

	ch, cancel := view.Subscribe()
	defer cancel()

	sequences := [][]int{{1}, {1, 2}, {3}, {}, {4, 5, 6}}
	for _, s := range sequences {
		view.Replace(s)
	}

	snap, ok := view.Snapshot()
	require.True(t, ok)
	assert.Equal(t, []int{4, 5, 6}, snap.Value, "held state equals the latest delivery, not a merge")
	assert.Equal(t, uint64(len(sequences)), snap.Version)

	select {
	case got := <-ch:
		assert.Equal(t, snap, got, "a slow subscriber only sees the latest snapshot")
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
	select {
	case got := <-ch:
		t.Fatalf("stale snapshot %v delivered", got)
	default:
	}
}

func TestLiveView_VersionsNeverGoBackwards(t *testing.T) {
	view := NewLiveView[int]()
	ch, cancel := view.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 1000; i++ {
			view.Replace(i)
		}
		cancel()
	}()

	var last uint64
	for snap := range ch {
		assert.Greater(t, snap.Version, last)
		assert.Equal(t, int(snap.Version), snap.Value)
		last = snap.Version
	}
	<-done
}

func TestLiveView_SubscribeAfterReplaceGetsCurrent(t *testing.T) {
	view := NewLiveView[string]()
	view.Replace("a")
	view.Replace("b")

	ch, cancel := view.Subscribe()
	defer cancel()
	got := <-ch
	assert.Equal(t, "b", got.Value)
	assert.Equal(t, uint64(2), got.Version)
}

func TestLiveView_Close(t *testing.T) {
	view := NewLiveView[string]()
	ch, cancel := view.Subscribe()
	view.Close()

	_, open := <-ch
	assert.False(t, open)
	cancel()

	view.Replace("ignored")
	_, ok := view.Snapshot()
	assert.False(t, ok)

	late, _ := view.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestRunLive(t *testing.T) {
	t.Run("reopens after a failure", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var opens atomic.Int32
		var got atomic.Int32
		done := make(chan error, 1)
		go func() {
			done <- runLive(ctx, "test", fastRetry, false, func(ctx context.Context, deliver func(int)) error {
				if opens.Add(1) == 1 {
					return errFlaky
				}
				deliver(42)
				<-ctx.Done()
				return nil
			}, func(v int) { got.Store(int32(v)) })
		}()

		require.Eventually(t, func() bool { return got.Load() == 42 }, time.Second, time.Millisecond)
		cancel()
		assert.NoError(t, <-done)
		assert.Equal(t, int32(2), opens.Load())
	})

	t.Run("gives up after consecutive failures", func(t *testing.T) {
		var opens atomic.Int32
		err := runLive(context.Background(), "test", fastRetry, false, func(context.Context, func(int)) error {
			opens.Add(1)
			return errFlaky
		}, func(int) {})
		assert.True(t, errors.Is(err, errFlaky))
		assert.Equal(t, int32(fastRetry.MaxAttempts), opens.Load())
	})

	t.Run("persistent query outlasts max attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var opens atomic.Int32
		var got atomic.Int32
		done := make(chan error, 1)
		go func() {
			done <- runLive(ctx, "test", fastRetry, true, func(ctx context.Context, deliver func(int)) error {
				if opens.Add(1) <= int32(3*fastRetry.MaxAttempts) {
					return errFlaky
				}
				deliver(7)
				<-ctx.Done()
				return nil
			}, func(v int) { got.Store(int32(v)) })
		}()

		require.Eventually(t, func() bool { return got.Load() == 7 }, 2*time.Second, time.Millisecond)
		cancel()
		assert.NoError(t, <-done)
	})

	t.Run("no retry policy opens once", func(t *testing.T) {
		var opens atomic.Int32
		err := runLive(context.Background(), "test", NoRetry, false, func(context.Context, func(int)) error {
			opens.Add(1)
			return errFlaky
		}, func(int) {})
		assert.Error(t, err)
		assert.Equal(t, int32(1), opens.Load())
	})
}
