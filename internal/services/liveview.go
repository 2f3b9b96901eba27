package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
)

// Snapshot is one full delivery of a live query, numbered in delivery order.
type Snapshot[S any] struct {
	Version uint64 `json:"version"`
	Value   S      `json:"data"`
}

// LiveView holds the latest snapshot of a live query. Every Replace discards
// the previous value entirely.
type LiveView[S any] struct {
	mu      sync.Mutex
	current Snapshot[S]
	ready   bool
	closed  bool
	subs    map[uint64]chan Snapshot[S]
	nextSub uint64
}

func NewLiveView[S any]() *LiveView[S] {
	return &LiveView[S]{subs: map[uint64]chan Snapshot[S]{}}
}

// Replace installs value as the current snapshot and hands it to every
// subscriber. A subscriber that has not read its previous snapshot gets only
// the new one.
func (v *LiveView[S]) Replace(value S) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return v.current.Version
	}
	v.current = Snapshot[S]{Version: v.current.Version + 1, Value: value}
	v.ready = true
	for _, ch := range v.subs {
		offer(ch, v.current)
	}
	return v.current.Version
}

func offer[S any](ch chan Snapshot[S], snap Snapshot[S]) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Snapshot returns the current snapshot. ok is false until the first delivery.
func (v *LiveView[S]) Snapshot() (snap Snapshot[S], ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current, v.ready
}

// Subscribe returns a channel that yields the current snapshot, if any, and
// then every later one. The channel is closed by cancel or Close.
func (v *LiveView[S]) Subscribe() (<-chan Snapshot[S], func()) {
	ch := make(chan Snapshot[S], 1)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		close(ch)
		return ch, func() {}
	}
	id := v.nextSub
	v.nextSub++
	v.subs[id] = ch
	if v.ready {
		ch <- v.current
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if _, ok := v.subs[id]; ok {
				delete(v.subs, id)
				close(ch)
			}
		})
	}
}

// Close ends every subscription. Later Replace calls are ignored.
func (v *LiveView[S]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for id, ch := range v.subs {
		delete(v.subs, id)
		close(ch)
	}
}

var errWatchEnded = errors.New("live query ended")

// runLive keeps a live query open until ctx is cancelled. When the query
// fails it is reopened with backoff capped at retry.MaxInterval. Unless
// persistent is set it gives up after retry.MaxAttempts consecutive failures
// with no delivery in between.
func runLive[S any](ctx context.Context, view string, retry RetryPolicy, persistent bool, watch func(context.Context, func(S)) error, sink func(S)) error {
	logger := log.With().Str("view", view).Logger()
	b := retry.backOff()
	failures := 0
	for {
		var delivered atomic.Bool
		err := watch(ctx, func(value S) {
			delivered.Store(true)
			metrics.SnapshotsDelivered.WithLabelValues(view).Inc()
			sink(value)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errWatchEnded
		}
		logger.Error().Err(err).Msg("Live query delivery failed")

		if delivered.Load() {
			failures = 0
			b.Reset()
		}
		failures++
		if !persistent && failures >= retry.MaxAttempts {
			return err
		}

		wait := b.NextBackOff()
		logger.Info().Dur("retry_in", wait).Int("failures", failures).Msg("Reopening live query")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		metrics.Resubscriptions.WithLabelValues(view).Inc()
	}
}
