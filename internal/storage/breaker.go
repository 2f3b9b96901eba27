package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
)

// ErrStorageUnavailable is returned while the breaker is open.
var ErrStorageUnavailable = errors.New("blob storage temporarily unavailable")

// BreakerStore fails uploads fast after repeated storage failures.
type BreakerStore struct {
	next BlobStore
	cb   *gobreaker.CircuitBreaker[*Object]
}

// NewBreakerStore opens after maxFailures consecutive failures and tries again
// after timeout.
func NewBreakerStore(next BlobStore, maxFailures uint32, timeout time.Duration) *BreakerStore {
	const name = "blob-storage"
	if maxFailures == 0 {
		maxFailures = 5
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	cb := gobreaker.NewCircuitBreaker[*Object](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about storage health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

func (s *BreakerStore) Upload(ctx context.Context, objectPath string, r io.Reader, opts UploadOptions) (*Object, error) {
	obj, err := s.cb.Execute(func() (*Object, error) {
		return s.next.Upload(ctx, objectPath, r, opts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrStorageUnavailable
	}
	return obj, err
}

// Delete bypasses the breaker so compensation still runs while uploads are
// being rejected.
func (s *BreakerStore) Delete(ctx context.Context, objectPath string) error {
	return s.next.Delete(ctx, objectPath)
}

// State reports the breaker state.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}
