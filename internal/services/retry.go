package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/identity"
	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/storage"
	"github.com/anonto42/chyrp-lite/backend/pkg/config"
)

// RetryPolicy retries idempotent store operations with exponential backoff.
// MaxAttempts counts the first call; a value of 1 or less disables retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
	}
}

// NoRetry calls each operation once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, storage.ErrStorageUnavailable):
		return false
	case models.IsCode(err, models.CodeNotFound),
		models.IsCode(err, models.CodeValidation),
		models.IsCode(err, models.CodeConflict),
		models.IsCode(err, models.CodeForbidden),
		models.IsCode(err, models.CodeUnauthorized):
		return false
	case identity.CodeOf(err) != "":
		return false
	}
	return true
}

// Do runs fn until it succeeds, fails permanently or runs out of attempts. The
// attempt number starts at 1.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(attempt int) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(attempt)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if p.MaxAttempts <= 1 {
		return fn(1)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(p.MaxAttempts-1)), ctx)
	return backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("retry_in", wait).Msg("Retrying store operation")
	})
}

// Create retries a create keyed by a caller-chosen ID. A conflict on a later
// attempt means an earlier attempt landed, so it counts as success.
func (p RetryPolicy) Create(ctx context.Context, op string, fn func() error) error {
	return p.Do(ctx, op, func(attempt int) error {
		err := fn()
		if attempt > 1 && errors.Is(err, models.ErrConflict) {
			return nil
		}
		return err
	})
}
