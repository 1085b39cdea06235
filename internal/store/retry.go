package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/leadlink/internal/telemetry"
)

// RetryConfig bounds how often a conflicting transaction is retried.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 5
	MaxAttempts uint

	// InitialInterval is the delay before the first retry.
	// Default: 10ms
	InitialInterval time.Duration

	// MaxInterval caps the delay between retries.
	// Default: 250ms
	MaxInterval time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *RetryConfig) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = 10 * time.Millisecond
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 250 * time.Millisecond
	}
}

// RetryOnConflict runs op until it succeeds, fails with an error other than ErrConflict,
// or the attempts are exhausted. The last ErrConflict is returned when attempts run out.
func RetryOnConflict[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	return RetryWhen(ctx, cfg, func(err error) bool { return errors.Is(err, ErrConflict) }, op)
}

// RetryWhen is RetryOnConflict with a caller supplied retryable predicate.
func RetryWhen[T any](ctx context.Context, cfg RetryConfig, retryable func(error) bool, op func() (T, error)) (T, error) {
	cfg.ApplyDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err != nil && !retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.GetMetrics().StoreRetriesTotal.Add(ctx, 1)
			log.Debug().Err(err).Dur("next", next).Msg("Retrying transaction")
		}),
	)
}
