package db

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"
)

const defaultTxMaxAttempts = 5

type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// OnRetry is called before every re-run; nil is allowed.
	OnRetry func(attempt int, err error)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     defaultTxMaxAttempts,
		InitialInterval: 25 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// WithTxRetry runs fn inside a transaction and re-runs the whole transaction
// when it fails with a retryable storage error. Any other error from fn is
// returned as is and the transaction is rolled back.
func WithTxRetry(ctx context.Context, conn *gorm.DB, policy RetryPolicy, fn func(tx *gorm.DB) error) error {
	attempts := policy.MaxAttempts
	if attempts == 0 {
		attempts = defaultTxMaxAttempts
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		txErr := conn.WithContext(ctx).Transaction(fn)
		if txErr == nil {
			return struct{}{}, nil
		}
		if !IsRetryable(txErr) {
			return struct{}{}, backoff.Permanent(txErr)
		}
		if policy.OnRetry != nil && uint(attempt) < attempts {
			policy.OnRetry(attempt, txErr)
		}
		return struct{}{}, txErr
	},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(attempts),
	)
	return err
}
