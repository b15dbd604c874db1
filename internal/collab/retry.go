package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	apperrors "github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/errors"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/logger"
)

// RetryPolicy decides how a failed commit-history call is retried.
// Do returns the number of attempts made along with the final error.
type RetryPolicy interface {
	Do(ctx context.Context, op func(ctx context.Context) error) (int, error)
}

// NoRetry calls op exactly once
type NoRetry struct{}

func (NoRetry) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	return 1, op(ctx)
}

// FixedRetry retries retryable errors up to Attempts more times, sleeping
// Delay in between, or longer when the server asked for it.
type FixedRetry struct {
	Attempts int
	Delay    time.Duration
}

func (p FixedRetry) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	log := logger.Named("retry")
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || attempt > p.Attempts || !apperrors.IsRetryable(err) {
			return attempt, err
		}

		wait := p.Delay
		if ra := apperrors.RetryAfter(err); ra > wait {
			wait = ra
		}
		log.Warn("Retrying commit history request",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("%w (retry abandoned: %v)", err, ctx.Err())
		case <-timer.C:
		}
	}
}

// BackoffRetry retries retryable errors with exponential backoff
type BackoffRetry struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p BackoffRetry) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	var lastErr error
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&retryAfterBackOff{BackOff: exp, last: &lastErr}, p.MaxRetries),
		ctx,
	)

	attempts := 0
	log := logger.Named("retry")
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		lastErr = err
		if err != nil && !apperrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Warn("Retrying commit history request",
			zap.Int("attempt", attempts+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil && ctx.Err() != nil && lastErr != nil && err == ctx.Err() {
		err = fmt.Errorf("%w (retry abandoned: %v)", lastErr, ctx.Err())
	}
	return attempts, err
}

// retryAfterBackOff never waits less than the server-requested Retry-After
type retryAfterBackOff struct {
	backoff.BackOff
	last *error
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if ra := apperrors.RetryAfter(*b.last); ra > next {
		return ra
	}
	return next
}
