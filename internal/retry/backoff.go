package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/conclavehq/conclave/internal/config"
	"github.com/conclavehq/conclave/internal/model"
)

// Delay computes the backoff delay before the given retry attempt.
// Attempt 0 is the first retry.
//
// The base delay grows exponentially and is capped at the policy maximum,
// then jittered by ±JitterFactor to avoid synchronized retry storms:
//
//	delay = min(initial * multiplier^attempt, max) * (1 ± jitter)
func Delay(policy model.RetryPolicy, attempt int) time.Duration {
	return delayWithRand(policy, attempt, rand.Float64)
}

// delayWithRand computes the jittered delay using the given uniform source.
// Split out so tests can pin the jitter.
func delayWithRand(policy model.RetryPolicy, attempt int, uniform func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(policy.InitialBackoff) * math.Pow(policy.Multiplier, float64(attempt))
	if max := float64(policy.MaxBackoff); base > max {
		base = max
	}

	if policy.JitterFactor > 0 {
		// uniform() in [0,1) maps to a factor in [1-jitter, 1+jitter)
		factor := 1 + policy.JitterFactor*(2*uniform()-1)
		base *= factor
	}

	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

// PolicyFromConfig converts a configured retry policy into the runtime policy.
func PolicyFromConfig(cfg config.RetryPolicyConfig) model.RetryPolicy {
	return model.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff(),
		Multiplier:     cfg.Multiplier,
		MaxBackoff:     cfg.MaxBackoff(),
		JitterFactor:   cfg.JitterFactor,
	}
}

// Do runs fn up to policy.MaxAttempts times, sleeping the jittered backoff
// delay between attempts. Only errors that classify as Retryable are retried;
// permanent errors and context cancellation return immediately.
//
// fn must be idempotent, or wrapped in a check-then-act guard by the caller.
func Do(ctx context.Context, policy model.RetryPolicy, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if Classify(lastErr) != Retryable {
			return lastErr
		}

		// No sleep after the final attempt
		if attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Delay(policy, attempt)):
		}
	}

	return lastErr
}
