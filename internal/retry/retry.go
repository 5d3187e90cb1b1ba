// Package retry wraps outbound calls with bounded, jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/fylle/workflow-mcp/internal/shared/metrics"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts counts the initial attempt. Values below 1 mean a single attempt.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter adds up to Jitter*delay of random extra wait.
	Jitter float64
	// AttemptTimeout bounds each individual attempt; zero disables it.
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.5,
		AttemptTimeout: time.Second,
	}
}

// Backoff returns the wait before the attempt following attempt n (1-based).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialBackoff) * math.Pow(mult, float64(n-1))
	ceiling := float64(p.MaxBackoff)
	if ceiling > 0 && delay > ceiling {
		delay = ceiling
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * rand.Float64() //nolint:gosec // jitter doesn't need crypto rand
	}
	if ceiling > 0 && delay > ceiling {
		delay = ceiling
	}
	return time.Duration(delay)
}

// Transport executes operations under a Policy. It is safe for concurrent use.
type Transport struct {
	policy   Policy
	classify Classifier
	logger   *slog.Logger
	metrics  metrics.Collector
}

type Option func(*Transport)

func WithClassifier(c Classifier) Option {
	return func(t *Transport) { t.classify = c }
}

func NewTransport(policy Policy, logger *slog.Logger, collector metrics.Collector, opts ...Option) *Transport {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		policy:   policy,
		classify: IsRetryable,
		logger:   logger,
		metrics:  collector,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Policy() Policy {
	return t.policy
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. It returns the number of attempts made. When the
// budget is spent the last error is returned unchanged. When ctx expires the
// result is a *DeadlineExceededError; when ctx is canceled, ctx.Err().
func (t *Transport) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := t.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return attempt - 1, t.abort(ctx, operation, attempt-1, lastErr)
		}

		err := t.runAttempt(ctx, fn)
		if err == nil {
			if attempt > 1 {
				t.logger.Info("Outbound call succeeded after retry",
					"operation", operation,
					"attempts", attempt)
			}
			return attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempt, t.abort(ctx, operation, attempt, lastErr)
		}
		if !t.classify(err) {
			return attempt, err
		}
		if attempt >= maxAttempts {
			t.logger.Warn("Outbound call failed, retries exhausted",
				"operation", operation,
				"attempts", attempt,
				"error", err)
			return attempt, err
		}

		delay := t.policy.Backoff(attempt)
		t.metrics.RecordRetry(ctx, operation, attempt+1)
		t.logger.Warn("Outbound call failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"next_attempt_in", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, t.abort(ctx, operation, attempt, lastErr)
		case <-timer.C:
		}
	}
}

func (t *Transport) runAttempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if t.policy.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, t.policy.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func (t *Transport) abort(ctx context.Context, operation string, attempts int, lastErr error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.logger.Warn("Outbound call aborted by deadline",
			"operation", operation,
			"attempts", attempts)
		return &DeadlineExceededError{Operation: operation, Attempts: attempts, LastError: lastErr}
	}
	return ctx.Err()
}

// Call is Do for operations that produce a value.
func Call[T any](ctx context.Context, t *Transport, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	_, err := t.Do(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
