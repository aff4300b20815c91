package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/taskgraph/internal/logging"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 50ms)
	MaxInterval         time.Duration // Maximum retry interval (default 2s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 10s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerConfig configures the circuit breaker around the store.
type BreakerConfig struct {
	MaxFailures uint32        // Consecutive failures before the circuit opens (default 5)
	OpenTimeout time.Duration // How long the circuit stays open before probing (default 30s)
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// ResilientStore decorates a Store with retries and a circuit breaker.
//
// Domain outcomes (ErrTaskNotFound, ErrStatusConflict) and caller
// cancellation pass straight through and never count against the breaker.
// Everything else is retried, and once retries are exhausted or the circuit
// is open the error wraps ErrStoreUnavailable.
type ResilientStore struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	logger  *slog.Logger
}

// NewResilientStore wraps inner. A nil logger discards breaker state changes.
func NewResilientStore(inner Store, retry RetryConfig, breaker BreakerConfig, logger *slog.Logger) *ResilientStore {
	logger = logging.OrDiscard(logger)

	r := &ResilientStore{inner: inner, retry: retry, logger: logger}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: 1, // One trial request in half-open state
		Interval:    0, // Don't clear counts automatically
		Timeout:     breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breaker.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isPassThrough(err)
		},
	})
	return r
}

// State returns the current circuit breaker state.
func (r *ResilientStore) State() gobreaker.State {
	return r.breaker.State()
}

func isPassThrough(err error) bool {
	return errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrStatusConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// do runs fn with retry and circuit breaker protection.
func do[T any](ctx context.Context, r *ResilientStore, op string, fn func() (T, error)) (T, error) {
	var out T

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := r.breaker.Execute(func() (interface{}, error) {
			return fn()
		})
		if err != nil {
			// Circuit is open - don't retry
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if isPassThrough(err) {
				return backoff.Permanent(err)
			}

			// Other errors will be retried
			r.logger.Debug("store operation failed, retrying", "op", op, "error", err)
			return err
		}

		out = result.(T)
		return nil
	}

	// Create exponential backoff policy
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.MaxElapsedTime = r.retry.MaxElapsedTime
	policy.Multiplier = r.retry.Multiplier
	policy.RandomizationFactor = r.retry.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err == nil {
		return out, nil
	}
	if isPassThrough(err) {
		return out, err
	}
	return out, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func (r *ResilientStore) ListTasks(ctx context.Context) ([]*scheduler.Task, error) {
	return do(ctx, r, "list tasks", func() ([]*scheduler.Task, error) {
		return r.inner.ListTasks(ctx)
	})
}

func (r *ResilientStore) GetTask(ctx context.Context, taskID string) (*scheduler.Task, error) {
	return do(ctx, r, "get task", func() (*scheduler.Task, error) {
		return r.inner.GetTask(ctx, taskID)
	})
}

func (r *ResilientStore) SaveTask(ctx context.Context, task *scheduler.Task) error {
	_, err := do(ctx, r, "save task", func() (struct{}, error) {
		return struct{}{}, r.inner.SaveTask(ctx, task)
	})
	return err
}

func (r *ResilientStore) SetDependencies(ctx context.Context, taskID string, blockedBy []string) error {
	_, err := do(ctx, r, "set dependencies", func() (struct{}, error) {
		return struct{}{}, r.inner.SetDependencies(ctx, taskID, blockedBy)
	})
	return err
}

func (r *ResilientStore) SetBlocksMirror(ctx context.Context, taskID string, blocks []string) error {
	_, err := do(ctx, r, "set blocks mirror", func() (struct{}, error) {
		return struct{}{}, r.inner.SetBlocksMirror(ctx, taskID, blocks)
	})
	return err
}

func (r *ResilientStore) CompareAndSwapStatus(ctx context.Context, taskID string, change StatusChange) (*scheduler.Task, error) {
	return do(ctx, r, "compare and swap status", func() (*scheduler.Task, error) {
		return r.inner.CompareAndSwapStatus(ctx, taskID, change)
	})
}

func (r *ResilientStore) History(ctx context.Context, taskID string) ([]Transition, error) {
	return do(ctx, r, "history", func() ([]Transition, error) {
		return r.inner.History(ctx, taskID)
	})
}

func (r *ResilientStore) Close() error {
	return r.inner.Close()
}
