// Package retry provides bounded retry with exponential backoff and
// per-provider circuit breaking for outbound provider calls.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/signalrun/internal/errs"
)

// Policy controls the backoff schedule. MaxAttempts counts retries after
// the initial call: a policy of 3 makes up to 4 calls in total.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy is base 500ms doubling per retry, capped at 10s, 3 retries.
// Three transient failures in a row are absorbed before giving up, so a
// provider that rate-limits a burst still serves the recovering call.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// backoff computes base * 2^attempt capped at MaxDelay, with +-20% jitter.
func (p Policy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

// Do runs fn once plus up to MaxAttempts retries. Only retryable kinds are
// attempted again; provider-empty, timeout and cancellation return
// immediately.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt - 1)
			log.Debug().
				Str("op", op).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("retrying after backoff")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errs.E(errs.KindCancelled, op, ctx.Err())
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errs.Retryable(lastErr) {
			return lastErr
		}
	}
	return errs.E(errs.KindTransientNetwork, op, lastErr)
}

// BreakerManager holds one gobreaker per logical target, typically per provider.
type BreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	policy   Policy
}

// BreakerConfig tunes one breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	Cooldown            time.Duration
}

// NewBreakerManager creates a manager with the given retry policy.
func NewBreakerManager(policy Policy) *BreakerManager {
	return &BreakerManager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		policy:   policy,
	}
}

// AddTarget registers a breaker for a provider. Open after the configured
// consecutive failures; half-open probe after the cooldown.
func (bm *BreakerManager) AddTarget(name string, cfg BreakerConfig) {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // single probe in half-open
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Empty responses and cancellation are not provider health failures.
			if err == nil {
				return true
			}
			k := errs.KindOf(err)
			return k == errs.KindProviderEmpty || k == errs.KindCancelled
		},
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.breakers[name] = gobreaker.NewCircuitBreaker(settings)
}

// Call runs fn through retry and the target's breaker. A missing breaker
// passes through with retry only.
func (bm *BreakerManager) Call(ctx context.Context, target string, fn func(ctx context.Context) error) error {
	bm.mu.RLock()
	breaker, ok := bm.breakers[target]
	bm.mu.RUnlock()

	if !ok {
		return Do(ctx, bm.policy, target, fn)
	}

	return Do(ctx, bm.policy, target, func(ctx context.Context) error {
		_, err := breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Fail fast: the breaker refusing a request is not retryable here.
			return errs.E(errs.KindFatal, target, err)
		}
		return err
	})
}

// State returns the named breaker's state string, or "closed" if unregistered.
func (bm *BreakerManager) State(target string) string {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	if b, ok := bm.breakers[target]; ok {
		return b.State().String()
	}
	return gobreaker.StateClosed.String()
}
