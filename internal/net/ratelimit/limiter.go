// Package ratelimit provides per-provider token-bucket admission.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// safetyFactor keeps regeneration at 90% of the provider's advertised ceiling.
// The 10% buffer is a hard safety margin, not tunable per call.
const safetyFactor = 0.9

// Limiter admits requests for a single provider using a token bucket.
// Acquire blocks the caller until a token is available; waiters are served
// in FIFO order under contention.
type Limiter struct {
	name    string
	limiter *rate.Limiter
}

// NewLimiter creates a limiter for one provider. perMinute is the provider's
// advertised per-minute ceiling; tokens regenerate at 90% of it.
func NewLimiter(name string, perMinute int, burst int) *Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	rps := safetyFactor * float64(perMinute) / 60.0
	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Acquire blocks until one token is available or the context is cancelled.
// Cancellation is the only way out of the wait; there is no preemption.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a token is immediately available, consuming it if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Tokens returns the number of tokens currently available.
func (l *Limiter) Tokens() float64 {
	return l.limiter.Tokens()
}

// Name returns the provider this limiter guards.
func (l *Limiter) Name() string { return l.name }

// Stats describes one limiter's current state.
type Stats struct {
	Provider        string        `json:"provider"`
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	NextAllowedIn   time.Duration `json:"next_allowed_in"`
}

// Stats returns a snapshot of the limiter state.
func (l *Limiter) Stats() Stats {
	res := l.limiter.Reserve()
	delay := res.Delay()
	res.Cancel()
	return Stats{
		Provider:        l.name,
		RPS:             float64(l.limiter.Limit()),
		Burst:           l.limiter.Burst(),
		TokensAvailable: l.limiter.Tokens(),
		NextAllowedIn:   delay,
	}
}

// Manager holds one limiter per provider. Limiters are constructed up front,
// never lazily on first use.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager creates an empty limiter manager.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// AddProvider registers a limiter for a provider, replacing any existing one.
func (m *Manager) AddProvider(name string, perMinute, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = NewLimiter(name, perMinute, burst)
}

// Acquire blocks until the named provider admits one request. Providers with
// no registered limiter are admitted immediately.
func (m *Manager) Acquire(ctx context.Context, provider string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[provider]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Acquire(ctx)
}

// Stats returns a snapshot per provider.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.limiters))
	for name, l := range m.limiters {
		out[name] = l.Stats()
	}
	return out
}
