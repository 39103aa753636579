// Package ratelimit caps per-store request rate and concurrency so one slow
// or rate-limited storefront cannot starve the rest of the pool.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/saddleworth/pricewatch/internal/pricing"
	"github.com/saddleworth/pricewatch/internal/telemetry"
)

// ErrCoolingDown is returned by Acquire while a store-wide cooldown is
// active. Callers should re-queue the job rather than block.
var ErrCoolingDown = errors.New("store is cooling down")

// StoreLimits overrides the default limits for one store.
type StoreLimits struct {
	RPS           float64
	Burst         int
	MaxConcurrent int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	DefaultSlots int
	Stores       map[string]StoreLimits
}

type storeState struct {
	limiter       *rate.Limiter
	slots         chan struct{}
	cooldownUntil time.Time
}

// Limiter manages per-store limits and cooldowns.
type Limiter struct {
	mu     sync.Mutex
	states map[string]*storeState
	cfg    Config
	clock  pricing.Clock
}

// New creates a Limiter.
func New(cfg Config, clock pricing.Clock) *Limiter {
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 1
	}
	if cfg.DefaultSlots <= 0 {
		cfg.DefaultSlots = 1
	}
	return &Limiter{
		states: make(map[string]*storeState),
		cfg:    cfg,
		clock:  clock,
	}
}

// Acquire blocks until the store has a free concurrency slot and a rate
// token, then returns a release function. It fails fast during a cooldown.
func (l *Limiter) Acquire(ctx context.Context, store string) (func(), error) {
	state := l.state(store)

	l.mu.Lock()
	cooling := state.cooldownUntil.After(l.clock.Now())
	l.mu.Unlock()
	if cooling {
		return nil, fmt.Errorf("acquire %s: %w", store, ErrCoolingDown)
	}

	select {
	case state.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("slot wait for %s: %w", store, ctx.Err())
	}

	start := time.Now()
	if err := state.limiter.Wait(ctx); err != nil {
		<-state.slots
		return nil, fmt.Errorf("rate wait for %s: %w", store, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(store, waited)
	}

	return func() { <-state.slots }, nil
}

// Cooldown pauses the whole store for d. Used when a fetch hits a captcha
// or rate-limit wall: backing off just one job would keep tripping it.
func (l *Limiter) Cooldown(store string, d time.Duration) {
	state := l.state(store)
	l.mu.Lock()
	until := l.clock.Now().Add(d)
	if until.After(state.cooldownUntil) {
		state.cooldownUntil = until
	}
	l.mu.Unlock()
	telemetry.ObserveCooldown(store)
}

// CooldownRemaining reports how long the store stays paused; zero when the
// store is available.
func (l *Limiter) CooldownRemaining(store string) time.Duration {
	state := l.state(store)
	l.mu.Lock()
	defer l.mu.Unlock()
	if remaining := state.cooldownUntil.Sub(l.clock.Now()); remaining > 0 {
		return remaining
	}
	return 0
}

func (l *Limiter) state(store string) *storeState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.states[store]; ok {
		return s
	}

	rps := l.cfg.DefaultRPS
	burst := l.cfg.DefaultBurst
	slots := l.cfg.DefaultSlots
	if limits, ok := l.cfg.Stores[store]; ok {
		if limits.RPS > 0 {
			rps = limits.RPS
		}
		if limits.Burst > 0 {
			burst = limits.Burst
		}
		if limits.MaxConcurrent > 0 {
			slots = limits.MaxConcurrent
		}
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}

	s := &storeState{
		limiter: rate.NewLimiter(limit, burst),
		slots:   make(chan struct{}, slots),
	}
	l.states[store] = s
	return s
}
