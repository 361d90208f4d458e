package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for admission decisions.
var (
	rateLimitAdmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_rate_limit_admissions_total",
		Help: "Total number of catalog calls admitted by the rate limiter",
	})

	rateLimitDelaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_rate_limit_delays_total",
		Help: "Total number of times a caller had to sleep for a free admission slot",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_rate_limit_wait_seconds",
		Help:    "Time spent waiting for an admission slot",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// Limiter admits at most MaxCalls calls within any trailing window.
// A single Limiter is shared by every worker of a run.
type Limiter struct {
	mu       sync.Mutex
	calls    []time.Time
	maxCalls int
	window   time.Duration
	logger   zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a sliding-window limiter.
func NewLimiter(maxCalls int, window time.Duration, logger zerolog.Logger) (*Limiter, error) {
	if maxCalls <= 0 {
		return nil, fmt.Errorf("max calls per window must be > 0 (got %d)", maxCalls)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be > 0 (got %s)", window)
	}

	return &Limiter{
		calls:    make([]time.Time, 0, maxCalls),
		maxCalls: maxCalls,
		window:   window,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}, nil
}

// Wait blocks until an admission slot is free and reserves it.
// It only fails if ctx ends while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	start := l.now()
	delayed := false

	for {
		state, admitted := l.tryAdmit()
		if admitted {
			rateLimitAdmissionsTotal.Inc()
			if delayed {
				rateLimitWaitSeconds.Observe(l.now().Sub(start).Seconds())
			}
			return nil
		}

		if !delayed {
			delayed = true
			rateLimitDelaysTotal.Inc()
		}

		backoff := state.Backoff()
		l.logger.Debug().
			Int("in_window", state.InWindow).
			Int("max_calls", state.MaxCalls).
			Dur("backoff", backoff).
			Msg("Rate limit window saturated - waiting for slot")

		if err := l.sleep(ctx, backoff); err != nil {
			return fmt.Errorf("wait for admission slot: %w", err)
		}
	}
}

// State returns a snapshot of the current window.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)
	return l.snapshot(now)
}

// tryAdmit is the critical section: evict, count, decide, enqueue.
func (l *Limiter) tryAdmit() (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	state := l.snapshot(now)
	if state.Saturated() {
		return state, false
	}

	l.calls = append(l.calls, now)
	state.InWindow++
	return state, true
}

// evict drops timestamps that are no longer inside the trailing window.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)

	n := 0
	for n < len(l.calls) && !l.calls[n].After(cutoff) {
		n++
	}
	if n > 0 {
		l.calls = append(l.calls[:0], l.calls[n:]...)
	}
}

func (l *Limiter) snapshot(now time.Time) State {
	state := State{
		InWindow: len(l.calls),
		MaxCalls: l.maxCalls,
		Window:   l.window,
		Now:      now,
	}
	if len(l.calls) > 0 {
		state.Oldest = l.calls[0]
	}
	return state
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
