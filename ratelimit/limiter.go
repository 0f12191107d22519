// Package ratelimit implements a sliding-window request limiter used to
// protect this service's own endpoints.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Rule is the limit for one named limiter.
type Rule struct {
	Limit  int           `yaml:"limit" validate:"min=1"`
	Window time.Duration `yaml:"window" validate:"gt=0"`
}

// Result is the outcome of a single check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Metrics receives limiter outcomes: "allowed", "denied" or "store_error".
type Metrics interface {
	Decision(limiter, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) Decision(string, string) {}

// Limiter counts accepted requests per key over a trailing window.
type Limiter struct {
	name   string
	rule   Rule
	store  Store
	logger *slog.Logger

	metrics Metrics
	now     func() time.Time

	stop      chan struct{}
	sweepOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(l *Limiter) {
		if m != nil {
			l.metrics = m
		}
	}
}

func New(name string, rule Rule, store Store, opts ...Option) *Limiter {
	l := &Limiter{
		name:    name,
		rule:    rule,
		store:   store,
		logger:  slog.Default(),
		metrics: noopMetrics{},
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Name() string { return l.name }

func (l *Limiter) Rule() Rule { return l.rule }

// Check records a request for key if the window has room.
//
// A store error fails open: the request is allowed and the error is logged.
// The in-memory store never errors, so this only applies to remote stores.
func (l *Limiter) Check(ctx context.Context, key string) Result {
	now := l.now()
	hit, err := l.store.Hit(ctx, l.storeKey(key), now, l.rule.Window, l.rule.Limit)
	if err != nil {
		l.logger.Warn("rate limit store failed, allowing request",
			"limiter", l.name, "error", err)
		l.metrics.Decision(l.name, "store_error")
		return Result{Allowed: true, Limit: l.rule.Limit, Remaining: l.rule.Limit}
	}

	res := Result{
		Allowed:   hit.Allowed,
		Limit:     l.rule.Limit,
		Remaining: l.rule.Limit - hit.Count,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}

	if !hit.Allowed {
		res.RetryAfter = l.rule.Window
		if !hit.Oldest.IsZero() {
			res.RetryAfter = hit.Oldest.Add(l.rule.Window).Sub(now)
		}
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
		l.metrics.Decision(l.name, "denied")
		return res
	}

	l.metrics.Decision(l.name, "allowed")
	return res
}

// Reset forgets every request recorded for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, l.storeKey(key))
}

// Sweep drops keys idle for longer than grace.
func (l *Limiter) Sweep(ctx context.Context, grace time.Duration) int {
	if grace <= 0 {
		grace = l.rule.Window
	}
	n, err := l.store.Sweep(ctx, l.now(), grace)
	if err != nil {
		l.logger.Warn("rate limit sweep failed", "limiter", l.name, "error", err)
	}
	return n
}

// StartSweeper runs Sweep on its own goroutine until Close. An interval of
// zero leaves the sweeper off; lazy pruning still keeps every key correct.
func (l *Limiter) StartSweeper(interval, grace time.Duration) {
	if interval <= 0 {
		return
	}
	l.sweepOnce.Do(func() {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			t := time.NewTicker(interval)
			defer t.Stop()

			for {
				select {
				case <-l.stop:
					return
				case <-t.C:
					if n := l.Sweep(context.Background(), grace); n > 0 {
						l.logger.Debug("swept idle rate limit keys", "limiter", l.name, "removed", n)
					}
				}
			}
		}()
	})
}

func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.stop)
	})
	l.wg.Wait()
}

func (l *Limiter) storeKey(key string) string {
	return l.name + ":" + key
}
