// Package rotator spreads upstream calls across a pool of API keys and keeps
// throttled keys out of rotation for a cooldown period.
package rotator

import (
	"strings"
	"sync"
	"time"
)

// DefaultCooldown is how long a throttled key stays out of rotation.
const DefaultCooldown = 60 * time.Second

// KeyUsage is a snapshot of one pool entry. Key is masked.
type KeyUsage struct {
	Key              string     `json:"key"`
	UseCount         int        `json:"useCount"`
	RateLimitedUntil *time.Time `json:"rateLimitedUntil,omitempty"`
	Cooling          bool       `json:"cooling"`
}

type keyRecord struct {
	key              string
	useCount         int
	rateLimitedUntil time.Time
}

// Events receives rotator decisions.
type Events interface {
	KeySelected(degraded bool)
	KeyRateLimited()
}

type noopEvents struct{}

func (noopEvents) KeySelected(bool) {}
func (noopEvents) KeyRateLimited()  {}

// Rotator is safe for concurrent use. State lives only in memory.
type Rotator struct {
	mu       sync.Mutex
	pool     []*keyRecord
	index    map[string]*keyRecord
	cooldown time.Duration
	events   Events
	now      func() time.Time
}

type Option func(*Rotator)

func WithClock(now func() time.Time) Option {
	return func(r *Rotator) { r.now = now }
}

func WithEvents(e Events) Option {
	return func(r *Rotator) {
		if e != nil {
			r.events = e
		}
	}
}

// New builds a pool in the given order. Blank and duplicate keys are dropped.
func New(keys []string, cooldown time.Duration, opts ...Option) *Rotator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	r := &Rotator{
		index:    make(map[string]*keyRecord, len(keys)),
		cooldown: cooldown,
		events:   noopEvents{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := r.index[k]; dup {
			continue
		}
		rec := &keyRecord{key: k}
		r.pool = append(r.pool, rec)
		r.index[k] = rec
	}
	return r
}

func (r *Rotator) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pool)
}

// Keys returns the pool in configuration order, unmasked.
func (r *Rotator) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.pool))
	for i, rec := range r.pool {
		out[i] = rec.key
	}
	return out
}

// LeastUsedKey picks the least used key that is not cooling down, ties going
// to the earlier key in the pool, and counts the use. When every key is cooling
// down it still returns the key whose cooldown ends first; callers must expect
// that key to be throttled. The boolean is false only for an empty pool.
func (r *Rotator) LeastUsedKey() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pool) == 0 {
		return "", false
	}

	now := r.now()
	var best *keyRecord
	for _, rec := range r.pool {
		if now.Before(rec.rateLimitedUntil) {
			continue
		}
		if best == nil || rec.useCount < best.useCount {
			best = rec
		}
	}

	degraded := false
	if best == nil {
		degraded = true
		for _, rec := range r.pool {
			if best == nil || rec.rateLimitedUntil.Before(best.rateLimitedUntil) {
				best = rec
			}
		}
	}

	best.useCount++
	r.events.KeySelected(degraded)
	return best.key, true
}

// MarkRateLimited starts the cooldown for key. Unknown keys are ignored.
func (r *Rotator) MarkRateLimited(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.index[key]
	if !ok {
		return
	}
	rec.rateLimitedUntil = r.now().Add(r.cooldown)
	r.events.KeyRateLimited()
}

// Stats returns a masked snapshot of the pool in configuration order.
func (r *Rotator) Stats() []KeyUsage {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]KeyUsage, 0, len(r.pool))
	for _, rec := range r.pool {
		u := KeyUsage{
			Key:      MaskKey(rec.key),
			UseCount: rec.useCount,
			Cooling:  now.Before(rec.rateLimitedUntil),
		}
		if !rec.rateLimitedUntil.IsZero() {
			until := rec.rateLimitedUntil
			u.RateLimitedUntil = &until
		}
		out = append(out, u)
	}
	return out
}

// MaskKey keeps the first and last four characters of a credential.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}
