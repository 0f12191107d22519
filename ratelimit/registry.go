package ratelimit

import (
	"sort"
	"time"
)

// Registry holds independent limiters keyed by purpose, for example
// "general" or "archive".
type Registry struct {
	limiters map[string]*Limiter
}

// NewRegistry builds one limiter per rule. newStore is called once per rule so
// in-memory limiters never share state.
func NewRegistry(rules map[string]Rule, newStore func() Store, opts ...Option) *Registry {
	r := &Registry{limiters: make(map[string]*Limiter, len(rules))}
	for name, rule := range rules {
		r.limiters[name] = New(name, rule, newStore(), opts...)
	}
	return r
}

// Get returns nil for an unknown name. Middleware treats nil as "no limit".
func (r *Registry) Get(name string) *Limiter {
	if r == nil {
		return nil
	}
	return r.limiters[name]
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) StartSweepers(interval, grace time.Duration) {
	for _, l := range r.limiters {
		l.StartSweeper(interval, grace)
	}
}

func (r *Registry) Close() {
	for _, l := range r.limiters {
		l.Close()
	}
}
