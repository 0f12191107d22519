package cache

// Metrics receives cache lifecycle events.
type Metrics interface {
	Hit()
	Miss()
	// Eviction is a removal made to free capacity.
	Eviction()
	// Expire is a removal of an entry past its TTL.
	Expire()
}

// NoopMetrics ignores every event.
type NoopMetrics struct{}

func (NoopMetrics) Hit()      {}
func (NoopMetrics) Miss()     {}
func (NoopMetrics) Eviction() {}
func (NoopMetrics) Expire()   {}
