package guard

import "sync"

// Registry holds the process's circuit breakers keyed by dependency name.
// Breakers are constructed once by the composition root and injected into
// consumers; there are no package-level singletons.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// Register adds a breaker under its dependency name.
func (r *Registry) Register(name string, cb *CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[name] = cb
}

// Get returns the breaker for a dependency, or nil.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// AnyOpen reports whether any registered breaker is currently OPEN.
func (r *Registry) AnyOpen() (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, cb := range r.breakers {
		if cb.State() == StateOpen {
			return true, name
		}
	}
	return false, ""
}

// Statuses returns a snapshot of every registered breaker.
func (r *Registry) Statuses() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.GetStatus()
	}
	return out
}
