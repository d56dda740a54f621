package resilience

import (
	"fmt"
	"sync"
)

// Named dependencies every incident workflow touches. Each gets its own
// breaker so a struggling analysis agent can't trip remediation, and a
// struggling store can't trip the bus.
const (
	DependencyAnalysisAgent        = "analysis_agent"
	DependencyRemediationAgent     = "remediation_agent"
	DependencyCommunicationChannel = "communication_channel"
	DependencyStore                = "store"
	DependencyBus                  = "bus"
)

// namedDependencies lists every breaker a Registry built with NewRegistry
// creates up front, in the order they're instantiated.
var namedDependencies = []string{
	DependencyAnalysisAgent,
	DependencyRemediationAgent,
	DependencyCommunicationChannel,
	DependencyStore,
	DependencyBus,
}

// Registry owns one CircuitBreaker per named dependency so call sites look
// up a breaker by name instead of constructing and threading one through by
// hand. configFor lets a caller tune per-dependency thresholds (e.g. a
// tighter sleep window for the communication channel than for the store);
// passing nil uses DefaultConfig for every dependency.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry builds a breaker for each of the five named dependencies.
// configFor, if non-nil, is called once per dependency name to produce that
// breaker's config; its return value's Name field is always set to the
// dependency name.
func NewRegistry(configFor func(name string) *CircuitBreakerConfig) (*Registry, error) {
	r := &Registry{breakers: make(map[string]*CircuitBreaker, len(namedDependencies))}
	for _, name := range namedDependencies {
		var cfg *CircuitBreakerConfig
		if configFor != nil {
			cfg = configFor(name)
		}
		if cfg == nil {
			cfg = DefaultConfig()
		}
		cfg.Name = name
		cb, err := NewCircuitBreaker(cfg)
		if err != nil {
			return nil, fmt.Errorf("resilience: building breaker %q: %w", name, err)
		}
		r.breakers[name] = cb
	}
	return r, nil
}

// Get returns the breaker for name, or nil if name isn't one of the five
// registered dependencies.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Snapshot returns GetMetrics() for every registered breaker, keyed by
// dependency name, for the readiness/metrics endpoints to surface.
func (r *Registry) Snapshot() map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]interface{}, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.GetMetrics()
	}
	return out
}

// Reset forces the named dependency's breaker back to closed, for an
// operator clearing a breaker after confirming the dependency recovered.
// Reports false if name isn't a registered dependency.
func (r *Registry) Reset(name string) bool {
	r.mu.RLock()
	cb := r.breakers[name]
	r.mu.RUnlock()
	if cb == nil {
		return false
	}
	cb.Reset()
	return true
}
