package ai

import (
	"fmt"
	"sync"
)

// AdapterFactory builds adapters for one backend family.
type AdapterFactory interface {
	// Create creates a new adapter instance from the given configuration.
	Create(config *AdapterConfig) Adapter

	// DetectEnvironment reports whether this backend can be used with the
	// current environment (credentials present, endpoint reachable).
	DetectEnvironment() bool

	// Backend returns the backend family this factory serves.
	Backend() BackendID

	// Description returns a human-readable description.
	Description() string
}

// factoryRegistry maps backend families to their factories.
type factoryRegistry struct {
	mu        sync.RWMutex
	factories map[BackendID]AdapterFactory
}

var factories = &factoryRegistry{
	factories: make(map[BackendID]AdapterFactory),
}

// RegisterFactory registers an adapter factory. Typically called from
// init() in provider packages.
func RegisterFactory(factory AdapterFactory) error {
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}
	backend := factory.Backend()
	if backend == "" {
		return fmt.Errorf("factory.Backend() cannot be empty")
	}

	factories.mu.Lock()
	defer factories.mu.Unlock()

	if _, exists := factories.factories[backend]; exists {
		return fmt.Errorf("adapter factory for %q already registered", backend)
	}
	factories.factories[backend] = factory
	return nil
}

// MustRegisterFactory registers a factory and panics on error. Use in
// init() functions where errors cannot be handled.
func MustRegisterFactory(factory AdapterFactory) {
	if err := RegisterFactory(factory); err != nil {
		panic(fmt.Sprintf("failed to register adapter factory: %v", err))
	}
}

// Factory returns the registered factory for a backend family.
func Factory(backend BackendID) (AdapterFactory, bool) {
	factories.mu.RLock()
	defer factories.mu.RUnlock()

	f, ok := factories.factories[backend]
	return f, ok
}

// AvailableBackends returns the backend families whose factories detect a
// usable environment.
func AvailableBackends() []BackendID {
	factories.mu.RLock()
	defer factories.mu.RUnlock()

	var out []BackendID
	for backend, f := range factories.factories {
		if f.DetectEnvironment() {
			out = append(out, backend)
		}
	}
	return out
}
