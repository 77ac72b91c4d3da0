package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/quietriver/earshot/pkg/engine"
)

// ErrEngineNotRegistered is returned by [Registry.CreateEngine] when no
// factory has been registered under the requested engine kind.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// Registry maps engine kinds to their constructor functions, so the binary
// decides which engines it links (the cgo whisper build is optional) and the
// config layer stays free of engine imports. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[EngineKind]func(EngineEntry) (engine.Adapter, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[EngineKind]func(EngineEntry) (engine.Adapter, error)),
	}
}

// RegisterEngine registers an engine factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterEngine(kind EngineKind, factory func(EngineEntry) (engine.Adapter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[kind] = factory
}

// CreateEngine instantiates an engine using the factory registered under
// entry.Kind. Returns [ErrEngineNotRegistered] if no factory has been
// registered for that kind.
func (r *Registry) CreateEngine(entry EngineEntry) (engine.Adapter, error) {
	r.mu.RLock()
	factory, ok := r.engines[entry.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotRegistered, entry.Kind)
	}
	return factory(entry)
}

// Kinds returns the registered engine kinds.
func (r *Registry) Kinds() []EngineKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]EngineKind, 0, len(r.engines))
	for k := range r.engines {
		kinds = append(kinds, k)
	}
	return kinds
}
