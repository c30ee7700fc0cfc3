package bridge

import "sync"

// Sidecar stores large values lifted out of the guest realm, keyed by
// opaque reference handle. The host may supply its own implementation
// via the execution context; when it does not, InMemorySidecar is used.
type Sidecar interface {
	Store(handle string, value any)
	Fetch(handle string) (any, bool)
	Contains(handle string) bool
}

// InMemorySidecar is the default Sidecar: a process-local map, scoped
// to a single execution (callers should construct one per execution,
// never share across sessions, matching spec.md's "no shared mutable
// state across sessions").
type InMemorySidecar struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewInMemorySidecar() *InMemorySidecar {
	return &InMemorySidecar{values: make(map[string]any)}
}

func (s *InMemorySidecar) Store(handle string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[handle] = value
}

func (s *InMemorySidecar) Fetch(handle string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[handle]
	return v, ok
}

func (s *InMemorySidecar) Contains(handle string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[handle]
	return ok
}

var _ Sidecar = (*InMemorySidecar)(nil)
