package papersources

import (
	"sync"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// Registry manages bibliographic sources in registration order.
// It provides thread-safe registration and retrieval of sources.
type Registry struct {
	mu      sync.RWMutex
	order   []domain.SourceType
	sources map[domain.SourceType]Source
}

// NewRegistry creates a new source registry with an empty source map.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[domain.SourceType]Source),
	}
}

// Register adds a source to the registry.
// If a source with the same type already exists, it is replaced in place
// and keeps its original position.
// This method is thread-safe.
func (r *Registry) Register(source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := source.SourceType()
	if _, exists := r.sources[st]; !exists {
		r.order = append(r.order, st)
	}
	r.sources[st] = source
}

// Get returns a source by type, or nil if not found.
// This method is thread-safe.
func (r *Registry) Get(sourceType domain.SourceType) Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[sourceType]
}

// Enabled returns the source of the given type when it is registered and enabled.
func (r *Registry) Enabled(sourceType domain.SourceType) (Source, bool) {
	s := r.Get(sourceType)
	if s == nil || !s.IsEnabled() {
		return nil, false
	}
	return s, true
}

// AllSources returns all registered sources in registration order.
// The returned slice is a snapshot.
func (r *Registry) AllSources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]Source, 0, len(r.order))
	for _, st := range r.order {
		sources = append(sources, r.sources[st])
	}
	return sources
}

// EnabledSources returns only enabled sources, in registration order.
func (r *Registry) EnabledSources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]Source, 0, len(r.order))
	for _, st := range r.order {
		if s := r.sources[st]; s.IsEnabled() {
			sources = append(sources, s)
		}
	}
	return sources
}

// Select returns the enabled sources among sourceTypes, in the order given.
// Unknown or disabled types are skipped.
func (r *Registry) Select(sourceTypes ...domain.SourceType) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]Source, 0, len(sourceTypes))
	for _, st := range sourceTypes {
		if s, ok := r.sources[st]; ok && s.IsEnabled() {
			sources = append(sources, s)
		}
	}
	return sources
}
