package envelope

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var registryYAML []byte

// registryDoc mirrors the shape of registry.yaml: event types grouped by
// domain, and the closed set of source service identifiers.
type registryDoc struct {
	EventTypes map[string][]string `yaml:"event_types"`
	Sources    []string            `yaml:"sources"`
}

// Registry is the closed set of event types and source identifiers that
// envelopes may be constructed with. New values are additions only —
// existing values are never repurposed (SPEC_FULL.md §5).
type Registry struct {
	mu      sync.RWMutex
	types   map[string]string // type -> domain
	sources map[string]struct{}
}

var defaultRegistry = mustLoadDefault()

func mustLoadDefault() *Registry {
	r, err := loadRegistry(registryYAML)
	if err != nil {
		panic(fmt.Sprintf("envelope: embedded registry.yaml is invalid: %v", err))
	}
	return r
}

func loadRegistry(data []byte) (*Registry, error) {
	var doc registryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("envelope: parse registry: %w", err)
	}

	r := &Registry{
		types:   make(map[string]string),
		sources: make(map[string]struct{}, len(doc.Sources)),
	}
	for domain, types := range doc.EventTypes {
		for _, t := range types {
			r.types[t] = domain
		}
	}
	for _, s := range doc.Sources {
		r.sources[s] = struct{}{}
	}
	return r, nil
}

// Default returns the process-wide registry loaded from the embedded
// registry.yaml. Services that need to extend the closed set at startup
// (e.g. a new microservice adding its own source identifier) should call
// RegisterType/RegisterSource on this instance rather than constructing a
// parallel registry.
func Default() *Registry {
	return defaultRegistry
}

// KnownType reports whether eventType is present in the registry.
func (r *Registry) KnownType(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[eventType]
	return ok
}

// KnownSource reports whether source is present in the registry.
func (r *Registry) KnownSource(source string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[source]
	return ok
}

// Domain returns the domain an event type is grouped under, if known.
func (r *Registry) Domain(eventType string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[eventType]
	return d, ok
}

// RegisterType extends the registry with a new event type under a domain.
// This is an addition, never a reassignment: calling it with an existing
// type under a different domain is a no-op that returns false.
func (r *Registry) RegisterType(domain, eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[eventType]; ok {
		return existing == domain
	}
	r.types[eventType] = domain
	return true
}

// RegisterSource extends the registry with a new source service identifier.
func (r *Registry) RegisterSource(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source] = struct{}{}
}

// Types returns a snapshot of all known event types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	return out
}

// Sources returns a snapshot of all known source identifiers.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for s := range r.sources {
		out = append(out, s)
	}
	return out
}
