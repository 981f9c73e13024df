package facility

import (
	"sort"
)

// Constructor builds an agent from its spec.
type Constructor func(ctx *Context, spec Spec) (Agent, error)

// Registry maps archetype names to constructors.
type Registry struct {
	ctors map[string]Constructor
}

// NewRegistry returns a registry holding the built-in archetypes.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.Register(ArchetypeSeparations, func(ctx *Context, spec Spec) (Agent, error) {
		if spec.Separations == nil {
			return nil, configError(spec.Name, "archetype %s requires a separations section", spec.Archetype)
		}
		return NewSeparations(ctx, spec.Name, *spec.Separations)
	})
	r.Register(ArchetypeSink, func(ctx *Context, spec Spec) (Agent, error) {
		if spec.Sink == nil {
			return nil, configError(spec.Name, "archetype %s requires a sink section", spec.Archetype)
		}
		return NewSink(ctx, spec.Name, *spec.Sink)
	})
	r.Register(ArchetypeSource, func(ctx *Context, spec Spec) (Agent, error) {
		if spec.Source == nil {
			return nil, configError(spec.Name, "archetype %s requires a source section", spec.Archetype)
		}
		return NewSource(ctx, spec.Name, *spec.Source)
	})
	return r
}

// Register adds or replaces an archetype.
func (r *Registry) Register(archetype string, c Constructor) {
	r.ctors[archetype] = c
}

// Archetypes lists registered archetype names in sorted order.
func (r *Registry) Archetypes() []string {
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build constructs the agent described by spec.
func (r *Registry) Build(ctx *Context, spec Spec) (Agent, error) {
	if spec.Name == "" {
		return nil, configError("", "facility name is required")
	}
	c, ok := r.ctors[spec.Archetype]
	if !ok {
		return nil, configError(spec.Name, "unknown archetype %q (known: %v)", spec.Archetype, r.Archetypes())
	}
	return c(ctx, spec)
}

// BuildAll constructs agents in spec order. Facility names must be unique.
func (r *Registry) BuildAll(ctx *Context, specs []Spec) ([]Agent, error) {
	seen := make(map[string]bool, len(specs))
	agents := make([]Agent, 0, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			return nil, configError(s.Name, "duplicate facility name")
		}
		seen[s.Name] = true

		a, err := r.Build(ctx, s)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}
