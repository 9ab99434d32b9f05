package tool

import "sort"

// Registry maps a tool alias to the ordered list of providers willing to
// serve it (spec.md §4.9: "a registry maps an alias to an ordered list
// of providers, retried in order on retryable failures"). Multiple
// providers under one alias let a `use tool fetch` binding fail over
// from, say, a primary HTTP provider to an MCP-backed one without the
// calling Lumen code ever seeing the difference.
type Registry struct {
	providers map[string][]Provider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string][]Provider{}}
}

// Register appends p to alias's provider list, in call order: the
// first Register call for an alias is tried first.
func (r *Registry) Register(alias string, p Provider) {
	r.providers[alias] = append(r.providers[alias], p)
}

// Providers returns alias's ordered provider list, or nil if nothing
// is registered for it.
func (r *Registry) Providers(alias string) []Provider {
	return r.providers[alias]
}

// Aliases returns every alias with at least one registered provider,
// sorted for deterministic iteration (spec.md §8's determinism law
// extends to anything a trace event might enumerate).
func (r *Registry) Aliases() []string {
	out := make([]string, 0, len(r.providers))
	for a := range r.providers {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
