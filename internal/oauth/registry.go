package oauth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prperemyshlev/identity-service/internal/domain"
)

// Registry holds the configured providers keyed by name
type Registry struct {
	providers map[domain.Provider]Provider
}

// NewRegistry registers the given providers. A later provider with the same
// name replaces an earlier one.
func NewRegistry(list ...Provider) *Registry {
	m := make(map[domain.Provider]Provider, len(list))
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the provider registered under name
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[domain.Provider(strings.ToLower(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists the registered provider names in sorted order
func (r *Registry) Names() []domain.Provider {
	names := make([]domain.Provider, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
