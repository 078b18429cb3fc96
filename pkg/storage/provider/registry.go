package provider

import (
	"fmt"

	gerrors "github.com/mwantia/gostore/pkg/errors"
	"github.com/mwantia/gostore/pkg/storage/kind"
)

// Registry resolves the validator and service factory of a kind.
type Registry struct {
	providers map[kind.Kind]Provider
}

// NewRegistry fails on duplicate kinds and when any kind of kind.All() is
// left without a provider, so lookups of valid kinds cannot miss later.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[kind.Kind]Provider, len(providers))}

	for _, p := range providers {
		if !p.Kind.Valid() {
			return nil, gerrors.Newf(gerrors.CodeUnsupportedProviderKind, "cannot register provider for %s", p.Kind)
		}
		if p.Validator == nil || p.Factory == nil {
			return nil, fmt.Errorf("provider for %s is incomplete", p.Kind)
		}
		if _, exists := r.providers[p.Kind]; exists {
			return nil, fmt.Errorf("duplicate provider for %s", p.Kind)
		}
		r.providers[p.Kind] = p
	}

	var missing []string
	for _, k := range kind.All() {
		if _, ok := r.providers[k]; !ok {
			missing = append(missing, k.Key())
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no provider registered for %v", missing)
	}

	return r, nil
}

func (r *Registry) Validator(k kind.Kind) (Validator, error) {
	p, ok := r.providers[k]
	if !ok {
		return nil, gerrors.Newf(gerrors.CodeUnsupportedProviderKind, "no validator for %s", k)
	}
	return p.Validator, nil
}

func (r *Registry) ServiceFactory(k kind.Kind) (ServiceFactory, error) {
	p, ok := r.providers[k]
	if !ok {
		return nil, gerrors.Newf(gerrors.CodeUnsupportedProviderKind, "no service factory for %s", k)
	}
	return p.Factory, nil
}

func (r *Registry) Kinds() []kind.Kind {
	kinds := make([]kind.Kind, 0, len(r.providers))
	for _, k := range kind.All() {
		if _, ok := r.providers[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
