package route

import (
	"context"
	"errors"

	"modelgate/internal/gateway/catalog"
	"modelgate/internal/shared/models"
)

// ErrNoBackendsConfigured means the registry is empty and nothing can be
// resolved.
var ErrNoBackendsConfigured = errors.New("no backends configured")

// Resolver selects the ordered backend candidates for a requested model.
// It consults the catalog but does not own it; the registry snapshot is
// immutable after construction.
type Resolver struct {
	backends []models.Backend
	catalog  *catalog.Catalog
}

func New(backends []models.Backend, cat *catalog.Catalog) *Resolver {
	return &Resolver{backends: backends, catalog: cat}
}

// Resolve returns the candidates to try, in order. A model found in some
// backend's catalog makes that backend the sole candidate. A model absent
// from every catalog (unknown, or catalogs empty after fetch failures)
// yields the full registry in configured order, trading precision for
// availability: the Forwarder will exhaust the list rather than reject the
// request outright.
func (r *Resolver) Resolve(ctx context.Context, model string) ([]models.Backend, error) {
	if len(r.backends) == 0 {
		return nil, ErrNoBackendsConfigured
	}

	if model != "" {
		for _, b := range r.backends {
			if _, ok := r.catalog.Models(ctx, b)[model]; ok {
				return []models.Backend{b}, nil
			}
		}
	}

	candidates := make([]models.Backend, len(r.backends))
	copy(candidates, r.backends)
	return candidates, nil
}
