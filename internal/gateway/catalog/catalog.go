package catalog

import (
	"context"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"modelgate/internal/shared/metrics"
	"modelgate/internal/shared/models"
)

// Lister fetches the model identifiers a backend currently serves.
type Lister interface {
	ListModels(ctx context.Context, backend models.Backend) ([]string, error)
}

// DefaultFetchTimeout bounds a catalog fetch when no timeout is configured.
// A backend that accepts the connection but never answers must not stall
// resolution; it counts as down, and down backends yield an empty set.
const DefaultFetchTimeout = 10 * time.Second

// OpenAILister lists models through a backend's OpenAI-compatible
// /v1/models endpoint, authenticated with the backend's own credential.
type OpenAILister struct {
	Timeout time.Duration
}

func (l OpenAILister) ListModels(ctx context.Context, backend models.Backend) ([]string, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := openai.DefaultConfig(backend.APIKey)
	cfg.BaseURL = strings.TrimSuffix(backend.BaseURL, "/") + "/v1"
	client := openai.NewClientWithConfig(cfg)

	list, err := client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Catalog memoizes per-backend model sets in a capacity-bounded cache.
// Fetches happen lazily on first use; a fetch failure yields an empty set
// but is not memoized, so a backend that recovers is picked up on the next
// request. Cached sets are never mutated after insertion (replace, don't
// update), so returned maps are safe to read concurrently.
type Catalog struct {
	lister Lister
	cache  *lru.Cache[string, map[string]struct{}]
}

func New(lister Lister, capacity int) (*Catalog, error) {
	cache, err := lru.New[string, map[string]struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &Catalog{lister: lister, cache: cache}, nil
}

// Models returns the model set the backend currently serves, fetching and
// caching it on first use. Concurrent fetches for the same backend are not
// deduplicated; the last writer wins, which is harmless since either result
// is equally fresh.
func (c *Catalog) Models(ctx context.Context, backend models.Backend) map[string]struct{} {
	if set, ok := c.cache.Get(backend.Name); ok {
		return set
	}

	m := metrics.Global()
	ids, err := c.lister.ListModels(ctx, backend)
	if err != nil {
		m.CatalogFetches.WithLabelValues(backend.Name, "error").Inc()
		log.Warn().Err(err).Str("backend", backend.Name).Msg("model catalog fetch failed")
		return map[string]struct{}{}
	}
	m.CatalogFetches.WithLabelValues(backend.Name, "ok").Inc()

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	c.cache.Add(backend.Name, set)
	return set
}

// All returns the sorted model identifiers of every given backend.
func (c *Catalog) All(ctx context.Context, backends []models.Backend) map[string][]string {
	out := make(map[string][]string, len(backends))
	for _, b := range backends {
		set := c.Models(ctx, b)
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[b.Name] = ids
	}
	return out
}
