package cache

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpattn/customdata/internal/catalog"
)

// CatalogSource serves catalogs from a store, falling back to an upstream
// source on a miss. Store failures are logged and never fail a load.
type CatalogSource struct {
	upstream  catalog.Source
	store     Store
	namespace string
	ttl       time.Duration
	logger    zerolog.Logger
}

func NewCatalogSource(upstream catalog.Source, store Store, namespace string, ttl time.Duration, logger zerolog.Logger) *CatalogSource {
	return &CatalogSource{
		upstream:  upstream,
		store:     store,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
	}
}

// Key is the store key a set of owner types is cached under.
func (s *CatalogSource) Key(ownerTypes []string) string {
	owners := append([]string(nil), ownerTypes...)
	sort.Strings(owners)
	return "catalog:" + s.namespace + ":" + strings.Join(owners, ",")
}

func (s *CatalogSource) Load(ctx context.Context, ownerTypes []string) (*catalog.Catalog, error) {
	key := s.Key(ownerTypes)

	data, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		cat, decodeErr := catalog.Decode(data)
		if decodeErr == nil {
			s.logger.Debug().Str("key", key).Msg("catalog cache hit")
			return cat, nil
		}
		s.logger.Warn().Err(decodeErr).Str("key", key).Msg("discarding unreadable cached catalog")
	case IsMiss(err):
		s.logger.Debug().Str("key", key).Msg("catalog cache miss")
	default:
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
	}

	cat, err := s.upstream.Load(ctx, ownerTypes)
	if err != nil {
		return nil, err
	}

	encoded, err := catalog.Encode(cat)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, key, encoded, s.ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
	return cat, nil
}

// Invalidate drops the cached catalog so the next load reaches upstream.
func (s *CatalogSource) Invalidate(ctx context.Context, ownerTypes []string) error {
	return s.store.Delete(ctx, s.Key(ownerTypes))
}
