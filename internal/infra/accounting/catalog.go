package accounting

import (
	"context"

	"go.uber.org/zap"

	"github.com/finbridge/invoice-financing-api/internal/infra/observability"
	"github.com/finbridge/invoice-financing-api/internal/port"
)

const catalogCacheKey = "platform_catalog"

// Catalog answers whether a connector key belongs to an accounting-type
// integration. The platform list changes rarely, so lookups are served from a
// TTL cache and only refreshed from the API on a miss.
type Catalog struct {
	client  port.AccountingClient
	cache   port.Cache[map[string]struct{}]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewCatalog creates a platform catalog backed by the given client and cache.
func NewCatalog(client port.AccountingClient, cache port.Cache[map[string]struct{}], metrics *observability.Metrics, logger *zap.Logger) *Catalog {
	return &Catalog{
		client:  client,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// IsAccountingPlatform reports whether platformKey is an accounting
// integration.
func (c *Catalog) IsAccountingPlatform(ctx context.Context, platformKey string) (bool, error) {
	keys, ok := c.cache.Get(catalogCacheKey)
	if ok {
		c.metrics.IncrCacheHit(catalogCacheKey)
	} else {
		c.metrics.IncrCacheMiss(catalogCacheKey)

		platforms, err := c.client.ListAccountingPlatforms(ctx)
		if err != nil {
			return false, err
		}

		keys = make(map[string]struct{}, len(platforms))
		for _, p := range platforms {
			keys[p.Key] = struct{}{}
		}
		c.cache.Set(catalogCacheKey, keys)

		c.logger.Debug("platform catalog refreshed", zap.Int("platforms", len(keys)))
	}

	_, found := keys[platformKey]
	return found, nil
}
