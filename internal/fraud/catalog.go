package fraud

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cartvale/fraud-engine/pkg/logger"
)

// CachedCatalog memoizes the active rule set for a bounded interval so
// the hot assessment path does not hit the database per request. Rule
// writes call Invalidate, so the TTL only matters for out-of-band edits.
type CachedCatalog struct {
	fetch func(ctx context.Context) ([]FraudRule, error)
	ttl   time.Duration
	now   func() time.Time

	mu        sync.RWMutex
	rules     []FraudRule
	fetchedAt time.Time
}

// NewCachedCatalog wraps a fetch function with TTL caching.
func NewCachedCatalog(fetch func(ctx context.Context) ([]FraudRule, error), ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		fetch: fetch,
		ttl:   ttl,
		now:   time.Now,
	}
}

// ActiveRules returns the cached rule set, refreshing it when stale. A
// failed refresh serves the previous snapshot when one exists.
func (c *CachedCatalog) ActiveRules(ctx context.Context) ([]FraudRule, error) {
	c.mu.RLock()
	fresh := c.rules != nil && c.now().Sub(c.fetchedAt) < c.ttl
	rules := c.rules
	c.mu.RUnlock()

	if fresh {
		return rules, nil
	}

	fetched, err := c.fetch(ctx)
	if err != nil {
		if rules != nil {
			logger.WarnContext(ctx, "rule catalog refresh failed, serving stale snapshot",
				zap.Int("rules", len(rules)),
				zap.Error(err),
			)
			return rules, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.rules = fetched
	c.fetchedAt = c.now()
	c.mu.Unlock()

	return fetched, nil
}

// Invalidate drops the snapshot so the next read refetches.
func (c *CachedCatalog) Invalidate() {
	c.mu.Lock()
	c.rules = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
