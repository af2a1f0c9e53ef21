package jwks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes key sets per issuer base URL.
// Entries never expire on their own; they are dropped with Invalidate.
type Cache struct {
	source Source
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*KeySet

	group singleflight.Group
}

// NewCache creates an empty cache backed by source
func NewCache(source Source, logger *zap.Logger) *Cache {
	return &Cache{
		source:  source,
		logger:  logger,
		entries: make(map[string]*KeySet),
	}
}

// GetKeySet returns the cached key set for issuer, fetching it on a miss.
// Concurrent misses for the same issuer share a single fetch.
func (c *Cache) GetKeySet(ctx context.Context, issuer string) (*KeySet, error) {
	c.mu.RLock()
	ks, ok := c.entries[issuer]
	c.mu.RUnlock()
	if ok {
		return ks, nil
	}

	// The shared fetch outlives any single caller and is bounded by the source timeout.
	// Each caller stops waiting when its own context ends.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(issuer, func() (interface{}, error) {
		// another caller may have stored it while we waited for the group
		c.mu.RLock()
		cached, ok := c.entries[issuer]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched, err := c.source.Fetch(fetchCtx, issuer)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[issuer] = fetched
		c.mu.Unlock()
		return fetched, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("jwks fetch shared between callers", zap.String("issuer", issuer))
		}
		return res.Val.(*KeySet), nil
	}
}

// Invalidate drops the cached key set for issuer
func (c *Cache) Invalidate(issuer string) {
	c.mu.Lock()
	delete(c.entries, issuer)
	c.mu.Unlock()
	c.group.Forget(issuer)

	c.logger.Info("jwks cache invalidated", zap.String("issuer", issuer))
}

// Stats returns cache statistics
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make(map[string]int, len(c.entries))
	for issuer, ks := range c.entries {
		keys[issuer] = ks.Len()
	}

	return map[string]interface{}{
		"issuers_cached": len(c.entries),
		"keys_by_issuer": keys,
	}
}
