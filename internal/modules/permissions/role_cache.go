package permissions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RoleProvider resolves a user's role for a portfolio. Implementations are
// the portfolio-membership repository (local) or a remote identity service.
type RoleProvider interface {
	ResolveRole(ctx context.Context, userID, portfolioID string) (Role, error)
}

type cacheKey struct {
	userID      string
	portfolioID string
}

type cacheEntry struct {
	role      Role
	fetchedAt time.Time
}

// RoleCache caches role lookups with a bounded staleness window. A role
// change takes effect within the TTL, never instantly. The cache is
// injectable: tests pass a zero TTL to disable caching entirely.
type RoleCache struct {
	provider RoleProvider
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry

	log zerolog.Logger
}

// NewRoleCache creates a role cache over a provider
func NewRoleCache(provider RoleProvider, ttl time.Duration, log zerolog.Logger) *RoleCache {
	return &RoleCache{
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[cacheKey]cacheEntry),
		log:      log.With().Str("component", "role_cache").Logger(),
	}
}

// Resolve returns the user's role for the portfolio. Lookup failure resolves
// conservatively to analyst: a transient provider outage must never grant PM
// capabilities.
func (c *RoleCache) Resolve(ctx context.Context, userID, portfolioID string) Role {
	key := cacheKey{userID: userID, portfolioID: portfolioID}

	if c.ttl > 0 {
		c.mu.RLock()
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
			return entry.role
		}
	}

	role, err := c.provider.ResolveRole(ctx, userID, portfolioID)
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("user_id", userID).
			Str("portfolio_id", portfolioID).
			Msg("Role lookup failed, defaulting to analyst")
		return RoleAnalyst
	}
	if !role.IsValid() {
		role = RoleAnalyst
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[key] = cacheEntry{role: role, fetchedAt: c.now()}
		c.mu.Unlock()
	}

	return role
}

// Invalidate drops a cached entry, forcing the next Resolve to hit the
// provider
func (c *RoleCache) Invalidate(userID, portfolioID string) {
	c.mu.Lock()
	delete(c.entries, cacheKey{userID: userID, portfolioID: portfolioID})
	c.mu.Unlock()
}
