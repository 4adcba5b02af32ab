package permissions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeProvider struct {
	roles map[string]Role // key: userID|portfolioID
	calls int
	fail  bool
}

func (p *fakeProvider) ResolveRole(_ context.Context, userID, portfolioID string) (Role, error) {
	p.calls++
	if p.fail {
		return "", fmt.Errorf("provider unavailable")
	}
	role, ok := p.roles[userID+"|"+portfolioID]
	if !ok {
		return RoleAnalyst, nil
	}
	return role, nil
}

func TestRoleCache_CachesWithinTTL(t *testing.T) {
	provider := &fakeProvider{roles: map[string]Role{"alice|p1": RolePM}}
	cache := NewRoleCache(provider, time.Minute, zerolog.Nop())

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	assert.Equal(t, RolePM, cache.Resolve(ctx, "alice", "p1"))
	assert.Equal(t, RolePM, cache.Resolve(ctx, "alice", "p1"))
	assert.Equal(t, 1, provider.calls, "second lookup within TTL must hit the cache")

	// A role change lands after the staleness window
	provider.roles["alice|p1"] = RoleAnalyst
	now = now.Add(61 * time.Second)
	assert.Equal(t, RoleAnalyst, cache.Resolve(ctx, "alice", "p1"))
	assert.Equal(t, 2, provider.calls)
}

func TestRoleCache_ZeroTTLDisablesCaching(t *testing.T) {
	provider := &fakeProvider{roles: map[string]Role{"alice|p1": RolePM}}
	cache := NewRoleCache(provider, 0, zerolog.Nop())

	ctx := context.Background()
	cache.Resolve(ctx, "alice", "p1")
	cache.Resolve(ctx, "alice", "p1")
	assert.Equal(t, 2, provider.calls)
}

func TestRoleCache_FailureDefaultsToAnalyst(t *testing.T) {
	provider := &fakeProvider{fail: true}
	cache := NewRoleCache(provider, time.Minute, zerolog.Nop())

	role := cache.Resolve(context.Background(), "alice", "p1")
	assert.Equal(t, RoleAnalyst, role, "a failed lookup must never grant PM")
}

func TestRoleCache_FailureIsNotCached(t *testing.T) {
	provider := &fakeProvider{fail: true}
	cache := NewRoleCache(provider, time.Minute, zerolog.Nop())

	ctx := context.Background()
	cache.Resolve(ctx, "alice", "p1")

	// Provider recovers; next lookup sees the real role immediately
	provider.fail = false
	provider.roles = map[string]Role{"alice|p1": RolePM}
	assert.Equal(t, RolePM, cache.Resolve(ctx, "alice", "p1"))
}

func TestRoleCache_Invalidate(t *testing.T) {
	provider := &fakeProvider{roles: map[string]Role{"alice|p1": RolePM}}
	cache := NewRoleCache(provider, time.Minute, zerolog.Nop())

	ctx := context.Background()
	cache.Resolve(ctx, "alice", "p1")
	cache.Invalidate("alice", "p1")
	cache.Resolve(ctx, "alice", "p1")
	assert.Equal(t, 2, provider.calls)
}
