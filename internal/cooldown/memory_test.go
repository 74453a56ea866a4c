package cooldown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStoreExpiresLazily(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clock.Now)

	require.NoError(t, store.SetCooldown(ctx, "site", "check", time.Hour))

	active, err := store.IsActive(ctx, "site", "check")
	require.NoError(t, err)
	assert.True(t, active)

	clock.Advance(10 * time.Minute)
	active, _ = store.IsActive(ctx, "site", "check")
	assert.True(t, active)

	clock.Advance(50 * time.Minute)
	active, _ = store.IsActive(ctx, "site", "check")
	assert.False(t, active, "entry must be gone once its ttl elapses")
}

func TestMemoryStoreKeysArePairs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	require.NoError(t, store.SetCooldown(ctx, "a:b", "c", time.Hour))

	active, _ := store.IsActive(ctx, "a", "b:c")
	assert.False(t, active)
	active, _ = store.IsActive(ctx, "a:b", "c")
	assert.True(t, active)
}

func TestMemoryStoreListAndClear(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clock.Now)

	require.NoError(t, store.SetCooldown(ctx, "s1", "c1", 2*time.Hour))
	require.NoError(t, store.SetCooldown(ctx, "s2", "c2", time.Hour))
	require.NoError(t, store.SetCooldown(ctx, "s3", "c3", time.Minute))
	clock.Advance(2 * time.Minute)

	entries, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s2", entries[0].SiteID)
	assert.Equal(t, 58*time.Minute, entries[0].Remaining(clock.Now()))

	removed, err := store.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	active, _ := store.IsActive(ctx, "s1", "c1")
	assert.False(t, active)
}

func TestMemoryStoreRejectsNonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	for _, ttl := range []time.Duration{0, -time.Minute} {
		assert.Error(t, store.SetCooldown(ctx, "site", "check", ttl), "ttl %s", ttl)
	}

	entries, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
