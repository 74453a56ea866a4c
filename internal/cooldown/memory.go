package cooldown

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/escalation-service/internal/domain"
)

type pairKey struct {
	siteID  string
	checkID string
}

// MemoryStore keeps cooldowns in process with lazy expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[pairKey]time.Time
	now     func() time.Time
}

// NewMemoryStore builds a store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: make(map[pairKey]time.Time), now: now}
}

func (s *MemoryStore) SetCooldown(_ context.Context, siteID, checkID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cooldown ttl must be positive, got %s", ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[pairKey{siteID, checkID}] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) IsActive(_ context.Context, siteID, checkID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{siteID, checkID}
	expiresAt, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expiresAt) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]domain.CooldownEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]domain.CooldownEntry, 0, len(s.entries))
	for key, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, key)
			continue
		}
		out = append(out, domain.CooldownEntry{SiteID: key.siteID, CheckID: key.checkID, ExpiresAt: expiresAt})
	}
	sortEntries(out)
	return out, nil
}

func (s *MemoryStore) ClearAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[pairKey]time.Time)
	return n, nil
}

func sortEntries(entries []domain.CooldownEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ExpiresAt.Equal(entries[j].ExpiresAt) {
			if entries[i].SiteID == entries[j].SiteID {
				return entries[i].CheckID < entries[j].CheckID
			}
			return entries[i].SiteID < entries[j].SiteID
		}
		return entries[i].ExpiresAt.Before(entries[j].ExpiresAt)
	})
}
