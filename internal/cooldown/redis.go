package cooldown

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/escalation-service/internal/domain"
)

// DefaultKeyPrefix namespaces cooldown keys in a shared Redis.
const DefaultKeyPrefix = "escalation:cooldown:"

const scanBatch = 200

// RedisStore keeps cooldowns as Redis keys whose TTL is the cooldown.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps client. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, prefix: prefix, now: now}
}

func (s *RedisStore) key(siteID, checkID string) string {
	return s.prefix + url.QueryEscape(siteID) + ":" + url.QueryEscape(checkID)
}

func (s *RedisStore) parseKey(key string) (siteID, checkID string, ok bool) {
	rest, found := strings.CutPrefix(key, s.prefix)
	if !found {
		return "", "", false
	}
	rawSite, rawCheck, found := strings.Cut(rest, ":")
	if !found {
		return "", "", false
	}
	site, err := url.QueryUnescape(rawSite)
	if err != nil {
		return "", "", false
	}
	check, err := url.QueryUnescape(rawCheck)
	if err != nil {
		return "", "", false
	}
	return site, check, true
}

func (s *RedisStore) SetCooldown(ctx context.Context, siteID, checkID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cooldown ttl must be positive, got %s", ttl)
	}
	if err := s.client.Set(ctx, s.key(siteID, checkID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set cooldown: %w", err)
	}
	return nil
}

func (s *RedisStore) IsActive(ctx context.Context, siteID, checkID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(siteID, checkID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists cooldown: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) ListActive(ctx context.Context) ([]domain.CooldownEntry, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]domain.CooldownEntry, 0, len(keys))
	for _, key := range keys {
		site, check, ok := s.parseKey(key)
		if !ok {
			continue
		}
		ttl, err := s.client.PTTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis pttl cooldown: %w", err)
		}
		// -2 missing, -1 no expiry; neither is a live cooldown
		if ttl <= 0 {
			continue
		}
		out = append(out, domain.CooldownEntry{SiteID: site, CheckID: check, ExpiresAt: now.Add(ttl)})
	}
	sortEntries(out)
	return out, nil
}

func (s *RedisStore) ClearAll(ctx context.Context) (int, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del cooldowns: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan cooldowns: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
