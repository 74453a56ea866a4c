// Package cooldown suppresses duplicate issue creation for a (site, check)
// pair while a TTL entry is live.
package cooldown

import (
	"context"
	"time"

	"github.com/spec-kit/escalation-service/internal/domain"
)

// Store is the TTL-indexed suppression layer consulted before opening an issue.
type Store interface {
	SetCooldown(ctx context.Context, siteID, checkID string, ttl time.Duration) error
	IsActive(ctx context.Context, siteID, checkID string) (bool, error)
	// ListActive returns live entries ordered by expiry, soonest first.
	ListActive(ctx context.Context) ([]domain.CooldownEntry, error)
	// ClearAll drops every entry and returns how many were removed.
	ClearAll(ctx context.Context) (int, error)
}
