package domain

import "time"

// CooldownEntry suppresses issue creation for a (site, check) pair until ExpiresAt.
type CooldownEntry struct {
	SiteID    string
	CheckID   string
	ExpiresAt time.Time
}

// Remaining returns the TTL left at now, floored at zero.
func (c CooldownEntry) Remaining(now time.Time) time.Duration {
	d := c.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
