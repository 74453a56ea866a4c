package domain

import "time"

// IssueStatus enumerates lifecycle states for escalation issues.
type IssueStatus string

const (
	IssueStatusOpen         IssueStatus = "OPEN"
	IssueStatusAcknowledged IssueStatus = "ACKNOWLEDGED"
	IssueStatusInProgress   IssueStatus = "IN_PROGRESS"
	IssueStatusResolved     IssueStatus = "RESOLVED"
	IssueStatusExhausted    IssueStatus = "EXHAUSTED"
)

// MaxLevels is the number of contact slots an issue can escalate through.
const MaxLevels = 3

// Terminal reports whether no further transition is allowed.
func (s IssueStatus) Terminal() bool {
	return s == IssueStatusResolved || s == IssueStatusExhausted
}

// Valid reports whether s is a known status.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusOpen, IssueStatusAcknowledged, IssueStatusInProgress, IssueStatusResolved, IssueStatusExhausted:
		return true
	}
	return false
}

// NonTerminalStatuses lists the statuses the scheduler sweeps.
func NonTerminalStatuses() []IssueStatus {
	return []IssueStatus{IssueStatusOpen, IssueStatusAcknowledged, IssueStatusInProgress}
}

// LevelContact is the contact snapshot taken for one escalation level.
type LevelContact struct {
	Name        string
	Email       string
	NotifiedAt  *time.Time
	DeliveredAt *time.Time
}

// Issue is the aggregate root for an escalated check failure.
type Issue struct {
	ID             string
	Token          string
	OrganizationID string
	SiteID         string
	CheckID        string
	CheckResultID  string
	Status         IssueStatus
	CurrentLevel   int
	MaxLevel       int
	// Contacts is indexed by level-1.
	Contacts               [MaxLevels]*LevelContact
	ResolvedByName         *string
	ResolvedByEmail        *string
	ResolvedAt             *time.Time
	FinalNoticeDeliveredAt *time.Time
	Version                int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Contact returns the snapshot for level, or nil when the level is not configured.
func (i *Issue) Contact(level int) *LevelContact {
	if level < 1 || level > MaxLevels || level > i.MaxLevel {
		return nil
	}
	return i.Contacts[level-1]
}

// HasLevel reports whether level has a configured contact on this issue.
func (i *Issue) HasLevel(level int) bool {
	c := i.Contact(level)
	return c != nil && c.Email != ""
}

// EscalationDeadline is when the current level's window expires.
func (i *Issue) EscalationDeadline(window time.Duration) time.Time {
	c := i.Contact(i.CurrentLevel)
	if c == nil || c.NotifiedAt == nil {
		return i.CreatedAt.Add(window)
	}
	return c.NotifiedAt.Add(window)
}

// TimeRemaining is the deadline minus now, floored at zero.
func (i *Issue) TimeRemaining(window time.Duration, now time.Time) time.Duration {
	if i.Status.Terminal() {
		return 0
	}
	remaining := i.EscalationDeadline(window).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DeadlineElapsed reports whether the current level's window has passed.
func (i *Issue) DeadlineElapsed(window time.Duration, now time.Time) bool {
	return !now.Before(i.EscalationDeadline(window))
}

// CanUpdate reports whether a verified level may change the issue status.
func (i *Issue) CanUpdate(level int) bool {
	return !i.Status.Terminal() && level == i.CurrentLevel && i.HasLevel(level)
}

// CanAddReport reports whether a verified level may annotate the issue.
func (i *Issue) CanAddReport(level int) bool {
	return !i.Status.Terminal() && level >= 1 && level <= i.CurrentLevel && i.HasLevel(level)
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (i *Issue) Clone() *Issue {
	if i == nil {
		return nil
	}
	out := *i
	for idx, c := range i.Contacts {
		if c == nil {
			continue
		}
		cc := *c
		cc.NotifiedAt = cloneTime(c.NotifiedAt)
		cc.DeliveredAt = cloneTime(c.DeliveredAt)
		out.Contacts[idx] = &cc
	}
	out.ResolvedByName = cloneString(i.ResolvedByName)
	out.ResolvedByEmail = cloneString(i.ResolvedByEmail)
	out.ResolvedAt = cloneTime(i.ResolvedAt)
	out.FinalNoticeDeliveredAt = cloneTime(i.FinalNoticeDeliveredAt)
	return &out
}

// ContactInput is a contact supplied by the check-execution side at open time.
type ContactInput struct {
	Name  string
	Email string
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
