package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/escalation-service/internal/domain"
)

// MemoryIssueRepository keeps issues in process. It backs tests and
// deployments without POSTGRES_DSN, and enforces the same uniqueness and
// versioning rules as the Postgres implementation.
type MemoryIssueRepository struct {
	mu     sync.RWMutex
	issues map[string]*domain.Issue
	events map[string][]domain.Event
}

// NewMemoryIssueRepository returns an empty repository.
func NewMemoryIssueRepository() *MemoryIssueRepository {
	return &MemoryIssueRepository{
		issues: make(map[string]*domain.Issue),
		events: make(map[string][]domain.Event),
	}
}

func (r *MemoryIssueRepository) Create(_ context.Context, issue *domain.Issue, created domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.issues {
		if existing.Token == issue.Token {
			return fmt.Errorf("duplicate token %q", issue.Token)
		}
		if !existing.Status.Terminal() && existing.SiteID == issue.SiteID && existing.CheckID == issue.CheckID {
			return domain.ErrAlreadyOpen
		}
	}
	r.issues[issue.ID] = issue.Clone()
	r.events[issue.ID] = append(r.events[issue.ID], created)
	return nil
}

func (r *MemoryIssueRepository) Update(_ context.Context, issue *domain.Issue, event domain.Event, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.issues[issue.ID]
	if !ok || stored.Version != expectedVersion {
		return domain.ErrStaleIssue
	}
	next := issue.Clone()
	next.Version = expectedVersion + 1
	for idx, c := range next.Contacts {
		if c != nil && stored.Contacts[idx] != nil {
			c.DeliveredAt = cloneTime(stored.Contacts[idx].DeliveredAt)
		}
	}
	next.FinalNoticeDeliveredAt = cloneTime(stored.FinalNoticeDeliveredAt)
	r.issues[issue.ID] = next
	r.events[issue.ID] = append(r.events[issue.ID], event)
	issue.Version = next.Version
	return nil
}

func (r *MemoryIssueRepository) AppendEvent(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.issues[event.IssueID]; !ok {
		return domain.ErrNotFound
	}
	r.events[event.IssueID] = append(r.events[event.IssueID], event)
	return nil
}

func (r *MemoryIssueRepository) GetByID(_ context.Context, id string) (*domain.Issue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if issue, ok := r.issues[id]; ok {
		return issue.Clone(), nil
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryIssueRepository) GetByToken(_ context.Context, token string) (*domain.Issue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, issue := range r.issues {
		if issue.Token == token {
			return issue.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryIssueRepository) FindOpen(_ context.Context, siteID, checkID string) (*domain.Issue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, issue := range r.issues {
		if !issue.Status.Terminal() && issue.SiteID == siteID && issue.CheckID == checkID {
			return issue.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryIssueRepository) ListEvents(_ context.Context, issueID string) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := append([]domain.Event(nil), r.events[issueID]...)
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID > events[j].ID
		}
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

func (r *MemoryIssueRepository) List(_ context.Context, filter IssueFilter) ([]domain.Issue, error) {
	r.mu.RLock()
	var matched []domain.Issue
	for _, issue := range r.issues {
		if issue.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.SiteID != nil && issue.SiteID != *filter.SiteID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, issue.Status) {
			continue
		}
		matched = append(matched, *issue.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (r *MemoryIssueRepository) ListDue(_ context.Context, cutoff time.Time, limit int) ([]domain.Issue, error) {
	return r.collect(limit, func(issue *domain.Issue) (time.Time, bool) {
		if issue.Status.Terminal() {
			return time.Time{}, false
		}
		c := issue.Contact(issue.CurrentLevel)
		if c == nil || c.NotifiedAt == nil || c.NotifiedAt.After(cutoff) {
			return time.Time{}, false
		}
		return *c.NotifiedAt, true
	})
}

func (r *MemoryIssueRepository) ListUndelivered(_ context.Context, cutoff time.Time, limit int) ([]domain.Issue, error) {
	return r.collect(limit, func(issue *domain.Issue) (time.Time, bool) {
		if issue.Status == domain.IssueStatusExhausted {
			if issue.FinalNoticeDeliveredAt != nil || issue.UpdatedAt.After(cutoff) {
				return time.Time{}, false
			}
			return issue.UpdatedAt, true
		}
		if issue.Status.Terminal() {
			return time.Time{}, false
		}
		c := issue.Contact(issue.CurrentLevel)
		if c == nil || c.DeliveredAt != nil || c.NotifiedAt == nil || c.NotifiedAt.After(cutoff) {
			return time.Time{}, false
		}
		return issue.UpdatedAt, true
	})
}

func (r *MemoryIssueRepository) MarkLevelDelivered(_ context.Context, issueID string, level int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	issue, ok := r.issues[issueID]
	if !ok {
		return domain.ErrNotFound
	}
	c := issue.Contact(level)
	if c == nil {
		return fmt.Errorf("invalid level %d", level)
	}
	if c.DeliveredAt == nil {
		t := at
		c.DeliveredAt = &t
	}
	return nil
}

func (r *MemoryIssueRepository) MarkFinalNoticeDelivered(_ context.Context, issueID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	issue, ok := r.issues[issueID]
	if !ok {
		return domain.ErrNotFound
	}
	if issue.FinalNoticeDeliveredAt == nil {
		t := at
		issue.FinalNoticeDeliveredAt = &t
	}
	return nil
}

func (r *MemoryIssueRepository) collect(limit int, match func(*domain.Issue) (time.Time, bool)) ([]domain.Issue, error) {
	type keyed struct {
		at    time.Time
		issue domain.Issue
	}

	r.mu.RLock()
	var found []keyed
	for _, issue := range r.issues {
		if at, ok := match(issue); ok {
			found = append(found, keyed{at: at, issue: *issue.Clone()})
		}
	}
	r.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })
	limit = batchLimit(limit)
	if len(found) > limit {
		found = found[:limit]
	}
	out := make([]domain.Issue, len(found))
	for i, k := range found {
		out[i] = k.issue
	}
	return out, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func containsStatus(list []domain.IssueStatus, s domain.IssueStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
