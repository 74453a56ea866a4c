package service

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/escalation-service/internal/auth"
	"github.com/spec-kit/escalation-service/internal/cooldown"
	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/events"
	"github.com/spec-kit/escalation-service/internal/notify"
	"github.com/spec-kit/escalation-service/internal/observability"
	"github.com/spec-kit/escalation-service/internal/repository"
)

var t0 = time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC)

const testWindow = 2 * time.Hour

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	fail bool
}

func (r *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("smtp unavailable")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingNotifier) Messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.sent...)
}

func (r *recordingNotifier) SetFail(fail bool) {
	r.mu.Lock()
	r.fail = fail
	r.mu.Unlock()
}

type harness struct {
	clock         *testClock
	issues        repository.IssueRepository
	memIssues     *repository.MemoryIssueRepository
	cooldowns     *cooldown.MemoryStore
	signer        *auth.LinkSigner
	machine       *EscalationService
	access        *AccessService
	notifications *NotificationService
	contacts      *recordingNotifier
	ops           *recordingNotifier
	metrics       *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithRepo(t, nil)
}

// newHarnessWithRepo lets a test wrap the memory repository.
func newHarnessWithRepo(t *testing.T, wrap func(repository.IssueRepository) repository.IssueRepository) *harness {
	t.Helper()
	h := &harness{
		clock:     &testClock{now: t0},
		memIssues: repository.NewMemoryIssueRepository(),
		contacts:  &recordingNotifier{},
		ops:       &recordingNotifier{},
		metrics:   observability.NewMetrics(),
	}
	h.issues = h.memIssues
	if wrap != nil {
		h.issues = wrap(h.memIssues)
	}
	h.cooldowns = cooldown.NewMemoryStore(h.clock.Now)

	signer, err := auth.NewLinkSigner("test-secret", nil, "https://status.example.com")
	require.NoError(t, err)
	h.signer = signer

	dispatcher := events.NewInMemoryDispatcher()
	h.machine = NewEscalationService(EscalationDependencies{
		IssueRepo:   h.issues,
		Cooldowns:   h.cooldowns,
		Dispatcher:  dispatcher,
		Logger:      zap.NewNop(),
		Metrics:     h.metrics,
		Window:      testWindow,
		CooldownTTL: time.Hour,
		Clock:       h.clock.Now,
	})
	h.notifications = NewNotificationService(NotificationDependencies{
		Dispatcher: dispatcher,
		IssueRepo:  h.issues,
		Signer:     signer,
		Contacts:   h.contacts,
		Ops:        h.ops,
		Metrics:    h.metrics,
		Window:     testWindow,
		Clock:      h.clock.Now,
	})
	h.notifications.RegisterHandlers()
	h.access = NewAccessService(AccessDependencies{
		IssueRepo:  h.issues,
		Escalation: h.machine,
		Signer:     signer,
		Cooldowns:  h.cooldowns,
		Metrics:    h.metrics,
	})
	return h
}

func contacts(n int) []domain.ContactInput {
	all := []domain.ContactInput{
		{Name: "Alice", Email: "alice@x.com"},
		{Name: "Bob", Email: "bob@x.com"},
		{Name: "Carol", Email: "carol@x.com"},
	}
	return all[:n]
}

func (h *harness) open(t *testing.T, site, check string, levels int) *domain.Issue {
	t.Helper()
	issue, err := h.machine.Open(context.Background(), OpenInput{
		OrganizationID: "org-1",
		SiteID:         site,
		CheckID:        check,
		CheckResultID:  "result-" + check,
		Contacts:       contacts(levels),
	})
	require.NoError(t, err)
	return issue
}

func (h *harness) creds(issue *domain.Issue, level int) PublicCredentials {
	return PublicCredentials{Token: issue.Token, Level: level, Signature: h.signer.Sign(issue.Token, level)}
}

func (h *harness) reload(t *testing.T, id string) *domain.Issue {
	t.Helper()
	issue, err := h.issues.GetByID(context.Background(), id)
	require.NoError(t, err)
	return issue
}

func (h *harness) events(t *testing.T, id string) []domain.Event {
	t.Helper()
	evs, err := h.issues.ListEvents(context.Background(), id)
	require.NoError(t, err)
	return evs
}

func countEvents(evs []domain.Event, eventType domain.EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// requireAgreement asserts the newest state event matches the issue state.
func (h *harness) requireAgreement(t *testing.T, id string) {
	t.Helper()
	issue := h.reload(t, id)
	latest, ok := latestStateEvent(h.events(t, id))
	require.True(t, ok)
	require.Truef(t, eventAgreesWith(latest, issue),
		"latest event %s (level %v) disagrees with status %s level %d", latest.Type, latest.Level, issue.Status, issue.CurrentLevel)
}

// latestStateEvent returns the newest event that reflects a state mutation.
func latestStateEvent(evs []domain.Event) (domain.Event, bool) {
	var latest domain.Event
	found := false
	for _, ev := range evs {
		if ev.Type.Annotation() {
			continue
		}
		if !found || ev.CreatedAt.After(latest.CreatedAt) || (ev.CreatedAt.Equal(latest.CreatedAt) && ev.ID > latest.ID) {
			latest = ev
			found = true
		}
	}
	return latest, found
}

// eventAgreesWith reports whether ev is the event the current issue state implies.
func eventAgreesWith(ev domain.Event, issue *domain.Issue) bool {
	switch ev.Type {
	case domain.EventCreated:
		return issue.Status == domain.IssueStatusOpen && issue.CurrentLevel == 1
	case domain.EventAcknowledged:
		return issue.Status == domain.IssueStatusAcknowledged
	case domain.EventInProgress:
		return issue.Status == domain.IssueStatusInProgress
	case domain.EventResolved:
		return issue.Status == domain.IssueStatusResolved
	case domain.EventExhausted:
		return issue.Status == domain.IssueStatusExhausted
	case domain.EventEscalated:
		return !issue.Status.Terminal() && ev.Level != nil && *ev.Level == issue.CurrentLevel
	}
	return false
}

func linkLevel(t *testing.T, link string) (int, string) {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	level, err := strconv.Atoi(u.Query().Get("level"))
	require.NoError(t, err)
	return level, u.Query().Get("signature")
}

// staleRepo fails the first remaining Update calls with ErrStaleIssue.
type staleRepo struct {
	repository.IssueRepository
	mu        sync.Mutex
	remaining int
}

func (r *staleRepo) Update(ctx context.Context, issue *domain.Issue, ev domain.Event, expected int) error {
	r.mu.Lock()
	if r.remaining > 0 {
		r.remaining--
		r.mu.Unlock()
		return domain.ErrStaleIssue
	}
	r.mu.Unlock()
	return r.IssueRepository.Update(ctx, issue, ev, expected)
}

// counterTotal sums every series of a counter family in reg.
func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
