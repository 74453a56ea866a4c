package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/escalation-service/internal/cooldown"
	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/events"
	"github.com/spec-kit/escalation-service/internal/observability"
	"github.com/spec-kit/escalation-service/internal/repository"
	apperrors "github.com/spec-kit/escalation-service/pkg/util"
)

// EscalationService owns the issue lifecycle. Every mutation re-reads the
// issue, validates the transition and commits state plus event together
// under a version check.
type EscalationService struct {
	issues      repository.IssueRepository
	cooldowns   cooldown.Store
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics
	window      time.Duration
	cooldownTTL time.Duration
	now         func() time.Time
}

// EscalationDependencies bundles collaborators for the escalation service.
type EscalationDependencies struct {
	IssueRepo   repository.IssueRepository
	Cooldowns   cooldown.Store
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Window      time.Duration
	CooldownTTL time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// NewEscalationService constructs the service.
func NewEscalationService(deps EscalationDependencies) *EscalationService {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationService{
		issues:      deps.IssueRepo,
		cooldowns:   deps.Cooldowns,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		metrics:     deps.Metrics,
		window:      deps.Window,
		cooldownTTL: deps.CooldownTTL,
		now:         now,
	}
}

// Window is the per-level acknowledgement window.
func (s *EscalationService) Window() time.Duration {
	return s.window
}

// Now returns the service clock reading, truncated to what Postgres stores.
func (s *EscalationService) Now() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// OpenInput is a critical result reported by the check-execution side.
type OpenInput struct {
	OrganizationID string
	SiteID         string
	CheckID        string
	CheckResultID  string
	Contacts       []domain.ContactInput
}

// StatusChange requests a human status transition.
type StatusChange struct {
	IssueID string
	Status  domain.IssueStatus
	// Level is the caller's verified level. Ignored when Override is set.
	Level   int
	Actor   domain.Actor
	Message string
	// Override marks an organization operator acting at the current level.
	Override bool
}

// ReportInput requests a REPORT_ADDED annotation.
type ReportInput struct {
	IssueID  string
	Level    int
	Actor    domain.Actor
	Message  string
	Override bool
}

// EscalationOutcome describes what Escalate did.
type EscalationOutcome string

const (
	OutcomeEscalated EscalationOutcome = "escalated"
	OutcomeExhausted EscalationOutcome = "exhausted"
)

// Open creates an issue at level 1 unless a cooldown or an unresolved issue
// for the same (site, check) suppresses it. Suppression is reported through
// domain.ErrCooldownActive or domain.ErrAlreadyOpen.
func (s *EscalationService) Open(ctx context.Context, input OpenInput) (*domain.Issue, error) {
	siteID := strings.TrimSpace(input.SiteID)
	checkID := strings.TrimSpace(input.CheckID)
	if siteID == "" || checkID == "" {
		return nil, apperrors.NewValidationError("site_id and check_id are required", nil)
	}
	contacts := UsableContacts(input.Contacts)
	if len(contacts) == 0 {
		return nil, apperrors.NewValidationError("at least one contact with an email is required", nil)
	}

	active, err := s.cooldowns.IsActive(ctx, siteID, checkID)
	if err != nil {
		return nil, fmt.Errorf("check cooldown: %w", err)
	}
	if active {
		s.metrics.IssueSuppressed("cooldown")
		return nil, domain.ErrCooldownActive
	}

	token, err := newIssueToken()
	if err != nil {
		return nil, err
	}
	now := s.Now()
	issue := &domain.Issue{
		ID:             uuid.NewString(),
		Token:          token,
		OrganizationID: input.OrganizationID,
		SiteID:         siteID,
		CheckID:        checkID,
		CheckResultID:  input.CheckResultID,
		Status:         domain.IssueStatusOpen,
		CurrentLevel:   1,
		MaxLevel:       len(contacts),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, c := range contacts {
		issue.Contacts[i] = &domain.LevelContact{Name: c.Name, Email: c.Email}
	}
	notifiedAt := now
	issue.Contacts[0].NotifiedAt = &notifiedAt

	created := s.systemEvent(issue.ID, domain.EventCreated, 1, "", now)
	if err := s.issues.Create(ctx, issue, created); err != nil {
		if errors.Is(err, domain.ErrAlreadyOpen) {
			s.metrics.IssueSuppressed("already_open")
		}
		return nil, err
	}

	if err := s.cooldowns.SetCooldown(ctx, siteID, checkID, s.cooldownTTL); err != nil {
		s.logger.Warn("set cooldown failed", zap.String("issue_id", issue.ID), zap.Error(err))
	}

	s.metrics.IssueOpened()
	s.logger.Info("issue opened",
		zap.String("issue_id", issue.ID),
		zap.String("site_id", siteID),
		zap.String("check_id", checkID),
		zap.Int("max_level", issue.MaxLevel))
	s.publish(ctx, events.Event{Type: events.EventIssueOpened, IssueID: issue.ID, Level: 1, Issue: issue.Clone()})
	return issue, nil
}

// RecordViewed appends a VIEWED annotation without touching the issue state.
func (s *EscalationService) RecordViewed(ctx context.Context, issueID string, level *int, viewer domain.Actor) error {
	if _, err := s.issues.GetByID(ctx, issueID); err != nil {
		return err
	}
	ev := domain.NewActorEvent(issueID, domain.EventViewed, level, viewer, "", s.Now())
	ev.ID = newEventID()
	return s.issues.AppendEvent(ctx, ev)
}

// UpdateStatus applies a human transition to ACKNOWLEDGED, IN_PROGRESS or RESOLVED.
func (s *EscalationService) UpdateStatus(ctx context.Context, change StatusChange) (*domain.Issue, error) {
	issue, err := s.issues.GetByID(ctx, change.IssueID)
	if err != nil {
		return nil, err
	}
	if err := validateStatusChange(issue, change); err != nil {
		return nil, err
	}

	now := s.Now()
	previous := issue.Status
	expected := issue.Version
	issue.Status = change.Status
	issue.UpdatedAt = now
	if change.Status == domain.IssueStatusResolved {
		issue.ResolvedByName = optionalString(change.Actor.Name)
		issue.ResolvedByEmail = optionalString(change.Actor.Email)
		resolvedAt := now
		issue.ResolvedAt = &resolvedAt
	}

	eventType, _ := domain.StatusEventType(change.Status)
	level := issue.CurrentLevel
	ev := domain.NewActorEvent(issue.ID, eventType, &level, change.Actor, change.Message, now)
	ev.ID = newEventID()
	if err := s.issues.Update(ctx, issue, ev, expected); err != nil {
		return nil, err
	}

	s.metrics.StatusChanged(string(change.Status), actorKind(change.Override))
	s.logger.Info("issue status changed",
		zap.String("issue_id", issue.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(change.Status)),
		zap.Int("level", level),
		zap.Bool("override", change.Override))
	s.publish(ctx, events.Event{
		Type:    events.EventIssueStatusChanged,
		IssueID: issue.ID,
		Level:   level,
		Actor:   events.Actor{Name: change.Actor.Name, Email: change.Actor.Email, Operator: change.Override},
		Issue:   issue.Clone(),
		Payload: events.StatusChangedPayload{OldStatus: previous, NewStatus: change.Status, Message: change.Message},
	})
	return issue, nil
}

func validateStatusChange(issue *domain.Issue, change StatusChange) error {
	switch change.Status {
	case domain.IssueStatusAcknowledged, domain.IssueStatusInProgress, domain.IssueStatusResolved:
	default:
		return fmt.Errorf("%w: cannot set status %q", domain.ErrInvalidTransition, change.Status)
	}
	if !change.Override && change.Level != issue.CurrentLevel {
		return domain.ErrWrongLevel
	}
	if issue.Status.Terminal() {
		return fmt.Errorf("%w: issue is %s", domain.ErrInvalidTransition, issue.Status)
	}
	if issue.Status == change.Status {
		return fmt.Errorf("%w: issue is already %s", domain.ErrInvalidTransition, issue.Status)
	}
	return nil
}

// Escalate moves a due issue to its next configured level, or marks it
// EXHAUSTED when no further level exists. It returns domain.ErrNotDue when
// the current window is still open and domain.ErrInvalidTransition for
// terminal issues.
func (s *EscalationService) Escalate(ctx context.Context, issueID string) (*domain.Issue, EscalationOutcome, error) {
	issue, err := s.issues.GetByID(ctx, issueID)
	if err != nil {
		return nil, "", err
	}
	if issue.Status.Terminal() {
		return nil, "", fmt.Errorf("%w: issue is %s", domain.ErrInvalidTransition, issue.Status)
	}
	now := s.Now()
	if !issue.DeadlineElapsed(s.window, now) {
		return nil, "", domain.ErrNotDue
	}

	expected := issue.Version
	issue.UpdatedAt = now
	next := issue.CurrentLevel + 1

	if next <= issue.MaxLevel && issue.HasLevel(next) {
		issue.CurrentLevel = next
		notifiedAt := now
		issue.Contacts[next-1].NotifiedAt = &notifiedAt
		ev := s.systemEvent(issue.ID, domain.EventEscalated, next, fmt.Sprintf("escalated to level %d", next), now)
		if err := s.issues.Update(ctx, issue, ev, expected); err != nil {
			return nil, "", err
		}
		s.metrics.IssueEscalated(next)
		s.logger.Info("issue escalated", zap.String("issue_id", issue.ID), zap.Int("level", next))
		s.publish(ctx, events.Event{Type: events.EventIssueEscalated, IssueID: issue.ID, Level: next, Issue: issue.Clone()})
		return issue, OutcomeEscalated, nil
	}

	issue.Status = domain.IssueStatusExhausted
	ev := s.systemEvent(issue.ID, domain.EventExhausted, issue.CurrentLevel, "no contact resolved the issue", now)
	if err := s.issues.Update(ctx, issue, ev, expected); err != nil {
		return nil, "", err
	}
	s.metrics.IssueExhausted()
	s.logger.Warn("issue exhausted", zap.String("issue_id", issue.ID), zap.Int("level", issue.CurrentLevel))
	s.publish(ctx, events.Event{Type: events.EventIssueExhausted, IssueID: issue.ID, Level: issue.CurrentLevel, Issue: issue.Clone()})
	return issue, OutcomeExhausted, nil
}

// AddReport annotates a non-terminal issue on behalf of a current or past level.
func (s *EscalationService) AddReport(ctx context.Context, input ReportInput) (*domain.Issue, error) {
	issue, err := s.issues.GetByID(ctx, input.IssueID)
	if err != nil {
		return nil, err
	}
	level := input.Level
	if input.Override {
		level = issue.CurrentLevel
	}
	if issue.Status.Terminal() || !issue.CanAddReport(level) {
		return nil, domain.ErrReportNotAllowed
	}

	now := s.Now()
	expected := issue.Version
	issue.UpdatedAt = now
	ev := domain.NewActorEvent(issue.ID, domain.EventReportAdded, &level, input.Actor, input.Message, now)
	ev.ID = newEventID()
	if err := s.issues.Update(ctx, issue, ev, expected); err != nil {
		return nil, err
	}

	s.metrics.ReportAdded()
	s.publish(ctx, events.Event{
		Type:    events.EventIssueReportAdded,
		IssueID: issue.ID,
		Level:   level,
		Actor:   events.Actor{Name: input.Actor.Name, Email: input.Actor.Email, Operator: input.Override},
		Issue:   issue.Clone(),
		Payload: events.ReportAddedPayload{Preview: preview(input.Message, 140)},
	})
	return issue, nil
}

func (s *EscalationService) systemEvent(issueID string, eventType domain.EventType, level int, message string, at time.Time) domain.Event {
	ev := domain.NewSystemEvent(issueID, eventType, level, message, at)
	ev.ID = newEventID()
	return ev
}

// publish hands committed changes to subscribers. Handler failures are
// logged and never undo the transition.
func (s *EscalationService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = newEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.Now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("issue_id", event.IssueID),
			zap.Error(err))
	}
}

// UsableContacts keeps at most domain.MaxLevels contacts that carry an email.
func UsableContacts(in []domain.ContactInput) []domain.ContactInput {
	out := make([]domain.ContactInput, 0, domain.MaxLevels)
	for _, c := range in {
		if len(out) == domain.MaxLevels {
			break
		}
		email := strings.TrimSpace(c.Email)
		if email == "" {
			continue
		}
		out = append(out, domain.ContactInput{Name: strings.TrimSpace(c.Name), Email: email})
	}
	return out
}

func newIssueToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate issue token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newEventID() string {
	return ulid.Make().String()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func actorKind(override bool) string {
	if override {
		return "operator"
	}
	return "contact"
}

func preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
