package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/escalation-service/internal/auth"
	"github.com/spec-kit/escalation-service/internal/cooldown"
	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/observability"
	"github.com/spec-kit/escalation-service/internal/repository"
)

// IssueProjection is the read model returned to public and operator callers.
type IssueProjection struct {
	Issue              *domain.Issue
	Events             []domain.Event
	VerifiedLevel      int
	EscalationDeadline time.Time
	TimeRemaining      time.Duration
	CanUpdate          bool
	CanAddReport       bool
}

// PublicCredentials are the capability parameters carried by a public link.
type PublicCredentials struct {
	Token     string
	Level     int
	Signature string
}

// PublicStatusInput is a status change submitted through a public link.
type PublicStatusInput struct {
	PublicCredentials
	Status  domain.IssueStatus
	Actor   domain.Actor
	Message string
}

// PublicReportInput is a report submitted through a public link.
type PublicReportInput struct {
	PublicCredentials
	Actor   domain.Actor
	Message string
}

// OperatorIssueFilter narrows the organization dashboard listing.
type OperatorIssueFilter struct {
	SiteID   *string
	Statuses []domain.IssueStatus
	Limit    int
	Offset   int
}

// AccessService translates public-link and operator requests into state
// machine calls and read projections.
type AccessService struct {
	issues    repository.IssueRepository
	machine   *EscalationService
	signer    *auth.LinkSigner
	cooldowns cooldown.Store
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// AccessDependencies bundles collaborators for the access layer.
type AccessDependencies struct {
	IssueRepo  repository.IssueRepository
	Escalation *EscalationService
	Signer     *auth.LinkSigner
	Cooldowns  cooldown.Store
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewAccessService constructs the access layer.
func NewAccessService(deps AccessDependencies) *AccessService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{
		issues:    deps.IssueRepo,
		machine:   deps.Escalation,
		signer:    deps.Signer,
		cooldowns: deps.Cooldowns,
		logger:    logger,
		metrics:   deps.Metrics,
	}
}

// PublicView returns the issue behind a public token. An invalid or missing
// signature yields a read-only projection rather than an error.
func (s *AccessService) PublicView(ctx context.Context, creds PublicCredentials) (*IssueProjection, error) {
	issue, err := s.issues.GetByToken(ctx, creds.Token)
	if err != nil {
		return nil, err
	}
	return s.project(ctx, issue, s.verifiedLevel(issue, creds))
}

// PublicUpdateStatus applies a contact's status change after verifying the link signature.
func (s *AccessService) PublicUpdateStatus(ctx context.Context, input PublicStatusInput) (*IssueProjection, error) {
	issue, level, err := s.authorize(ctx, input.PublicCredentials)
	if err != nil {
		return nil, err
	}
	updated, err := s.retryStale(func() (*domain.Issue, error) {
		return s.machine.UpdateStatus(ctx, StatusChange{
			IssueID: issue.ID,
			Status:  input.Status,
			Level:   level,
			Actor:   input.Actor,
			Message: input.Message,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.project(ctx, updated, level)
}

// PublicAddReport adds a contact's report after verifying the link signature.
func (s *AccessService) PublicAddReport(ctx context.Context, input PublicReportInput) (*IssueProjection, error) {
	issue, level, err := s.authorize(ctx, input.PublicCredentials)
	if err != nil {
		return nil, err
	}
	updated, err := s.retryStale(func() (*domain.Issue, error) {
		return s.machine.AddReport(ctx, ReportInput{
			IssueID: issue.ID,
			Level:   level,
			Actor:   input.Actor,
			Message: input.Message,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.project(ctx, updated, level)
}

// PublicRecordViewed logs a view. The level is recorded only when its signature verifies.
func (s *AccessService) PublicRecordViewed(ctx context.Context, creds PublicCredentials, viewer domain.Actor) error {
	issue, err := s.issues.GetByToken(ctx, creds.Token)
	if err != nil {
		return err
	}
	var level *int
	if verified := s.verifiedLevel(issue, creds); verified > 0 {
		level = &verified
	}
	return s.machine.RecordViewed(ctx, issue.ID, level, viewer)
}

// ListForOrganization returns the organization's issues, most recently updated first.
func (s *AccessService) ListForOrganization(ctx context.Context, organizationID string, filter OperatorIssueFilter) ([]IssueProjection, error) {
	issues, err := s.issues.List(ctx, repository.IssueFilter{
		OrganizationID: organizationID,
		SiteID:         filter.SiteID,
		Statuses:       filter.Statuses,
		Limit:          filter.Limit,
		Offset:         filter.Offset,
	})
	if err != nil {
		return nil, err
	}
	now := s.machine.Now()
	out := make([]IssueProjection, 0, len(issues))
	for i := range issues {
		out = append(out, s.operatorProjection(&issues[i], nil, now))
	}
	return out, nil
}

// GetForOperator returns one issue with its events if it belongs to the operator's organization.
func (s *AccessService) GetForOperator(ctx context.Context, op *domain.Operator, issueID string) (*IssueProjection, error) {
	issue, err := s.operatorIssue(ctx, op, issueID)
	if err != nil {
		return nil, err
	}
	evs, err := s.issues.ListEvents(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	projection := s.operatorProjection(issue, evs, s.machine.Now())
	return &projection, nil
}

// OperatorUpdateStatus applies a status change as an administrative override
// at the issue's current level. Transition rules still apply.
func (s *AccessService) OperatorUpdateStatus(ctx context.Context, op *domain.Operator, issueID string, status domain.IssueStatus, message string) (*IssueProjection, error) {
	if _, err := s.operatorIssue(ctx, op, issueID); err != nil {
		return nil, err
	}
	if _, err := s.retryStale(func() (*domain.Issue, error) {
		return s.machine.UpdateStatus(ctx, StatusChange{
			IssueID:  issueID,
			Status:   status,
			Actor:    domain.Actor{Name: op.Name, Email: op.Email},
			Message:  message,
			Override: true,
		})
	}); err != nil {
		return nil, err
	}
	return s.GetForOperator(ctx, op, issueID)
}

// OperatorAddReport adds an operator report at the issue's current level.
func (s *AccessService) OperatorAddReport(ctx context.Context, op *domain.Operator, issueID, message string) (*IssueProjection, error) {
	if _, err := s.operatorIssue(ctx, op, issueID); err != nil {
		return nil, err
	}
	if _, err := s.retryStale(func() (*domain.Issue, error) {
		return s.machine.AddReport(ctx, ReportInput{
			IssueID:  issueID,
			Actor:    domain.Actor{Name: op.Name, Email: op.Email},
			Message:  message,
			Override: true,
		})
	}); err != nil {
		return nil, err
	}
	return s.GetForOperator(ctx, op, issueID)
}

// ListCooldowns enumerates live cooldown entries.
func (s *AccessService) ListCooldowns(ctx context.Context) ([]domain.CooldownEntry, error) {
	return s.cooldowns.ListActive(ctx)
}

// ClearCooldowns removes every cooldown entry.
func (s *AccessService) ClearCooldowns(ctx context.Context, op *domain.Operator) (int, error) {
	n, err := s.cooldowns.ClearAll(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.CooldownsCleared(n)
	fields := []zap.Field{zap.Int("removed", n)}
	if op != nil {
		fields = append(fields, zap.String("operator_id", op.ID))
	}
	s.logger.Warn("cooldowns cleared", fields...)
	return n, nil
}

func (s *AccessService) authorize(ctx context.Context, creds PublicCredentials) (*domain.Issue, int, error) {
	issue, err := s.issues.GetByToken(ctx, creds.Token)
	if err != nil {
		return nil, 0, err
	}
	level := s.verifiedLevel(issue, creds)
	if level == 0 {
		return nil, 0, domain.ErrInvalidSignature
	}
	return issue, level, nil
}

// verifiedLevel is the signed level when it is also a configured level of the issue, else 0.
func (s *AccessService) verifiedLevel(issue *domain.Issue, creds PublicCredentials) int {
	level := s.signer.VerifiedLevel(issue.Token, creds.Level, creds.Signature)
	if level == 0 || !issue.HasLevel(level) {
		return 0
	}
	return level
}

// retryStale re-runs fn once after a concurrent modification. fn re-reads
// and re-validates, so a second stale result means the precondition is gone.
func (s *AccessService) retryStale(fn func() (*domain.Issue, error)) (*domain.Issue, error) {
	issue, err := fn()
	if !errors.Is(err, domain.ErrStaleIssue) {
		return issue, err
	}
	s.metrics.StaleRetry()
	issue, err = fn()
	if errors.Is(err, domain.ErrStaleIssue) {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidTransition, err)
	}
	return issue, err
}

func (s *AccessService) operatorIssue(ctx context.Context, op *domain.Operator, issueID string) (*domain.Issue, error) {
	issue, err := s.issues.GetByID(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if op == nil || issue.OrganizationID != op.OrganizationID {
		return nil, domain.ErrNotFound
	}
	return issue, nil
}

func (s *AccessService) project(ctx context.Context, issue *domain.Issue, level int) (*IssueProjection, error) {
	evs, err := s.issues.ListEvents(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	window := s.machine.Window()
	now := s.machine.Now()
	return &IssueProjection{
		Issue:              issue,
		Events:             evs,
		VerifiedLevel:      level,
		EscalationDeadline: issue.EscalationDeadline(window),
		TimeRemaining:      issue.TimeRemaining(window, now),
		CanUpdate:          level > 0 && issue.CanUpdate(level),
		CanAddReport:       level > 0 && issue.CanAddReport(level),
	}, nil
}

func (s *AccessService) operatorProjection(issue *domain.Issue, evs []domain.Event, now time.Time) IssueProjection {
	window := s.machine.Window()
	active := !issue.Status.Terminal()
	return IssueProjection{
		Issue:              issue,
		Events:             evs,
		VerifiedLevel:      issue.CurrentLevel,
		EscalationDeadline: issue.EscalationDeadline(window),
		TimeRemaining:      issue.TimeRemaining(window, now),
		CanUpdate:          active,
		CanAddReport:       active,
	}
}
