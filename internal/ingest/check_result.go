package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/service"
	apperrors "github.com/spec-kit/escalation-service/pkg/util"
)

// StatusCritical is the only check result status that opens an issue.
const StatusCritical = "critical"

// Contact is a person to page for a failing check, in escalation order.
type Contact struct {
	Name  string `json:"name" validate:"max=200"`
	Email string `json:"email" validate:"omitempty,email"`
}

// CheckResult is the payload published by the check-execution side.
type CheckResult struct {
	OrganizationID string    `json:"organization_id" validate:"max=64"`
	SiteID         string    `json:"site_id" validate:"required,max=128"`
	CheckID        string    `json:"check_id" validate:"required,max=128"`
	CheckResultID  string    `json:"check_result_id" validate:"max=128"`
	Status         string    `json:"status" validate:"required"`
	Contacts       []Contact `json:"contacts" validate:"dive"`
}

// Opener is the part of the state machine ingest needs.
type Opener interface {
	Open(ctx context.Context, input service.OpenInput) (*domain.Issue, error)
}

// Outcome reports what a check result did.
type Outcome struct {
	IssueID    string `json:"issue_id,omitempty"`
	Opened     bool   `json:"opened"`
	Suppressed bool   `json:"suppressed"`
	Reason     string `json:"reason,omitempty"`
}

// Processor turns check results into issues.
type Processor struct {
	opener   Opener
	validate *validator.Validate
	logger   *zap.Logger
}

func NewProcessor(opener Opener, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{opener: opener, validate: validator.New(), logger: logger}
}

// Handle validates result and opens an issue for a critical status.
// Suppression is an outcome, not an error.
func (p *Processor) Handle(ctx context.Context, result CheckResult) (Outcome, error) {
	if err := p.validate.Struct(result); err != nil {
		return Outcome{}, apperrors.NewValidationFailure("invalid check result", err)
	}
	if !strings.EqualFold(strings.TrimSpace(result.Status), StatusCritical) {
		return Outcome{Reason: "not_critical"}, nil
	}
	if len(result.Contacts) == 0 {
		return Outcome{}, apperrors.NewValidationError("contacts are required for a critical result", nil)
	}

	contacts := make([]domain.ContactInput, 0, len(result.Contacts))
	for _, c := range result.Contacts {
		contacts = append(contacts, domain.ContactInput{Name: c.Name, Email: c.Email})
	}
	issue, err := p.opener.Open(ctx, service.OpenInput{
		OrganizationID: result.OrganizationID,
		SiteID:         result.SiteID,
		CheckID:        result.CheckID,
		CheckResultID:  result.CheckResultID,
		Contacts:       contacts,
	})
	switch {
	case errors.Is(err, domain.ErrCooldownActive):
		return Outcome{Suppressed: true, Reason: "cooldown"}, nil
	case errors.Is(err, domain.ErrAlreadyOpen):
		return Outcome{Suppressed: true, Reason: "already_open"}, nil
	case err != nil:
		return Outcome{}, err
	}
	return Outcome{IssueID: issue.ID, Opened: true}, nil
}
