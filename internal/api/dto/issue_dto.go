package dto

import (
	"time"

	"github.com/spec-kit/escalation-service/internal/domain"
)

// PublicStatusRequest is a status change posted through a signed link.
type PublicStatusRequest struct {
	Level     int    `json:"level" validate:"required,min=1,max=3"`
	Signature string `json:"signature" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=OPEN ACKNOWLEDGED IN_PROGRESS RESOLVED EXHAUSTED"`
	Name      string `json:"name" validate:"required,max=200"`
	Email     string `json:"email" validate:"required,email"`
	Message   string `json:"message" validate:"max=4000"`
}

// PublicReportRequest is a report posted through a signed link.
type PublicReportRequest struct {
	Level     int    `json:"level" validate:"required,min=1,max=3"`
	Signature string `json:"signature" validate:"required"`
	Name      string `json:"name" validate:"required,max=200"`
	Email     string `json:"email" validate:"required,email"`
	Message   string `json:"message" validate:"required,max=4000"`
}

// PublicViewedRequest records that a link was opened. Level and signature are optional.
type PublicViewedRequest struct {
	Name      string `json:"name" validate:"max=200"`
	Email     string `json:"email" validate:"omitempty,email"`
	Level     int    `json:"level" validate:"min=0,max=3"`
	Signature string `json:"signature"`
}

// OperatorStatusRequest is a status change made from the dashboard.
type OperatorStatusRequest struct {
	Status  string `json:"status" validate:"required,oneof=OPEN ACKNOWLEDGED IN_PROGRESS RESOLVED EXHAUSTED"`
	Message string `json:"message" validate:"max=4000"`
}

// OperatorReportRequest is a report written from the dashboard.
type OperatorReportRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

// ContactResponse is one level's contact snapshot.
type ContactResponse struct {
	Level       int        `json:"level"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	NotifiedAt  *time.Time `json:"notified_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// IssueResponse is the issue state shown to callers.
type IssueResponse struct {
	ID                 string             `json:"id"`
	Token              string             `json:"token,omitempty"`
	OrganizationID     string             `json:"organization_id,omitempty"`
	SiteID             string             `json:"site_id"`
	CheckID            string             `json:"check_id"`
	CheckResultID      string             `json:"check_result_id,omitempty"`
	Status             domain.IssueStatus `json:"status"`
	CurrentLevel       int                `json:"current_level"`
	MaxLevel           int                `json:"max_level"`
	Contacts           []ContactResponse  `json:"contacts"`
	ResolvedByName     *string            `json:"resolved_by_name"`
	ResolvedByEmail    *string            `json:"resolved_by_email"`
	ResolvedAt         *time.Time         `json:"resolved_at"`
	EscalationDeadline time.Time          `json:"escalation_deadline"`
	TimeRemainingSecs  int64              `json:"time_remaining_seconds"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// EventResponse is one audit trail entry.
type EventResponse struct {
	ID        string           `json:"id"`
	Type      domain.EventType `json:"type"`
	Level     *int             `json:"level"`
	UserName  *string          `json:"user_name"`
	UserEmail *string          `json:"user_email"`
	Message   *string          `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

// CapabilitiesResponse tells the caller which writes it may attempt.
type CapabilitiesResponse struct {
	VerifiedLevel int  `json:"verified_level"`
	CanUpdate     bool `json:"can_update"`
	CanAddReport  bool `json:"can_add_report"`
}

// IssueDetailResponse is an issue with its history and the caller's capabilities.
type IssueDetailResponse struct {
	Issue        IssueResponse        `json:"issue"`
	Events       []EventResponse      `json:"events"`
	Capabilities CapabilitiesResponse `json:"capabilities"`
}

// CooldownResponse is a live cooldown entry.
type CooldownResponse struct {
	SiteID           string    `json:"site_id"`
	CheckID          string    `json:"check_id"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}
