package events

import (
	"time"

	"github.com/spec-kit/escalation-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventIssueOpened        EventType = "issue_opened"
	EventIssueEscalated     EventType = "issue_escalated"
	EventIssueExhausted     EventType = "issue_exhausted"
	EventIssueStatusChanged EventType = "issue_status_changed"
	EventIssueReportAdded   EventType = "issue_report_added"
)

// Actor encapsulates actor metadata for an event. Empty for scheduler events.
type Actor struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Operator bool   `json:"operator,omitempty"`
}

// Event is published after an issue mutation has been committed.
// Issue is a snapshot of the committed state and must not be mutated by handlers.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	IssueID   string        `json:"issue_id"`
	Level     int           `json:"level"`
	Actor     Actor         `json:"actor"`
	Timestamp time.Time     `json:"timestamp"`
	Issue     *domain.Issue `json:"-"`
	Payload   interface{}   `json:"payload,omitempty"`
}

// StatusChangedPayload payload.
type StatusChangedPayload struct {
	OldStatus domain.IssueStatus `json:"old_status"`
	NewStatus domain.IssueStatus `json:"new_status"`
	Message   string             `json:"message,omitempty"`
}

// ReportAddedPayload payload.
type ReportAddedPayload struct {
	Preview string `json:"preview"`
}
