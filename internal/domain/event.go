package domain

import "time"

// EventType identifies an entry in an issue's audit trail.
type EventType string

const (
	EventCreated      EventType = "CREATED"
	EventViewed       EventType = "VIEWED"
	EventAcknowledged EventType = "ACKNOWLEDGED"
	EventInProgress   EventType = "IN_PROGRESS"
	EventResolved     EventType = "RESOLVED"
	EventEscalated    EventType = "ESCALATED"
	EventExhausted    EventType = "EXHAUSTED"
	EventReportAdded  EventType = "REPORT_ADDED"
)

// Annotation reports whether the event type leaves the issue state untouched.
func (t EventType) Annotation() bool {
	return t == EventViewed || t == EventReportAdded
}

// SystemGenerated reports whether events of this type never carry a user.
func (t EventType) SystemGenerated() bool {
	return t == EventCreated || t == EventEscalated || t == EventExhausted
}

// Event is an immutable audit trail entry.
type Event struct {
	ID        string
	IssueID   string
	Type      EventType
	Level     *int
	UserName  *string
	UserEmail *string
	Message   *string
	CreatedAt time.Time
}

// Actor identifies the human behind a write.
type Actor struct {
	Name  string
	Email string
}

// NewSystemEvent builds an event with no user attached.
func NewSystemEvent(issueID string, eventType EventType, level int, message string, at time.Time) Event {
	ev := Event{
		IssueID:   issueID,
		Type:      eventType,
		Level:     &level,
		CreatedAt: at,
	}
	if message != "" {
		ev.Message = &message
	}
	return ev
}

// NewActorEvent builds an event attributed to actor. System event types drop the actor.
func NewActorEvent(issueID string, eventType EventType, level *int, actor Actor, message string, at time.Time) Event {
	ev := Event{
		IssueID:   issueID,
		Type:      eventType,
		Level:     level,
		CreatedAt: at,
	}
	if !eventType.SystemGenerated() {
		if actor.Name != "" {
			name := actor.Name
			ev.UserName = &name
		}
		if actor.Email != "" {
			email := actor.Email
			ev.UserEmail = &email
		}
	}
	if message != "" {
		ev.Message = &message
	}
	return ev
}

// StatusEventType maps a target status to the event written alongside it.
func StatusEventType(status IssueStatus) (EventType, bool) {
	switch status {
	case IssueStatusAcknowledged:
		return EventAcknowledged, true
	case IssueStatusInProgress:
		return EventInProgress, true
	case IssueStatusResolved:
		return EventResolved, true
	case IssueStatusExhausted:
		return EventExhausted, true
	}
	return "", false
}
