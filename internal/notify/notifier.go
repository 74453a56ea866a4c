// Package notify delivers escalation notices to contacts and operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Kind tells a notifier which notice it is rendering.
type Kind string

const (
	// KindLevel asks a level's contact to act on the issue.
	KindLevel Kind = "level"
	// KindFinal tells a contact the issue ran out of levels unresolved.
	KindFinal Kind = "final"
)

// Message is the rendered payload handed to a delivery channel.
type Message struct {
	Kind           Kind
	IssueID        string
	Token          string
	OrganizationID string
	SiteID         string
	CheckID        string
	Level          int
	MaxLevel       int
	ContactName    string
	ContactEmail   string
	Link           string
	Deadline       time.Time
}

// Subject is the one-line summary used by email and chat channels.
func (m Message) Subject() string {
	if m.Kind == KindFinal {
		return fmt.Sprintf("[unresolved] check %s on site %s exhausted all escalation levels", m.CheckID, m.SiteID)
	}
	return fmt.Sprintf("[level %d/%d] check %s on site %s is critical", m.Level, m.MaxLevel, m.CheckID, m.SiteID)
}

// Body renders the plain-text notice.
func (m Message) Body() string {
	var b strings.Builder
	if m.ContactName != "" {
		fmt.Fprintf(&b, "Hello %s,\n\n", m.ContactName)
	}
	switch m.Kind {
	case KindFinal:
		b.WriteString("Nobody resolved this issue before the last escalation window closed.\n")
		b.WriteString("It is now marked EXHAUSTED and will not escalate further.\n")
	default:
		fmt.Fprintf(&b, "Check %s on site %s reported a critical result and you are escalation level %d.\n", m.CheckID, m.SiteID, m.Level)
		if !m.Deadline.IsZero() {
			fmt.Fprintf(&b, "Acknowledge or resolve it before %s or it escalates.\n", m.Deadline.UTC().Format(time.RFC1123))
		}
	}
	if m.Link != "" {
		fmt.Fprintf(&b, "\n%s\n", m.Link)
	}
	return b.String()
}

// Notifier delivers a message. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Fanout sends to every notifier and joins their failures.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notices to the log. It is the contact channel when SMTP is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Info("notification",
		zap.String("kind", string(msg.Kind)),
		zap.String("issue_id", msg.IssueID),
		zap.Int("level", msg.Level),
		zap.String("to", msg.ContactEmail),
		zap.String("subject", msg.Subject()),
		zap.String("link", msg.Link),
	)
	return nil
}
