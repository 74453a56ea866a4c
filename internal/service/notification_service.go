package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/escalation-service/internal/auth"
	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/events"
	"github.com/spec-kit/escalation-service/internal/notify"
	"github.com/spec-kit/escalation-service/internal/observability"
	"github.com/spec-kit/escalation-service/internal/repository"
)

// NotificationService delivers level notices and final notices, and records
// successful deliveries so the scheduler can retry the rest.
type NotificationService struct {
	dispatcher events.Dispatcher
	issues     repository.IssueRepository
	signer     *auth.LinkSigner
	contacts   notify.Notifier
	ops        notify.Notifier
	logger     *zap.Logger
	metrics    *observability.Metrics
	window     time.Duration
	now        func() time.Time
}

// NotificationDependencies bundles collaborators for notification delivery.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	IssueRepo  repository.IssueRepository
	Signer     *auth.LinkSigner
	// Contacts reaches the people named on the issue.
	Contacts notify.Notifier
	// Ops mirrors escalations and exhaustion to operators. Optional.
	Ops     notify.Notifier
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Window  time.Duration
	Clock   func() time.Time
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		issues:     deps.IssueRepo,
		signer:     deps.Signer,
		contacts:   deps.Contacts,
		ops:        deps.Ops,
		logger:     logger,
		metrics:    deps.Metrics,
		window:     deps.Window,
		now:        now,
	}
}

// RegisterHandlers subscribes to lifecycle events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventIssueOpened, n.handleLevelNotice)
	n.dispatcher.Subscribe(events.EventIssueEscalated, n.handleLevelNotice)
	n.dispatcher.Subscribe(events.EventIssueExhausted, n.handleExhausted)
	n.dispatcher.Subscribe(events.EventIssueStatusChanged, n.handleStatusChanged)
}

func (n *NotificationService) handleLevelNotice(ctx context.Context, event events.Event) error {
	if event.Issue == nil {
		return fmt.Errorf("event %s carries no issue", event.ID)
	}
	err := n.DeliverLevel(ctx, event.Issue, event.Level)
	if event.Type == events.EventIssueEscalated {
		n.mirror(ctx, n.levelMessage(event.Issue, event.Level))
	}
	return err
}

func (n *NotificationService) handleExhausted(ctx context.Context, event events.Event) error {
	if event.Issue == nil {
		return fmt.Errorf("event %s carries no issue", event.ID)
	}
	err := n.DeliverFinal(ctx, event.Issue)
	n.mirror(ctx, notify.Message{
		Kind:           notify.KindFinal,
		IssueID:        event.Issue.ID,
		OrganizationID: event.Issue.OrganizationID,
		SiteID:         event.Issue.SiteID,
		CheckID:        event.Issue.CheckID,
		Level:          event.Issue.CurrentLevel,
		MaxLevel:       event.Issue.MaxLevel,
	})
	return err
}

func (n *NotificationService) handleStatusChanged(_ context.Context, event events.Event) error {
	n.logger.Info("IssueStatusChanged",
		zap.String("issue_id", event.IssueID),
		zap.Int("level", event.Level),
		zap.Bool("operator", event.Actor.Operator),
		zap.Any("payload", event.Payload))
	return nil
}

// DeliverLevel sends the level's contact its signed link and stamps the
// delivery on success. A failure leaves notifiedAt untouched.
func (n *NotificationService) DeliverLevel(ctx context.Context, issue *domain.Issue, level int) error {
	contact := issue.Contact(level)
	if contact == nil || contact.Email == "" {
		return fmt.Errorf("issue %s has no contact for level %d", issue.ID, level)
	}
	if err := n.contacts.Notify(ctx, n.levelMessage(issue, level)); err != nil {
		n.metrics.Notification(string(notify.KindLevel), "failed")
		n.logger.Warn("level notification failed",
			zap.String("issue_id", issue.ID),
			zap.Int("level", level),
			zap.Error(err))
		return err
	}
	n.metrics.Notification(string(notify.KindLevel), "sent")
	if err := n.issues.MarkLevelDelivered(ctx, issue.ID, level, n.now().UTC()); err != nil {
		return fmt.Errorf("mark level %d delivered: %w", level, err)
	}
	return nil
}

// DeliverFinal tells every snapshotted contact the issue is exhausted. The
// final notice counts as delivered only once every contact accepted it.
func (n *NotificationService) DeliverFinal(ctx context.Context, issue *domain.Issue) error {
	var errs []error
	for level := 1; level <= issue.MaxLevel; level++ {
		contact := issue.Contact(level)
		if contact == nil || contact.Email == "" {
			continue
		}
		msg := notify.Message{
			Kind:           notify.KindFinal,
			IssueID:        issue.ID,
			Token:          issue.Token,
			OrganizationID: issue.OrganizationID,
			SiteID:         issue.SiteID,
			CheckID:        issue.CheckID,
			Level:          level,
			MaxLevel:       issue.MaxLevel,
			ContactName:    contact.Name,
			ContactEmail:   contact.Email,
			Link:           n.signer.Link(issue.Token, level),
		}
		if err := n.contacts.Notify(ctx, msg); err != nil {
			n.metrics.Notification(string(notify.KindFinal), "failed")
			errs = append(errs, fmt.Errorf("level %d: %w", level, err))
			continue
		}
		n.metrics.Notification(string(notify.KindFinal), "sent")
	}
	if err := errors.Join(errs...); err != nil {
		n.logger.Warn("final notice incomplete", zap.String("issue_id", issue.ID), zap.Error(err))
		return err
	}
	if err := n.issues.MarkFinalNoticeDelivered(ctx, issue.ID, n.now().UTC()); err != nil {
		return fmt.Errorf("mark final notice delivered: %w", err)
	}
	return nil
}

// Redeliver retries whatever notice the issue is still missing.
func (n *NotificationService) Redeliver(ctx context.Context, issue *domain.Issue) error {
	switch {
	case issue.Status == domain.IssueStatusExhausted:
		if issue.FinalNoticeDeliveredAt != nil {
			return nil
		}
		return n.DeliverFinal(ctx, issue)
	case issue.Status.Terminal():
		return nil
	default:
		contact := issue.Contact(issue.CurrentLevel)
		if contact == nil || contact.DeliveredAt != nil {
			return nil
		}
		return n.DeliverLevel(ctx, issue, issue.CurrentLevel)
	}
}

func (n *NotificationService) levelMessage(issue *domain.Issue, level int) notify.Message {
	msg := notify.Message{
		Kind:           notify.KindLevel,
		IssueID:        issue.ID,
		Token:          issue.Token,
		OrganizationID: issue.OrganizationID,
		SiteID:         issue.SiteID,
		CheckID:        issue.CheckID,
		Level:          level,
		MaxLevel:       issue.MaxLevel,
		Link:           n.signer.Link(issue.Token, level),
	}
	if contact := issue.Contact(level); contact != nil {
		msg.ContactName = contact.Name
		msg.ContactEmail = contact.Email
		if contact.NotifiedAt != nil {
			msg.Deadline = contact.NotifiedAt.Add(n.window)
		}
	}
	return msg
}

// mirror copies a notice to the ops channel. Failures only log.
func (n *NotificationService) mirror(ctx context.Context, msg notify.Message) {
	if n.ops == nil {
		return
	}
	msg.Link = ""
	if err := n.ops.Notify(ctx, msg); err != nil {
		n.metrics.Notification("ops", "failed")
		n.logger.Warn("ops notification failed", zap.String("issue_id", msg.IssueID), zap.Error(err))
		return
	}
	n.metrics.Notification("ops", "sent")
}
