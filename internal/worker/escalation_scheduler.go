package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/escalation-service/internal/domain"
	"github.com/spec-kit/escalation-service/internal/observability"
	"github.com/spec-kit/escalation-service/internal/repository"
	"github.com/spec-kit/escalation-service/internal/service"
)

// Escalator advances one due issue.
type Escalator interface {
	Escalate(ctx context.Context, issueID string) (*domain.Issue, service.EscalationOutcome, error)
	Window() time.Duration
}

// Redeliverer retries a notice the issue is still missing.
type Redeliverer interface {
	Redeliver(ctx context.Context, issue *domain.Issue) error
}

// SweepReport summarizes one tick.
type SweepReport struct {
	Escalated        int
	Exhausted        int
	Skipped          int
	Failed           int
	Redelivered      int
	RedeliveryFailed int
	NotLeader        bool
}

// SchedulerDependencies bundles collaborators for the sweep loop.
type SchedulerDependencies struct {
	IssueRepo     repository.IssueRepository
	Escalation    Escalator
	Notifications Redeliverer
	Leader        Leader
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Interval      time.Duration
	BatchSize     int
	// RetryGrace keeps the retry pass away from notices still being sent.
	RetryGrace time.Duration
	RetryBatch int
	Clock      func() time.Time
}

// EscalationScheduler periodically escalates issues whose window elapsed and
// retries undelivered notices. Every tick re-derives its work from persisted
// deadlines.
type EscalationScheduler struct {
	issues        repository.IssueRepository
	escalation    Escalator
	notifications Redeliverer
	leader        Leader
	logger        *zap.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	batchSize     int
	retryGrace    time.Duration
	retryBatch    int
	now           func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEscalationScheduler(deps SchedulerDependencies) *EscalationScheduler {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	leader := deps.Leader
	if leader == nil {
		leader = AlwaysLeader{}
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &EscalationScheduler{
		issues:        deps.IssueRepo,
		escalation:    deps.Escalation,
		notifications: deps.Notifications,
		leader:        leader,
		logger:        logger,
		metrics:       deps.Metrics,
		interval:      interval,
		batchSize:     deps.BatchSize,
		retryGrace:    deps.RetryGrace,
		retryBatch:    deps.RetryBatch,
		now:           now,
	}
}

// Run sweeps once immediately and then every interval until ctx is cancelled.
func (s *EscalationScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.leader.Release(releaseCtx); err != nil {
			s.logger.Warn("release scheduler leadership", zap.Error(err))
		}
	}()

	s.logger.Info("escalation scheduler started", zap.Duration("interval", s.interval))
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("escalation scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Start runs the loop in the background. Stop waits for it to exit.
func (s *EscalationScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = s.Run(ctx)
	}(s.done)
}

func (s *EscalationScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *EscalationScheduler) tick(ctx context.Context) {
	// a tick is not cancelled mid-batch
	report, err := s.Sweep(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		return
	}
	if report.NotLeader {
		return
	}
	if report.Escalated+report.Exhausted+report.Failed+report.Redelivered+report.RedeliveryFailed > 0 {
		s.logger.Info("sweep finished",
			zap.Int("escalated", report.Escalated),
			zap.Int("exhausted", report.Exhausted),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
			zap.Int("redelivered", report.Redelivered),
			zap.Int("redelivery_failed", report.RedeliveryFailed))
	}
}

// Sweep runs one pass: escalate every due issue, then retry pending notices.
// Per-issue failures are counted and logged, never returned.
func (s *EscalationScheduler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	leader, err := s.leader.Acquire(ctx)
	if err != nil {
		return report, err
	}
	if !leader {
		report.NotLeader = true
		return report, nil
	}

	started := time.Now()
	defer func() { s.metrics.SweepFinished(time.Since(started)) }()

	now := s.now().UTC()
	due, err := s.issues.ListDue(ctx, now.Add(-s.escalation.Window()), s.batchSize)
	if err != nil {
		return report, err
	}
	for i := range due {
		s.escalateOne(ctx, due[i].ID, &report)
	}

	if s.notifications == nil {
		return report, nil
	}
	pending, err := s.issues.ListUndelivered(ctx, now.Add(-s.retryGrace), s.retryBatch)
	if err != nil {
		s.logger.Warn("list undelivered notices", zap.Error(err))
		return report, nil
	}
	for i := range pending {
		issue := &pending[i]
		if err := s.notifications.Redeliver(ctx, issue); err != nil {
			report.RedeliveryFailed++
			s.logger.Warn("redelivery failed", zap.String("issue_id", issue.ID), zap.Error(err))
			continue
		}
		report.Redelivered++
	}
	return report, nil
}

func (s *EscalationScheduler) escalateOne(ctx context.Context, issueID string, report *SweepReport) {
	_, outcome, err := s.escalation.Escalate(ctx, issueID)
	switch {
	case err == nil && outcome == service.OutcomeExhausted:
		report.Exhausted++
		s.metrics.SweepOutcome("exhausted")
	case err == nil:
		report.Escalated++
		s.metrics.SweepOutcome("escalated")
	case errors.Is(err, domain.ErrStaleIssue), errors.Is(err, domain.ErrNotDue), errors.Is(err, domain.ErrInvalidTransition):
		report.Skipped++
		s.metrics.SweepOutcome("skipped")
		s.logger.Debug("escalation skipped", zap.String("issue_id", issueID), zap.Error(err))
	default:
		report.Failed++
		s.metrics.SweepOutcome("failed")
		s.logger.Error("escalation failed", zap.String("issue_id", issueID), zap.Error(err))
	}
}
