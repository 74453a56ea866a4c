package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/escalation-service/internal/api/http"
	"github.com/spec-kit/escalation-service/internal/api/http/handlers"
	"github.com/spec-kit/escalation-service/internal/auth"
	"github.com/spec-kit/escalation-service/internal/config"
	"github.com/spec-kit/escalation-service/internal/cooldown"
	"github.com/spec-kit/escalation-service/internal/events"
	"github.com/spec-kit/escalation-service/internal/ingest"
	"github.com/spec-kit/escalation-service/internal/notify"
	"github.com/spec-kit/escalation-service/internal/observability"
	"github.com/spec-kit/escalation-service/internal/persistence"
	"github.com/spec-kit/escalation-service/internal/repository"
	"github.com/spec-kit/escalation-service/internal/service"
	"github.com/spec-kit/escalation-service/internal/worker"
)

// application holds every wired component of the service.
type application struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	pg    *persistence.Postgres
	redis *persistence.Redis

	issues    repository.IssueRepository
	operators repository.OperatorRepository
	cooldowns cooldown.Store
	signer    *auth.LinkSigner

	escalation    *service.EscalationService
	notifications *service.NotificationService
	access        *service.AccessService
	auth          *service.AuthService
	processor     *ingest.Processor
	scheduler     *worker.EscalationScheduler
}

func newApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	a := &application{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.pg = pg

	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
				a.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		a.issues = repository.NewIssueRepository(pg.Pool)
		a.operators = repository.NewOperatorRepository(pg.Pool)
	} else {
		a.issues = repository.NewMemoryIssueRepository()
		a.operators = repository.NewMemoryOperatorRepository()
	}

	rds, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.redis = rds
	if rds.Enabled() {
		a.cooldowns = cooldown.NewRedisStore(rds.Client, cooldown.DefaultKeyPrefix, nil)
	} else {
		a.cooldowns = cooldown.NewMemoryStore(nil)
	}

	a.signer, err = auth.NewLinkSigner(cfg.Escalation.LinkSecret, cfg.Escalation.LinkPreviousSecrets, cfg.Escalation.PublicBaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("link signer: %w", err)
	}

	contacts, ops, err := buildNotifiers(cfg.Notification, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	dispatcher := events.NewInMemoryDispatcher()
	a.escalation = service.NewEscalationService(service.EscalationDependencies{
		IssueRepo:   a.issues,
		Cooldowns:   a.cooldowns,
		Dispatcher:  dispatcher,
		Logger:      logger.Named("escalation"),
		Metrics:     a.metrics,
		Window:      cfg.Escalation.Window(),
		CooldownTTL: cfg.Escalation.CooldownTTL(),
	})
	a.notifications = service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		IssueRepo:  a.issues,
		Signer:     a.signer,
		Contacts:   contacts,
		Ops:        ops,
		Logger:     logger.Named("notify"),
		Metrics:    a.metrics,
		Window:     cfg.Escalation.Window(),
	})
	a.notifications.RegisterHandlers()
	a.access = service.NewAccessService(service.AccessDependencies{
		IssueRepo:  a.issues,
		Escalation: a.escalation,
		Signer:     a.signer,
		Cooldowns:  a.cooldowns,
		Logger:     logger.Named("access"),
		Metrics:    a.metrics,
	})
	a.auth = service.NewAuthService(cfg.Auth, a.operators, logger.Named("auth"))
	a.processor = ingest.NewProcessor(a.escalation, logger.Named("ingest"))

	leader, err := a.buildLeader()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.scheduler = worker.NewEscalationScheduler(worker.SchedulerDependencies{
		IssueRepo:     a.issues,
		Escalation:    a.escalation,
		Notifications: a.notifications,
		Leader:        leader,
		Logger:        logger.Named("scheduler"),
		Metrics:       a.metrics,
		Interval:      cfg.Escalation.SweepInterval(),
		BatchSize:     cfg.Escalation.SweepBatchSize,
		RetryGrace:    cfg.Notification.DeliveryRetryGrace,
		RetryBatch:    cfg.Notification.DeliveryRetryBudget,
	})
	return a, nil
}

func buildNotifiers(cfg config.NotificationConfig, logger *zap.Logger) (notify.Notifier, notify.Notifier, error) {
	var contacts notify.Notifier = notify.NewLogNotifier(logger.Named("notify"))
	if cfg.SMTPHost != "" {
		email, err := notify.NewEmailNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("email notifier: %w", err)
		}
		contacts = email
	}

	ops := notify.Fanout{notify.NewLogNotifier(logger.Named("ops"))}
	if cfg.TelegramBotToken != "" {
		telegram, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.TelegramRatePerSec)
		if err != nil {
			return nil, nil, fmt.Errorf("telegram notifier: %w", err)
		}
		ops = append(ops, telegram)
	}
	return contacts, ops, nil
}

func (a *application) buildLeader() (worker.Leader, error) {
	switch a.cfg.Scheduler.LeaderLock {
	case "redis":
		if !a.redis.Enabled() {
			return nil, errors.New("redis leader lock requires redis")
		}
		ttl := 3 * a.cfg.Escalation.SweepInterval()
		return worker.NewRedisLease(a.redis.Client, worker.DefaultLeaseKey, a.cfg.Scheduler.InstanceID, ttl), nil
	case "file":
		return worker.NewFileLock(a.cfg.Scheduler.LockFile), nil
	default:
		return worker.AlwaysLeader{}, nil
	}
}

func (a *application) newHTTPServer() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      a.cfg.App.Name,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})
	httptransport.RegisterMiddlewares(app, a.logger.Named("http"), a.metrics, a.cfg.App.RequestTimeout())

	deps := []handlers.Dependency{{Name: "postgres"}, {Name: "redis"}}
	if a.pg.Enabled() {
		deps[0].Ping = a.pg.Ping
	}
	if a.redis.Enabled() {
		deps[1].Ping = a.redis.Ping
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(a.cfg.App.Name, a.cfg.App.Version, deps...),
		Public:         handlers.NewPublicIssuesHandler(a.access),
		Issues:         handlers.NewOperatorIssuesHandler(a.access),
		Operators:      handlers.NewOperatorsHandler(a.auth),
		Ingest:         handlers.NewIngestHandler(a.processor),
		AuthMiddleware: auth.NewAuthMiddleware(a.auth.TokenManager(), a.operators),
		InternalToken:  a.cfg.App.InternalAPIToken,
		Registry:       a.metrics.Registry(),
	})
	return app
}

func (a *application) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
