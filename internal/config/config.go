package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Escalation   EscalationConfig
	Scheduler    SchedulerConfig
	Kafka        KafkaConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	InternalAPIToken      string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr selects in-memory cooldowns.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AuthConfig defines operator session parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	BootstrapEmail        string
	BootstrapPassword     string
	BootstrapName         string
	BootstrapOrganization string
}

// EscalationConfig drives the state machine timing and public links.
type EscalationConfig struct {
	WindowMinutes        int
	CooldownMinutes      int
	LinkSecret           string
	LinkPreviousSecrets  []string
	PublicBaseURL        string
	SweepIntervalSeconds int
	SweepBatchSize       int
}

// SchedulerConfig selects how scheduler instances agree on a leader.
type SchedulerConfig struct {
	LeaderLock string
	LockFile   string
	InstanceID string
}

// KafkaConfig holds check-result ingest settings. No brokers disables the consumer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NotificationConfig holds delivery channel settings.
type NotificationConfig struct {
	EmailFrom           string
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string
	TelegramBotToken    string
	TelegramChatID      int64
	TelegramRatePerSec  int
	DeliveryRetryGrace  time.Duration
	DeliveryRetryBudget int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	telegramChat := int64(0)
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		telegramChat, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
	}

	hostname, _ := os.Hostname()

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "escalation-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			InternalAPIToken:      os.Getenv("INTERNAL_API_TOKEN"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   os.Getenv("LOG_FILE_PATH"),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 14),
			Compress:   getEnvAsBool("LOG_COMPRESS", true),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			BootstrapEmail:        os.Getenv("OPERATOR_BOOTSTRAP_EMAIL"),
			BootstrapPassword:     os.Getenv("OPERATOR_BOOTSTRAP_PASSWORD"),
			BootstrapName:         getEnv("OPERATOR_BOOTSTRAP_NAME", "Administrator"),
			BootstrapOrganization: getEnv("OPERATOR_BOOTSTRAP_ORG", "default"),
		},
		Escalation: EscalationConfig{
			WindowMinutes:        getEnvAsInt("ESCALATION_WINDOW_MINUTES", 120),
			CooldownMinutes:      getEnvAsInt("ESCALATION_COOLDOWN_MINUTES", 60),
			LinkSecret:           os.Getenv("ESCALATION_LINK_SECRET"),
			LinkPreviousSecrets:  getEnvAsList("ESCALATION_LINK_PREVIOUS_SECRETS"),
			PublicBaseURL:        strings.TrimRight(getEnv("ESCALATION_PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
			SweepIntervalSeconds: getEnvAsInt("ESCALATION_SWEEP_INTERVAL_SECONDS", 60),
			SweepBatchSize:       getEnvAsInt("ESCALATION_SWEEP_BATCH_SIZE", 200),
		},
		Scheduler: SchedulerConfig{
			LeaderLock: strings.ToLower(getEnv("SCHEDULER_LEADER_LOCK", "none")),
			LockFile:   getEnv("SCHEDULER_LOCK_FILE", "/tmp/escalation-scheduler.lock"),
			InstanceID: getEnv("SCHEDULER_INSTANCE_ID", fmt.Sprintf("%s-%d", hostname, os.Getpid())),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_CHECK_RESULTS_TOPIC", "check-results"),
			GroupID: getEnv("KAFKA_GROUP_ID", "escalation-service"),
		},
		Notification: NotificationConfig{
			EmailFrom:           getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			SMTPHost:            os.Getenv("SMTP_HOST"),
			SMTPPort:            getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername:        os.Getenv("SMTP_USERNAME"),
			SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
			TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
			TelegramChatID:      telegramChat,
			TelegramRatePerSec:  getEnvAsInt("TELEGRAM_RATE_PER_SECOND", 1),
			DeliveryRetryGrace:  time.Duration(getEnvAsInt("NOTIFY_RETRY_GRACE_SECONDS", 30)) * time.Second,
			DeliveryRetryBudget: getEnvAsInt("NOTIFY_RETRY_BATCH_SIZE", 100),
		},
	}

	if cfg.Escalation.LinkSecret == "" && cfg.IsDevelopment() {
		cfg.Escalation.LinkSecret = "dev-link-secret"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the escalation engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Escalation.WindowMinutes <= 0 {
		errs = append(errs, errors.New("ESCALATION_WINDOW_MINUTES must be positive"))
	}
	if c.Escalation.CooldownMinutes <= 0 {
		errs = append(errs, errors.New("ESCALATION_COOLDOWN_MINUTES must be positive"))
	}
	if c.Escalation.SweepIntervalSeconds <= 0 {
		errs = append(errs, errors.New("ESCALATION_SWEEP_INTERVAL_SECONDS must be positive"))
	}
	if c.Escalation.LinkSecret == "" {
		errs = append(errs, errors.New("ESCALATION_LINK_SECRET is required"))
	}
	switch c.Scheduler.LeaderLock {
	case "none", "redis", "file":
	default:
		errs = append(errs, fmt.Errorf("unknown SCHEDULER_LEADER_LOCK %q", c.Scheduler.LeaderLock))
	}
	if c.Scheduler.LeaderLock == "redis" && c.Redis.Addr == "" {
		errs = append(errs, errors.New("SCHEDULER_LEADER_LOCK=redis requires REDIS_ADDR"))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Window is the per-level acknowledgement window.
func (e EscalationConfig) Window() time.Duration {
	return time.Duration(e.WindowMinutes) * time.Minute
}

// CooldownTTL is how long a new issue suppresses the same (site, check).
func (e EscalationConfig) CooldownTTL() time.Duration {
	return time.Duration(e.CooldownMinutes) * time.Minute
}

// SweepInterval is the scheduler tick.
func (e EscalationConfig) SweepInterval() time.Duration {
	return time.Duration(e.SweepIntervalSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
