package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("ESCALATION_LINK_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.Escalation.Window())
	assert.Equal(t, time.Hour, cfg.Escalation.CooldownTTL())
	assert.Equal(t, time.Minute, cfg.Escalation.SweepInterval())
	assert.Equal(t, "dev-link-secret", cfg.Escalation.LinkSecret)
	assert.Equal(t, "none", cfg.Scheduler.LeaderLock)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadRequiresSecretOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ESCALATION_LINK_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ESCALATION_LINK_SECRET")
}

func TestLoadParsesLists(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ESCALATION_LINK_SECRET", "current")
	t.Setenv("ESCALATION_LINK_PREVIOUS_SECRETS", "old-1, old-2,,")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ESCALATION_PUBLIC_BASE_URL", "https://status.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"old-1", "old-2"}, cfg.Escalation.LinkPreviousSecrets)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "https://status.example.com", cfg.Escalation.PublicBaseURL)
}

func TestValidateRejectsBadScheduler(t *testing.T) {
	cfg := &Config{
		Escalation: EscalationConfig{WindowMinutes: 1, CooldownMinutes: 1, SweepIntervalSeconds: 1, LinkSecret: "s"},
		Scheduler:  SchedulerConfig{LeaderLock: "redis"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")

	cfg.Scheduler.LeaderLock = "zookeeper"
	assert.Error(t, cfg.Validate())

	cfg.Scheduler.LeaderLock = "none"
	assert.NoError(t, cfg.Validate())
}
