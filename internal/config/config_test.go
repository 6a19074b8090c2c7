package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "localhost:6379", cfg.NATSURL)
	require.Equal(t, "RITUAL_EVENTS", cfg.RitualStreamName)
	require.Equal(t, "demon.ritual.v1.>", cfg.RitualSubjects)
	require.Equal(t, 3600, cfg.ApprovalTTLSeconds)
	require.Equal(t, "default", cfg.TenantDefault)
	require.Equal(t, "docker", cfg.DemonContainerRuntime)
	require.Equal(t, int64(500), cfg.ScaleHintRetryBackoffMs)
	require.Equal(t, 5, cfg.ScaleHintMaxRetryAttempts)
	require.Equal(t, "inmem", cfg.EngineBackend)
	require.Equal(t, "demon-ritual-capsules", cfg.TemporalTaskQueue)
}

func TestLoadRejectsUnknownEngineBackend(t *testing.T) {
	t.Setenv("ENGINE_BACKEND", "quantum")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("NATS_URL", "redis.internal:6379")
	t.Setenv("APPROVAL_TTL_SECONDS", "120")
	t.Setenv("APPROVER_ALLOWLIST", "alice, bob")
	t.Setenv("TENANTING_ENABLED", "true")
	t.Setenv("TENANT_ALLOWLIST", "acme,globex")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "redis.internal:6379", cfg.NATSURL)
	require.Equal(t, 120, cfg.ApprovalTTLSeconds)
	require.Equal(t, []string{"alice", "bob"}, cfg.ApproverAllowlist)
	require.True(t, cfg.TenantingEnabled)
	require.Equal(t, []string{"acme", "globex"}, cfg.TenantAllowlist)
}

func TestLoadRejectsMalformedWardsEnv(t *testing.T) {
	t.Setenv("WARDS_GLOBAL_QUOTA", "not-json")

	_, err := Load()
	require.Error(t, err)
}
