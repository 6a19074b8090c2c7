// Package config loads the orchestration core's startup configuration from
// environment variables, failing loudly on the first invalid value rather
// than falling back to a silently-wrong default.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/afewell-hh/demon/internal/autoscale"
	"github.com/afewell-hh/demon/internal/wards"
)

// Config is the fully-resolved, validated startup configuration for a demond
// process.
type Config struct {
	// NATSURL addresses the broker substrate's connection (this core's
	// Pulse/Redis broker stands in for the spec's JetStream-style NATS
	// broker, so internal/service.Serve dials this address as the Redis
	// server). Required.
	NATSURL string `mapstructure:"nats_url" validate:"required"`
	// NATSCredsPath optionally points at a credentials file for the broker
	// connection.
	NATSCredsPath string `mapstructure:"nats_creds_path"`

	RitualStreamName string `mapstructure:"ritual_stream_name" validate:"required"`
	RitualSubjects   string `mapstructure:"ritual_subjects" validate:"required"`

	ApprovalTTLSeconds int      `mapstructure:"approval_ttl_seconds" validate:"required,gt=0"`
	ApproverAllowlist  []string `mapstructure:"approver_allowlist"`

	Wards wards.Config

	TenantingEnabled  bool     `mapstructure:"tenanting_enabled"`
	TenantDefault     string   `mapstructure:"tenant_default" validate:"required"`
	TenantAllowlist   []string `mapstructure:"tenant_allowlist"`
	TenantDualPublish bool     `mapstructure:"tenant_dual_publish"`

	ScaleHintThresholds autoscale.Thresholds

	// ScaleHintClientEndpoint, if set, is POSTed scale recommendations via
	// autoscale.HTTPClient; otherwise recommendations are only logged.
	ScaleHintClientEndpoint  string `mapstructure:"scale_hint_client_endpoint"`
	ScaleHintRetryBackoffMs  int64  `mapstructure:"scale_hint_retry_backoff_ms" validate:"gt=0"`
	ScaleHintMaxRetryAttempts int  `mapstructure:"scale_hint_max_retry_attempts" validate:"gt=0"`

	DemonContainerRuntime string `mapstructure:"demon_container_runtime" validate:"required"`
	DemonAppHome          string `mapstructure:"demon_app_home"`

	// EngineBackend selects the Ritual Runner's capsule-dispatch engine:
	// "inmem" (default, single-process, non-durable) or "temporal" (durable,
	// requires TemporalHostPort).
	EngineBackend     string `mapstructure:"engine_backend" validate:"oneof=inmem temporal"`
	TemporalHostPort  string `mapstructure:"temporal_host_port"`
	TemporalNamespace string `mapstructure:"temporal_namespace"`
	TemporalTaskQueue string `mapstructure:"temporal_task_queue"`
}

// Load reads environment variables through viper's automatic-env binding,
// applies defaults for anything unset, parses the WARDS_* and SCALE_HINT_*
// families through their owning packages, and validates the result via
// struct tags. Any parse or validation failure is returned as a single
// wrapped error describing the first problem found.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("nats_url", "localhost:6379")
	v.SetDefault("ritual_stream_name", "RITUAL_EVENTS")
	v.SetDefault("ritual_subjects", "demon.ritual.v1.>")
	v.SetDefault("approval_ttl_seconds", 3600)
	v.SetDefault("tenant_default", "default")
	v.SetDefault("demon_container_runtime", "docker")
	v.SetDefault("scale_hint_retry_backoff_ms", 500)
	v.SetDefault("scale_hint_max_retry_attempts", 5)
	v.SetDefault("engine_backend", "inmem")
	v.SetDefault("temporal_namespace", "default")
	v.SetDefault("temporal_task_queue", "demon-ritual-capsules")

	for _, key := range []string{
		"nats_url", "nats_creds_path", "ritual_stream_name", "ritual_subjects",
		"approval_ttl_seconds", "approver_allowlist", "tenanting_enabled",
		"tenant_default", "tenant_allowlist", "tenant_dual_publish",
		"demon_container_runtime", "demon_app_home",
		"scale_hint_client_endpoint", "scale_hint_retry_backoff_ms", "scale_hint_max_retry_attempts",
		"engine_backend", "temporal_host_port", "temporal_namespace", "temporal_task_queue",
	} {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	cfg := Config{
		NATSURL:               v.GetString("nats_url"),
		NATSCredsPath:          v.GetString("nats_creds_path"),
		RitualStreamName:       v.GetString("ritual_stream_name"),
		RitualSubjects:         v.GetString("ritual_subjects"),
		ApprovalTTLSeconds:     v.GetInt("approval_ttl_seconds"),
		ApproverAllowlist:      splitNonEmpty(v.GetString("approver_allowlist")),
		TenantingEnabled:       v.GetBool("tenanting_enabled"),
		TenantDefault:          v.GetString("tenant_default"),
		TenantAllowlist:        splitNonEmpty(v.GetString("tenant_allowlist")),
		TenantDualPublish:      v.GetBool("tenant_dual_publish"),
		DemonContainerRuntime:  v.GetString("demon_container_runtime"),
		DemonAppHome:           v.GetString("demon_app_home"),
		ScaleHintClientEndpoint:   v.GetString("scale_hint_client_endpoint"),
		ScaleHintRetryBackoffMs:   v.GetInt64("scale_hint_retry_backoff_ms"),
		ScaleHintMaxRetryAttempts: v.GetInt("scale_hint_max_retry_attempts"),
		EngineBackend:             v.GetString("engine_backend"),
		TemporalHostPort:          v.GetString("temporal_host_port"),
		TemporalNamespace:         v.GetString("temporal_namespace"),
		TemporalTaskQueue:         v.GetString("temporal_task_queue"),
	}

	wardsCfg, err := wards.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Wards = wardsCfg

	thresholds, err := autoscale.ThresholdsFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.ScaleHintThresholds = thresholds

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func splitNonEmpty(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
