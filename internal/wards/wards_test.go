package wards

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleRuleAppliesAtWeekdayWindow(t *testing.T) {
	rule := ScheduleRule{
		Action:   ScheduleAllow,
		Timezone: "America/Los_Angeles",
		Days:     []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
		Start:    "09:00",
		End:      "17:00",
	}

	mondayTenAMPST := time.Date(2024, 1, 8, 18, 0, 0, 0, time.UTC) // 10am PST
	ok, err := rule.AppliesAt(mondayTenAMPST)
	require.NoError(t, err)
	require.True(t, ok)

	mondaySixAMPST := time.Date(2024, 1, 8, 14, 0, 0, 0, time.UTC) // 6am PST
	ok, err = rule.AppliesAt(mondaySixAMPST)
	require.NoError(t, err)
	require.False(t, ok)

	sundayTenAMPST := time.Date(2024, 1, 7, 18, 0, 0, 0, time.UTC)
	ok, err = rule.AppliesAt(sundayTenAMPST)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScheduleRuleCrossesMidnight(t *testing.T) {
	rule := ScheduleRule{Action: ScheduleDeny, Timezone: "UTC", Start: "22:00", End: "02:00"}

	within, err := rule.AppliesAt(time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, within)

	within, err = rule.AppliesAt(time.Date(2024, 1, 2, 1, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, within)

	outside, err := rule.AppliesAt(time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, outside)
}

func TestScheduleConfigEvaluateAtPrecedenceAndFallback(t *testing.T) {
	cfg := ScheduleConfig{
		GlobalSchedules: map[string][]ScheduleRule{
			"capsule.deploy": {{
				Action:   ScheduleDeny,
				Timezone: "UTC",
				Days:     []string{"Sun"},
				Start:    "02:00",
				End:      "04:00",
			}},
		},
	}

	sunday3am := time.Date(2024, 1, 7, 3, 0, 0, 0, time.UTC)
	allowed, err := cfg.EvaluateAt("tenant-a", "capsule.deploy", sunday3am)
	require.NoError(t, err)
	require.NotNil(t, allowed)
	require.False(t, *allowed)

	sunday5am := time.Date(2024, 1, 7, 5, 0, 0, 0, time.UTC)
	allowed, err = cfg.EvaluateAt("tenant-a", "capsule.deploy", sunday5am)
	require.NoError(t, err)
	require.NotNil(t, allowed)
	require.True(t, *allowed)

	allowed, err = cfg.EvaluateAt("tenant-a", "capsule.other", sunday3am)
	require.NoError(t, err)
	require.Nil(t, allowed)
}

func TestScheduleConfigTenantTakesPrecedenceOverGlobal(t *testing.T) {
	cfg := ScheduleConfig{
		TenantSchedules: map[string]map[string][]ScheduleRule{
			"tenant-a": {
				"capsule.deploy": {{Action: ScheduleAllow, Timezone: "UTC", Start: "00:00", End: "23:59"}},
			},
		},
		GlobalSchedules: map[string][]ScheduleRule{
			"capsule.deploy": {{Action: ScheduleDeny, Timezone: "UTC", Start: "00:00", End: "23:59"}},
		},
	}

	allowed, err := cfg.EvaluateAt("tenant-a", "capsule.deploy", time.Now())
	require.NoError(t, err)
	require.NotNil(t, allowed)
	require.True(t, *allowed)
}

func TestQuotaConfigEffectiveResolutionOrder(t *testing.T) {
	globalDefault := Quota{Limit: 1, WindowSeconds: 60}
	cfg := QuotaConfig{
		TenantCapQuotas: map[string]map[string]Quota{
			"tenant-a": {"capsule.echo": {Limit: 5, WindowSeconds: 60}},
		},
		TenantDefaultQuotas: map[string]Quota{"tenant-a": {Limit: 3, WindowSeconds: 60}},
		GlobalCapQuotas:     map[string]Quota{"capsule.echo": {Limit: 2, WindowSeconds: 60}},
		GlobalDefault:       &globalDefault,
	}

	require.Equal(t, Quota{Limit: 5, WindowSeconds: 60}, cfg.Effective("tenant-a", "capsule.echo"))
	require.Equal(t, Quota{Limit: 3, WindowSeconds: 60}, cfg.Effective("tenant-a", "capsule.other"))
	require.Equal(t, Quota{Limit: 2, WindowSeconds: 60}, cfg.Effective("tenant-b", "capsule.echo"))
	require.Equal(t, globalDefault, cfg.Effective("tenant-b", "capsule.other"))

	cfg.GlobalDefault = nil
	require.Equal(t, denyAll, cfg.Effective("tenant-b", "capsule.other"))
}

func TestQuotaCounterSlidingWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	counter := NewQuotaCounter(func() time.Time { return now })
	quota := Quota{Limit: 2, WindowSeconds: 60}

	allowed, remaining := counter.CheckAndConsume("tenant-a:capsule.echo", quota)
	require.True(t, allowed)
	require.Equal(t, 1, remaining)

	allowed, remaining = counter.CheckAndConsume("tenant-a:capsule.echo", quota)
	require.True(t, allowed)
	require.Equal(t, 0, remaining)

	allowed, remaining = counter.CheckAndConsume("tenant-a:capsule.echo", quota)
	require.False(t, allowed)
	require.Equal(t, 0, remaining)

	now = now.Add(61 * time.Second)
	allowed, _ = counter.CheckAndConsume("tenant-a:capsule.echo", quota)
	require.True(t, allowed)
}

func TestParseCapQuotaDSL(t *testing.T) {
	global, tenant, err := parseCapQuotaDSL("GLOBAL:capsule.echo=2:60,TENANT:tenant-a:capsule.echo=5:60")
	require.NoError(t, err)
	require.Equal(t, Quota{Limit: 2, WindowSeconds: 60}, global["capsule.echo"])
	require.Equal(t, Quota{Limit: 5, WindowSeconds: 60}, tenant["tenant-a"]["capsule.echo"])
}

func TestParseCapQuotaDSLRejectsMalformedClause(t *testing.T) {
	_, _, err := parseCapQuotaDSL("GLOBAL:capsule.echo=notanumber:60")
	require.Error(t, err)
}

func TestEngineDecideCapabilityNotAllowed(t *testing.T) {
	e := NewEngine(Config{Caps: []string{"capsule.echo"}}, nil)
	d, err := e.Decide(t.Context(), "tenant-a", "capsule.other", "run-1", "deploy")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonCapabilityNotAllowed, d.Reason)
}

func TestEngineDecideQuotaExceededAfterLimit(t *testing.T) {
	globalQuota := Quota{Limit: 2, WindowSeconds: 60}
	cfg := Config{Quotas: QuotaConfig{GlobalDefault: &globalQuota}}
	e := NewEngine(cfg, nil)

	ctx := t.Context()
	d1, err := e.Decide(ctx, "tenant-a", "capsule.echo", "run-1", "deploy")
	require.NoError(t, err)
	require.True(t, d1.Allowed)

	d2, err := e.Decide(ctx, "tenant-a", "capsule.echo", "run-1", "deploy")
	require.NoError(t, err)
	require.True(t, d2.Allowed)
	require.Equal(t, 0, d2.Quota.Remaining)

	d3, err := e.Decide(ctx, "tenant-a", "capsule.echo", "run-1", "deploy")
	require.NoError(t, err)
	require.False(t, d3.Allowed)
	require.Equal(t, ReasonQuotaExceeded, d3.Reason)
}
