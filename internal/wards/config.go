package wards

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the policy kernel's fully-resolved configuration, loaded from
// environment variables at startup. Malformed entries are a startup error,
// never a silently-ignored default.
type Config struct {
	// Caps allowlists capability names; empty means every capability is
	// admissible (subject to quota/schedule).
	Caps     []string
	Quotas   QuotaConfig
	Schedule ScheduleConfig
}

// LoadConfigFromEnv reads WARDS_CAPS, WARDS_QUOTAS, WARDS_CAP_QUOTAS,
// WARDS_SCHEDULES, and WARDS_GLOBAL_QUOTA, failing loudly on the first
// malformed entry.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config

	if raw, ok := os.LookupEnv("WARDS_CAPS"); ok && strings.TrimSpace(raw) != "" {
		var caps []string
		if err := json.Unmarshal([]byte(raw), &caps); err != nil {
			return Config{}, fmt.Errorf("wards: parse WARDS_CAPS: %w", err)
		}
		cfg.Caps = caps
	}

	if raw, ok := os.LookupEnv("WARDS_GLOBAL_QUOTA"); ok && strings.TrimSpace(raw) != "" {
		var q Quota
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return Config{}, fmt.Errorf("wards: parse WARDS_GLOBAL_QUOTA: %w", err)
		}
		cfg.Quotas.GlobalDefault = &q
	}

	if raw, ok := os.LookupEnv("WARDS_QUOTAS"); ok && strings.TrimSpace(raw) != "" {
		var tenantDefaults map[string]Quota
		if err := json.Unmarshal([]byte(raw), &tenantDefaults); err != nil {
			return Config{}, fmt.Errorf("wards: parse WARDS_QUOTAS: %w", err)
		}
		cfg.Quotas.TenantDefaultQuotas = tenantDefaults
	}

	if raw, ok := os.LookupEnv("WARDS_CAP_QUOTAS"); ok && strings.TrimSpace(raw) != "" {
		global, tenant, err := parseCapQuotas(raw)
		if err != nil {
			return Config{}, fmt.Errorf("wards: parse WARDS_CAP_QUOTAS: %w", err)
		}
		cfg.Quotas.GlobalCapQuotas = global
		cfg.Quotas.TenantCapQuotas = tenant
	}

	if raw, ok := os.LookupEnv("WARDS_SCHEDULES"); ok && strings.TrimSpace(raw) != "" {
		var parsed map[string]map[string][]ScheduleRule
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return Config{}, fmt.Errorf("wards: parse WARDS_SCHEDULES: %w", err)
		}
		cfg.Schedule.TenantSchedules = make(map[string]map[string][]ScheduleRule)
		for key, capRules := range parsed {
			if key == "global" {
				cfg.Schedule.GlobalSchedules = capRules
				continue
			}
			cfg.Schedule.TenantSchedules[key] = capRules
		}
	}

	return cfg, nil
}

// parseCapQuotas parses WARDS_CAP_QUOTAS, accepting either a JSON object
// shaped {"global": {cap: quota}, "tenants": {tenant: {cap: quota}}} or the
// compact DSL:
//
//	GLOBAL:<cap>=<limit>:<window>,TENANT:<tenant>:<cap>=<limit>:<window>,...
func parseCapQuotas(raw string) (global map[string]Quota, tenant map[string]map[string]Quota, err error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var parsed struct {
			Global  map[string]Quota            `json:"global"`
			Tenants map[string]map[string]Quota `json:"tenants"`
		}
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return nil, nil, err
		}
		return parsed.Global, parsed.Tenants, nil
	}
	return parseCapQuotaDSL(trimmed)
}

func parseCapQuotaDSL(raw string) (global map[string]Quota, tenant map[string]map[string]Quota, err error) {
	global = make(map[string]Quota)
	tenant = make(map[string]map[string]Quota)

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		switch {
		case strings.HasPrefix(entry, "GLOBAL:"):
			capName, q, err := parseCapQuotaClause(strings.TrimPrefix(entry, "GLOBAL:"))
			if err != nil {
				return nil, nil, err
			}
			global[capName] = q
		case strings.HasPrefix(entry, "TENANT:"):
			rest := strings.TrimPrefix(entry, "TENANT:")
			parts := strings.SplitN(rest, ":", 2)
			if len(parts) != 2 {
				return nil, nil, fmt.Errorf("malformed TENANT clause %q", entry)
			}
			tenantID := parts[0]
			capName, q, err := parseCapQuotaClause(parts[1])
			if err != nil {
				return nil, nil, err
			}
			if tenant[tenantID] == nil {
				tenant[tenantID] = make(map[string]Quota)
			}
			tenant[tenantID][capName] = q
		default:
			return nil, nil, fmt.Errorf("malformed clause %q (expected GLOBAL: or TENANT:)", entry)
		}
	}
	return global, tenant, nil
}

// parseCapQuotaClause parses "<cap>=<limit>:<window>".
func parseCapQuotaClause(clause string) (capability string, q Quota, err error) {
	eq := strings.SplitN(clause, "=", 2)
	if len(eq) != 2 {
		return "", Quota{}, fmt.Errorf("malformed quota clause %q (expected cap=limit:window)", clause)
	}
	capability = eq[0]
	limitWindow := strings.SplitN(eq[1], ":", 2)
	if len(limitWindow) != 2 {
		return "", Quota{}, fmt.Errorf("malformed quota clause %q (expected cap=limit:window)", clause)
	}
	limit, err := strconv.Atoi(limitWindow[0])
	if err != nil {
		return "", Quota{}, fmt.Errorf("malformed limit in clause %q: %w", clause, err)
	}
	window, err := strconv.Atoi(limitWindow[1])
	if err != nil {
		return "", Quota{}, fmt.Errorf("malformed window in clause %q: %w", clause, err)
	}
	return capability, Quota{Limit: limit, WindowSeconds: window}, nil
}
