package wards

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned by a SecretResolver (or the chain of all
// configured resolvers) when no value exists for the requested scope/key.
var ErrSecretNotFound = errors.New("wards: secret not found")

// SecretResolver resolves a scoped secret reference encountered while
// admitting a ritual run (e.g. a `secret://<scope>/<key>` parameter value).
// It is reduced to the single method the policy kernel needs; fetching from
// an external vault/KMS is an explicit non-goal, so only the env-var and
// static-map resolvers below ship.
type SecretResolver interface {
	Resolve(scope, key string) (string, error)
}

// EnvSecretResolver resolves SECRET_<SCOPE>_<KEY> environment variables,
// scope and key upper-cased.
type EnvSecretResolver struct{}

func (EnvSecretResolver) Resolve(scope, key string) (string, error) {
	name := "SECRET_" + strings.ToUpper(scope) + "_" + strings.ToUpper(key)
	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrSecretNotFound, scope, key)
}

// StaticSecretResolver resolves from an in-memory scope -> key -> value
// table, standing in for the original's secrets-file provider without a
// filesystem dependency.
type StaticSecretResolver map[string]map[string]string

func (m StaticSecretResolver) Resolve(scope, key string) (string, error) {
	if scoped, ok := m[scope]; ok {
		if v, ok := scoped[key]; ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrSecretNotFound, scope, key)
}

// ChainSecretResolver tries each resolver in order, matching the original
// provider's env-var-then-file precedence.
type ChainSecretResolver []SecretResolver

func (c ChainSecretResolver) Resolve(scope, key string) (string, error) {
	for _, r := range c {
		v, err := r.Resolve(scope, key)
		if err == nil {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrSecretNotFound, scope, key)
}

// WithSecretResolver attaches r as the Engine's secret resolver and returns
// the Engine for chaining. Decide never calls it implicitly; callers that
// need to admit a secret reference alongside a capability check use
// ResolveSecret.
func (e *Engine) WithSecretResolver(r SecretResolver) *Engine {
	e.secrets = r
	return e
}

// ResolveSecret resolves scope/key through the Engine's configured
// SecretResolver, emitting a policy.decision:v1 event exactly like Decide
// so a denied secret lookup shows up in the same audit trail as a denied
// capability or quota check. Allowed only has a true value on success, and
// the decision event's reason is "allowed"; a missing resolver or an
// unresolved secret both reason as secret_not_found.
func (e *Engine) ResolveSecret(ctx context.Context, tenantID, capability, runID, ritualID, scope, key string) (string, error) {
	now := e.clock()

	if e.secrets == nil {
		d := Decision{Allowed: false, Reason: ReasonSecretNotFound, EmittedAt: now}
		_ = e.emit(ctx, tenantID, capability, runID, ritualID, d)
		return "", fmt.Errorf("wards: %w: no secret resolver configured", ErrSecretNotFound)
	}

	v, err := e.secrets.Resolve(scope, key)
	if err != nil {
		d := Decision{Allowed: false, Reason: ReasonSecretNotFound, EmittedAt: now}
		_ = e.emit(ctx, tenantID, capability, runID, ritualID, d)
		return "", err
	}

	d := Decision{Allowed: true, Reason: ReasonAllowed, EmittedAt: now}
	if emitErr := e.emit(ctx, tenantID, capability, runID, ritualID, d); emitErr != nil {
		return "", emitErr
	}
	return v, nil
}
