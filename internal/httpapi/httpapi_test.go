package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/afewell-hh/demon/internal/envelope"
	"github.com/afewell-hh/demon/internal/eventlog"
	"github.com/afewell-hh/demon/internal/eventlog/eventlogtest"
	"github.com/afewell-hh/demon/internal/gate"
	"github.com/afewell-hh/demon/internal/ritual"
	"github.com/afewell-hh/demon/internal/wards"
)

const testManifest = `
metadata:
  name: demo-app
  version: 1.0.0
capsules:
  - type: container-exec
    name: echo
    imageDigest: sha256:deadbeef
    command: ["echo", "hi"]
    timeoutSeconds: 30
    outputs:
      envelopePath: envelope.json
rituals:
  - name: say-hi
    steps:
      - capsule: echo
        with:
          greeting: hello
`

type installedPack struct {
	Version      string    `json:"version"`
	ManifestPath string    `json:"manifestPath"`
	InstalledAt  time.Time `json:"installedAt"`
	Source       string    `json:"source"`
}

func writeTestAppPack(t *testing.T, root string) {
	t.Helper()
	dir := filepath.Join(root, "demo-app", "1.0.0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifestPath := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(testManifest), 0o644))

	registry := map[string]map[string][]installedPack{
		"apps": {
			"demo-app": {{Version: "1.0.0", ManifestPath: manifestPath, InstalledAt: time.Now(), Source: "test"}},
		},
	}
	data, err := json.Marshal(registry)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "registry.json"), data, 0o644))
}

type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, _ ritual.CapsuleEntry, _ map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"result": map[string]interface{}{"success": true, "data": map[string]interface{}{"greeting": "hello"}},
	}, nil
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()

	root := t.TempDir()
	writeTestAppPack(t, root)
	registry, err := ritual.NewRegistry(root)
	require.NoError(t, err)

	store, err := ritual.OpenRunStore(filepath.Join(t.TempDir(), "runs.json"))
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log, err := eventlog.New(eventlog.Options{Broker: eventlogtest.NewBroker(), Redis: rdb})
	require.NoError(t, err)

	wardsEngine := wards.NewEngine(wards.Config{}, log)
	validator, err := envelope.NewDefaultValidator()
	require.NoError(t, err)

	runner := ritual.NewRunner(ritual.RunnerDeps{
		Registry:  registry,
		Store:     store,
		Wards:     wardsEngine,
		Log:       log,
		Executor:  stubExecutor{},
		Validator: validator,
	})

	approvalGate := gate.New(gate.Options{Log: log, TTL: time.Hour})

	return Deps{
		Runner:        runner,
		Gate:          approvalGate,
		Events:        log,
		DefaultTenant: "acme",
	}
}

func waitForTerminal(t *testing.T, deps Deps, runID string) ritual.RunRecord {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rec, err := deps.Runner.GetRun("demo-app", "say-hi", runID)
		require.NoError(t, err)
		switch rec.Status {
		case ritual.StatusCompleted, ritual.StatusFailed, ritual.StatusCanceled:
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal state", runID)
	return ritual.RunRecord{}
}

func TestScheduleGetListRunLifecycle(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	body, _ := json.Marshal(scheduleRequest{App: "demo-app", Parameters: map[string]interface{}{"greeting": "howdy"}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rituals/say-hi/runs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var scheduled scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scheduled))
	require.NotEmpty(t, scheduled.RunID)

	waitForTerminal(t, deps, scheduled.RunID)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/rituals/say-hi/runs/"+scheduled.RunID+"?app=demo-app", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var got ritual.RunRecord
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &got))
	require.Equal(t, ritual.StatusCompleted, got.Status)

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/rituals/say-hi/runs?app=demo-app", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var runs []ritual.RunRecord
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
}

func TestGetRunMissingReturns404(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rituals/say-hi/runs/no-such-run?app=demo-app", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleRunMissingAppIsBadRequest(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	body, _ := json.Marshal(scheduleRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rituals/say-hi/runs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprovalGrantThenDenyIsConflict(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	grantBody, _ := json.Marshal(approvalRequest{RitualID: "demo-app::say-hi", Approver: "alice"})
	grantReq := httptest.NewRequest(http.MethodPost, "/api/approvals/run-1/gate-1/grant", bytes.NewReader(grantBody))
	grantRec := httptest.NewRecorder()
	router.ServeHTTP(grantRec, grantReq)
	require.Equal(t, http.StatusOK, grantRec.Code)

	var granted approvalResponse
	require.NoError(t, json.Unmarshal(grantRec.Body.Bytes(), &granted))
	require.Equal(t, gate.StatusOK, granted.Status)

	denyBody, _ := json.Marshal(approvalRequest{RitualID: "demo-app::say-hi", Approver: "alice"})
	denyReq := httptest.NewRequest(http.MethodPost, "/api/approvals/run-1/gate-1/deny", bytes.NewReader(denyBody))
	denyRec := httptest.NewRecorder()
	router.ServeHTTP(denyRec, denyReq)
	require.Equal(t, http.StatusConflict, denyRec.Code)
}

func TestApprovalDeniedForDisallowedApprover(t *testing.T) {
	deps := newTestDeps(t)
	deps.Gate = gate.New(gate.Options{Log: deps.Events, TTL: time.Hour, ApproverAllowlist: []string{"bob"}})
	router := NewRouter(deps)

	body, _ := json.Marshal(approvalRequest{RitualID: "demo-app::say-hi", Approver: "eve"})
	req := httptest.NewRequest(http.MethodPost, "/api/approvals/run-1/gate-1/grant", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListRecentRunsEmptyStreamReturnsEmptyListNoWarning(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []eventlog.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Empty(t, summaries)
}

func TestListRecentRunsReflectsScheduledRun(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	body, _ := json.Marshal(scheduleRequest{App: "demo-app"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rituals/say-hi/runs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var scheduled scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scheduled))
	waitForTerminal(t, deps, scheduled.RunID)

	runsReq := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	runsRec := httptest.NewRecorder()
	router.ServeHTTP(runsRec, runsReq)
	require.Equal(t, http.StatusOK, runsRec.Code)

	var summaries []eventlog.RunSummary
	require.NoError(t, json.Unmarshal(runsRec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	require.Equal(t, scheduled.RunID, summaries[0].RunID)
}

func TestGraphRoutesNotConfiguredRespond501(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/graph/commits?tenant=acme&project=p&namespace=n&graph=g", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
