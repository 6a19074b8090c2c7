// Package demonctlclient is the HTTP client demonctl's run/approve/deny/graph
// subcommands use to talk to a running demond (or demonctl serve) instance,
// wrapping the exact routes internal/httpapi exposes.
package demonctlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/afewell-hh/demon/internal/gate"
	"github.com/afewell-hh/demon/internal/graph"
	"github.com/afewell-hh/demon/internal/ritual"
)

// Client calls the orchestration core's HTTP surface.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New builds a Client with a sane request timeout. baseURL is the
// scheme://host:port the server listens on, no trailing slash required.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is returned for any non-2xx response, carrying the server's
// errorBody so callers can branch on Code the same way internal callers
// branch on the sentinel errors it was classified from.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("demonctl: server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("demonctl: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("demonctl: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("demonctl: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &APIError{StatusCode: resp.StatusCode, Code: eb.Code, Message: eb.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("demonctl: decode response: %w", err)
	}
	return nil
}

// ScheduleRunRequest is the payload for ScheduleRun.
type ScheduleRunRequest struct {
	App            string
	Version        string
	Parameters     map[string]interface{}
	TenantID       string
	IdempotencyKey string
}

// ScheduleRunResult mirrors scheduleResponse from internal/httpapi.
type ScheduleRunResult struct {
	RunID     string            `json:"runId"`
	Status    ritual.RunStatus  `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	Links     map[string]string `json:"links"`
}

// ScheduleRun calls POST /api/v1/rituals/{ritual}/runs.
func (c *Client) ScheduleRun(ctx context.Context, ritualName string, req ScheduleRunRequest) (ScheduleRunResult, error) {
	var out ScheduleRunResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/rituals/%s/runs", url.PathEscape(ritualName)), struct {
		App            string                 `json:"app"`
		Version        string                 `json:"version,omitempty"`
		Parameters     map[string]interface{} `json:"parameters,omitempty"`
		TenantID       string                 `json:"tenantId,omitempty"`
		IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
	}{req.App, req.Version, req.Parameters, req.TenantID, req.IdempotencyKey}, &out)
	return out, err
}

// GetRun calls GET /api/v1/rituals/{ritual}/runs/{runId}?app=...
func (c *Client) GetRun(ctx context.Context, ritualName, runID, app string) (ritual.RunRecord, error) {
	var out ritual.RunRecord
	path := fmt.Sprintf("/api/v1/rituals/%s/runs/%s?app=%s", url.PathEscape(ritualName), url.PathEscape(runID), url.QueryEscape(app))
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ListRuns calls GET /api/v1/rituals/{ritual}/runs?app=...&status=...&limit=...
func (c *Client) ListRuns(ctx context.Context, ritualName, app string, status ritual.RunStatus, limit int) ([]ritual.RunRecord, error) {
	q := url.Values{}
	q.Set("app", app)
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []ritual.RunRecord
	path := fmt.Sprintf("/api/v1/rituals/%s/runs?%s", url.PathEscape(ritualName), q.Encode())
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CancelRun calls POST /api/v1/rituals/{ritual}/runs/{runId}/cancel?app=...
func (c *Client) CancelRun(ctx context.Context, ritualName, runID, app string) error {
	path := fmt.Sprintf("/api/v1/rituals/%s/runs/%s/cancel?app=%s", url.PathEscape(ritualName), url.PathEscape(runID), url.QueryEscape(app))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// GrantApproval calls POST /api/approvals/{runId}/{gateId}/grant.
func (c *Client) GrantApproval(ctx context.Context, runID, gateID, ritualID, approver, reason, tenantID string) (gate.ActionResult, error) {
	return c.decideApproval(ctx, "grant", runID, gateID, ritualID, approver, reason, tenantID)
}

// DenyApproval calls POST /api/approvals/{runId}/{gateId}/deny.
func (c *Client) DenyApproval(ctx context.Context, runID, gateID, ritualID, approver, reason, tenantID string) (gate.ActionResult, error) {
	return c.decideApproval(ctx, "deny", runID, gateID, ritualID, approver, reason, tenantID)
}

func (c *Client) decideApproval(ctx context.Context, action, runID, gateID, ritualID, approver, reason, tenantID string) (gate.ActionResult, error) {
	var out struct {
		Status gate.Status `json:"status"`
		State  gate.State  `json:"state"`
	}
	path := fmt.Sprintf("/api/approvals/%s/%s/%s", url.PathEscape(runID), url.PathEscape(gateID), action)
	body := struct {
		RitualID string `json:"ritualId"`
		Approver string `json:"approver"`
		Reason   string `json:"reason,omitempty"`
		TenantID string `json:"tenantId,omitempty"`
	}{ritualID, approver, reason, tenantID}
	err := c.do(ctx, http.MethodPost, path, body, &out)
	return gate.ActionResult{Status: out.Status, State: out.State}, err
}

// Commit calls POST /api/graph/commits.
func (c *Client) Commit(ctx context.Context, scope graph.Scope, parentCommitID string, mutations []graph.Mutation) (graph.Commit, error) {
	var out graph.Commit
	body := struct {
		Scope          graph.Scope      `json:"graphScope"`
		ParentCommitID string           `json:"parentCommitId,omitempty"`
		Mutations      []graph.Mutation `json:"mutations"`
	}{scope, parentCommitID, mutations}
	err := c.do(ctx, http.MethodPost, "/api/graph/commits", body, &out)
	return out, err
}

// Tag calls PUT /api/graph/tags/{tag}.
func (c *Client) Tag(ctx context.Context, scope graph.Scope, tag, commitID string) error {
	body := struct {
		Scope    graph.Scope `json:"graphScope"`
		CommitID string      `json:"commitId"`
	}{scope, commitID}
	return c.do(ctx, http.MethodPut, "/api/graph/tags/"+url.PathEscape(tag), body, nil)
}

// GetTag calls GET /api/graph/tags/{tag}?tenant=...&project=...&namespace=...&graph=...
func (c *Client) GetTag(ctx context.Context, scope graph.Scope, tag string) (string, error) {
	var out struct {
		Tag      string `json:"tag"`
		CommitID string `json:"commitId"`
	}
	path := "/api/graph/tags/" + url.PathEscape(tag) + "?" + scopeQuery(scope).Encode()
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.CommitID, err
}

// ListCommits calls GET /api/graph/commits?tenant=...&...&limit=...
func (c *Client) ListCommits(ctx context.Context, scope graph.Scope, limit int) ([]graph.Commit, error) {
	q := scopeQuery(scope)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []graph.Commit
	err := c.do(ctx, http.MethodGet, "/api/graph/commits?"+q.Encode(), nil, &out)
	return out, err
}

func scopeQuery(scope graph.Scope) url.Values {
	q := url.Values{}
	q.Set("tenant", scope.TenantID)
	q.Set("project", scope.ProjectID)
	q.Set("namespace", scope.Namespace)
	q.Set("graph", scope.GraphID)
	return q
}
