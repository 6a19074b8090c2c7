package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/afewell-hh/demon/internal/ritual"
)

// scheduleRequest is the body of POST /api/v1/rituals/{ritual}/runs.
type scheduleRequest struct {
	App            string                 `json:"app"`
	Version        string                 `json:"version,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	TenantID       string                 `json:"tenantId,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
}

type scheduleResponse struct {
	RunID     string            `json:"runId"`
	Status    ritual.RunStatus  `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	Links     map[string]string `json:"links"`
}

func (h *handlers) scheduleRun(w http.ResponseWriter, r *http.Request) {
	ritualName := chi.URLParam(r, "ritual")

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.App == "" {
		writeBadRequest(w, "app is required")
		return
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = h.deps.DefaultTenant
	}
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = r.Header.Get("X-Idempotency-Key")
	}

	rec, err := h.deps.Runner.ScheduleRun(r.Context(), req.App, req.Version, ritualName, req.Parameters, tenantID, idempotencyKey)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, scheduleResponse{
		RunID:     rec.RunID,
		Status:    rec.Status,
		CreatedAt: rec.CreatedAt,
		Links: map[string]string{
			"self":     fmt.Sprintf("/api/v1/rituals/%s/runs/%s?app=%s", ritualName, rec.RunID, req.App),
			"events":   fmt.Sprintf("/api/v1/rituals/%s/runs/%s/events/stream?app=%s", ritualName, rec.RunID, req.App),
			"envelope": fmt.Sprintf("/api/v1/rituals/%s/runs/%s/envelope?app=%s", ritualName, rec.RunID, req.App),
		},
	})
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	ritualName := chi.URLParam(r, "ritual")
	app := r.URL.Query().Get("app")
	if app == "" {
		writeBadRequest(w, "app is required")
		return
	}

	status := ritual.RunStatus(r.URL.Query().Get("status"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs := h.deps.Runner.ListRuns(app, ritualName, status, limit)
	writeJSON(w, http.StatusOK, runs)
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	ritualName := chi.URLParam(r, "ritual")
	runID := chi.URLParam(r, "runId")
	app := r.URL.Query().Get("app")
	if app == "" {
		writeBadRequest(w, "app is required")
		return
	}

	rec, err := h.deps.Runner.GetRun(app, ritualName, runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) getEnvelope(w http.ResponseWriter, r *http.Request) {
	ritualName := chi.URLParam(r, "ritual")
	runID := chi.URLParam(r, "runId")
	app := r.URL.Query().Get("app")
	if app == "" {
		writeBadRequest(w, "app is required")
		return
	}

	env, err := h.deps.Runner.GetEnvelope(app, ritualName, runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *handlers) cancelRun(w http.ResponseWriter, r *http.Request) {
	ritualName := chi.URLParam(r, "ritual")
	runID := chi.URLParam(r, "runId")
	app := r.URL.Query().Get("app")
	if app == "" {
		writeBadRequest(w, "app is required")
		return
	}

	if _, err := h.deps.Runner.GetRun(app, ritualName, runID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Runner.Cancel(runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": true})
}

// streamEvents serves runID's status/envelope frames as Server-Sent Events,
// emitting a periodic comment-only heartbeat so idle long-poll proxies
// don't time the connection out.
func (h *handlers) streamEvents(w http.ResponseWriter, r *http.Request) {
	ritualName := chi.URLParam(r, "ritual")
	runID := chi.URLParam(r, "runId")
	app := r.URL.Query().Get("app")
	if app == "" {
		writeBadRequest(w, "app is required")
		return
	}

	if _, err := h.deps.Runner.GetRun(app, ritualName, runID); err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported", Code: "internal"})
		return
	}

	heartbeat := 15 * time.Second
	if raw := r.URL.Query().Get("heartbeat_secs"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			heartbeat = time.Duration(n) * time.Second
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	frames := h.deps.Runner.StreamEvents(runID)
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			payload, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Type, payload)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
