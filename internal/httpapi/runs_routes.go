package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/afewell-hh/demon/internal/eventlog"
)

// listRecentRuns serves the standalone, JetStream-backed GET /api/runs
// listing: a stream that hasn't been created yet is reported as an empty
// result plus a warning header rather than a failure, since no run has ever
// been scheduled is a normal, not exceptional, state for a fresh
// deployment. Any other error is assumed to mean the broker itself is
// unreachable and is reported as a retryable 502.
func (h *handlers) listRecentRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "event log not configured", Code: "not_implemented"})
		return
	}

	limit := h.deps.RunsListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	summaries, err := h.deps.Events.ListRecentRuns(r.Context(), limit)
	if err != nil {
		if errors.Is(err, eventlog.ErrStreamNotFound) {
			w.Header().Set("X-Demon-Warn", "stream-not-found")
			writeJSON(w, http.StatusOK, []eventlog.RunSummary{})
			return
		}
		if h.deps.Logger != nil {
			h.deps.Logger.Error(r.Context(), "list recent runs: broker error", "error", err)
		}
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "event broker unreachable", Code: "transport"})
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}
