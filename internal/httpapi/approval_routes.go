package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/afewell-hh/demon/internal/gate"
)

// approvalRequest is the body of POST /api/approvals/{runId}/{gateId}/grant
// and .../deny.
type approvalRequest struct {
	RitualID string `json:"ritualId"`
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
}

type approvalResponse struct {
	Status gate.Status `json:"status"`
	State  gate.State  `json:"state"`
}

func (h *handlers) grantApproval(w http.ResponseWriter, r *http.Request) {
	h.decideApproval(w, r, h.deps.Gate.Grant)
}

func (h *handlers) denyApproval(w http.ResponseWriter, r *http.Request) {
	h.decideApproval(w, r, h.deps.Gate.Deny)
}

type gateAction func(ctx context.Context, tenantID, runID, ritualID, gateID, approver, reason string) (gate.ActionResult, error)

func (h *handlers) decideApproval(w http.ResponseWriter, r *http.Request, act gateAction) {
	if h.deps.Gate == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "approval gate not configured", Code: "not_implemented"})
		return
	}

	runID := chi.URLParam(r, "runId")
	gateID := chi.URLParam(r, "gateId")

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.RitualID == "" || req.Approver == "" {
		writeBadRequest(w, "ritualId and approver are required")
		return
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = h.deps.DefaultTenant
	}

	result, err := act(r.Context(), tenantID, runID, req.RitualID, gateID, req.Approver, req.Reason)
	if err != nil {
		if errors.Is(err, gate.ErrApproverNotAllowed) {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
		return
	}

	switch result.Status {
	case gate.StatusOK, gate.StatusNoop:
		writeJSON(w, http.StatusOK, approvalResponse{Status: result.Status, State: result.State})
	case gate.StatusConflict:
		writeJSON(w, http.StatusConflict, approvalResponse{Status: result.Status, State: result.State})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "unknown gate status", Code: "internal"})
	}
}
