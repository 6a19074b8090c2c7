package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/afewell-hh/demon/internal/gate"
	"github.com/afewell-hh/demon/internal/graph"
	"github.com/afewell-hh/demon/internal/ritual"
)

// errorBody is the JSON shape every non-2xx response body carries.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON writes v as a JSON response with status, setting the standard
// content-type header first.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err against the taxonomy below and writes the
// matching status code and body. It never leaks an internal error's raw
// message for classes that map to Internal, to avoid turning panics or
// storage-layer detail into an externally-visible string.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, ritual.ErrRunNotFound), errors.Is(err, graph.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, gate.ErrApproverNotAllowed):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Code: "unauthorized_approver"})
	case errors.Is(err, graph.ErrNotImplemented):
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: err.Error(), Code: "not_implemented"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}

// writeBadRequest reports a Contract violation: a malformed or invalid
// request the caller sent, never retried automatically by the caller.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "bad_request"})
}
