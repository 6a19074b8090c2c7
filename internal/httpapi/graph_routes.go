package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/afewell-hh/demon/internal/graph"
)

// commitRequest is the body of POST /api/graph/commits.
type commitRequest struct {
	Scope          graph.Scope      `json:"graphScope"`
	ParentCommitID string           `json:"parentCommitId,omitempty"`
	Mutations      []graph.Mutation `json:"mutations"`
}

// tagRequest is the body of PUT /api/graph/tags/{tag}.
type tagRequest struct {
	Scope    graph.Scope `json:"graphScope"`
	CommitID string      `json:"commitId"`
}

func scopeFromQuery(r *http.Request) graph.Scope {
	q := r.URL.Query()
	return graph.Scope{
		TenantID:  q.Get("tenant"),
		ProjectID: q.Get("project"),
		Namespace: q.Get("namespace"),
		GraphID:   q.Get("graph"),
	}
}

func (h *handlers) graphUnconfigured(w http.ResponseWriter) bool {
	if h.deps.Graph == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "graph store not configured", Code: "not_implemented"})
		return true
	}
	return false
}

func (h *handlers) getCommit(w http.ResponseWriter, r *http.Request) {
	if h.graphUnconfigured(w) {
		return
	}
	commitID := chi.URLParam(r, "id")
	commit, err := h.deps.Graph.GetCommit(r.Context(), scopeFromQuery(r), commitID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", commit.CommitID)
	writeJSON(w, http.StatusOK, commit)
}

func (h *handlers) listCommits(w http.ResponseWriter, r *http.Request) {
	if h.graphUnconfigured(w) {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	commits, err := h.deps.Graph.ListCommits(r.Context(), scopeFromQuery(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

func (h *handlers) getTag(w http.ResponseWriter, r *http.Request) {
	if h.graphUnconfigured(w) {
		return
	}
	tag := chi.URLParam(r, "tag")
	commitID, err := h.deps.Graph.GetTag(r.Context(), scopeFromQuery(r), tag)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", commitID)
	writeJSON(w, http.StatusOK, map[string]string{"tag": tag, "commitId": commitID})
}

func (h *handlers) listTags(w http.ResponseWriter, r *http.Request) {
	if h.graphUnconfigured(w) {
		return
	}
	tags, err := h.deps.Graph.ListTags(r.Context(), scopeFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (h *handlers) postCommit(w http.ResponseWriter, r *http.Request) {
	if h.graphUnconfigured(w) {
		return
	}
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	commit, err := h.deps.Graph.Commit(r.Context(), req.Scope, req.ParentCommitID, req.Mutations)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", commit.CommitID)
	writeJSON(w, http.StatusCreated, commit)
}

func (h *handlers) putTag(w http.ResponseWriter, r *http.Request) {
	if h.graphUnconfigured(w) {
		return
	}
	tag := chi.URLParam(r, "tag")
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.CommitID == "" {
		writeBadRequest(w, "commitId is required")
		return
	}
	if err := h.deps.Graph.Tag(r.Context(), req.Scope, tag, req.CommitID); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", req.CommitID)
	writeJSON(w, http.StatusOK, map[string]string{"tag": tag, "commitId": req.CommitID})
}
