package graph

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/afewell-hh/demon/internal/eventlog"
)

// Commit is one content-addressed record in a Scope's history, published as
// a tagged graph.commit.created:v1 event so a replay consumer filtering
// GRAPH_COMMITS by kind can identify it without guessing at payload shape.
type Commit struct {
	Event          eventlog.Kind `json:"event"`
	Scope          Scope         `json:"graphScope"`
	CommitID       string        `json:"commitId"`
	ParentCommitID string        `json:"parentCommitId,omitempty"`
	Ts             time.Time     `json:"ts"`
	Mutations      []Mutation    `json:"mutations"`
}

// canonicalCommit is the struct hashed to derive CommitID: scope, parent,
// and mutations sorted into a deterministic order, with CommitID/Ts omitted
// since they are derived from, not inputs to, the hash.
type canonicalCommit struct {
	Scope          Scope      `json:"graphScope"`
	ParentCommitID string     `json:"parentCommitId,omitempty"`
	Mutations      []Mutation `json:"mutations"`
}

// sortMutations returns a stably-ordered copy of mutations, the order used
// both for hashing and for the stored commit record.
func sortMutations(mutations []Mutation) []Mutation {
	sorted := make([]Mutation, len(mutations))
	copy(sorted, mutations)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].sortKey(), sorted[j].sortKey()) < 0
	})
	return sorted
}

// ComputeCommitID derives the content-addressed sha256 hex digest over the
// canonical encoding of {scope, parentCommitId, sorted mutations}, along
// with the sorted mutation order used to compute it.
func ComputeCommitID(scope Scope, parentCommitID string, mutations []Mutation) (string, []Mutation, error) {
	sorted := sortMutations(mutations)

	raw, err := json.Marshal(canonicalCommit{Scope: scope, ParentCommitID: parentCommitID, Mutations: sorted})
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), sorted, nil
}
