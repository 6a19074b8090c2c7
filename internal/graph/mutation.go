package graph

import "encoding/json"

// MutationOp identifies the kind of change a Mutation applies.
type MutationOp string

const (
	MutationAddNode    MutationOp = "add-node"
	MutationUpdateNode MutationOp = "update-node"
	MutationRemoveNode MutationOp = "remove-node"
	MutationAddEdge    MutationOp = "add-edge"
	MutationUpdateEdge MutationOp = "update-edge"
	MutationRemoveEdge MutationOp = "remove-edge"
)

// Mutation is one change applied by a commit. Field presence depends on Op:
// node mutations carry NodeID, edge mutations carry EdgeID/From/To. Data
// carries the node/edge attributes for add/update ops.
type Mutation struct {
	Op     MutationOp      `json:"op"`
	NodeID string          `json:"nodeId,omitempty"`
	EdgeID string          `json:"edgeId,omitempty"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// sortKey returns the mutation's canonical JSON encoding, used both to sort
// mutations before hashing and as the hash input itself — struct field
// order is fixed by declaration, so this is stable across processes.
func (m Mutation) sortKey() []byte {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return raw
}
