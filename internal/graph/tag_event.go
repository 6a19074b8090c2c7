package graph

import (
	"time"

	"github.com/afewell-hh/demon/internal/eventlog"
)

// TagAction discriminates a TagEvent between setting and deleting a tag,
// matching the original implementation's TagAction enum.
type TagAction string

const (
	TagActionSet    TagAction = "set"
	TagActionDelete TagAction = "delete"
)

// TagEvent is the tagged record published to GRAPH_COMMITS (reusing the
// commit subject, the same way the original does) when a tag is set or
// deleted, matching graph.tag.updated:v1. CommitID is only set for
// TagActionSet.
type TagEvent struct {
	Event     eventlog.Kind `json:"event"`
	GraphID   string        `json:"graphId"`
	TenantID  string        `json:"tenantId"`
	ProjectID string        `json:"projectId"`
	Namespace string        `json:"namespace"`
	Tag       string        `json:"tag"`
	CommitID  string        `json:"commitId,omitempty"`
	Action    TagAction     `json:"action"`
	Ts        time.Time     `json:"ts"`
}
