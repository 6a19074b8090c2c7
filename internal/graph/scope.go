// Package graph implements the Graph Commit Log: a content-addressed,
// per-scope commit store with a latest-tag KV bucket, both replayable
// through the same broker abstraction the event log uses.
package graph

import (
	"fmt"
)

// Scope identifies one graph's commit/tag namespace.
type Scope struct {
	TenantID  string
	ProjectID string
	Namespace string
	GraphID   string
}

// Subject derives the stream subject commits in this scope publish under.
// The wildcard pattern `demon.graph.v1.*.*.*.commit` groups every graph in a
// (tenant, project, namespace) onto one subject; GraphID distinguishes
// commits within it at the payload level, the same way RunID/RitualID
// distinguish events sharing a ritual subject.
func (s Scope) Subject() string {
	return fmt.Sprintf("demon.graph.v1.%s.%s.%s.commit", s.TenantID, s.ProjectID, s.Namespace)
}

// TagKey derives the GRAPH_TAGS bucket key for a tag in this scope.
func (s Scope) TagKey(tag string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", s.TenantID, s.ProjectID, s.Namespace, s.GraphID, tag)
}
