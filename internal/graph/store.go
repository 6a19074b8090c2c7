package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/afewell-hh/demon/internal/eventlog"
	"github.com/redis/go-redis/v9"
)

// DefaultStreamName is the GRAPH_COMMITS stream created by EnsureStream.
const DefaultStreamName = "GRAPH_COMMITS"

// DedupWindow mirrors the event log's 120 s dedup window.
const DedupWindow = eventlog.DedupWindow

// ErrNotFound is returned by GetCommit/GetTag when the scope has no such
// record.
var ErrNotFound = errors.New("graph: not found")

// ErrNotImplemented is returned by GetNode: materialization strategy is an
// open question (fold from commits vs. a side index), so the endpoint is
// reserved rather than guessed at.
var ErrNotImplemented = errors.New("graph: get-node is not implemented")

// Store is the Graph Commit Log: content-addressed commits on a replayable
// stream, plus a latest-tag KV bucket.
type Store struct {
	broker     eventlog.Broker
	redis      *redis.Client
	streamName string
}

// Options configures a Store.
type Options struct {
	Broker eventlog.Broker
	// Redis backs the tag KV bucket and the commit/tag dedup window.
	Redis *redis.Client
	// StreamName overrides DefaultStreamName.
	StreamName string
}

// New constructs a Store.
func New(opts Options) (*Store, error) {
	if opts.Broker == nil {
		return nil, errors.New("graph: broker is required")
	}
	if opts.Redis == nil {
		return nil, errors.New("graph: redis client is required")
	}
	name := opts.StreamName
	if name == "" {
		name = DefaultStreamName
	}
	return &Store{broker: opts.Broker, redis: opts.Redis, streamName: name}, nil
}

// EnsureStream is idempotent: it opens (creating if absent) the GRAPH_COMMITS
// stream.
func (s *Store) EnsureStream(ctx context.Context) error {
	if _, err := s.broker.Stream(s.streamName); err != nil {
		return fmt.Errorf("graph: ensure stream: %w", err)
	}
	return nil
}

// Commit derives the content-addressed commit id from scope/parent/mutations,
// publishes the commit (deduplicated by that id within DedupWindow), and
// returns the stored record. Republishing the same commit under the same
// parent and mutation set is idempotent.
func (s *Store) Commit(ctx context.Context, scope Scope, parentCommitID string, mutations []Mutation) (Commit, error) {
	commitID, sorted, err := ComputeCommitID(scope, parentCommitID, mutations)
	if err != nil {
		return Commit{}, fmt.Errorf("graph: compute commit id: %w", err)
	}

	commit := Commit{
		Event:          eventlog.KindGraphCommitCreated,
		Scope:          scope,
		CommitID:       commitID,
		ParentCommitID: parentCommitID,
		Ts:             time.Now().UTC(),
		Mutations:      sorted,
	}

	dedupID := eventlog.GraphCommitMessageID(scope.TenantID, scope.ProjectID, scope.Namespace, commitID)
	dup, err := s.claimDedup(ctx, dedupID)
	if err != nil {
		return Commit{}, fmt.Errorf("graph: dedup check: %w", err)
	}
	if dup {
		return commit, nil
	}

	payload, err := json.Marshal(commit)
	if err != nil {
		return Commit{}, fmt.Errorf("graph: encode commit: %w", err)
	}

	stream, err := s.broker.Stream(s.streamName)
	if err != nil {
		return Commit{}, fmt.Errorf("graph: open stream: %w", err)
	}
	if _, err := stream.Add(ctx, scope.Subject(), payload); err != nil {
		return Commit{}, fmt.Errorf("graph: publish commit: %w", err)
	}

	return commit, nil
}

// Tag points tag at commitID within scope, deduplicated by (scope, tag)
// within DedupWindow against the exact same commitID (re-tagging to a
// different commit is a new write, not a duplicate). Alongside the KV write,
// publishes a graph.tag.updated:v1 event so replay consumers observe the
// change.
func (s *Store) Tag(ctx context.Context, scope Scope, tag, commitID string) error {
	key := "graph:tag:" + scope.TagKey(tag)
	dedupID := eventlog.GraphTagMessageID(scope.TenantID, scope.ProjectID, scope.Namespace, tag) + ":" + commitID

	dup, err := s.claimDedup(ctx, dedupID)
	if err != nil {
		return fmt.Errorf("graph: dedup check: %w", err)
	}
	if dup {
		return nil
	}

	if err := s.redis.Set(ctx, key, commitID, 0).Err(); err != nil {
		return fmt.Errorf("graph: set tag: %w", err)
	}
	return s.publishTagEvent(ctx, scope, tag, commitID, TagActionSet)
}

// DeleteTag removes tag from scope, if present, deduplicated by (tenant,
// project, namespace, tag) within DedupWindow; the graph id is not part of
// the dedup id, so deleting the same tag name in another graph of the same
// namespace inside the window is skipped. Alongside the KV delete, publishes
// a graph.tag.updated:v1 event with action "delete".
func (s *Store) DeleteTag(ctx context.Context, scope Scope, tag string) error {
	key := "graph:tag:" + scope.TagKey(tag)
	dedupID := eventlog.GraphTagMessageID(scope.TenantID, scope.ProjectID, scope.Namespace, tag) + ":delete"

	dup, err := s.claimDedup(ctx, dedupID)
	if err != nil {
		return fmt.Errorf("graph: dedup check: %w", err)
	}
	if dup {
		return nil
	}

	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("graph: delete tag: %w", err)
	}
	return s.publishTagEvent(ctx, scope, tag, "", TagActionDelete)
}

// publishTagEvent publishes a graph.tag.updated:v1 record to scope's commit
// subject, mirroring the original implementation's reuse of that subject for
// tag events rather than a dedicated one.
func (s *Store) publishTagEvent(ctx context.Context, scope Scope, tag, commitID string, action TagAction) error {
	event := TagEvent{
		Event:     eventlog.KindGraphTagUpdated,
		GraphID:   scope.GraphID,
		TenantID:  scope.TenantID,
		ProjectID: scope.ProjectID,
		Namespace: scope.Namespace,
		Tag:       tag,
		CommitID:  commitID,
		Action:    action,
		Ts:        time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("graph: encode tag event: %w", err)
	}
	stream, err := s.broker.Stream(s.streamName)
	if err != nil {
		return fmt.Errorf("graph: open stream: %w", err)
	}
	if _, err := stream.Add(ctx, scope.Subject(), payload); err != nil {
		return fmt.Errorf("graph: publish tag event: %w", err)
	}
	return nil
}

// GetTag returns the commit id tag currently points to within scope.
func (s *Store) GetTag(ctx context.Context, scope Scope, tag string) (string, error) {
	key := "graph:tag:" + scope.TagKey(tag)
	commitID, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("graph: get tag: %w", err)
	}
	return commitID, nil
}

// ListTags returns every tag currently set within scope, mapped to its
// commit id.
func (s *Store) ListTags(ctx context.Context, scope Scope) (map[string]string, error) {
	pattern := "graph:tag:" + scope.TagKey("*")
	out := make(map[string]string)

	iter := s.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		commitID, err := s.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		prefix := "graph:tag:" + scope.TagKey("")
		out[key[len(prefix):]] = commitID
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("graph: list tags: %w", err)
	}
	return out, nil
}

// GetCommit streams scope's subject from the beginning until it finds
// commitID or exhausts the stream.
func (s *Store) GetCommit(ctx context.Context, scope Scope, commitID string) (Commit, error) {
	commits, err := s.replay(ctx, scope)
	if err != nil {
		return Commit{}, err
	}
	for _, c := range commits {
		if c.CommitID == commitID {
			return c, nil
		}
	}
	return Commit{}, ErrNotFound
}

// ListCommits returns up to limit commits for scope, oldest first. limit is
// clamped to 1000.
func (s *Store) ListCommits(ctx context.Context, scope Scope, limit int) ([]Commit, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	commits, err := s.replay(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(commits) > limit {
		commits = commits[:limit]
	}
	return commits, nil
}

// GetNode is reserved: whether a node materializes by folding commits or
// from a side index is an open question upstream, so this always reports
// not-implemented rather than guessing at a strategy.
func (s *Store) GetNode(ctx context.Context, scope Scope, commitID, nodeID string) (json.RawMessage, error) {
	return nil, ErrNotImplemented
}

func (s *Store) replay(ctx context.Context, scope Scope) ([]Commit, error) {
	stream, err := s.broker.Stream(s.streamName)
	if err != nil {
		return nil, fmt.Errorf("graph: open stream: %w", err)
	}
	sinkName := fmt.Sprintf("graph-replay-%s-%s-%s-%d", scope.TenantID, scope.ProjectID, scope.Namespace, time.Now().UnixNano())
	sink, err := stream.NewSink(ctx, sinkName)
	if err != nil {
		return nil, fmt.Errorf("graph: new sink: %w", err)
	}
	defer sink.Close(ctx)

	var commits []Commit
	ch := sink.Subscribe()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return commits, nil
			}
			var decoded Commit
			if err := json.Unmarshal(ev.Payload, &decoded); err != nil {
				_ = sink.Ack(ctx, ev)
				continue
			}
			// GRAPH_COMMITS also carries graph.tag.updated:v1 events on this
			// same subject; commit replay only wants commits for this graph.
			if decoded.Event != eventlog.KindGraphCommitCreated || decoded.Scope.GraphID != scope.GraphID {
				_ = sink.Ack(ctx, ev)
				continue
			}
			commits = append(commits, decoded)
			if err := sink.Ack(ctx, ev); err != nil {
				return commits, fmt.Errorf("graph: ack replay event: %w", err)
			}
		case <-ctx.Done():
			return commits, ctx.Err()
		case <-time.After(250 * time.Millisecond):
			return commits, nil
		}
	}
}

func (s *Store) claimDedup(ctx context.Context, dedupID string) (bool, error) {
	key := "graph:dedup:" + dedupID
	ok, err := s.redis.SetNX(ctx, key, "1", DedupWindow).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
