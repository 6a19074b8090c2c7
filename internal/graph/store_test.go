package graph

import (
	"testing"

	"github.com/afewell-hh/demon/internal/eventlog/eventlogtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := New(Options{Broker: eventlogtest.NewBroker(), Redis: rdb})
	require.NoError(t, err)
	return store
}

func testScope() Scope {
	return Scope{TenantID: "acme", ProjectID: "proj-1", Namespace: "ns-1", GraphID: "graph-1"}
}

func TestCommitIDIsDeterministicRegardlessOfMutationOrder(t *testing.T) {
	scope := testScope()
	a := []Mutation{
		{Op: MutationAddNode, NodeID: "n1"},
		{Op: MutationAddNode, NodeID: "n2"},
	}
	b := []Mutation{a[1], a[0]}

	id1, _, err := ComputeCommitID(scope, "", a)
	require.NoError(t, err)
	id2, _, err := ComputeCommitID(scope, "", b)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestCommitIDChangesWithDifferentParent(t *testing.T) {
	scope := testScope()
	mutations := []Mutation{{Op: MutationAddNode, NodeID: "n1"}}

	id1, _, err := ComputeCommitID(scope, "", mutations)
	require.NoError(t, err)
	id2, _, err := ComputeCommitID(scope, "parent-1", mutations)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestStoreCommitAndGetCommitRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	scope := testScope()

	commit, err := store.Commit(ctx, scope, "", []Mutation{{Op: MutationAddNode, NodeID: "n1"}})
	require.NoError(t, err)
	require.NotEmpty(t, commit.CommitID)

	fetched, err := store.GetCommit(ctx, scope, commit.CommitID)
	require.NoError(t, err)
	require.Equal(t, commit.CommitID, fetched.CommitID)
	require.Equal(t, commit.Mutations, fetched.Mutations)
}

func TestStoreGetCommitUnknownIDReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetCommit(t.Context(), testScope(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListCommitsReturnsInPublishOrderAndRespectsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	scope := testScope()

	var last string
	for i := 0; i < 3; i++ {
		c, err := store.Commit(ctx, scope, last, []Mutation{{Op: MutationAddNode, NodeID: string(rune('a' + i))}})
		require.NoError(t, err)
		last = c.CommitID
	}

	all, err := store.ListCommits(ctx, scope, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	limited, err := store.ListCommits(ctx, scope, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestStoreCommitIsIdempotentUnderRetry(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	scope := testScope()

	mutations := []Mutation{{Op: MutationAddNode, NodeID: "n1"}}
	_, err := store.Commit(ctx, scope, "", mutations)
	require.NoError(t, err)
	_, err = store.Commit(ctx, scope, "", mutations)
	require.NoError(t, err)

	all, err := store.ListCommits(ctx, scope, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestStoreTagPointsAtCommitAndListTags(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	scope := testScope()

	commit, err := store.Commit(ctx, scope, "", []Mutation{{Op: MutationAddNode, NodeID: "n1"}})
	require.NoError(t, err)

	require.NoError(t, store.Tag(ctx, scope, "latest", commit.CommitID))

	got, err := store.GetTag(ctx, scope, "latest")
	require.NoError(t, err)
	require.Equal(t, commit.CommitID, got)

	tags, err := store.ListTags(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"latest": commit.CommitID}, tags)

	require.NoError(t, store.DeleteTag(ctx, scope, "latest"))
	_, err = store.GetTag(ctx, scope, "latest")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreGetNodeIsNotImplemented(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetNode(t.Context(), testScope(), "commit-1", "node-1")
	require.ErrorIs(t, err, ErrNotImplemented)
}

func TestScopesWithDifferentGraphIDsDoNotLeakAcrossReplay(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	scopeA := testScope()
	scopeB := testScope()
	scopeB.GraphID = "graph-2"

	_, err := store.Commit(ctx, scopeA, "", []Mutation{{Op: MutationAddNode, NodeID: "a"}})
	require.NoError(t, err)
	_, err = store.Commit(ctx, scopeB, "", []Mutation{{Op: MutationAddNode, NodeID: "b"}})
	require.NoError(t, err)

	commitsA, err := store.ListCommits(ctx, scopeA, 0)
	require.NoError(t, err)
	require.Len(t, commitsA, 1)

	commitsB, err := store.ListCommits(ctx, scopeB, 0)
	require.NoError(t, err)
	require.Len(t, commitsB, 1)
}
