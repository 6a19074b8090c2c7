package ritual

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunStoreInsertGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	store, err := OpenRunStore(path)
	require.NoError(t, err)

	now := time.Now().UTC()
	rec := RunRecord{RunID: "run-1", App: "demo-app", Ritual: "say-hi", Status: StatusRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Insert(rec))

	got, err := store.Get("run-1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)
}

func TestRunStoreGetMissingReturnsErrRunNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	store, err := OpenRunStore(path)
	require.NoError(t, err)

	_, err = store.Get("no-such-run")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	store, err := OpenRunStore(path)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.Insert(RunRecord{RunID: "run-1", App: "demo-app", Ritual: "say-hi", Status: StatusCompleted, CreatedAt: now, UpdatedAt: now}))

	reopened, err := OpenRunStore(path)
	require.NoError(t, err)
	got, err := reopened.Get("run-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
}

func TestRunStoreUpdateMutatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	store, err := OpenRunStore(path)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.Insert(RunRecord{RunID: "run-1", App: "demo-app", Ritual: "say-hi", Status: StatusRunning, CreatedAt: now, UpdatedAt: now}))

	err = store.Update("run-1", func(rec RunRecord) RunRecord {
		rec.Status = StatusCompleted
		rec.ResultEnvelope = map[string]interface{}{"result": map[string]interface{}{"success": true}}
		return rec
	})
	require.NoError(t, err)

	got, err := store.Get("run-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, true, got.ResultEnvelope["result"].(map[string]interface{})["success"])
}

func TestRunStoreUpdateMissingReturnsErrRunNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	store, err := OpenRunStore(path)
	require.NoError(t, err)

	err = store.Update("no-such-run", func(rec RunRecord) RunRecord { return rec })
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStoreIdempotencyKeyLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	store, err := OpenRunStore(path)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.Insert(RunRecord{
		RunID: "run-1", App: "demo-app", Ritual: "say-hi", Status: StatusRunning,
		CreatedAt: now, UpdatedAt: now, IdempotencyKey: "req-abc",
	}))

	runID, ok := store.LookupIdempotencyKey("demo-app", "say-hi", "req-abc")
	require.True(t, ok)
	require.Equal(t, "run-1", runID)

	_, ok = store.LookupIdempotencyKey("demo-app", "say-hi", "req-xyz")
	require.False(t, ok)

	_, ok = store.LookupIdempotencyKey("other-app", "say-hi", "req-abc")
	require.False(t, ok)
}

func TestRunStoreListByAppRitualFiltersAndOrdersNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	store, err := OpenRunStore(path)
	require.NoError(t, err)

	base := time.Now().UTC()
	require.NoError(t, store.Insert(RunRecord{RunID: "run-1", App: "demo-app", Ritual: "say-hi", Status: StatusCompleted, CreatedAt: base}))
	require.NoError(t, store.Insert(RunRecord{RunID: "run-2", App: "demo-app", Ritual: "say-hi", Status: StatusFailed, CreatedAt: base.Add(time.Second)}))
	require.NoError(t, store.Insert(RunRecord{RunID: "run-3", App: "other-app", Ritual: "say-hi", Status: StatusCompleted, CreatedAt: base.Add(2 * time.Second)}))

	runs := store.ListByAppRitual("demo-app", "say-hi", "", 0)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].RunID)

	completedOnly := store.ListByAppRitual("demo-app", "say-hi", StatusCompleted, 0)
	require.Len(t, completedOnly, 1)
	require.Equal(t, "run-1", completedOnly[0].RunID)

	limited := store.ListByAppRitual("demo-app", "say-hi", "", 1)
	require.Len(t, limited, 1)
}
