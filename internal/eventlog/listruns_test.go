package eventlog

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/afewell-hh/demon/internal/eventlog/eventlogtest"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log, err := New(Options{Broker: eventlogtest.NewBroker(), Redis: rdb})
	require.NoError(t, err)
	return log
}

func TestListRecentRunsReducesToLatestPerRunNewestFirst(t *testing.T) {
	log := newTestLog(t)
	ctx := t.Context()
	base := time.Now().UTC()

	_, err := log.Append(ctx, Event{Kind: KindRitualStarted, Ts: base, RunID: "run-1", RitualID: "app::r", MessageID: "m1"})
	require.NoError(t, err)
	_, err = log.Append(ctx, Event{Kind: KindRitualStarted, Ts: base.Add(time.Second), RunID: "run-2", RitualID: "app::r", MessageID: "m2"})
	require.NoError(t, err)
	_, err = log.Append(ctx, Event{Kind: KindRitualCompleted, Ts: base.Add(2 * time.Second), RunID: "run-1", RitualID: "app::r", MessageID: "m3"})
	require.NoError(t, err)
	_, err = log.Append(ctx, Event{Kind: KindRitualFailed, Ts: base.Add(3 * time.Second), RunID: "run-2", RitualID: "app::r", MessageID: "m4"})
	require.NoError(t, err)

	summaries, err := log.ListRecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Newest-first: run-2's last event (failed, +3s) precedes run-1's (completed, +2s).
	require.Equal(t, "run-2", summaries[0].RunID)
	require.Equal(t, "Failed", summaries[0].Status)
	require.Equal(t, "run-1", summaries[1].RunID)
	require.Equal(t, "Completed", summaries[1].Status)
}

func TestListRecentRunsRespectsLimit(t *testing.T) {
	log := newTestLog(t)
	ctx := t.Context()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, Event{
			Kind:      KindRitualStarted,
			Ts:        base.Add(time.Duration(i) * time.Second),
			RunID:     string(rune('a' + i)),
			RitualID:  "app::r",
			MessageID: string(rune('a' + i)),
		})
		require.NoError(t, err)
	}

	summaries, err := log.ListRecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
}

func TestListRecentRunsOnEmptyStreamReturnsEmpty(t *testing.T) {
	log := newTestLog(t)
	ctx := t.Context()

	// No events ever appended: the in-memory broker still opens an empty
	// stream for any name, so this exercises the empty-result path rather
	// than the wrapped-error path; the broker contract used elsewhere in this
	// repo has no way to simulate a genuinely absent stream, so this only
	// confirms an empty stream yields an empty, non-error result.
	summaries, err := log.ListRecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, summaries)
}
