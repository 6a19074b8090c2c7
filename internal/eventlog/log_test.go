package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T, opts Options) (*Log, *fakeBroker) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	broker := newFakeBroker()
	opts.Broker = broker
	opts.Redis = rdb
	log, err := New(opts)
	require.NoError(t, err)
	return log, broker
}

func mustEvent(t *testing.T, kind Kind, runID, ritualID, messageID string, fields any) Event {
	t.Helper()
	ev := Event{Kind: kind, Ts: time.Now().UTC(), RunID: runID, RitualID: ritualID, MessageID: messageID}
	if fields != nil {
		var err error
		ev, err = ev.WithFields(fields)
		require.NoError(t, err)
	}
	return ev
}

func TestAppendAndReadRunRoundTrips(t *testing.T) {
	log, _ := newTestLog(t, Options{})
	ctx := context.Background()

	started := mustEvent(t, KindRitualStarted, "run-1", "deploy", RitualLifecycleMessageID("run-1", 0), map[string]string{"traceId": "t-1"})
	ack, err := log.Append(ctx, started)
	require.NoError(t, err)
	require.False(t, ack.Duplicate)

	completed := mustEvent(t, KindRitualCompleted, "run-1", "deploy", RitualLifecycleMessageID("run-1", 1), nil)
	_, err = log.Append(ctx, completed)
	require.NoError(t, err)

	events, err := log.ReadRun(ctx, "default", "deploy", "run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, KindRitualStarted, events[0].Kind)
	require.Equal(t, KindRitualCompleted, events[1].Kind)

	var decodedFields struct {
		TraceID string `json:"traceId"`
	}
	require.NoError(t, events[0].StructFields(&decodedFields))
	require.Equal(t, "t-1", decodedFields.TraceID)
}

func TestAppendDeduplicatesWithinWindow(t *testing.T) {
	log, broker := newTestLog(t, Options{})
	ctx := context.Background()

	ev := mustEvent(t, KindRitualStarted, "run-1", "deploy", RitualLifecycleMessageID("run-1", 0), nil)

	ack1, err := log.Append(ctx, ev)
	require.NoError(t, err)
	require.False(t, ack1.Duplicate)

	ack2, err := log.Append(ctx, ev)
	require.NoError(t, err)
	require.True(t, ack2.Duplicate)

	stream, err := broker.Stream(DefaultStreamName)
	require.NoError(t, err)
	fs := stream.(*fakeStream)
	require.Len(t, fs.entries, 1)
}

func TestAppendRejectsMissingMessageID(t *testing.T) {
	log, _ := newTestLog(t, Options{})
	_, err := log.Append(context.Background(), Event{Kind: KindRitualStarted, RunID: "run-1"})
	require.Error(t, err)
}

func TestDualPublishWritesLegacyAndTenantedSubjects(t *testing.T) {
	log, broker := newTestLog(t, Options{Tenanted: true, DualPublish: true})
	ctx := context.Background()

	ev := mustEvent(t, KindRitualStarted, "run-1", "deploy", RitualLifecycleMessageID("run-1", 0), nil)
	ev.TenantID = "acme"

	_, err := log.Append(ctx, ev)
	require.NoError(t, err)

	stream, err := broker.Stream(DefaultStreamName)
	require.NoError(t, err)
	fs := stream.(*fakeStream)
	require.Len(t, fs.entries, 2)

	subjects := []string{fs.entries[0].event, fs.entries[1].event}
	require.Contains(t, subjects, Subject(true, "acme", "deploy", "run-1"))
	require.Contains(t, subjects, LegacySubject("deploy", "run-1"))
}

func TestReadRunUnknownRunYieldsEmpty(t *testing.T) {
	log, _ := newTestLog(t, Options{})
	events, err := log.ReadRun(context.Background(), "default", "deploy", "missing-run")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestEventJSONRoundTripFlattensFields(t *testing.T) {
	ev := mustEvent(t, KindApprovalRequested, "run-1", "deploy", ApprovalRequestedMessageID("run-1", "gate-1"), map[string]string{
		"gateId":    "gate-1",
		"requester": "alice",
	})
	ev.TenantID = "acme"

	raw, err := ev.MarshalJSON()
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, decoded.UnmarshalJSON(raw))
	require.Equal(t, ev.Kind, decoded.Kind)
	require.Equal(t, ev.RunID, decoded.RunID)
	require.Equal(t, ev.TenantID, decoded.TenantID)

	var fields struct {
		GateID    string `json:"gateId"`
		Requester string `json:"requester"`
	}
	require.NoError(t, decoded.StructFields(&fields))
	require.Equal(t, "gate-1", fields.GateID)
	require.Equal(t, "alice", fields.Requester)
}
