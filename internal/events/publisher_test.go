package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/triage/internal/store"
	"github.com/hyperengineering/triage/internal/types"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNew_MarshalsPayload(t *testing.T) {
	e, err := New(types.EventSuggestionApproved, "sg-1", map[string]string{"task_id": "task-1"})
	require.NoError(t, err)
	assert.Equal(t, types.EventSuggestionApproved, e.Type)
	assert.Equal(t, "sg-1", e.EntityID)
	assert.JSONEq(t, `{"task_id":"task-1"}`, string(e.Payload))
	assert.False(t, e.CreatedAt.IsZero())

	e, err = New(types.EventCallStored, "src-1", nil)
	require.NoError(t, err)
	assert.Nil(t, e.Payload)

	_, err = New("bad", "x", make(chan int))
	assert.Error(t, err)
}

func TestStorePublisher_AppendsToLog(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	p := NewStorePublisher(s)
	for _, id := range []string{"a", "b"} {
		e, err := New(types.EventCallStored, id, nil)
		require.NoError(t, err)
		require.NoError(t, p.Publish(ctx, e))
	}

	logged, err := s.ListEventsAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, "a", logged[0].EntityID)
	assert.Less(t, logged[0].Sequence, logged[1].Sequence)
}

func TestNATSPublisher_PublishesOnTypedSubject(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewNATSPublisher(nc, "triage.")
	assert.Equal(t, "triage.suggestion.declined", p.Subject(types.EventSuggestionDeclined))

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("triage.>", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	e, err := New(types.EventSuggestionDeclined, "sg-9", map[string]string{"category": "duplicate"})
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), e))

	select {
	case msg := <-ch:
		assert.Equal(t, "triage.suggestion.declined", msg.Subject)
		var got types.DomainEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "sg-9", got.EntityID)
		assert.JSONEq(t, `{"category":"duplicate"}`, string(got.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestConnect_Embedded(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	assert.True(t, nc.IsConnected())
}

func TestNATSPublisher_DefaultPrefix(t *testing.T) {
	p := NewNATSPublisher(nil, "")
	assert.Equal(t, "triage.task.reassigned", p.Subject(types.EventTaskReassigned))
}

type recordingPublisher struct {
	events []types.DomainEvent
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e types.DomainEvent) error {
	r.events = append(r.events, e)
	return r.err
}

func TestMulti_AttemptsAllAndJoinsErrors(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("broker down")}
	ok := &recordingPublisher{}
	m := Multi{failing, nil, ok}

	e, err := New(types.EventSuggestionsExpired, "", map[string]int64{"count": 3})
	require.NoError(t, err)

	err = m.Publish(context.Background(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, failing.events, 1)
	assert.Len(t, ok.events, 1)

	assert.NoError(t, Multi{ok}.Publish(context.Background(), e))
	assert.NoError(t, Nop{}.Publish(context.Background(), e))
}
