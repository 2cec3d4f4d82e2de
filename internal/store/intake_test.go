package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hyperengineering/triage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntakeRecord_StateTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &types.IntakeRecord{IdempotencyKey: "evt-1:1700000000", Provider: "call_platform_report", Payload: []byte(`{"id":"evt-1"}`)}
	require.NoError(t, s.CreateIntakeRecord(ctx, r))
	assert.Equal(t, types.IntakeReceived, r.State)

	require.NoError(t, s.UpdateIntakeState(ctx, r.ID, types.IntakeParsing, "", ""))
	require.NoError(t, s.UpdateIntakeState(ctx, r.ID, types.IntakeParsed, "", ""))
	require.NoError(t, s.UpdateIntakeState(ctx, r.ID, types.IntakeStored, "src-1", ""))

	records, err := s.ListIntakeRecords(ctx, "evt-1:1700000000")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.IntakeStored, records[0].State)
	assert.Equal(t, "src-1", records[0].SourceRecordID)
	assert.JSONEq(t, `{"id":"evt-1"}`, string(records[0].Payload))

	// A later failure keeps the source record id and captures the error
	require.NoError(t, s.UpdateIntakeState(ctx, r.ID, types.IntakeFailed, "", "boom"))
	records, err = s.ListIntakeRecords(ctx, "evt-1:1700000000")
	require.NoError(t, err)
	assert.Equal(t, "src-1", records[0].SourceRecordID)
	assert.Equal(t, "boom", records[0].Error)

	assert.ErrorIs(t, s.UpdateIntakeState(ctx, "missing", types.IntakeParsed, "", ""), ErrNotFound)
}

func TestSourceRecord_RoundTripAndClassification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &types.SourceRecord{
		Provider:   "generic_webhook",
		ExternalID: "call-42",
		Summary:    "Client asked about filing deadline",
		Event: types.Event{
			Kind:     types.EventKindCall,
			SourceID: "call-42",
			Call:     &types.CallEvent{Transcript: "hello", CallerIdentifier: "+15551234567", DurationSeconds: 95},
		},
	}
	require.NoError(t, s.CreateSourceRecord(ctx, r))

	got, err := s.GetSourceRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EventKindCall, got.Kind)
	require.NotNil(t, got.Event.Call)
	assert.Equal(t, 95, got.Event.Call.DurationSeconds)
	assert.False(t, got.AIParsed)

	require.NoError(t, s.UpdateSourceClassification(ctx, r.ID, types.ClassificationResult{
		Category:  "tax_question",
		Sentiment: "neutral",
	}, r.Summary))

	got, err = s.GetSourceRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "tax_question", got.Category)
	assert.True(t, got.AIParsed)

	require.NoError(t, s.UpdateSourceClassification(ctx, r.ID, types.ClassificationResult{Category: "general", Fallback: true}, ""))
	got, err = s.GetSourceRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, got.AIParsed, "fallback classification is not AI parsing")
}

func TestIdempotencyKeys_ClaimReleaseExpire(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	claimed, err := s.ClaimIdempotencyKey(ctx, "evt-1", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimIdempotencyKey(ctx, "evt-1", now.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "unexpired claim blocks a second claim")

	claimed, err = s.ClaimIdempotencyKey(ctx, "evt-1", now.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "expired claim is taken over")

	require.NoError(t, s.ReleaseIdempotencyKey(ctx, "evt-1"))
	claimed, err = s.ClaimIdempotencyKey(ctx, "evt-1", now.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	_, err = s.ClaimIdempotencyKey(ctx, "evt-2", now, time.Minute)
	require.NoError(t, err)
	removed, err := s.CleanExpiredIdempotency(ctx, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestClients_Lookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	jane := &types.Client{FirstName: "Jane", LastName: "Doe", Phone: "+1 (555) 123-4567"}
	john := &types.Client{FirstName: "Johnathan", LastName: "Smith", Phone: ""}
	require.NoError(t, s.CreateClient(ctx, jane))
	require.NoError(t, s.CreateClient(ctx, john))

	found, err := s.FindClientsByPhoneSuffix(ctx, "1234567")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, jane.ID, found[0].ID)

	found, err = s.FindClientsByPhoneSuffix(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = s.FindClientsByName(ctx, "john", "SMITH")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, john.ID, found[0].ID)

	assert.Equal(t, "15551234567", Digits("+1 (555) 123-4567"))
}

func TestDomainEvents_AppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &types.DomainEvent{Type: types.EventCallStored, EntityID: "src-1", Payload: json.RawMessage(`{"id":"src-1"}`)}
	seq1, err := s.AppendEvent(ctx, first)
	require.NoError(t, err)
	seq2, err := s.AppendEvent(ctx, &types.DomainEvent{Type: types.EventSuggestionsCreated, EntityID: "src-1"})
	require.NoError(t, err)
	assert.Greater(t, seq2, seq1)

	events, err := s.ListEventsAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventCallStored, events[0].Type)
	assert.JSONEq(t, `{"id":"src-1"}`, string(events[0].Payload))
	assert.Nil(t, events[1].Payload)

	events, err = s.ListEventsAfter(ctx, seq1, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, seq2, events[0].Sequence)
}
