package suggest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperengineering/triage/internal/classify"
	"github.com/hyperengineering/triage/internal/pattern"
	"github.com/hyperengineering/triage/internal/store"
	"github.com/hyperengineering/triage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func taxEvent() types.Event {
	return types.Event{
		Kind:     types.EventKindCall,
		SourceID: "src-1",
		Call: &types.CallEvent{
			Transcript:       "Hi, this is Jane Doe. I have a question about my tax refund.",
			CallerIdentifier: "+1 (555) 123-4567",
			CallerName:       "Jane Doe",
		},
	}
}

func TestGenerate_ClassifierSuggestionWithoutPatterns(t *testing.T) {
	g := NewGenerator(nil, 0)
	event := taxEvent()
	event.Category = "tax_question"

	result, err := classify.NewRuleBased().Classify(context.Background(), event)
	require.NoError(t, err)

	out := g.Generate(context.Background(), event, *result, nil)
	require.NotEmpty(t, out)

	sg := out[0]
	assert.Equal(t, types.OriginClassifier, sg.Origin)
	assert.Equal(t, "tax_question", sg.Category)
	assert.Equal(t, classify.RuleConfidence, sg.Confidence)
	assert.Equal(t, types.EventKindCall, sg.SourceKind)
	assert.Equal(t, "src-1", sg.SourceID)
	assert.Equal(t, "+1 (555) 123-4567", sg.CallerIdentifier)
	assert.NotEmpty(t, sg.TitleKey)
	assert.Contains(t, sg.Reasoning, "rule-based")
	assert.WithinDuration(t, time.Now().Add(DefaultExpiry), sg.ExpiresAt, time.Minute)
}

func TestGenerate_PatternHit(t *testing.T) {
	g := NewGenerator(nil, 24*time.Hour)
	event := taxEvent()
	hit := pattern.Hit{
		Score: 0.8,
		Pattern: types.Pattern{
			ID:                "pat-1",
			Type:              types.PatternCategoryToUser,
			Category:          "tax_question",
			SuggestedAssignee: "alice",
			ConfidenceScore:   0.5,
		},
	}
	result := types.ClassificationResult{Category: "tax_question", Summary: "Refund question", Model: "gpt-4o-mini"}

	out := g.Generate(context.Background(), event, result, []pattern.Hit{hit})
	require.Len(t, out, 1)

	sg := out[0]
	assert.Equal(t, types.OriginPattern, sg.Origin)
	assert.Equal(t, "Follow up on tax question with Jane Doe", sg.Title)
	assert.InDelta(t, 0.4, sg.Confidence, 1e-9)
	assert.Equal(t, "alice", sg.AssigneeID)
	assert.Equal(t, types.PriorityMedium, sg.Priority)
	assert.Equal(t, "pat-1", sg.PatternID)
	assert.Equal(t, "Refund question", sg.Description)
	require.NotNil(t, sg.DueDate)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), sg.ExpiresAt, time.Minute)
}

func TestGenerate_DedupAcrossPaths(t *testing.T) {
	g := NewGenerator(nil, 0)
	hit := pattern.Hit{Score: 1, Pattern: types.Pattern{ID: "pat-1", Category: "tax_question", ConfidenceScore: 0.3}}
	result := types.ClassificationResult{
		Category:   "tax_question",
		Confidence: 0.9,
		SuggestedActions: []types.SuggestedAction{
			{Title: "Follow up regarding tax question with Jane Doe", Confidence: 0.75, Priority: types.PriorityHigh},
			{Title: "  "},
		},
	}

	out := g.Generate(context.Background(), taxEvent(), result, []pattern.Hit{hit})
	require.Len(t, out, 1)
	assert.Equal(t, types.OriginClassifier, out[0].Origin)
	assert.Equal(t, 0.75, out[0].Confidence)
	assert.Equal(t, types.PriorityHigh, out[0].Priority)
}

func TestGenerate_ActionFallsBackToResultValues(t *testing.T) {
	g := NewGenerator(nil, 0)
	result := types.ClassificationResult{
		Category:         "billing",
		Urgency:          types.PriorityUrgent,
		Confidence:       0.66,
		Summary:          "Invoice dispute",
		SuggestedActions: []types.SuggestedAction{{Title: "Review invoice", DueInDays: 3}},
	}

	out := g.Generate(context.Background(), taxEvent(), result, nil)
	require.Len(t, out, 1)
	assert.Equal(t, 0.66, out[0].Confidence)
	assert.Equal(t, types.PriorityUrgent, out[0].Priority)
	assert.Equal(t, "Invoice dispute", out[0].Description)
	assert.Equal(t, "billing", out[0].Category)
	require.NotNil(t, out[0].DueDate)
}

func TestResolveClient_ByPhoneSuffix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	client := &types.Client{FirstName: "Jane", LastName: "Doe", Phone: "555-123-4567"}
	require.NoError(t, s.CreateClient(ctx, client))

	g := NewGenerator(s, 0)
	event := taxEvent()
	event.Call.CallerName = ""

	assert.Equal(t, client.ID, g.ResolveClient(ctx, event, nil))
}

func TestResolveClient_ByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	client := &types.Client{FirstName: "Mary", LastName: "Jones", Phone: "212-000-0000"}
	require.NoError(t, s.CreateClient(ctx, client))

	g := NewGenerator(s, 0)

	assert.Equal(t, client.ID, g.ResolveClient(ctx, taxEvent(), []string{"Mary Jones"}))
	assert.Empty(t, g.ResolveClient(ctx, taxEvent(), []string{"Peter Parker"}))
}

func TestGenerate_BackfillsResolvedClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	client := &types.Client{FirstName: "Jane", LastName: "Doe"}
	require.NoError(t, s.CreateClient(ctx, client))

	g := NewGenerator(s, 0)
	hit := pattern.Hit{Score: 1, Pattern: types.Pattern{ID: "pat-1", ClientID: "client-from-pattern", ConfidenceScore: 0.5}}
	result := types.ClassificationResult{
		Category:         "tax_question",
		Confidence:       0.8,
		SuggestedActions: []types.SuggestedAction{{Title: "Send refund status"}},
	}

	out := g.Generate(ctx, taxEvent(), result, []pattern.Hit{hit})
	require.Len(t, out, 2)
	assert.Equal(t, "client-from-pattern", out[0].ClientID)
	assert.Equal(t, client.ID, out[1].ClientID)
}

type failingClients struct{}

func (failingClients) FindClientsByPhoneSuffix(context.Context, string) ([]types.Client, error) {
	return nil, errors.New("database is closed")
}

func (failingClients) FindClientsByName(context.Context, string, string) ([]types.Client, error) {
	return nil, errors.New("database is closed")
}

func TestResolveClient_LookupFailureIsNoMatch(t *testing.T) {
	g := NewGenerator(failingClients{}, 0)
	assert.Empty(t, g.ResolveClient(context.Background(), taxEvent(), nil))
}

func TestSplitName(t *testing.T) {
	first, last, ok := splitName("Mary Ann Jones")
	assert.True(t, ok)
	assert.Equal(t, "Mary", first)
	assert.Equal(t, "Jones", last)

	_, _, ok = splitName("jane@example.com")
	assert.False(t, ok)
	_, _, ok = splitName("+15551234567")
	assert.False(t, ok)
	_, _, ok = splitName("Cher")
	assert.False(t, ok)
}
