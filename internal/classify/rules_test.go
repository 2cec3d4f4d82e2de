package classify

import (
	"context"
	"strings"
	"testing"

	"github.com/hyperengineering/triage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleBased_Categories(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		category string
	}{
		{"tax", "I have a question about my tax refund and the IRS letter", "tax_question"},
		{"documents", "Can you send me a copy of the bank statement and the receipts", "document_request"},
		{"billing", "My invoice shows a charge I already paid", "billing"},
		{"appointment", "I would like to reschedule our meeting", "appointment"},
		{"complaint", "I am really unhappy, this is unacceptable", "complaint"},
		{"nothing", "Hello, just saying hi", CategoryGeneral},
	}

	r := NewRuleBased()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.Classify(context.Background(), types.Event{
				Kind: types.EventKindCall,
				Call: &types.CallEvent{Transcript: tt.text},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.category, result.Category)
			assert.Equal(t, RuleConfidence, result.Confidence)
			assert.True(t, result.Fallback)
			assert.Equal(t, RuleModelName, result.Model)
		})
	}
}

func TestRuleBased_UsesProvidedCategoryWhenNoKeywordMatches(t *testing.T) {
	result, err := NewRuleBased().Classify(context.Background(), types.Event{
		Kind:     types.EventKindEmail,
		Category: "Estate Planning",
		Email:    &types.EmailEvent{Body: "Hello there"},
	})
	require.NoError(t, err)
	assert.Equal(t, "estate_planning", result.Category)
}

func TestRuleBased_Urgency(t *testing.T) {
	tests := []struct {
		text string
		want types.Priority
	}{
		{"Please call me back ASAP about my taxes", types.PriorityUrgent},
		{"The filing deadline is next week", types.PriorityHigh},
		{"This is a terrible mistake", types.PriorityHigh},
		{"Could you book a meeting", types.PriorityMedium},
	}

	r := NewRuleBased()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			result := r.classify(types.Event{Kind: types.EventKindCall, Call: &types.CallEvent{Transcript: tt.text}})
			assert.Equal(t, tt.want, result.Urgency)
			assert.Equal(t, priorityScore(tt.want), result.PriorityScore)
		})
	}
}

func TestRuleBased_Entities(t *testing.T) {
	text := "Hi, this is about the W-2 for Mary Jones. She owes $1,250.50 by 04/15/2026 or April 15th."
	result := NewRuleBased().classify(types.Event{
		Kind: types.EventKindCall,
		Call: &types.CallEvent{Transcript: text, CallerName: "Peter Parker", CallerIdentifier: "+15550001111"},
	})

	assert.Contains(t, result.Entities.Amounts, "$1,250.50")
	assert.Contains(t, result.Entities.Dates, "04/15/2026")
	assert.Contains(t, result.Entities.Dates, "April 15th")
	assert.Contains(t, result.Entities.DocumentTypes, "W-2")
	assert.Contains(t, result.Entities.Names, "Peter Parker")
	assert.Contains(t, result.Entities.Names, "Mary Jones")
	assert.Contains(t, result.Keywords, "w-2")
}

func TestRuleBased_SuggestedAction(t *testing.T) {
	r := NewRuleBased()

	result := r.classify(types.Event{
		Kind: types.EventKindCall,
		Call: &types.CallEvent{Transcript: "Question about my tax return", CallerName: "Jane Doe"},
	})
	require.Len(t, result.SuggestedActions, 1)
	assert.Equal(t, "Call back Jane Doe about tax question", result.SuggestedActions[0].Title)
	assert.Equal(t, RuleConfidence, result.SuggestedActions[0].Confidence)

	result = r.classify(types.Event{
		Kind:  types.EventKindEmail,
		Email: &types.EmailEvent{Body: "Just checking in", Sender: "bob@example.com"},
	})
	require.Len(t, result.SuggestedActions, 1)
	assert.Equal(t, "Reply to bob@example.com", result.SuggestedActions[0].Title)
}

func TestRuleBased_SummaryPrefersProviderSummary(t *testing.T) {
	result := NewRuleBased().classify(types.Event{
		Kind: types.EventKindCall,
		Call: &types.CallEvent{Transcript: "Long rambling call. More words.", Summary: "Caller wants a refund status."},
	})
	assert.Equal(t, "Caller wants a refund status.", result.Summary)

	result = NewRuleBased().classify(types.Event{
		Kind: types.EventKindCall,
		Call: &types.CallEvent{Transcript: "First sentence here. Second sentence."},
	})
	assert.Equal(t, "First sentence here.", result.Summary)
}

func TestFirstSentence_Truncates(t *testing.T) {
	long := strings.Repeat("é", 250)
	got := firstSentence(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, 203, len([]rune(got)))
}

func TestSentiment(t *testing.T) {
	assert.Equal(t, "negative", sentiment("I am frustrated and upset"))
	assert.Equal(t, "positive", sentiment("Thanks, that was great"))
	assert.Equal(t, "neutral", sentiment("Please call me"))
}
