package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperengineering/triage/internal/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Compile-time interface check
var _ Classifier = (*OpenAI)(nil)

// ChatCompletionsService defines the interface for making chat completion API calls.
// This abstraction enables testing without calling the real OpenAI API.
type ChatCompletionsService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI classifies events with an OpenAI chat model that answers in JSON.
type OpenAI struct {
	completions ChatCompletionsService
	model       openai.ChatModel
}

// NewOpenAI creates a new OpenAI classifier
func NewOpenAI(apiKey, model string) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{
		completions: client.Chat.Completions,
		model:       openai.ChatModel(model),
	}
}

const systemPrompt = `You triage inbound phone calls and emails for an accounting practice.
Answer with a single JSON object and nothing else, using these keys:
category (snake_case label), sentiment (positive|neutral|negative),
urgency (low|medium|high|urgent), business_relevant (boolean),
priority_score (integer 0-100), summary (string), key_points (array of strings),
keywords (array of lower-case strings),
entities (object with arrays dates, amounts, document_types, names),
suggested_actions (array of objects with title, description, priority, due_in_days, confidence),
confidence (number 0-1).`

// Classify sends the event text to the chat model and validates its answer.
func (o *OpenAI) Classify(ctx context.Context, event types.Event) (*types.ClassificationResult, error) {
	resp, err := o.completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(event)),
		}),
		Model: openai.F(o.model),
		ResponseFormat: openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](
			openai.ResponseFormatJSONObjectParam{
				Type: openai.F(openai.ResponseFormatJSONObjectTypeJSONObject),
			},
		),
		Temperature: openai.F(0.0),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: chat completion failed: %w", ErrUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedOutput)
	}

	result, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	result.Model = resp.Model
	if result.Model == "" {
		result.Model = string(o.model)
	}
	result.TokensUsed = resp.Usage.TotalTokens
	return result, nil
}

// ModelName returns the chat model name
func (o *OpenAI) ModelName() string {
	return string(o.model)
}

// buildPrompt renders the event fields the model needs.
func buildPrompt(event types.Event) string {
	var b strings.Builder
	switch {
	case event.Call != nil:
		b.WriteString("Source: phone call\n")
		writeField(&b, "Caller", event.Call.CallerName)
		writeField(&b, "Caller number", event.Call.CallerIdentifier)
		writeField(&b, "Direction", event.Call.Direction)
		if event.Call.DurationSeconds > 0 {
			fmt.Fprintf(&b, "Duration: %ds\n", event.Call.DurationSeconds)
		}
		writeField(&b, "Provider summary", event.Call.Summary)
		writeField(&b, "Transcript", event.Call.Transcript)
	case event.Email != nil:
		b.WriteString("Source: email\n")
		writeField(&b, "From", event.Email.SenderName)
		writeField(&b, "Address", event.Email.Sender)
		writeField(&b, "Subject", event.Email.Subject)
		writeField(&b, "Body", event.Email.Body)
	}
	writeField(&b, "Known category", event.Category)
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if value = strings.TrimSpace(value); value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

// modelOutput is the JSON shape requested from the model. Pointer fields
// distinguish a missing value from a zero value.
type modelOutput struct {
	Category         string                  `json:"category"`
	Sentiment        string                  `json:"sentiment"`
	Urgency          string                  `json:"urgency"`
	BusinessRelevant *bool                   `json:"business_relevant"`
	PriorityScore    *int                    `json:"priority_score"`
	Summary          string                  `json:"summary"`
	KeyPoints        []string                `json:"key_points"`
	Keywords         []string                `json:"keywords"`
	Entities         types.Entities          `json:"entities"`
	SuggestedActions []types.SuggestedAction `json:"suggested_actions"`
	Confidence       *float64                `json:"confidence"`
}

// parseResult decodes and validates model output. Missing required fields or
// out-of-range numbers are ErrMalformedOutput.
func parseResult(content string) (*types.ClassificationResult, error) {
	content = stripCodeFence(content)

	var out modelOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	category := normalizeCategory(out.Category)
	if category == "" {
		return nil, fmt.Errorf("%w: missing category", ErrMalformedOutput)
	}
	if out.Confidence == nil {
		return nil, fmt.Errorf("%w: missing confidence", ErrMalformedOutput)
	}
	if *out.Confidence < 0 || *out.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedOutput, *out.Confidence)
	}

	urgency := types.Priority(strings.ToLower(strings.TrimSpace(out.Urgency)))
	if !urgency.Valid() {
		urgency = types.PriorityMedium
	}

	score := priorityScore(urgency)
	if out.PriorityScore != nil {
		if *out.PriorityScore < 0 || *out.PriorityScore > 100 {
			return nil, fmt.Errorf("%w: priority_score %d outside [0,100]", ErrMalformedOutput, *out.PriorityScore)
		}
		score = *out.PriorityScore
	}

	relevant := true
	if out.BusinessRelevant != nil {
		relevant = *out.BusinessRelevant
	}

	actions := make([]types.SuggestedAction, 0, len(out.SuggestedActions))
	for _, a := range out.SuggestedActions {
		a.Title = strings.TrimSpace(a.Title)
		if a.Title == "" {
			continue
		}
		if !a.Priority.Valid() {
			a.Priority = ""
		}
		a.Confidence = clamp01(a.Confidence)
		if a.DueInDays < 0 {
			a.DueInDays = 0
		}
		actions = append(actions, a)
	}

	return &types.ClassificationResult{
		Category:         category,
		Sentiment:        normalizeSentiment(out.Sentiment),
		Urgency:          urgency,
		BusinessRelevant: relevant,
		PriorityScore:    score,
		Summary:          strings.TrimSpace(out.Summary),
		KeyPoints:        out.KeyPoints,
		Keywords:         lowerAll(out.Keywords),
		Entities:         out.Entities,
		SuggestedActions: actions,
		Confidence:       *out.Confidence,
	}, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(c)
}

func normalizeSentiment(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "positive", "negative", "neutral":
		return s
	}
	return "neutral"
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func priorityScore(p types.Priority) int {
	switch p {
	case types.PriorityUrgent:
		return 90
	case types.PriorityHigh:
		return 70
	case types.PriorityLow:
		return 25
	default:
		return 50
	}
}
