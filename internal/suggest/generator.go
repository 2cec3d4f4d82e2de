// Package suggest turns classified events and pattern hits into suggestions
// and manages their review lifecycle.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/triage/internal/pattern"
	"github.com/hyperengineering/triage/internal/store"
	"github.com/hyperengineering/triage/internal/types"
)

// DefaultExpiry is how long a suggestion stays pending before the sweep expires it.
const DefaultExpiry = 7 * 24 * time.Hour

// minPhoneDigits is the shortest caller number suffix used for client lookup.
const minPhoneDigits = 7

// ClientStore defines the store operations needed for client resolution.
type ClientStore interface {
	FindClientsByPhoneSuffix(ctx context.Context, digits string) ([]types.Client, error)
	FindClientsByName(ctx context.Context, first, last string) ([]types.Client, error)
}

// Generator synthesizes suggestions from pattern hits and classifier actions.
type Generator struct {
	clients ClientStore
	expiry  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewGenerator creates a generator. A nil client store disables client
// resolution; a non-positive expiry takes DefaultExpiry.
func NewGenerator(clients ClientStore, expiry time.Duration) *Generator {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Generator{
		clients: clients,
		expiry:  expiry,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default().With("component", "generator"),
	}
}

// Generate returns deduplicated suggestions for event. One suggestion is
// produced per pattern hit and one per classifier action. Every suggestion
// without a client is linked to the event's client, resolving it first when
// the event carries none.
func (g *Generator) Generate(ctx context.Context, event types.Event, result types.ClassificationResult, hits []pattern.Hit) []types.Suggestion {
	now := g.now()
	if event.Category == "" {
		event.Category = result.Category
	}
	if event.ClientID == "" {
		event.ClientID = g.ResolveClient(ctx, event, result.Entities.Names)
	}

	out := make([]types.Suggestion, 0, len(hits)+len(result.SuggestedActions))
	for _, hit := range hits {
		out = append(out, g.fromPattern(event, result, hit, now))
	}
	for _, action := range result.SuggestedActions {
		if strings.TrimSpace(action.Title) == "" {
			continue
		}
		out = append(out, g.fromAction(event, result, action, now))
	}

	for i := range out {
		if out[i].ClientID == "" {
			out[i].ClientID = event.ClientID
		}
	}
	return Dedupe(out)
}

func (g *Generator) fromPattern(event types.Event, result types.ClassificationResult, hit pattern.Hit, now time.Time) types.Suggestion {
	p := hit.Pattern

	category := firstNonEmpty(p.Category, p.SuggestedCategory, event.Category, result.Category)
	priority := p.SuggestedPriority
	if !priority.Valid() {
		priority = types.PriorityMedium
	}

	title := fmt.Sprintf("Follow up on %s with %s", types.HumanizeCategory(category), displayName(event))
	due := now.Add(time.Duration(dueInDays(priority)) * 24 * time.Hour)

	return types.Suggestion{
		SourceKind:       event.Kind,
		SourceID:         event.SourceID,
		Title:            title,
		TitleKey:         TitleKey(title),
		Description:      result.Summary,
		Priority:         priority,
		DueDate:          &due,
		AssigneeID:       p.SuggestedAssignee,
		ClientID:         p.ClientID,
		CallerIdentifier: event.CallerIdentifier(),
		Confidence:       clamp01(hit.Score * p.ConfidenceScore),
		Category:         event.Category,
		Keywords:         result.Keywords,
		Reasoning:        fmt.Sprintf("Matched %s pattern (score %.2f, pattern confidence %.2f)", p.Type, hit.Score, p.ConfidenceScore),
		Origin:           types.OriginPattern,
		PatternID:        p.ID,
		CreatedAt:        now,
		ExpiresAt:        now.Add(g.expiry),
	}
}

func (g *Generator) fromAction(event types.Event, result types.ClassificationResult, action types.SuggestedAction, now time.Time) types.Suggestion {
	priority := action.Priority
	if !priority.Valid() {
		priority = result.Urgency
	}
	if !priority.Valid() {
		priority = types.PriorityMedium
	}

	confidence := action.Confidence
	if confidence <= 0 {
		confidence = result.Confidence
	}

	var due *time.Time
	if action.DueInDays > 0 {
		d := now.Add(time.Duration(action.DueInDays) * 24 * time.Hour)
		due = &d
	}

	reasoning := "Suggested by " + result.Model
	if result.Fallback {
		reasoning += " (rule-based fallback)"
	}

	title := strings.TrimSpace(action.Title)
	return types.Suggestion{
		SourceKind:       event.Kind,
		SourceID:         event.SourceID,
		Title:            title,
		TitleKey:         TitleKey(title),
		Description:      firstNonEmpty(action.Description, result.Summary),
		Priority:         priority,
		DueDate:          due,
		CallerIdentifier: event.CallerIdentifier(),
		Confidence:       clamp01(confidence),
		Category:         event.Category,
		Keywords:         result.Keywords,
		Reasoning:        reasoning,
		Origin:           types.OriginClassifier,
		CreatedAt:        now,
		ExpiresAt:        now.Add(g.expiry),
	}
}

// ResolveClient links event to a known client: first by the trailing digits
// of the caller number, then by first and last name taken from the display
// name or the extracted names. Returns "" when nothing plausible matches.
// Lookup failures are logged and treated as no match.
func (g *Generator) ResolveClient(ctx context.Context, event types.Event, names []string) string {
	if g.clients == nil {
		return ""
	}

	if digits := store.Digits(event.CallerIdentifier()); len(digits) >= minPhoneDigits {
		if len(digits) > 10 {
			digits = digits[len(digits)-10:]
		}
		clients, err := g.clients.FindClientsByPhoneSuffix(ctx, digits)
		if err != nil {
			g.logger.Warn("client phone lookup failed", "error", err)
		} else if len(clients) > 0 {
			return clients[0].ID
		}
	}

	candidates := append([]string{event.DisplayName()}, names...)
	for _, name := range candidates {
		first, last, ok := splitName(name)
		if !ok {
			continue
		}
		clients, err := g.clients.FindClientsByName(ctx, first, last)
		if err != nil {
			g.logger.Warn("client name lookup failed", "error", err)
			return ""
		}
		if len(clients) > 0 {
			return clients[0].ID
		}
	}
	return ""
}

// splitName splits a full name into first and last parts. Addresses, numbers
// and single words are not names.
func splitName(name string) (first, last string, ok bool) {
	if strings.ContainsAny(name, "@0123456789") {
		return "", "", false
	}
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[len(parts)-1], true
}

func displayName(event types.Event) string {
	if name := strings.TrimSpace(event.DisplayName()); name != "" {
		return name
	}
	return "client"
}

func dueInDays(p types.Priority) int {
	switch p {
	case types.PriorityUrgent:
		return 1
	case types.PriorityHigh:
		return 2
	case types.PriorityLow:
		return 7
	default:
		return 5
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
