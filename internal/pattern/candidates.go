package pattern

import (
	"sort"
	"strings"

	"github.com/hyperengineering/triage/internal/types"
)

// Candidate is one (pattern type, predicate, recommended outcome) tuple
// derived from a feedback record.
type Candidate struct {
	Type             types.PatternType
	MatchKey         string
	Category         string
	ClientID         string
	CallerIdentifier string
	Keywords         []string
	Assignee         string
	Priority         types.Priority
}

// Candidates derives the learning candidates for f. Human-confirmed outputs
// are preferred; the suggested outputs stand in when nothing was confirmed,
// which is the case for declines. Keyword candidates are never derived from
// declines.
func Candidates(f types.Feedback) []Candidate {
	assignee := strings.TrimSpace(f.ConfirmedAssignee)
	if assignee == "" {
		assignee = strings.TrimSpace(f.SuggestedAssignee)
	}
	priority := f.ConfirmedPriority
	if priority == "" {
		priority = f.SuggestedPriority
	}
	category := strings.TrimSpace(f.ConfirmedCategory)
	if category == "" {
		category = strings.TrimSpace(f.Category)
	}

	var out []Candidate
	if assignee != "" {
		if category != "" {
			out = append(out, Candidate{
				Type:     types.PatternCategoryToUser,
				MatchKey: strings.ToLower(category) + "|" + assignee,
				Category: category,
				Assignee: assignee,
				Priority: priority,
			})
		}
		if f.ClientID != "" {
			out = append(out, Candidate{
				Type:     types.PatternClientToUser,
				MatchKey: f.ClientID + "|" + assignee,
				ClientID: f.ClientID,
				Assignee: assignee,
				Priority: priority,
			})
		}
		if caller := strings.TrimSpace(f.CallerIdentifier); caller != "" {
			out = append(out, Candidate{
				Type:             types.PatternCallerToUser,
				MatchKey:         caller + "|" + assignee,
				CallerIdentifier: caller,
				Assignee:         assignee,
				Priority:         priority,
			})
		}
	}

	keywords := NormalizeKeywords(f.Keywords)
	if f.Action != types.ActionDeclined && len(keywords) > 0 && priority.Valid() {
		out = append(out, Candidate{
			Type:     types.PatternKeywordsToPriority,
			MatchKey: strings.Join(keywords, ",") + "|" + string(priority),
			Keywords: keywords,
			Priority: priority,
		})
	}
	return out
}

// NewPattern builds the pattern first seeded by a non-decline feedback
// record. It starts with one acceptance and a low confidence and is flagged
// for review.
func (c Candidate) NewPattern(feedbackID string, initialConfidence float64) *types.Pattern {
	rate := 1.0
	p := &types.Pattern{
		Type:              c.Type,
		MatchKey:          c.MatchKey,
		Category:          c.Category,
		ClientID:          c.ClientID,
		CallerIdentifier:  c.CallerIdentifier,
		Keywords:          c.Keywords,
		SuggestedAssignee: c.Assignee,
		SuggestedCategory: c.Category,
		TimesAccepted:     1,
		AcceptanceRate:    &rate,
		ConfidenceScore:   clamp01(initialConfidence),
		Active:            true,
		RequiresReview:    true,
	}
	if c.Priority.Valid() {
		p.SuggestedPriority = c.Priority
	}
	if feedbackID != "" {
		p.FeedbackIDs = []string{feedbackID}
	}
	return p
}

// NormalizeKeywords lower-cases, trims, de-duplicates and sorts keywords.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	var out []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}
