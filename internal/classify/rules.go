package classify

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/hyperengineering/triage/internal/types"
)

// Compile-time interface check
var _ Classifier = (*RuleBased)(nil)

// RuleConfidence is the confidence reported for every rule-based result.
// It is low but nonzero so matching can still combine it.
const RuleConfidence = 0.35

// RuleModelName identifies rule-based results.
const RuleModelName = "rules-v1"

// CategoryGeneral is assigned when no category keyword matches.
const CategoryGeneral = "general"

type categoryRule struct {
	name     string
	keywords *regexp.Regexp
	action   string // title template, %s is the display name
	priority types.Priority
}

// Ordered by precedence: ties go to the earlier rule.
var categoryRules = []categoryRule{
	{
		name:     "tax_question",
		keywords: regexp.MustCompile(`(?i)\b(tax|taxes|irs|deduction|deductions|filing|file|refund|1099|w-?2|1040|audit|quarterly|estimated|extension)\b`),
		action:   "Call back %s about tax question",
	},
	{
		name:     "document_request",
		keywords: regexp.MustCompile(`(?i)\b(document|documents|statement|statements|copy|copies|form|forms|upload|receipt|receipts|records|paperwork|signature)\b`),
		action:   "Send requested documents to %s",
	},
	{
		name:     "billing",
		keywords: regexp.MustCompile(`(?i)\b(invoice|invoices|bill|billing|billed|payment|payments|charge|charged|fee|fees|paid|balance|overdue)\b`),
		action:   "Review billing question from %s",
	},
	{
		name:     "appointment",
		keywords: regexp.MustCompile(`(?i)\b(appointment|schedule|reschedule|meeting|calendar|book|booking|available|availability)\b`),
		action:   "Schedule appointment with %s",
	},
	{
		name:     "complaint",
		keywords: regexp.MustCompile(`(?i)\b(complain|complaint|unhappy|frustrated|angry|disappointed|terrible|unacceptable|mistake|wrong)\b`),
		action:   "Follow up on complaint from %s",
		priority: types.PriorityHigh,
	},
}

var (
	urgentPattern   = regexp.MustCompile(`(?i)\b(urgent|urgently|asap|immediately|emergency|right away|today)\b`)
	highPattern     = regexp.MustCompile(`(?i)\b(deadline|due|soon|overdue|penalty|penalties|tomorrow|important|notice)\b`)
	negativePattern = regexp.MustCompile(`(?i)\b(unhappy|frustrated|angry|upset|disappointed|terrible|awful|unacceptable|worried)\b`)
	positivePattern = regexp.MustCompile(`(?i)\b(thanks|thank you|great|appreciate|happy|pleased|excellent)\b`)

	datePattern     = regexp.MustCompile(`(?i)\b(\d{1,2}/\d{1,2}(/\d{2,4})?|\d{4}-\d{2}-\d{2}|(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.? \d{1,2}(st|nd|rd|th)?)\b`)
	amountPattern   = regexp.MustCompile(`\$\s?\d[\d,]*(\.\d{2})?`)
	docTypePattern  = regexp.MustCompile(`(?i)\b(w-?2|1099(-[a-z]+)?|1040|k-1|tax return|bank statement|pay stub|invoice|receipt)\b`)
	namePattern     = regexp.MustCompile(`\b([A-Z][a-z]+) ([A-Z][a-z]+)\b`)
	sentencePattern = regexp.MustCompile(`^(.+?[.!?])(\s|$)`)
)

// nameStopWords are capitalized words that start sentences rather than names.
var nameStopWords = map[string]bool{
	"Hello": true, "Hi": true, "Thanks": true, "Thank": true, "Dear": true,
	"The": true, "This": true, "Please": true, "Good": true, "Yes": true, "No": true,
}

// RuleBased is a deterministic keyword and regex classifier. It never fails.
type RuleBased struct{}

// NewRuleBased creates the rule-based classifier.
func NewRuleBased() *RuleBased {
	return &RuleBased{}
}

// ModelName returns the rule set identifier
func (r *RuleBased) ModelName() string {
	return RuleModelName
}

// Classify scores category keyword tables against the event text.
func (r *RuleBased) Classify(_ context.Context, event types.Event) (*types.ClassificationResult, error) {
	return r.classify(event), nil
}

func (r *RuleBased) classify(event types.Event) *types.ClassificationResult {
	text := event.Text()

	rule, keywords := bestRule(text)
	category := CategoryGeneral
	if rule != nil {
		category = rule.name
	} else if event.Category != "" {
		category = normalizeCategory(event.Category)
	}

	urgency := types.PriorityMedium
	switch {
	case urgentPattern.MatchString(text):
		urgency = types.PriorityUrgent
	case highPattern.MatchString(text):
		urgency = types.PriorityHigh
	case rule != nil && rule.priority != "":
		urgency = rule.priority
	}

	entities := extractEntities(text, event.DisplayName())
	for _, doc := range entities.DocumentTypes {
		keywords = appendUnique(keywords, strings.ToLower(doc))
	}

	summary := ""
	if event.Call != nil {
		summary = event.Call.Summary
	}
	if summary == "" {
		summary = firstSentence(text)
	}

	return &types.ClassificationResult{
		Category:         category,
		Sentiment:        sentiment(text),
		Urgency:          urgency,
		BusinessRelevant: strings.TrimSpace(text) != "",
		PriorityScore:    priorityScore(urgency),
		Summary:          summary,
		KeyPoints:        keyPoints(summary),
		Keywords:         keywords,
		Entities:         entities,
		SuggestedActions: []types.SuggestedAction{suggestedAction(event, rule, category, urgency)},
		Confidence:       RuleConfidence,
		Model:            RuleModelName,
		Fallback:         true,
	}
}

// bestRule returns the rule with the most keyword hits and the distinct
// keywords it matched. Nil when nothing matched.
func bestRule(text string) (*categoryRule, []string) {
	var best *categoryRule
	var bestHits []string
	for i := range categoryRules {
		rule := &categoryRules[i]
		matches := rule.keywords.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		if best == nil || len(matches) > len(bestHits) {
			best = rule
			bestHits = matches
		}
	}

	var keywords []string
	for _, m := range bestHits {
		keywords = appendUnique(keywords, strings.ToLower(m))
	}
	sort.Strings(keywords)
	return best, keywords
}

func suggestedAction(event types.Event, rule *categoryRule, category string, urgency types.Priority) types.SuggestedAction {
	name := event.DisplayName()
	if name == "" {
		name = "client"
	}

	title := "Follow up on " + types.HumanizeCategory(category) + " with " + name
	switch {
	case rule != nil:
		title = strings.Replace(rule.action, "%s", name, 1)
	case event.Kind == types.EventKindCall:
		title = "Call back " + name
	case event.Kind == types.EventKindEmail:
		title = "Reply to " + name
	}

	return types.SuggestedAction{
		Title:       title,
		Description: firstSentence(event.Text()),
		Priority:    urgency,
		DueInDays:   dueInDays(urgency),
		Confidence:  RuleConfidence,
	}
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

func sentiment(text string) string {
	neg := len(negativePattern.FindAllString(text, -1))
	pos := len(positivePattern.FindAllString(text, -1))
	switch {
	case neg > pos:
		return "negative"
	case pos > neg:
		return "positive"
	}
	return "neutral"
}

func extractEntities(text, displayName string) types.Entities {
	e := types.Entities{
		Dates:         uniqueMatches(datePattern, text),
		Amounts:       uniqueMatches(amountPattern, text),
		DocumentTypes: uniqueMatches(docTypePattern, text),
	}

	if looksLikeName(displayName) {
		e.Names = appendUnique(e.Names, displayName)
	}
	for _, m := range namePattern.FindAllStringSubmatch(text, -1) {
		if nameStopWords[m[1]] || nameStopWords[m[2]] {
			continue
		}
		e.Names = appendUnique(e.Names, m[0])
	}
	return e
}

// looksLikeName reports whether s is a person's name rather than a phone number or address.
func looksLikeName(s string) bool {
	if s == "" || strings.Contains(s, "@") {
		return false
	}
	for _, r := range s {
		if unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func uniqueMatches(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllString(text, -1) {
		out = appendUnique(out, strings.TrimSpace(m))
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list
		}
	}
	return append(list, v)
}

func firstSentence(text string) string {
	text = strings.TrimSpace(strings.Join(strings.Fields(text), " "))
	if m := sentencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if r := []rune(text); len(r) > 200 {
		text = strings.TrimSpace(string(r[:200])) + "..."
	}
	return text
}

func keyPoints(summary string) []string {
	if summary == "" {
		return nil
	}
	return []string{summary}
}
