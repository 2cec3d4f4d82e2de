package suggest

import (
	"sort"
	"strings"
	"unicode"

	"github.com/hyperengineering/triage/internal/types"
)

// stopWords are filler tokens that do not distinguish one follow-up from another.
var stopWords = map[string]bool{
	"about": true, "regarding": true, "concerning": true, "with": true, "from": true,
	"that": true, "this": true, "their": true, "there": true, "into": true,
	"please": true, "your": true, "them": true, "they": true, "will": true,
	"have": true, "been": true, "some": true, "just": true, "also": true,
}

// TitleKey normalizes a suggestion title for duplicate detection: lower-cased,
// punctuation stripped, tokens of four or more characters that are not filler
// words, sorted and joined with spaces. A title with no such tokens keys on
// its lower-cased text.
func TitleKey(title string) string {
	lower := strings.ToLower(title)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, lower)

	var tokens []string
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) <= 3 || stopWords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 {
		return strings.Join(strings.Fields(cleaned), " ")
	}
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// Dedupe keeps one suggestion per title key, preferring the higher
// confidence. Ties keep the earlier suggestion. Survivors keep the order in
// which their key first appeared.
func Dedupe(suggestions []types.Suggestion) []types.Suggestion {
	index := make(map[string]int, len(suggestions))
	out := make([]types.Suggestion, 0, len(suggestions))

	for _, sg := range suggestions {
		if sg.TitleKey == "" {
			sg.TitleKey = TitleKey(sg.Title)
		}
		i, seen := index[sg.TitleKey]
		if !seen {
			index[sg.TitleKey] = len(out)
			out = append(out, sg)
			continue
		}
		if sg.Confidence > out[i].Confidence {
			out[i] = sg
		}
	}
	return out
}
