package pattern

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/triage/internal/metrics"
	"github.com/hyperengineering/triage/internal/types"
)

// Default matching thresholds.
const (
	DefaultHitThreshold  = 0.5
	DefaultMinConfidence = 0.3
)

// Store defines the store operations needed by the matcher.
type Store interface {
	ListPatterns(ctx context.Context, filter types.PatternFilter) ([]types.Pattern, error)
	RecordPatternHits(ctx context.Context, ids []string, at time.Time) error
}

// Hit is a pattern whose score against an event exceeded the hit threshold.
type Hit struct {
	Pattern types.Pattern
	Score   float64
}

// Matcher scores events against the active pattern set.
type Matcher struct {
	store         Store
	hitThreshold  float64
	minConfidence float64
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewMatcher creates a matcher. Non-positive thresholds take the defaults.
func NewMatcher(store Store, hitThreshold, minConfidence float64, m *metrics.Metrics) *Matcher {
	if hitThreshold <= 0 {
		hitThreshold = DefaultHitThreshold
	}
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Matcher{
		store:         store,
		hitThreshold:  hitThreshold,
		minConfidence: minConfidence,
		metrics:       m,
		logger:        slog.Default().With("component", "matcher"),
	}
}

// Match loads eligible patterns, scores them against event and records a hit
// on every pattern that crossed the threshold. Hits are returned even when
// recording them fails; the counters are advisory.
func (m *Matcher) Match(ctx context.Context, event types.Event) ([]Hit, error) {
	patterns, err := m.store.ListPatterns(ctx, types.PatternFilter{
		ActiveOnly:    true,
		MinConfidence: m.minConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}

	hits := MatchPatterns(event, patterns, m.minConfidence, m.hitThreshold)
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Pattern.ID
	}
	if err := m.store.RecordPatternHits(ctx, ids, time.Now().UTC()); err != nil {
		m.logger.Warn("failed to record pattern hits",
			"patterns", len(ids),
			"error", err,
		)
	}
	m.metrics.PatternHits(len(hits))
	return hits, nil
}

// MatchPatterns returns the hits among patterns, highest score first.
// Inactive patterns and patterns below minConfidence are skipped.
func MatchPatterns(event types.Event, patterns []types.Pattern, minConfidence, hitThreshold float64) []Hit {
	text := strings.ToLower(event.Text())

	var hits []Hit
	for _, p := range patterns {
		if !p.Active || p.ConfidenceScore < minConfidence {
			continue
		}
		score := scoreText(p, event, text)
		if score > hitThreshold {
			hits = append(hits, Hit{Pattern: p, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	return hits
}

// Score is the mean of the per-criterion match fractions of p's non-empty
// predicates against event. A pattern without predicates scores 0.
func Score(p types.Pattern, event types.Event) float64 {
	return scoreText(p, event, strings.ToLower(event.Text()))
}

func scoreText(p types.Pattern, event types.Event, lowerText string) float64 {
	var sum float64
	var criteria int

	if p.Category != "" {
		criteria++
		if strings.EqualFold(strings.TrimSpace(p.Category), strings.TrimSpace(event.Category)) {
			sum++
		}
	}

	if p.CallerIdentifier != "" {
		criteria++
		caller := event.CallerIdentifier()
		if caller != "" && strings.Contains(caller, p.CallerIdentifier) {
			sum++
		}
	}

	if len(p.Keywords) > 0 {
		criteria++
		found := 0
		for _, kw := range p.Keywords {
			if kw != "" && strings.Contains(lowerText, strings.ToLower(kw)) {
				found++
			}
		}
		sum += float64(found) / float64(len(p.Keywords))
	}

	if p.ClientID != "" {
		criteria++
		if p.ClientID == event.ClientID {
			sum++
		}
	}

	if criteria == 0 {
		return 0
	}
	return sum / float64(criteria)
}
