// Package learning records human feedback on suggestions and turns it into
// pattern statistics.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/triage/internal/pattern"
	"github.com/hyperengineering/triage/internal/store"
	"github.com/hyperengineering/triage/internal/types"
)

// DefaultHistoryLimit bounds the feedback ids kept on a pattern.
const DefaultHistoryLimit = 100

// LearnerStore defines the store operations needed by the learner.
type LearnerStore interface {
	GetFeedback(ctx context.Context, id string) (*types.Feedback, error)
	FindPattern(ctx context.Context, patternType types.PatternType, matchKey string) (*types.Pattern, error)
	CreatePattern(ctx context.Context, p *types.Pattern) error
	UpdatePatternStats(ctx context.Context, id string, update store.PatternStatsUpdate) (*types.Pattern, error)
}

// Result summarizes one learning pass over a feedback record.
type Result struct {
	Created int
	Updated int
	Skipped int
}

// Learner applies feedback to the pattern store.
type Learner struct {
	store        LearnerStore
	scorer       pattern.Scorer
	historyLimit int
	logger       *slog.Logger
}

// NewLearner creates a learner. A non-positive historyLimit takes the default.
func NewLearner(s LearnerStore, scorer pattern.Scorer, historyLimit int) *Learner {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Learner{
		store:        s,
		scorer:       scorer,
		historyLimit: historyLimit,
		logger:       slog.Default().With("component", "learner"),
	}
}

// LearnFromFeedback loads a feedback record by id and learns from it.
func (l *Learner) LearnFromFeedback(ctx context.Context, feedbackID string) (Result, error) {
	f, err := l.store.GetFeedback(ctx, feedbackID)
	if err != nil {
		return Result{}, fmt.Errorf("get feedback %s: %w", feedbackID, err)
	}
	return l.Learn(ctx, *f)
}

// Learn applies every pattern candidate of f. Candidates are independent:
// a failure on one does not stop the others, and all failures are returned
// together.
func (l *Learner) Learn(ctx context.Context, f types.Feedback) (Result, error) {
	var result Result
	if !f.Action.Learnable() {
		return result, nil
	}

	var errs []error
	for _, c := range pattern.Candidates(f) {
		outcome, err := l.apply(ctx, f, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", c.Type, c.MatchKey, err))
			continue
		}
		switch outcome {
		case outcomeCreated:
			result.Created++
		case outcomeUpdated:
			result.Updated++
		default:
			result.Skipped++
		}
	}

	l.logger.Debug("feedback learned",
		"feedback_id", f.ID,
		"action", f.Action,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
	)
	return result, errors.Join(errs...)
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeUpdated
)

func (l *Learner) apply(ctx context.Context, f types.Feedback, c pattern.Candidate) (outcome, error) {
	existing, err := l.store.FindPattern(ctx, c.Type, c.MatchKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return outcomeSkipped, err
	}

	if existing == nil {
		if f.Action == types.ActionDeclined {
			return outcomeSkipped, nil
		}
		err := l.store.CreatePattern(ctx, c.NewPattern(f.ID, l.scorer.InitialConfidence))
		if err == nil {
			return outcomeCreated, nil
		}
		if !errors.Is(err, store.ErrDuplicatePattern) {
			return outcomeSkipped, err
		}
		// Lost a creation race; count this feedback against the winner.
		existing, err = l.store.FindPattern(ctx, c.Type, c.MatchKey)
		if err != nil {
			return outcomeSkipped, err
		}
	}

	accepted, rejected := Deltas(f)
	_, err = l.store.UpdatePatternStats(ctx, existing.ID, store.PatternStatsUpdate{
		AcceptedDelta: accepted,
		RejectedDelta: rejected,
		FeedbackID:    f.ID,
		HistoryLimit:  l.historyLimit,
		Score:         l.scorer.Score,
	})
	if errors.Is(err, store.ErrFeedbackApplied) {
		// A retried pass already counted this feedback
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, err
	}
	return outcomeUpdated, nil
}

// Deltas returns the counter increments a feedback record applies to an
// existing pattern. Reassignments and incorrect modifications only extend
// the pattern's history.
func Deltas(f types.Feedback) (accepted, rejected int) {
	switch f.Action {
	case types.ActionApproved:
		return 1, 0
	case types.ActionModified:
		if f.WasAICorrect {
			return 1, 0
		}
	case types.ActionDeclined:
		return 0, 1
	}
	return 0, 0
}
