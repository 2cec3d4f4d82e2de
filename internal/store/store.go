package store

import (
	"context"
	"time"

	"github.com/hyperengineering/triage/internal/types"
)

// ScoreFunc recomputes a pattern's acceptance rate and confidence from its
// feedback counters. A nil rate means no feedback has been recorded.
type ScoreFunc func(accepted, rejected int) (rate *float64, confidence float64)

// PatternStatsUpdate describes one learning step applied to an existing pattern.
type PatternStatsUpdate struct {
	AcceptedDelta int
	RejectedDelta int
	FeedbackID    string
	HistoryLimit  int
	Score         ScoreFunc
}

// Store defines the interface contract for all persisted suggestion-engine state.
type Store interface {
	// Suggestions
	CreateSuggestions(ctx context.Context, suggestions []types.Suggestion) ([]string, error)
	GetSuggestion(ctx context.Context, id string) (*types.Suggestion, error)
	ListSuggestions(ctx context.Context, filter types.SuggestionFilter) ([]types.Suggestion, error)
	CountSuggestionsByStatus(ctx context.Context) (map[types.SuggestionStatus]int64, error)
	ApproveSuggestion(ctx context.Context, id string, task types.Task, actor string, at time.Time) (*types.Task, error)
	DeclineSuggestion(ctx context.Context, id string, category types.DeclineCategory, reason, actor string, at time.Time) (*types.Suggestion, error)
	ExpireSuggestions(ctx context.Context, now time.Time) (int64, error)

	// Tasks
	GetTask(ctx context.Context, id string) (*types.Task, error)
	UpdateTaskAssignee(ctx context.Context, id, assignee string, at time.Time) (previous string, task *types.Task, err error)

	// Patterns
	ListPatterns(ctx context.Context, filter types.PatternFilter) ([]types.Pattern, error)
	GetPattern(ctx context.Context, id string) (*types.Pattern, error)
	FindPattern(ctx context.Context, patternType types.PatternType, matchKey string) (*types.Pattern, error)
	CreatePattern(ctx context.Context, p *types.Pattern) error
	UpdatePatternStats(ctx context.Context, id string, update PatternStatsUpdate) (*types.Pattern, error)
	RecordPatternHits(ctx context.Context, ids []string, at time.Time) error
	SetPatternActive(ctx context.Context, id string, active bool) (*types.Pattern, error)

	// Feedback
	CreateFeedback(ctx context.Context, f *types.Feedback) error
	GetFeedback(ctx context.Context, id string) (*types.Feedback, error)
	GetPendingFeedback(ctx context.Context, limit int) ([]types.Feedback, error)
	MarkFeedbackLearned(ctx context.Context, id string, at time.Time) error
	IncrementFeedbackAttempts(ctx context.Context, id string) (int, error)
	MarkFeedbackFailed(ctx context.Context, id string) error

	// Intake audit log and source records
	CreateIntakeRecord(ctx context.Context, r *types.IntakeRecord) error
	UpdateIntakeState(ctx context.Context, id string, state types.IntakeState, sourceRecordID, errMsg string) error
	ListIntakeRecords(ctx context.Context, idempotencyKey string) ([]types.IntakeRecord, error)
	CreateSourceRecord(ctx context.Context, r *types.SourceRecord) error
	UpdateSourceClassification(ctx context.Context, id string, result types.ClassificationResult, summary string) error
	GetSourceRecord(ctx context.Context, id string) (*types.SourceRecord, error)

	// Clients
	CreateClient(ctx context.Context, c *types.Client) error
	FindClientsByPhoneSuffix(ctx context.Context, digits string) ([]types.Client, error)
	FindClientsByName(ctx context.Context, first, last string) ([]types.Client, error)

	// Domain event log
	AppendEvent(ctx context.Context, e *types.DomainEvent) (int64, error)
	ListEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]types.DomainEvent, error)

	// Shared idempotency keys
	ClaimIdempotencyKey(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
	CleanExpiredIdempotency(ctx context.Context, now time.Time) (int64, error)

	GetStats(ctx context.Context) (*types.StoreStats, error)
	Close() error
}
