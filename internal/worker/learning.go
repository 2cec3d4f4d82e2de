package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/triage/internal/learning"
	"github.com/hyperengineering/triage/internal/metrics"
	"github.com/hyperengineering/triage/internal/types"
)

// Learning outcomes reported to metrics.
const (
	OutcomeLearned = "learned"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
)

// FeedbackQueue defines the store operations needed by the learning worker.
type FeedbackQueue interface {
	GetPendingFeedback(ctx context.Context, limit int) ([]types.Feedback, error)
	MarkFeedbackLearned(ctx context.Context, id string, at time.Time) error
	IncrementFeedbackAttempts(ctx context.Context, id string) (int, error)
	MarkFeedbackFailed(ctx context.Context, id string) error
}

// Learner updates patterns from one feedback record.
type Learner interface {
	Learn(ctx context.Context, f types.Feedback) (learning.Result, error)
}

// LearningWorker drains pending feedback into the pattern learner. Failed
// records are retried with exponential backoff and marked failed once
// maxAttempts is reached.
type LearningWorker struct {
	queue       FeedbackQueue
	learner     Learner
	metrics     *metrics.Metrics
	interval    time.Duration
	batchSize   int
	maxAttempts int
	backoffBase time.Duration
	notify      chan struct{}
	nextAttempt map[string]time.Time // backoff deadline per feedback ID
	now         func() time.Time
}

// NewLearningWorker creates a new learning worker.
func NewLearningWorker(
	q FeedbackQueue,
	l Learner,
	m *metrics.Metrics,
	interval time.Duration,
	batchSize int,
	maxAttempts int,
	backoffBase time.Duration,
) *LearningWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &LearningWorker{
		queue:       q,
		learner:     l,
		metrics:     m,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		notify:      make(chan struct{}, 1),
		nextAttempt: make(map[string]time.Time),
		now:         time.Now,
	}
}

// Notify wakes the worker for an immediate pass. It never blocks.
func (w *LearningWorker) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *LearningWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "pattern-learning",
		"interval", w.interval.String(),
		"batch_size", w.batchSize,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Process immediately on start, then on each tick or notification
	w.ProcessPending(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "pattern-learning",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.ProcessPending(ctx)
		case <-w.notify:
			w.ProcessPending(ctx)
		}
	}
}

// ProcessPending runs one pass over the pending feedback queue and returns
// the number of records learned.
func (w *LearningWorker) ProcessPending(ctx context.Context) int {
	entries, err := w.queue.GetPendingFeedback(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("failed to get pending feedback",
				"error", err,
				"component", "worker",
			)
		}
		return 0
	}

	now := w.now()
	var learned int
	for _, f := range entries {
		if ctx.Err() != nil {
			return learned
		}
		if next, ok := w.nextAttempt[f.ID]; ok && now.Before(next) {
			continue
		}
		if w.process(ctx, f) {
			learned++
		}
	}

	if learned > 0 {
		slog.Info("processed pending feedback",
			"action", "learn",
			"count", learned,
			"component", "worker",
		)
	}
	return learned
}

func (w *LearningWorker) process(ctx context.Context, f types.Feedback) bool {
	result, err := w.learner.Learn(ctx, f)
	if err == nil {
		if err := w.queue.MarkFeedbackLearned(ctx, f.ID, w.now().UTC()); err != nil {
			slog.Error("failed to mark feedback learned",
				"feedback_id", f.ID,
				"error", err,
				"component", "worker",
			)
			return false
		}
		delete(w.nextAttempt, f.ID)
		w.metrics.FeedbackLearned(OutcomeLearned)
		slog.Debug("feedback learned",
			"feedback_id", f.ID,
			"created", result.Created,
			"updated", result.Updated,
			"component", "worker",
		)
		return true
	}

	attempts, incErr := w.queue.IncrementFeedbackAttempts(ctx, f.ID)
	if incErr != nil {
		slog.Error("failed to record learning attempt",
			"feedback_id", f.ID,
			"error", incErr,
			"component", "worker",
		)
		return false
	}

	if attempts >= w.maxAttempts {
		w.markAsFailed(ctx, f.ID, attempts, err)
		return false
	}

	backoff := w.backoff(attempts)
	w.nextAttempt[f.ID] = w.now().Add(backoff)
	w.metrics.FeedbackLearned(OutcomeRetry)
	slog.Warn("learning failed, will retry",
		"feedback_id", f.ID,
		"attempts", attempts,
		"retry_in", backoff.String(),
		"error", err,
		"component", "worker",
	)
	return false
}

// backoff returns base * 2^(attempts-1).
func (w *LearningWorker) backoff(attempts int) time.Duration {
	if w.backoffBase <= 0 || attempts <= 0 {
		return 0
	}
	d := w.backoffBase
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	return d
}

func (w *LearningWorker) markAsFailed(ctx context.Context, id string, attempts int, cause error) {
	delete(w.nextAttempt, id)

	if err := w.queue.MarkFeedbackFailed(ctx, id); err != nil {
		slog.Error("failed to mark feedback as failed",
			"feedback_id", id,
			"error", err,
			"component", "worker",
		)
		return
	}

	w.metrics.FeedbackLearned(OutcomeFailed)
	slog.Error("learning permanently failed",
		"action", "learn",
		"feedback_id", id,
		"attempts", attempts,
		"error", cause,
		"component", "worker",
	)
}
