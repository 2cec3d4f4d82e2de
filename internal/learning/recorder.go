package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/triage/internal/store"
	"github.com/hyperengineering/triage/internal/types"
)

// RecorderStore defines the store operations needed by the recorder.
type RecorderStore interface {
	CreateFeedback(ctx context.Context, f *types.Feedback) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	GetSuggestion(ctx context.Context, id string) (*types.Suggestion, error)
}

// Notifier wakes the learning queue. Notify must not block.
type Notifier interface {
	Notify()
}

// Recorder persists feedback and hands it to the learning queue.
type Recorder struct {
	store    RecorderStore
	notifier Notifier
	logger   *slog.Logger
}

// NewRecorder creates a recorder. A nil notifier leaves pending feedback for
// the next scheduled learning pass.
func NewRecorder(s RecorderStore, n Notifier) *Recorder {
	return &Recorder{
		store:    s,
		notifier: n,
		logger:   slog.Default().With("component", "feedback"),
	}
}

// RecordFeedback stores f and queues it for learning. Learning runs
// asynchronously; its failures never reach the caller.
func (r *Recorder) RecordFeedback(ctx context.Context, f *types.Feedback) (string, error) {
	if err := r.store.CreateFeedback(ctx, f); err != nil {
		return "", fmt.Errorf("record feedback: %w", err)
	}

	r.logger.Info("feedback recorded",
		"feedback_id", f.ID,
		"type", f.Type,
		"action", f.Action,
		"suggestion_id", f.SuggestionID,
		"was_ai_correct", f.WasAICorrect,
	)

	if r.notifier != nil && f.Action.Learnable() {
		r.notifier.Notify()
	}
	return f.ID, nil
}

// RecordTaskReassignment records that a task created from a suggestion was
// moved from one assignee to another. Tasks without suggestion provenance
// produce no feedback and return an empty id.
func (r *Recorder) RecordTaskReassignment(ctx context.Context, taskID, from, to, actor string) (string, error) {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("get task %s: %w", taskID, err)
	}
	if task.SuggestionID == "" {
		r.logger.Debug("reassigned task has no suggestion, skipping feedback", "task_id", taskID)
		return "", nil
	}

	f := &types.Feedback{
		Type:              types.FeedbackTaskReassigned,
		SuggestionID:      task.SuggestionID,
		TaskID:            task.ID,
		Action:            types.ActionReassigned,
		Category:          task.Category,
		ClientID:          task.ClientID,
		CallerIdentifier:  task.CallerIdentifier,
		SuggestedAssignee: from,
		SuggestedPriority: task.Priority,
		ConfirmedAssignee: to,
		ConfirmedPriority: task.Priority,
		ConfirmedCategory: task.Category,
		WasAICorrect:      false,
		CorrectionType:    types.CorrectionAssignee,
		ActorID:           actor,
	}

	sg, err := r.store.GetSuggestion(ctx, task.SuggestionID)
	switch {
	case err == nil:
		f.Keywords = sg.Keywords
		f.SuggestedCategory = sg.Category
	case errors.Is(err, store.ErrNotFound):
	default:
		return "", fmt.Errorf("get suggestion %s: %w", task.SuggestionID, err)
	}

	return r.RecordFeedback(ctx, f)
}
