package learning

import (
	"context"
	"testing"
	"time"

	"github.com/hyperengineering/triage/internal/store"
	"github.com/hyperengineering/triage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) Notify() { n.calls++ }

func TestRecorder_RecordFeedback(t *testing.T) {
	s := newTestStore(t)
	n := &countingNotifier{}
	r := NewRecorder(s, n)
	ctx := context.Background()

	f := &types.Feedback{
		Type:         types.FeedbackSuggestionReview,
		SuggestionID: "sg-1",
		Action:       types.ActionApproved,
		Category:     "billing",
		WasAICorrect: true,
	}
	id, err := r.RecordFeedback(ctx, f)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, n.calls)

	got, err := s.GetFeedback(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ActionApproved, got.Action)
	assert.Nil(t, got.LearnedAt)

	_, err = r.RecordFeedback(ctx, &types.Feedback{Type: types.FeedbackSuggestionReview, Action: types.ActionExpired})
	require.NoError(t, err)
	assert.Equal(t, 1, n.calls, "unlearnable feedback does not wake the queue")
}

func TestRecorder_NilNotifier(t *testing.T) {
	r := NewRecorder(newTestStore(t), nil)
	_, err := r.RecordFeedback(context.Background(), &types.Feedback{Type: types.FeedbackSuggestionReview, Action: types.ActionDeclined})
	assert.NoError(t, err)
}

func TestRecorder_RecordTaskReassignment(t *testing.T) {
	s := newTestStore(t)
	n := &countingNotifier{}
	r := NewRecorder(s, n)
	ctx := context.Background()
	now := time.Now().UTC()

	ids, err := s.CreateSuggestions(ctx, []types.Suggestion{{
		SourceKind:       types.EventKindCall,
		SourceID:         "src-1",
		Title:            "Call back Jane Doe about tax question",
		TitleKey:         "back call jane question",
		Priority:         types.PriorityHigh,
		AssigneeID:       "alice",
		ClientID:         "client-1",
		CallerIdentifier: "+15551234567",
		Confidence:       0.6,
		Category:         "tax_question",
		Keywords:         []string{"refund"},
		Origin:           types.OriginClassifier,
		ExpiresAt:        now.Add(time.Hour),
	}})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	task, err := s.ApproveSuggestion(ctx, ids[0], types.Task{
		Title:            "Call back Jane Doe about tax question",
		Priority:         types.PriorityHigh,
		AssigneeID:       "alice",
		ClientID:         "client-1",
		Category:         "tax_question",
		CallerIdentifier: "+15551234567",
	}, "reviewer", now)
	require.NoError(t, err)

	_, _, err = s.UpdateTaskAssignee(ctx, task.ID, "bob", now)
	require.NoError(t, err)

	id, err := r.RecordTaskReassignment(ctx, task.ID, "alice", "bob", "manager")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, n.calls)

	f, err := s.GetFeedback(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.FeedbackTaskReassigned, f.Type)
	assert.Equal(t, types.ActionReassigned, f.Action)
	assert.Equal(t, ids[0], f.SuggestionID)
	assert.Equal(t, task.ID, f.TaskID)
	assert.Equal(t, "alice", f.SuggestedAssignee)
	assert.Equal(t, "bob", f.ConfirmedAssignee)
	assert.False(t, f.WasAICorrect)
	assert.Equal(t, types.CorrectionAssignee, f.CorrectionType)
	assert.Equal(t, "tax_question", f.Category)
	assert.Equal(t, []string{"refund"}, f.Keywords)
	assert.Equal(t, "manager", f.ActorID)
}

type taskOnlyStore struct {
	task *types.Task
}

func (m *taskOnlyStore) CreateFeedback(ctx context.Context, f *types.Feedback) error {
	panic("unexpected feedback write")
}

func (m *taskOnlyStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	if m.task == nil {
		return nil, store.ErrNotFound
	}
	return m.task, nil
}

func (m *taskOnlyStore) GetSuggestion(ctx context.Context, id string) (*types.Suggestion, error) {
	return nil, store.ErrNotFound
}

func TestRecorder_ReassignmentWithoutSuggestion(t *testing.T) {
	r := NewRecorder(&taskOnlyStore{task: &types.Task{ID: "task-1"}}, nil)

	id, err := r.RecordTaskReassignment(context.Background(), "task-1", "alice", "bob", "manager")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestRecorder_ReassignmentUnknownTask(t *testing.T) {
	r := NewRecorder(&taskOnlyStore{}, nil)

	_, err := r.RecordTaskReassignment(context.Background(), "missing", "alice", "bob", "manager")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
