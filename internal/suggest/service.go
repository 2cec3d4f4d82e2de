package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/triage/internal/events"
	"github.com/hyperengineering/triage/internal/metrics"
	"github.com/hyperengineering/triage/internal/store"
	"github.com/hyperengineering/triage/internal/types"
)

var (
	// ErrInvalidDeclineCategory is returned when a decline names no known category.
	ErrInvalidDeclineCategory = errors.New("invalid decline category")
	// ErrInvalidOverride is returned when approval overrides carry invalid values.
	ErrInvalidOverride = errors.New("invalid override")
	// ErrInvalidSuggestionTransition is returned to the losing side of a
	// concurrent resolution and to resolutions of non-pending suggestions.
	ErrInvalidSuggestionTransition = store.ErrAlreadyResolved
)

// Store defines the store operations needed by the lifecycle service.
type Store interface {
	CreateSuggestions(ctx context.Context, suggestions []types.Suggestion) ([]string, error)
	GetSuggestion(ctx context.Context, id string) (*types.Suggestion, error)
	ListSuggestions(ctx context.Context, filter types.SuggestionFilter) ([]types.Suggestion, error)
	CountSuggestionsByStatus(ctx context.Context) (map[types.SuggestionStatus]int64, error)
	ApproveSuggestion(ctx context.Context, id string, task types.Task, actor string, at time.Time) (*types.Task, error)
	DeclineSuggestion(ctx context.Context, id string, category types.DeclineCategory, reason, actor string, at time.Time) (*types.Suggestion, error)
	ExpireSuggestions(ctx context.Context, now time.Time) (int64, error)
	UpdateTaskAssignee(ctx context.Context, id, assignee string, at time.Time) (string, *types.Task, error)
}

// FeedbackRecorder persists review decisions for learning.
type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, f *types.Feedback) (string, error)
	RecordTaskReassignment(ctx context.Context, taskID, from, to, actor string) (string, error)
}

// ApproveResult is the outcome of an approval.
type ApproveResult struct {
	Task           *types.Task `json:"task"`
	WasModified    bool        `json:"was_modified"`
	CorrectionType string      `json:"correction_type,omitempty"`
	FeedbackID     string      `json:"feedback_id,omitempty"`
}

// PendingList is a page of suggestions with counts for every status.
type PendingList struct {
	Suggestions []types.Suggestion               `json:"suggestions"`
	Counts      map[types.SuggestionStatus]int64 `json:"counts"`
}

// ReassignResult is the outcome of a task reassignment.
type ReassignResult struct {
	Task             *types.Task `json:"task"`
	PreviousAssignee string      `json:"previous_assignee"`
	FeedbackID       string      `json:"feedback_id,omitempty"`
}

// Service owns the suggestion lifecycle: creation, approval into tasks,
// decline, expiry and task reassignment.
type Service struct {
	store     Store
	recorder  FeedbackRecorder
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates the lifecycle service. A nil publisher discards events.
func NewService(s Store, recorder FeedbackRecorder, publisher events.Publisher, m *metrics.Metrics) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:     s,
		recorder:  recorder,
		publisher: publisher,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default().With("component", "suggestions"),
	}
}

// Create persists suggestions as pending and returns the ids of those
// inserted. Suggestions already pending for the same source and title key
// are skipped.
func (s *Service) Create(ctx context.Context, suggestions []types.Suggestion) ([]string, error) {
	ids, err := s.store.CreateSuggestions(ctx, suggestions)
	if err != nil {
		return nil, fmt.Errorf("create suggestions: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	inserted := make(map[string]bool, len(ids))
	for _, id := range ids {
		inserted[id] = true
	}
	byOrigin := make(map[types.SuggestionOrigin]int)
	for _, sg := range suggestions {
		if inserted[sg.ID] {
			byOrigin[sg.Origin]++
		}
	}
	for origin, n := range byOrigin {
		s.metrics.SuggestionsGenerated(string(origin), n)
	}

	s.publish(ctx, types.EventSuggestionsCreated, suggestions[0].SourceID, map[string]any{
		"suggestion_ids": ids,
		"source_kind":    suggestions[0].SourceKind,
	})
	return ids, nil
}

// Get returns one suggestion.
func (s *Service) Get(ctx context.Context, id string) (*types.Suggestion, error) {
	return s.store.GetSuggestion(ctx, id)
}

// ListPending returns suggestions matching filter, pending ones by default,
// together with counts for every status.
func (s *Service) ListPending(ctx context.Context, filter types.SuggestionFilter) (*PendingList, error) {
	if filter.Status == "" {
		filter.Status = types.SuggestionPending
	}
	suggestions, err := s.store.ListSuggestions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	counts, err := s.store.CountSuggestionsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count suggestions: %w", err)
	}
	if suggestions == nil {
		suggestions = []types.Suggestion{}
	}
	return &PendingList{Suggestions: suggestions, Counts: counts}, nil
}

// Approve materializes a task from a pending suggestion with optional human
// corrections and records feedback on whether the suggestion was right.
// Feedback and event failures are logged; the task is already committed.
func (s *Service) Approve(ctx context.Context, id string, overrides *types.SuggestionOverrides, actor string) (*ApproveResult, error) {
	sg, err := s.store.GetSuggestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if sg.Status != types.SuggestionPending {
		return nil, fmt.Errorf("%w: suggestion %s is %s", ErrInvalidSuggestionTransition, id, sg.Status)
	}
	if !sg.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: suggestion %s expired at %s", ErrInvalidSuggestionTransition, id, sg.ExpiresAt.Format(time.RFC3339))
	}
	if err := validateOverrides(overrides); err != nil {
		return nil, err
	}

	task := taskFrom(*sg, overrides)
	wasModified, correction := Compare(*sg, task)

	created, err := s.store.ApproveSuggestion(ctx, id, task, actor, s.now())
	if err != nil {
		return nil, err
	}
	s.metrics.SuggestionResolved(string(types.SuggestionApproved))

	action := types.ActionApproved
	if wasModified {
		action = types.ActionModified
	}
	feedbackID := s.recordFeedback(ctx, &types.Feedback{
		Type:              types.FeedbackSuggestionReview,
		SuggestionID:      sg.ID,
		TaskID:            created.ID,
		Action:            action,
		Category:          sg.Category,
		Keywords:          sg.Keywords,
		ClientID:          created.ClientID,
		CallerIdentifier:  sg.CallerIdentifier,
		SuggestedAssignee: sg.AssigneeID,
		SuggestedPriority: sg.Priority,
		SuggestedCategory: sg.Category,
		ConfirmedAssignee: created.AssigneeID,
		ConfirmedPriority: created.Priority,
		ConfirmedCategory: created.Category,
		WasAICorrect:      !wasModified,
		CorrectionType:    correction,
		ActorID:           actor,
	})

	s.publish(ctx, types.EventSuggestionApproved, sg.ID, map[string]any{
		"task_id":      created.ID,
		"was_modified": wasModified,
		"actor":        actor,
	})

	s.logger.Info("suggestion approved",
		"suggestion_id", sg.ID,
		"task_id", created.ID,
		"was_modified", wasModified,
		"correction_type", correction,
	)

	return &ApproveResult{
		Task:           created,
		WasModified:    wasModified,
		CorrectionType: correction,
		FeedbackID:     feedbackID,
	}, nil
}

// Decline resolves a pending suggestion as declined. category must be one of
// types.DeclineCategories; reason is optional free text.
func (s *Service) Decline(ctx context.Context, id string, category types.DeclineCategory, reason, actor string) (*types.Suggestion, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDeclineCategory, category)
	}

	sg, err := s.store.DeclineSuggestion(ctx, id, category, strings.TrimSpace(reason), actor, s.now())
	if err != nil {
		return nil, err
	}
	s.metrics.SuggestionResolved(string(types.SuggestionDeclined))

	s.recordFeedback(ctx, &types.Feedback{
		Type:              types.FeedbackSuggestionReview,
		SuggestionID:      sg.ID,
		Action:            types.ActionDeclined,
		Category:          sg.Category,
		Keywords:          sg.Keywords,
		ClientID:          sg.ClientID,
		CallerIdentifier:  sg.CallerIdentifier,
		SuggestedAssignee: sg.AssigneeID,
		SuggestedPriority: sg.Priority,
		SuggestedCategory: sg.Category,
		WasAICorrect:      false,
		CorrectionType:    DeclineCorrectionType(category),
		CorrectionReason:  sg.DeclineReason,
		ActorID:           actor,
	})

	s.publish(ctx, types.EventSuggestionDeclined, sg.ID, map[string]any{
		"category": category,
		"actor":    actor,
	})
	return sg, nil
}

// Expire moves every pending suggestion past its expiry to expired.
func (s *Service) Expire(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireSuggestions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire suggestions: %w", err)
	}
	if n > 0 {
		s.metrics.SuggestionsExpired(n)
		s.publish(ctx, types.EventSuggestionsExpired, "", map[string]int64{"count": n})
	}
	return n, nil
}

// ReassignTask changes a task's assignee. When the task came from a
// suggestion the change is recorded as assignee-correction feedback.
func (s *Service) ReassignTask(ctx context.Context, taskID, assignee, actor string) (*ReassignResult, error) {
	previous, task, err := s.store.UpdateTaskAssignee(ctx, taskID, assignee, s.now())
	if err != nil {
		return nil, err
	}

	result := &ReassignResult{Task: task, PreviousAssignee: previous}
	if previous == assignee {
		return result, nil
	}

	if s.recorder != nil {
		id, err := s.recorder.RecordTaskReassignment(ctx, taskID, previous, assignee, actor)
		if err != nil {
			s.logger.Error("failed to record reassignment feedback",
				"task_id", taskID,
				"error", err,
			)
		}
		result.FeedbackID = id
	}

	s.publish(ctx, types.EventTaskReassigned, taskID, map[string]string{
		"from":  previous,
		"to":    assignee,
		"actor": actor,
	})
	return result, nil
}

func (s *Service) recordFeedback(ctx context.Context, f *types.Feedback) string {
	if s.recorder == nil {
		return ""
	}
	id, err := s.recorder.RecordFeedback(ctx, f)
	if err != nil {
		s.logger.Error("failed to record feedback",
			"suggestion_id", f.SuggestionID,
			"action", f.Action,
			"error", err,
		)
		return ""
	}
	return id
}

func (s *Service) publish(ctx context.Context, eventType, entityID string, payload any) {
	e, err := events.New(eventType, entityID, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, e)
	}
	if err != nil {
		s.logger.Warn("failed to publish event",
			"event_type", eventType,
			"entity_id", entityID,
			"error", err,
		)
	}
}

func validateOverrides(o *types.SuggestionOverrides) error {
	if o == nil {
		return nil
	}
	if o.Priority != nil && !o.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", ErrInvalidOverride, *o.Priority)
	}
	if o.Title != nil && strings.TrimSpace(*o.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidOverride)
	}
	return nil
}

func taskFrom(sg types.Suggestion, o *types.SuggestionOverrides) types.Task {
	t := types.Task{
		SourceKind:       sg.SourceKind,
		SourceID:         sg.SourceID,
		Title:            sg.Title,
		Description:      sg.Description,
		Priority:         sg.Priority,
		DueDate:          sg.DueDate,
		AssigneeID:       sg.AssigneeID,
		ClientID:         sg.ClientID,
		Category:         sg.Category,
		CallerIdentifier: sg.CallerIdentifier,
	}
	if o == nil {
		return t
	}
	if o.Title != nil {
		t.Title = strings.TrimSpace(*o.Title)
	}
	if o.Description != nil {
		t.Description = *o.Description
	}
	if o.Priority != nil {
		t.Priority = *o.Priority
	}
	if o.AssigneeID != nil {
		t.AssigneeID = strings.TrimSpace(*o.AssigneeID)
	}
	if o.ClientID != nil {
		t.ClientID = strings.TrimSpace(*o.ClientID)
	}
	if o.DueDate != nil {
		due := o.DueDate.UTC()
		t.DueDate = &due
	}
	return t
}

// Compare reports whether task differs from the suggestion it came from and
// names the most significant correction: assignee, then client, priority,
// due date and finally content.
func Compare(sg types.Suggestion, task types.Task) (bool, string) {
	switch {
	case task.AssigneeID != sg.AssigneeID:
		return true, types.CorrectionAssignee
	case task.ClientID != sg.ClientID:
		return true, types.CorrectionClient
	case task.Priority != sg.Priority:
		return true, types.CorrectionPriority
	case !sameTime(task.DueDate, sg.DueDate):
		return true, types.CorrectionDueDate
	case task.Title != sg.Title || task.Description != sg.Description:
		return true, types.CorrectionContent
	}
	return false, ""
}

// DeclineCorrectionType maps a decline category to the feedback correction type.
func DeclineCorrectionType(c types.DeclineCategory) string {
	switch c {
	case types.DeclineNotNeeded:
		return types.CorrectionNotNeeded
	case types.DeclineDuplicate:
		return types.CorrectionDuplicate
	case types.DeclineWrongType:
		return types.CorrectionType
	case types.DeclineWrongAssignee:
		return types.CorrectionAssignee
	case types.DeclineWrongClient:
		return types.CorrectionClient
	default:
		return types.CorrectionOther
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
