package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/triage/internal/types"
	"github.com/oklog/ulid/v2"
)

const feedbackColumns = `
	id, feedback_type, suggestion_id, task_id, user_action, category, keywords, client_id,
	caller_identifier, suggested_assignee, suggested_priority, suggested_category,
	confirmed_assignee, confirmed_priority, confirmed_category, was_ai_correct,
	correction_type, correction_reason, actor_id, created_at, learned_at,
	learn_attempts, learn_failed`

func scanFeedback(scanner interface{ Scan(...any) error }) (*types.Feedback, error) {
	var f types.Feedback
	var keywordsJSON, createdAt string
	var learnedAt sql.NullString
	var wasCorrect, failed int

	err := scanner.Scan(
		&f.ID,
		&f.Type,
		&f.SuggestionID,
		&f.TaskID,
		&f.Action,
		&f.Category,
		&keywordsJSON,
		&f.ClientID,
		&f.CallerIdentifier,
		&f.SuggestedAssignee,
		&f.SuggestedPriority,
		&f.SuggestedCategory,
		&f.ConfirmedAssignee,
		&f.ConfirmedPriority,
		&f.ConfirmedCategory,
		&wasCorrect,
		&f.CorrectionType,
		&f.CorrectionReason,
		&f.ActorID,
		&createdAt,
		&learnedAt,
		&f.LearnAttempts,
		&failed,
	)
	if err != nil {
		return nil, err
	}

	if f.Keywords, err = unmarshalList("keywords", keywordsJSON); err != nil {
		return nil, err
	}
	f.WasAICorrect = wasCorrect == 1
	f.LearnFailed = failed == 1
	f.CreatedAt = parseTime("created_at", createdAt)
	f.LearnedAt = parseNullTime("learned_at", learnedAt)
	return &f, nil
}

// CreateFeedback appends an immutable feedback record. The row starts in the
// learning queue (learned_at NULL, zero attempts).
func (s *SQLStore) CreateFeedback(ctx context.Context, f *types.Feedback) error {
	if f.ID == "" {
		f.ID = ulid.Make().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.LearnedAt = nil
	f.LearnAttempts = 0
	f.LearnFailed = false

	keywordsJSON, err := marshalList(f.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	_, err = s.exec(ctx, s.db, `
		INSERT INTO feedback (
			id, feedback_type, suggestion_id, task_id, user_action, category, keywords, client_id,
			caller_identifier, suggested_assignee, suggested_priority, suggested_category,
			confirmed_assignee, confirmed_priority, confirmed_category, was_ai_correct,
			correction_type, correction_reason, actor_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID, f.Type, f.SuggestionID, f.TaskID, f.Action, f.Category, keywordsJSON, f.ClientID,
		f.CallerIdentifier, f.SuggestedAssignee, f.SuggestedPriority, f.SuggestedCategory,
		f.ConfirmedAssignee, f.ConfirmedPriority, f.ConfirmedCategory, boolInt(f.WasAICorrect),
		f.CorrectionType, f.CorrectionReason, f.ActorID, formatTime(f.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// GetFeedback retrieves a feedback record by ID.
func (s *SQLStore) GetFeedback(ctx context.Context, id string) (*types.Feedback, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+feedbackColumns+` FROM feedback WHERE id = ?`, id)
	f, err := scanFeedback(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan feedback: %w", err)
	}
	return f, nil
}

// GetPendingFeedback returns feedback not yet learned from and not marked
// failed, oldest first.
func (s *SQLStore) GetPendingFeedback(ctx context.Context, limit int) ([]types.Feedback, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT `+feedbackColumns+`
		FROM feedback
		WHERE learned_at IS NULL AND learn_failed = 0
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending feedback: %w", err)
	}
	defer rows.Close()

	var entries []types.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		entries = append(entries, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return entries, nil
}

// MarkFeedbackLearned removes a feedback record from the learning queue.
func (s *SQLStore) MarkFeedbackLearned(ctx context.Context, id string, at time.Time) error {
	return s.updateFeedbackQueue(ctx, `UPDATE feedback SET learned_at = ? WHERE id = ?`, formatTime(at), id)
}

// IncrementFeedbackAttempts records a failed learning attempt and returns
// the new attempt count.
func (s *SQLStore) IncrementFeedbackAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.queryRow(ctx, s.db, `
		UPDATE feedback SET learn_attempts = learn_attempts + 1
		WHERE id = ?
		RETURNING learn_attempts
	`, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment learn attempts: %w", err)
	}
	return attempts, nil
}

// MarkFeedbackFailed removes a feedback record from the learning queue after
// retries are exhausted.
func (s *SQLStore) MarkFeedbackFailed(ctx context.Context, id string) error {
	return s.updateFeedbackQueue(ctx, `UPDATE feedback SET learn_failed = 1 WHERE id = ?`, id)
}

func (s *SQLStore) updateFeedbackQueue(ctx context.Context, query string, args ...any) error {
	result, err := s.exec(ctx, s.db, query, args...)
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
