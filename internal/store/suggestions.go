package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/triage/internal/types"
	"github.com/oklog/ulid/v2"
)

const suggestionColumns = `
	id, source_kind, source_id, title, title_key, description, priority, due_date,
	assignee_id, client_id, caller_identifier, confidence, category, keywords, reasoning,
	origin, pattern_id, status, created_at, expires_at, resolved_at, resolved_by, task_id,
	decline_category, decline_reason`

// scanSuggestion scans a row into a Suggestion, handling JSON and timestamp parsing.
func scanSuggestion(scanner interface{ Scan(...any) error }) (*types.Suggestion, error) {
	var sg types.Suggestion
	var keywordsJSON, createdAt, expiresAt string
	var dueDate, resolvedAt sql.NullString

	err := scanner.Scan(
		&sg.ID,
		&sg.SourceKind,
		&sg.SourceID,
		&sg.Title,
		&sg.TitleKey,
		&sg.Description,
		&sg.Priority,
		&dueDate,
		&sg.AssigneeID,
		&sg.ClientID,
		&sg.CallerIdentifier,
		&sg.Confidence,
		&sg.Category,
		&keywordsJSON,
		&sg.Reasoning,
		&sg.Origin,
		&sg.PatternID,
		&sg.Status,
		&createdAt,
		&expiresAt,
		&resolvedAt,
		&sg.ResolvedBy,
		&sg.TaskID,
		&sg.DeclineCategory,
		&sg.DeclineReason,
	)
	if err != nil {
		return nil, err
	}

	if sg.Keywords, err = unmarshalList("keywords", keywordsJSON); err != nil {
		return nil, err
	}
	sg.DueDate = parseNullTime("due_date", dueDate)
	sg.CreatedAt = parseTime("created_at", createdAt)
	sg.ExpiresAt = parseTime("expires_at", expiresAt)
	sg.ResolvedAt = parseNullTime("resolved_at", resolvedAt)

	return &sg, nil
}

// CreateSuggestions persists suggestions in pending status.
// A suggestion whose (source kind, source id, title key) already has a
// non-expired row is skipped. Returns the ids of the rows actually inserted.
func (s *SQLStore) CreateSuggestions(ctx context.Context, suggestions []types.Suggestion) ([]string, error) {
	ids := make([]string, 0, len(suggestions))
	if len(suggestions) == 0 {
		return ids, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range suggestions {
		sg := &suggestions[i]
		if sg.ID == "" {
			sg.ID = ulid.Make().String()
		}
		if sg.CreatedAt.IsZero() {
			sg.CreatedAt = now
		}
		sg.Status = types.SuggestionPending

		keywordsJSON, err := marshalList(sg.Keywords)
		if err != nil {
			return nil, fmt.Errorf("marshal keywords: %w", err)
		}

		result, err := s.exec(ctx, tx, `
			INSERT INTO suggestions (
				id, source_kind, source_id, title, title_key, description, priority, due_date,
				assignee_id, client_id, caller_identifier, confidence, category, keywords, reasoning,
				origin, pattern_id, status, created_at, expires_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
			ON CONFLICT DO NOTHING
		`,
			sg.ID, sg.SourceKind, sg.SourceID, sg.Title, sg.TitleKey, sg.Description,
			sg.Priority, nullableTime(sg.DueDate), sg.AssigneeID, sg.ClientID,
			sg.CallerIdentifier, sg.Confidence, sg.Category, keywordsJSON, sg.Reasoning,
			sg.Origin, sg.PatternID, formatTime(sg.CreatedAt), formatTime(sg.ExpiresAt),
		)
		if err != nil {
			return nil, fmt.Errorf("insert suggestion: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("get rows affected: %w", err)
		}
		if n == 1 {
			ids = append(ids, sg.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return ids, nil
}

// GetSuggestion retrieves a suggestion by ID.
func (s *SQLStore) GetSuggestion(ctx context.Context, id string) (*types.Suggestion, error) {
	return s.getSuggestion(ctx, s.db, id)
}

func (s *SQLStore) getSuggestion(ctx context.Context, q queryer, id string) (*types.Suggestion, error) {
	row := s.queryRow(ctx, q, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = ?`, id)
	sg, err := scanSuggestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan suggestion: %w", err)
	}
	return sg, nil
}

// ListSuggestions returns suggestions matching filter, highest confidence first.
// Pending listings never include rows whose expiry has already passed.
func (s *SQLStore) ListSuggestions(ctx context.Context, filter types.SuggestionFilter) ([]types.Suggestion, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
		if filter.Status == types.SuggestionPending {
			where = append(where, "expires_at > ?")
			args = append(args, formatTime(time.Now()))
		}
	}
	if filter.SourceKind != "" {
		where = append(where, "source_kind = ?")
		args = append(args, filter.SourceKind)
	}
	if filter.AssigneeID != "" {
		where = append(where, "assignee_id = ?")
		args = append(args, filter.AssigneeID)
	}

	query := `SELECT ` + suggestionColumns + ` FROM suggestions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY confidence DESC, created_at ASC, id ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	defer rows.Close()

	suggestions := make([]types.Suggestion, 0)
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		suggestions = append(suggestions, *sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return suggestions, nil
}

// CountSuggestionsByStatus returns the number of suggestions per status.
// Every status is present in the result, zero when absent.
func (s *SQLStore) CountSuggestionsByStatus(ctx context.Context) (map[types.SuggestionStatus]int64, error) {
	counts := map[types.SuggestionStatus]int64{
		types.SuggestionPending:  0,
		types.SuggestionApproved: 0,
		types.SuggestionDeclined: 0,
		types.SuggestionExpired:  0,
	}

	rows, err := s.query(ctx, s.db, `SELECT status, COUNT(*) FROM suggestions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count suggestions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status types.SuggestionStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ApproveSuggestion transitions a pending suggestion to approved and inserts
// task in the same transaction. The transition is conditional on the current
// status, so exactly one of several concurrent resolutions succeeds; the
// others receive ErrAlreadyResolved.
func (s *SQLStore) ApproveSuggestion(ctx context.Context, id string, task types.Task, actor string, at time.Time) (*types.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if task.ID == "" {
		task.ID = ulid.Make().String()
	}
	task.SuggestionID = id
	task.CreatedBy = actor
	task.CreatedAt = at.UTC()
	task.UpdatedAt = at.UTC()

	result, err := s.exec(ctx, tx, `
		UPDATE suggestions
		SET status = 'approved', resolved_at = ?, resolved_by = ?, task_id = ?
		WHERE id = ? AND status = 'pending' AND expires_at > ?
	`, formatTime(at), actor, task.ID, id, formatTime(at))
	if err != nil {
		return nil, fmt.Errorf("approve suggestion: %w", err)
	}
	if err := s.checkTransition(ctx, tx, result, id); err != nil {
		return nil, err
	}

	if err := s.insertTask(ctx, tx, &task); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &task, nil
}

// DeclineSuggestion transitions a pending suggestion to declined.
func (s *SQLStore) DeclineSuggestion(ctx context.Context, id string, category types.DeclineCategory, reason, actor string, at time.Time) (*types.Suggestion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := s.exec(ctx, tx, `
		UPDATE suggestions
		SET status = 'declined', resolved_at = ?, resolved_by = ?,
		    decline_category = ?, decline_reason = ?
		WHERE id = ? AND status = 'pending' AND expires_at > ?
	`, formatTime(at), actor, category, reason, id, formatTime(at))
	if err != nil {
		return nil, fmt.Errorf("decline suggestion: %w", err)
	}
	if err := s.checkTransition(ctx, tx, result, id); err != nil {
		return nil, err
	}

	sg, err := s.getSuggestion(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return sg, nil
}

// checkTransition distinguishes a lost race (ErrAlreadyResolved) from an
// unknown id (ErrNotFound) after a conditional status update.
func (s *SQLStore) checkTransition(ctx context.Context, q queryer, result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = s.queryRow(ctx, q, `SELECT status FROM suggestions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read suggestion status: %w", err)
	}
	if status == string(types.SuggestionPending) {
		return fmt.Errorf("suggestion %s is past its expiry: %w", id, ErrAlreadyResolved)
	}
	return fmt.Errorf("suggestion %s is %s: %w", id, status, ErrAlreadyResolved)
}

// ExpireSuggestions moves every pending suggestion whose expiry is before now
// to expired. Approved and declined suggestions are never touched.
func (s *SQLStore) ExpireSuggestions(ctx context.Context, now time.Time) (int64, error) {
	ts := formatTime(now)
	result, err := s.exec(ctx, s.db, `
		UPDATE suggestions
		SET status = 'expired', resolved_at = ?
		WHERE status = 'pending' AND expires_at < ?
	`, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("expire suggestions: %w", err)
	}
	return result.RowsAffected()
}
