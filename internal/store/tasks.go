package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/triage/internal/types"
)

const taskColumns = `
	id, suggestion_id, source_kind, source_id, title, description, priority, due_date,
	assignee_id, client_id, category, caller_identifier, created_by, created_at, updated_at`

func scanTask(scanner interface{ Scan(...any) error }) (*types.Task, error) {
	var t types.Task
	var dueDate sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&t.ID,
		&t.SuggestionID,
		&t.SourceKind,
		&t.SourceID,
		&t.Title,
		&t.Description,
		&t.Priority,
		&dueDate,
		&t.AssigneeID,
		&t.ClientID,
		&t.Category,
		&t.CallerIdentifier,
		&t.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.DueDate = parseNullTime("due_date", dueDate)
	t.CreatedAt = parseTime("created_at", createdAt)
	t.UpdatedAt = parseTime("updated_at", updatedAt)
	return &t, nil
}

func (s *SQLStore) insertTask(ctx context.Context, q queryer, t *types.Task) error {
	_, err := s.exec(ctx, q, `
		INSERT INTO tasks (
			id, suggestion_id, source_kind, source_id, title, description, priority, due_date,
			assignee_id, client_id, category, caller_identifier, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.SuggestionID, t.SourceKind, t.SourceID, t.Title, t.Description, t.Priority,
		nullableTime(t.DueDate), t.AssigneeID, t.ClientID, t.Category, t.CallerIdentifier,
		t.CreatedBy, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *SQLStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	return s.getTask(ctx, s.db, id)
}

func (s *SQLStore) getTask(ctx context.Context, q queryer, id string) (*types.Task, error) {
	row := s.queryRow(ctx, q, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

// UpdateTaskAssignee reassigns a task and returns the previous assignee
// together with the updated task.
func (s *SQLStore) UpdateTaskAssignee(ctx context.Context, id, assignee string, at time.Time) (string, *types.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.getTask(ctx, tx, id)
	if err != nil {
		return "", nil, err
	}

	_, err = s.exec(ctx, tx, `
		UPDATE tasks SET assignee_id = ?, updated_at = ? WHERE id = ?
	`, assignee, formatTime(at), id)
	if err != nil {
		return "", nil, fmt.Errorf("update task assignee: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("commit transaction: %w", err)
	}

	previous := current.AssigneeID
	current.AssigneeID = assignee
	current.UpdatedAt = at.UTC()
	return previous, current, nil
}
