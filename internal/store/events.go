package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperengineering/triage/internal/types"
)

// AppendEvent appends a domain event to the log and returns its sequence number.
func (s *SQLStore) AppendEvent(ctx context.Context, e *types.DomainEvent) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	err := s.queryRow(ctx, s.db, `
		INSERT INTO domain_events (event_type, entity_id, payload, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING sequence
	`, e.Type, e.EntityID, nullablePayload(e.Payload), formatTime(e.CreatedAt)).Scan(&e.Sequence)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return e.Sequence, nil
}

// ListEventsAfter returns events with sequence > afterSeq, up to limit.
func (s *SQLStore) ListEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]types.DomainEvent, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT sequence, event_type, entity_id, payload, created_at
		FROM domain_events
		WHERE sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]types.DomainEvent, 0)
	for rows.Next() {
		var e types.DomainEvent
		var payload sql.NullString
		var createdAt string
		if err := rows.Scan(&e.Sequence, &e.Type, &e.EntityID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		e.CreatedAt = parseTime("created_at", createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// nullablePayload converts a json.RawMessage to a sql-friendly value.
// Returns nil for empty/null payloads, string otherwise.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
