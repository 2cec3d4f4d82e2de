package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/triage/internal/types"
	"github.com/oklog/ulid/v2"
)

// CreateIntakeRecord persists a raw webhook delivery in its initial state.
func (s *SQLStore) CreateIntakeRecord(ctx context.Context, r *types.IntakeRecord) error {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.State == "" {
		r.State = types.IntakeReceived
	}
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.exec(ctx, s.db, `
		INSERT INTO intake_records (
			id, idempotency_key, provider, state, payload, source_record_id, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.IdempotencyKey, r.Provider, r.State, string(r.Payload), r.SourceRecordID,
		r.Error, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert intake record: %w", err)
	}
	return nil
}

// UpdateIntakeState moves an intake record to state. Empty sourceRecordID and
// errMsg leave the stored values unchanged.
func (s *SQLStore) UpdateIntakeState(ctx context.Context, id string, state types.IntakeState, sourceRecordID, errMsg string) error {
	result, err := s.exec(ctx, s.db, `
		UPDATE intake_records
		SET state = ?,
		    source_record_id = CASE WHEN ? = '' THEN source_record_id ELSE ? END,
		    error = CASE WHEN ? = '' THEN error ELSE ? END,
		    updated_at = ?
		WHERE id = ?
	`, state, sourceRecordID, sourceRecordID, errMsg, errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update intake state: %w", err)
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

// ListIntakeRecords returns the audit trail for an idempotency key, oldest first.
func (s *SQLStore) ListIntakeRecords(ctx context.Context, idempotencyKey string) ([]types.IntakeRecord, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, idempotency_key, provider, state, payload, source_record_id, error, created_at, updated_at
		FROM intake_records
		WHERE idempotency_key = ?
		ORDER BY created_at ASC, id ASC
	`, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("query intake records: %w", err)
	}
	defer rows.Close()

	records := make([]types.IntakeRecord, 0)
	for rows.Next() {
		var r types.IntakeRecord
		var payload, createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.IdempotencyKey, &r.Provider, &r.State, &payload,
			&r.SourceRecordID, &r.Error, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan intake record: %w", err)
		}
		r.Payload = []byte(payload)
		r.CreatedAt = parseTime("created_at", createdAt)
		r.UpdatedAt = parseTime("updated_at", updatedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// CreateSourceRecord stores the core call or email record.
func (s *SQLStore) CreateSourceRecord(ctx context.Context, r *types.SourceRecord) error {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Kind = r.Event.Kind

	eventJSON, err := json.Marshal(r.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.exec(ctx, s.db, `
		INSERT INTO source_records (
			id, kind, provider, external_id, event, summary, category, sentiment, ai_parsed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Kind, r.Provider, r.ExternalID, string(eventJSON), r.Summary, r.Category,
		r.Sentiment, boolInt(r.AIParsed), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert source record: %w", err)
	}
	return nil
}

// UpdateSourceClassification stores classification output on a source record.
// The record is marked AI-parsed only when the result did not come from the
// rule-based fallback.
func (s *SQLStore) UpdateSourceClassification(ctx context.Context, id string, result types.ClassificationResult, summary string) error {
	res, err := s.exec(ctx, s.db, `
		UPDATE source_records
		SET summary = ?, category = ?, sentiment = ?, ai_parsed = ?
		WHERE id = ?
	`, summary, result.Category, result.Sentiment, boolInt(!result.Fallback), id)
	if err != nil {
		return fmt.Errorf("update source classification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSourceRecord retrieves a source record by ID.
func (s *SQLStore) GetSourceRecord(ctx context.Context, id string) (*types.SourceRecord, error) {
	var r types.SourceRecord
	var eventJSON, createdAt string
	var aiParsed int

	err := s.queryRow(ctx, s.db, `
		SELECT id, kind, provider, external_id, event, summary, category, sentiment, ai_parsed, created_at
		FROM source_records WHERE id = ?
	`, id).Scan(&r.ID, &r.Kind, &r.Provider, &r.ExternalID, &eventJSON, &r.Summary,
		&r.Category, &r.Sentiment, &aiParsed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan source record: %w", err)
	}

	if err := json.Unmarshal([]byte(eventJSON), &r.Event); err != nil {
		return nil, fmt.Errorf("parse event JSON: %w", err)
	}
	r.AIParsed = aiParsed == 1
	r.CreatedAt = parseTime("created_at", createdAt)
	return &r, nil
}

// ClaimIdempotencyKey records key as seen until now+ttl. It returns true when
// this call claimed the key and false when an unexpired claim already exists.
// An expired claim is taken over in place.
func (s *SQLStore) ClaimIdempotencyKey(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, error) {
	result, err := s.exec(ctx, s.db, `
		INSERT INTO idempotency_keys (key, expires_at) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at
		WHERE idempotency_keys.expires_at < ?
	`, key, formatTime(now.Add(ttl)), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseIdempotencyKey forgets a claimed key so a retried delivery is processed.
func (s *SQLStore) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	if _, err := s.exec(ctx, s.db, `DELETE FROM idempotency_keys WHERE key = ?`, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// CleanExpiredIdempotency removes expired idempotency entries.
// Returns the number of entries removed.
func (s *SQLStore) CleanExpiredIdempotency(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.exec(ctx, s.db, `
		DELETE FROM idempotency_keys WHERE expires_at < ?
	`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("clean expired idempotency: %w", err)
	}
	return result.RowsAffected()
}
