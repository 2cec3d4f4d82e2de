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

const patternColumns = `
	id, pattern_type, match_key, category, client_id, caller_identifier, keywords,
	suggested_assignee, suggested_priority, suggested_category, times_matched,
	times_accepted, times_rejected, acceptance_rate, confidence_score, active,
	requires_review, feedback_ids, last_matched_at, created_at, updated_at`

func scanPattern(scanner interface{ Scan(...any) error }) (*types.Pattern, error) {
	var p types.Pattern
	var keywordsJSON, feedbackJSON, createdAt, updatedAt string
	var rate sql.NullFloat64
	var active, requiresReview int
	var lastMatchedAt sql.NullString

	err := scanner.Scan(
		&p.ID,
		&p.Type,
		&p.MatchKey,
		&p.Category,
		&p.ClientID,
		&p.CallerIdentifier,
		&keywordsJSON,
		&p.SuggestedAssignee,
		&p.SuggestedPriority,
		&p.SuggestedCategory,
		&p.TimesMatched,
		&p.TimesAccepted,
		&p.TimesRejected,
		&rate,
		&p.ConfidenceScore,
		&active,
		&requiresReview,
		&feedbackJSON,
		&lastMatchedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.Keywords, err = unmarshalList("keywords", keywordsJSON); err != nil {
		return nil, err
	}
	if p.FeedbackIDs, err = unmarshalList("feedback_ids", feedbackJSON); err != nil {
		return nil, err
	}
	if rate.Valid {
		r := rate.Float64
		p.AcceptanceRate = &r
	}
	p.Active = active == 1
	p.RequiresReview = requiresReview == 1
	p.LastMatchedAt = parseNullTime("last_matched_at", lastMatchedAt)
	p.CreatedAt = parseTime("created_at", createdAt)
	p.UpdatedAt = parseTime("updated_at", updatedAt)
	return &p, nil
}

// ListPatterns returns patterns matching filter, highest confidence first.
func (s *SQLStore) ListPatterns(ctx context.Context, filter types.PatternFilter) ([]types.Pattern, error) {
	var where []string
	var args []any
	if filter.ActiveOnly {
		where = append(where, "active = 1")
	}
	if filter.MinConfidence > 0 {
		where = append(where, "confidence_score >= ?")
		args = append(args, filter.MinConfidence)
	}

	query := `SELECT ` + patternColumns + ` FROM patterns`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY confidence_score DESC, id ASC"

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	patterns := make([]types.Pattern, 0)
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		patterns = append(patterns, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return patterns, nil
}

// GetPattern retrieves a pattern by ID.
func (s *SQLStore) GetPattern(ctx context.Context, id string) (*types.Pattern, error) {
	return s.getPattern(ctx, s.db, `WHERE id = ?`, id)
}

// FindPattern retrieves the pattern with the given type and match key.
func (s *SQLStore) FindPattern(ctx context.Context, patternType types.PatternType, matchKey string) (*types.Pattern, error) {
	return s.getPattern(ctx, s.db, `WHERE pattern_type = ? AND match_key = ?`, patternType, matchKey)
}

func (s *SQLStore) getPattern(ctx context.Context, q queryer, where string, args ...any) (*types.Pattern, error) {
	row := s.queryRow(ctx, q, `SELECT `+patternColumns+` FROM patterns `+where, args...)
	p, err := scanPattern(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan pattern: %w", err)
	}
	return p, nil
}

// CreatePattern inserts a new pattern. Returns ErrDuplicatePattern when a
// pattern with the same type and match key already exists.
func (s *SQLStore) CreatePattern(ctx context.Context, p *types.Pattern) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = ulid.Make().String()
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	keywordsJSON, err := marshalList(p.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	feedbackJSON, err := marshalList(p.FeedbackIDs)
	if err != nil {
		return fmt.Errorf("marshal feedback ids: %w", err)
	}

	var rate any
	if p.AcceptanceRate != nil {
		rate = *p.AcceptanceRate
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = s.exec(ctx, tx, `
		INSERT INTO patterns (
			id, pattern_type, match_key, category, client_id, caller_identifier, keywords,
			suggested_assignee, suggested_priority, suggested_category, times_matched,
			times_accepted, times_rejected, acceptance_rate, confidence_score, active,
			requires_review, feedback_ids, last_matched_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.Type, p.MatchKey, p.Category, p.ClientID, p.CallerIdentifier, keywordsJSON,
		p.SuggestedAssignee, p.SuggestedPriority, p.SuggestedCategory, p.TimesMatched,
		p.TimesAccepted, p.TimesRejected, rate, p.ConfidenceScore, boolInt(p.Active),
		boolInt(p.RequiresReview), feedbackJSON, nullableTime(p.LastMatchedAt),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePattern
		}
		return fmt.Errorf("insert pattern: %w", err)
	}

	for _, fid := range p.FeedbackIDs {
		if _, err := s.claimFeedback(ctx, tx, p.ID, fid); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// claimFeedback records that feedbackID has been applied to patternID.
// It reports false when the pair was already recorded.
func (s *SQLStore) claimFeedback(ctx context.Context, q queryer, patternID, feedbackID string) (bool, error) {
	res, err := s.exec(ctx, q, `
		INSERT INTO pattern_feedback (pattern_id, feedback_id) VALUES (?, ?)
		ON CONFLICT (pattern_id, feedback_id) DO NOTHING
	`, patternID, feedbackID)
	if err != nil {
		return false, fmt.Errorf("record pattern feedback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record pattern feedback: %w", err)
	}
	return n == 1, nil
}

// UpdatePatternStats applies one learning step to a pattern. Counters are
// incremented in place; rate and confidence are recomputed from the
// incremented values inside the same transaction, and the feedback id is
// appended to the bounded history.
//
// Each feedback id is applied to a pattern at most once: a repeated
// FeedbackID leaves the row untouched and returns ErrFeedbackApplied.
func (s *SQLStore) UpdatePatternStats(ctx context.Context, id string, update PatternStatsUpdate) (*types.Pattern, error) {
	if update.Score == nil {
		return nil, errors.New("update pattern stats: nil score function")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if update.FeedbackID != "" {
		claimed, err := s.claimFeedback(ctx, tx, id, update.FeedbackID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, ErrFeedbackApplied
		}
	}

	now := formatTime(time.Now())
	var accepted, rejected int
	var feedbackJSON string
	err = s.queryRow(ctx, tx, `
		UPDATE patterns
		SET times_accepted = times_accepted + ?, times_rejected = times_rejected + ?, updated_at = ?
		WHERE id = ?
		RETURNING times_accepted, times_rejected, feedback_ids
	`, update.AcceptedDelta, update.RejectedDelta, now, id).Scan(&accepted, &rejected, &feedbackJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("increment pattern counters: %w", err)
	}

	history, err := unmarshalList("feedback_ids", feedbackJSON)
	if err != nil {
		return nil, err
	}
	if update.FeedbackID != "" {
		history = append(history, update.FeedbackID)
	}
	if update.HistoryLimit > 0 && len(history) > update.HistoryLimit {
		history = history[len(history)-update.HistoryLimit:]
	}
	historyJSON, err := marshalList(history)
	if err != nil {
		return nil, fmt.Errorf("marshal feedback ids: %w", err)
	}

	rate, confidence := update.Score(accepted, rejected)
	var rateArg any
	if rate != nil {
		rateArg = *rate
	}

	_, err = s.exec(ctx, tx, `
		UPDATE patterns
		SET acceptance_rate = ?, confidence_score = ?, feedback_ids = ?
		WHERE id = ?
	`, rateArg, confidence, historyJSON, id)
	if err != nil {
		return nil, fmt.Errorf("update pattern scores: %w", err)
	}

	p, err := s.getPattern(ctx, tx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return p, nil
}

// RecordPatternHits increments times_matched and stamps last_matched_at for
// every pattern in ids with a single atomic statement.
func (s *SQLStore) RecordPatternHits(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(at))
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.exec(ctx, s.db, `
		UPDATE patterns
		SET times_matched = times_matched + 1, last_matched_at = ?
		WHERE id IN (`+inClause(len(ids))+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("record pattern hits: %w", err)
	}
	return nil
}

// SetPatternActive activates or deactivates a pattern. Deactivated patterns
// are skipped by matching but keep learning history.
func (s *SQLStore) SetPatternActive(ctx context.Context, id string, active bool) (*types.Pattern, error) {
	result, err := s.exec(ctx, s.db, `
		UPDATE patterns SET active = ?, updated_at = ? WHERE id = ?
	`, boolInt(active), formatTime(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("set pattern active: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetPattern(ctx, id)
}
