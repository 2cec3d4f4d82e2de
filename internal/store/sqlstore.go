package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/triage/internal/config"
	"github.com/hyperengineering/triage/internal/types"
	"github.com/lib/pq"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// timeFormat is fixed-width UTC so that text timestamps order lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// SQLStore implements Store over database/sql for SQLite and PostgreSQL.
// Queries are written with ? placeholders and rebound for PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

var _ Store = (*SQLStore)(nil)

// NewStore opens the store selected by cfg.Database.Driver.
func NewStore(cfg config.DatabaseConfig) (*SQLStore, error) {
	switch cfg.Driver {
	case DialectPostgres:
		return NewPostgresStore(cfg.DSN)
	case DialectSQLite, "":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Dialect returns the SQL dialect of the open database.
func (s *SQLStore) Dialect() string {
	return s.dialect
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// inClause returns "?, ?, ?" for n placeholders.
func inClause(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// GetStats returns aggregate store statistics
func (s *SQLStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	var stats types.StoreStats
	err := s.queryRow(ctx, s.db, `
		SELECT
			(SELECT COUNT(*) FROM suggestions WHERE status = 'pending'),
			(SELECT COUNT(*) FROM patterns WHERE active = 1),
			(SELECT COUNT(*) FROM feedback WHERE learned_at IS NULL AND learn_failed = 0)
	`).Scan(&stats.PendingSuggestions, &stats.ActivePatterns, &stats.PendingFeedback)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &stats, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(column, value string) time.Time {
	t, err := time.Parse(timeFormat, value)
	if err != nil {
		slog.Warn("store: failed to parse timestamp", "column", column, "value", value, "error", err)
	}
	return t
}

func parseNullTime(column string, value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t := parseTime(column, value.String)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalList encodes a string slice as a JSON array, never null.
func marshalList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalList(column, value string) ([]string, error) {
	if value == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return nil, fmt.Errorf("parse %s JSON: %w", column, err)
	}
	return out, nil
}

// isUniqueViolation reports whether err is a unique constraint failure in either dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
