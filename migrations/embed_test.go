package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedFS_ContainsMigrationFiles(t *testing.T) {
	for _, dialect := range []string{"sqlite", "postgres"} {
		t.Run(dialect, func(t *testing.T) {
			entries, err := FS.ReadDir(Dir(dialect))
			require.NoError(t, err)

			var names []string
			for _, entry := range entries {
				names = append(names, entry.Name())
			}
			assert.Contains(t, names, "001_initial_schema.sql")
		})
	}
}

func TestEmbeddedFS_MigrationFileReadable(t *testing.T) {
	tables := []string{
		"CREATE TABLE suggestions",
		"CREATE TABLE patterns",
		"CREATE TABLE feedback",
		"CREATE TABLE intake_records",
		"CREATE TABLE idempotency_keys",
		"CREATE TABLE domain_events",
	}

	for _, dialect := range []string{"sqlite", "postgres"} {
		t.Run(dialect, func(t *testing.T) {
			content, err := FS.ReadFile(Dir(dialect) + "/001_initial_schema.sql")
			require.NoError(t, err)

			sql := string(content)
			assert.Contains(t, sql, "-- +goose Up")
			assert.Contains(t, sql, "-- +goose Down")
			for _, table := range tables {
				assert.Contains(t, sql, table)
			}
		})
	}
}

func TestEmbeddedFS_DialectSpecificSequence(t *testing.T) {
	sqlite, err := FS.ReadFile("sqlite/001_initial_schema.sql")
	require.NoError(t, err)
	postgres, err := FS.ReadFile("postgres/001_initial_schema.sql")
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(sqlite), "AUTOINCREMENT"))
	assert.True(t, strings.Contains(string(postgres), "BIGSERIAL"))
	assert.False(t, strings.Contains(string(postgres), "AUTOINCREMENT"))
}

func TestDir_DefaultsToSQLite(t *testing.T) {
	assert.Equal(t, "postgres", Dir("postgres"))
	assert.Equal(t, "sqlite", Dir("sqlite"))
	assert.Equal(t, "sqlite", Dir(""))
}

func TestEmbeddedFS_PatternFeedbackLedger(t *testing.T) {
	for _, dialect := range []string{"sqlite", "postgres"} {
		content, err := FS.ReadFile(Dir(dialect) + "/002_pattern_feedback.sql")
		require.NoError(t, err, dialect)
		assert.Contains(t, string(content), "PRIMARY KEY (pattern_id, feedback_id)")
	}
}
