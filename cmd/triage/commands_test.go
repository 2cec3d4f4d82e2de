package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/triage/internal/store"
	"github.com/hyperengineering/triage/internal/types"
)

// useTempDatabase points offline commands at a fresh SQLite file.
func useTempDatabase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "triage.db")
	t.Setenv("TRIAGE_CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("TRIAGE_DATABASE_DRIVER", "sqlite")
	t.Setenv("TRIAGE_DB_PATH", dbPath)
	return dbPath
}

// executeCmd executes a subcommand with captured output.
func executeCmd(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	// Reset package-level flag variables; cobra parses into them and stale
	// values would leak between tests.
	suggestionsJSONOutput = false
	patternsJSONOutput = false
	patternsAll = false
	patternsMinConf = 0
	deactivateForce = false

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)
	rootCmd.SetIn(nil)

	return outBuf.String(), errBuf.String(), err
}

// seed opens the database at path, runs fn and closes it again.
func seed(t *testing.T, path string, fn func(s *store.SQLStore)) {
	t.Helper()
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	fn(s)
}

func seedPattern(t *testing.T, s *store.SQLStore, category, assignee string, active bool) *types.Pattern {
	t.Helper()
	p := &types.Pattern{
		Type:              types.PatternCategoryToUser,
		MatchKey:          category + "|" + assignee,
		Category:          category,
		SuggestedAssignee: assignee,
		ConfidenceScore:   0.65,
		Active:            active,
	}
	if err := s.CreatePattern(context.Background(), p); err != nil {
		t.Fatalf("create pattern: %v", err)
	}
	return p
}

// --- migrate ---

func TestMigrate(t *testing.T) {
	useTempDatabase(t)

	stdout, _, err := executeCmd(t, "", "migrate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "schema version") {
		t.Errorf("stdout = %q, want schema version", stdout)
	}
	if strings.Contains(stdout, "version 0") {
		t.Errorf("stdout = %q, want migrations applied", stdout)
	}
}

// --- suggestions expire ---

func TestSuggestionsExpire(t *testing.T) {
	path := useTempDatabase(t)
	seed(t, path, func(s *store.SQLStore) {
		_, err := s.CreateSuggestions(context.Background(), []types.Suggestion{
			{
				SourceKind: types.EventKindCall,
				SourceID:   "src-1",
				Title:      "Old callback",
				TitleKey:   "old callback",
				Priority:   types.PriorityLow,
				Origin:     types.OriginClassifier,
				ExpiresAt:  time.Now().Add(-time.Hour),
			},
			{
				SourceKind: types.EventKindCall,
				SourceID:   "src-1",
				Title:      "Fresh callback",
				TitleKey:   "fresh callback",
				Priority:   types.PriorityLow,
				Origin:     types.OriginClassifier,
				ExpiresAt:  time.Now().Add(time.Hour),
			},
		})
		if err != nil {
			t.Fatalf("seed suggestions: %v", err)
		}
	})

	stdout, _, err := executeCmd(t, "", "suggestions", "expire", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, stdout)
	}
	if result["expired"] != float64(1) {
		t.Errorf("expired = %v, want 1", result["expired"])
	}

	// A second sweep finds nothing
	stdout, _, err = executeCmd(t, "", "suggestions", "expire")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Expired 0 suggestion(s)") {
		t.Errorf("stdout = %q, want 'Expired 0 suggestion(s)'", stdout)
	}
}

// --- patterns list ---

func TestPatternsList_Empty(t *testing.T) {
	useTempDatabase(t)

	stdout, _, err := executeCmd(t, "", "patterns", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "No patterns found.") {
		t.Errorf("stdout = %q, want 'No patterns found.'", stdout)
	}
}

func TestPatternsList_Table(t *testing.T) {
	path := useTempDatabase(t)
	seed(t, path, func(s *store.SQLStore) {
		seedPattern(t, s, "billing", "alice", true)
		seedPattern(t, s, "tax_question", "bob", false)
	})

	stdout, _, err := executeCmd(t, "", "patterns", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "category=billing") || !strings.Contains(stdout, "assignee=alice") {
		t.Errorf("stdout = %q, want billing -> alice row", stdout)
	}
	if strings.Contains(stdout, "tax_question") {
		t.Errorf("stdout = %q, inactive pattern listed without --all", stdout)
	}

	stdout, _, err = executeCmd(t, "", "patterns", "list", "--all")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "tax_question") {
		t.Errorf("stdout = %q, want inactive pattern with --all", stdout)
	}
}

func TestPatternsList_JSON(t *testing.T) {
	path := useTempDatabase(t)
	seed(t, path, func(s *store.SQLStore) {
		seedPattern(t, s, "billing", "alice", true)
	})

	stdout, _, err := executeCmd(t, "", "patterns", "list", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Patterns []types.Pattern `json:"patterns"`
		Total    int             `json:"total"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, stdout)
	}
	if result.Total != 1 || len(result.Patterns) != 1 {
		t.Fatalf("total = %d, want 1", result.Total)
	}
	if result.Patterns[0].SuggestedAssignee != "alice" {
		t.Errorf("suggested_assignee = %q, want alice", result.Patterns[0].SuggestedAssignee)
	}
}

func TestPatternsList_InvalidMinConfidence(t *testing.T) {
	useTempDatabase(t)

	_, _, err := executeCmd(t, "", "patterns", "list", "--min-confidence", "1.5")
	if err == nil {
		t.Fatal("expected error for out-of-range confidence, got nil")
	}
}

// --- patterns deactivate ---

func TestPatternsDeactivate_Force(t *testing.T) {
	path := useTempDatabase(t)
	var id string
	seed(t, path, func(s *store.SQLStore) {
		id = seedPattern(t, s, "billing", "alice", true).ID
	})

	stdout, _, err := executeCmd(t, "", "patterns", "deactivate", id, "--force")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Deactivated pattern") {
		t.Errorf("stdout = %q, want 'Deactivated pattern'", stdout)
	}

	seed(t, path, func(s *store.SQLStore) {
		p, err := s.GetPattern(context.Background(), id)
		if err != nil {
			t.Fatalf("get pattern: %v", err)
		}
		if p.Active {
			t.Error("pattern still active after deactivate")
		}
	})
}

func TestPatternsDeactivate_ConfirmationMismatch(t *testing.T) {
	path := useTempDatabase(t)
	var id string
	seed(t, path, func(s *store.SQLStore) {
		id = seedPattern(t, s, "billing", "alice", true).ID
	})

	_, stderr, err := executeCmd(t, "nope\n", "patterns", "deactivate", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stderr, "Aborted") {
		t.Errorf("stderr = %q, want 'Aborted'", stderr)
	}

	seed(t, path, func(s *store.SQLStore) {
		p, err := s.GetPattern(context.Background(), id)
		if err != nil {
			t.Fatalf("get pattern: %v", err)
		}
		if !p.Active {
			t.Error("pattern deactivated despite aborted confirmation")
		}
	})
}

func TestPatternsDeactivate_ConfirmationMatch(t *testing.T) {
	path := useTempDatabase(t)
	var id string
	seed(t, path, func(s *store.SQLStore) {
		id = seedPattern(t, s, "billing", "alice", true).ID
	})

	stdout, _, err := executeCmd(t, id+"\n", "patterns", "deactivate", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Deactivated pattern") {
		t.Errorf("stdout = %q, want 'Deactivated pattern'", stdout)
	}
}

func TestPatternsDeactivate_NotFound(t *testing.T) {
	useTempDatabase(t)

	_, _, err := executeCmd(t, "", "patterns", "deactivate", "01ARZ3NDEKTSV4RRFFQ69G5FAV", "--force")
	if err == nil {
		t.Fatal("expected error for unknown pattern, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want it to contain 'not found'", err.Error())
	}
}

func TestPatternsDeactivate_InvalidID(t *testing.T) {
	useTempDatabase(t)

	_, _, err := executeCmd(t, "", "patterns", "deactivate", "bad-id", "--force")
	if err == nil {
		t.Fatal("expected error for invalid id, got nil")
	}
}

// --- helpers ---

func TestPatternMatchAndSuggests(t *testing.T) {
	tests := []struct {
		p         types.Pattern
		wantMatch string
		wantSugg  string
	}{
		{types.Pattern{Type: types.PatternCategoryToUser, Category: "billing", SuggestedAssignee: "alice"}, "category=billing", "assignee=alice"},
		{types.Pattern{Type: types.PatternClientToUser, ClientID: "c1", SuggestedAssignee: "bob"}, "client=c1", "assignee=bob"},
		{types.Pattern{Type: types.PatternCallerToUser, CallerIdentifier: "+1555"}, "caller=+1555", "-"},
		{types.Pattern{Type: types.PatternKeywordsToPriority, Keywords: []string{"irs", "audit"}, SuggestedPriority: types.PriorityUrgent}, "keywords=irs,audit", "priority=urgent"},
	}
	for _, tt := range tests {
		if got := patternMatch(tt.p); got != tt.wantMatch {
			t.Errorf("patternMatch = %q, want %q", got, tt.wantMatch)
		}
		if got := patternSuggests(tt.p); got != tt.wantSugg {
			t.Errorf("patternSuggests = %q, want %q", got, tt.wantSugg)
		}
	}
}

func TestFormatRate(t *testing.T) {
	rate := 0.75
	if got := formatRate(&rate); got != "75%" {
		t.Errorf("formatRate(0.75) = %q, want 75%%", got)
	}
	if got := formatRate(nil); got != "-" {
		t.Errorf("formatRate(nil) = %q, want -", got)
	}
}
