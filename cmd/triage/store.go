package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hyperengineering/triage/internal/config"
	"github.com/hyperengineering/triage/internal/store"
)

// openStore opens the configured database for offline commands. Opening
// applies pending migrations.
func openStore() (*store.SQLStore, error) {
	cfg, err := config.LoadDatabaseConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.NewStore(cfg.Database)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// formatRate renders an acceptance rate, or "-" before any decision.
func formatRate(rate *float64) string {
	if rate == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *rate*100)
}
