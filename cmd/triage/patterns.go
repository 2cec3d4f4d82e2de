package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/hyperengineering/triage/internal/types"
	"github.com/hyperengineering/triage/internal/validation"
	"github.com/spf13/cobra"
)

var (
	patternsJSONOutput bool
	patternsAll        bool
	patternsMinConf    float64
	deactivateForce    bool
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect and curate learned patterns",
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned patterns",
	Args:  cobra.NoArgs,
	RunE:  runPatternsList,
}

var patternsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <pattern-id>",
	Short: "Deactivate a pattern so it no longer drives suggestions",
	Long:  "Deactivate a learned pattern. Requires --force or interactive confirmation.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatternsDeactivate,
}

func init() {
	patternsCmd.PersistentFlags().BoolVar(&patternsJSONOutput, "json", false,
		"Output in JSON format")
	patternsListCmd.Flags().BoolVar(&patternsAll, "all", false,
		"Include inactive patterns")
	patternsListCmd.Flags().Float64Var(&patternsMinConf, "min-confidence", 0,
		"Only list patterns at or above this confidence")
	patternsDeactivateCmd.Flags().BoolVar(&deactivateForce, "force", false,
		"Skip confirmation prompt")

	patternsCmd.AddCommand(patternsListCmd)
	patternsCmd.AddCommand(patternsDeactivateCmd)
}

func runPatternsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if verr := validation.ValidateRange("min-confidence", patternsMinConf, 0, 1); verr != nil {
		return fmt.Errorf("%s %s", verr.Field, verr.Message)
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	patterns, err := db.ListPatterns(ctx, types.PatternFilter{
		ActiveOnly:    !patternsAll,
		MinConfidence: patternsMinConf,
	})
	if err != nil {
		return fmt.Errorf("list patterns: %w", err)
	}

	if patternsJSONOutput {
		if patterns == nil {
			patterns = []types.Pattern{}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"patterns": patterns,
			"total":    len(patterns),
		})
	}

	if len(patterns) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No patterns found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tTYPE\tMATCH\tSUGGESTS\tCONFIDENCE\tACCEPTED\tACTIVE")
	for _, p := range patterns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\t%t\n",
			p.ID,
			p.Type,
			patternMatch(p),
			patternSuggests(p),
			p.ConfidenceScore,
			formatRate(p.AcceptanceRate),
			p.Active,
		)
	}
	return w.Flush()
}

func runPatternsDeactivate(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := context.Background()

	if verr := validation.ValidateULID("pattern-id", id); verr != nil {
		return fmt.Errorf("%s %s", verr.Field, verr.Message)
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := db.GetPattern(ctx, id)
	if err != nil {
		return fmt.Errorf("get pattern %s: %w", id, err)
	}

	// Interactive confirmation unless --force
	if !deactivateForce {
		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "Deactivate %s pattern %s (%s -> %s)?\n", p.Type, id, patternMatch(*p), patternSuggests(*p))
		fmt.Fprint(errOut, "Type the pattern ID to confirm: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(input) != id {
			fmt.Fprintln(errOut, "Aborted. Pattern ID did not match.")
			return nil
		}
	}

	p, err = db.SetPatternActive(ctx, id, false)
	if err != nil {
		return fmt.Errorf("deactivate pattern %s: %w", id, err)
	}

	if patternsJSONOutput {
		return printJSON(cmd.OutOrStdout(), p)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deactivated pattern %q\n", id)
	return nil
}

// patternMatch renders the predicate side of a pattern.
func patternMatch(p types.Pattern) string {
	switch p.Type {
	case types.PatternClientToUser:
		return "client=" + p.ClientID
	case types.PatternCallerToUser:
		return "caller=" + p.CallerIdentifier
	case types.PatternKeywordsToPriority:
		return "keywords=" + strings.Join(p.Keywords, ",")
	default:
		return "category=" + p.Category
	}
}

// patternSuggests renders what a pattern proposes.
func patternSuggests(p types.Pattern) string {
	var parts []string
	if p.SuggestedAssignee != "" {
		parts = append(parts, "assignee="+p.SuggestedAssignee)
	}
	if p.SuggestedPriority != "" {
		parts = append(parts, "priority="+string(p.SuggestedPriority))
	}
	if p.SuggestedCategory != "" {
		parts = append(parts, "category="+p.SuggestedCategory)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}
