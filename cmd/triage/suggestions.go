package main

import (
	"context"
	"fmt"

	"github.com/hyperengineering/triage/internal/events"
	"github.com/hyperengineering/triage/internal/suggest"
	"github.com/spf13/cobra"
)

var suggestionsJSONOutput bool

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "Manage task suggestions",
}

var suggestionsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire pending suggestions past their expiry time",
	Args:  cobra.NoArgs,
	RunE:  runSuggestionsExpire,
}

func init() {
	suggestionsCmd.PersistentFlags().BoolVar(&suggestionsJSONOutput, "json", false,
		"Output in JSON format")
	suggestionsCmd.AddCommand(suggestionsExpireCmd)
}

func runSuggestionsExpire(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	svc := suggest.NewService(db, nil, events.NewStorePublisher(db), nil)
	n, err := svc.Expire(ctx)
	if err != nil {
		return err
	}

	if suggestionsJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"expired": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Expired %d suggestion(s)\n", n)
	return nil
}
