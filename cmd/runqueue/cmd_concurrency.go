package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xraph/runqueue/concurrency"
	"github.com/xraph/runqueue/keys"
)

var (
	concOrg            string
	concProject        string
	concEnv            string
	concQueue          string
	concConcurrencyKey string
)

var concurrencyCmd = &cobra.Command{
	Use:   "concurrency",
	Short: "Inspect concurrency slots",
}

var concurrencyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current, reserved and limit counts for an environment and queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		ledger := concurrency.NewLedger(s)
		env := keys.Env{OrgID: concOrg, ProjectID: concProject, EnvID: concEnv}

		scopes := []concurrency.Scope{concurrency.EnvScope(env)}
		if concQueue != "" {
			scopes = append(scopes, concurrency.QueueScope(env, concQueue, concConcurrencyKey))
		}

		report := make(map[string]concurrency.Counts, len(scopes))
		order := make([]string, 0, len(scopes))
		for _, scope := range scopes {
			if err := scope.Validate(); err != nil {
				return err
			}
			counts, err := ledger.Snapshot(ctx, scope)
			if err != nil {
				return err
			}
			report[scope.String()] = counts
			order = append(order, scope.String())
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		for _, name := range order {
			printCounts(out, name, report[name])
		}
		return nil
	},
}

func printCounts(out io.Writer, name string, c concurrency.Counts) {
	limit := "unbounded"
	if c.Limit != nil {
		limit = strconv.Itoa(*c.Limit)
	}
	fmt.Fprintf(out, "%s\n  current: %d\n  reserve: %d\n  limit:   %s\n", name, c.Current, c.Reserve, limit)
}

func init() {
	f := concurrencyShowCmd.Flags()
	f.StringVar(&concOrg, "org", "", "Organization ID")
	f.StringVar(&concProject, "project", "", "Project ID")
	f.StringVar(&concEnv, "env", "", "Environment ID")
	f.StringVar(&concQueue, "queue", "", "Queue name (optional)")
	f.StringVar(&concConcurrencyKey, "concurrency-key", "", "Concurrency key within the queue (optional)")
	_ = concurrencyShowCmd.MarkFlagRequired("env")

	concurrencyCmd.AddCommand(concurrencyShowCmd)
	rootCmd.AddCommand(concurrencyCmd)
}
