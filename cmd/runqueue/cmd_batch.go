package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/runqueue/batch"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect in-flight batches",
}

// batchReport is the output of batch inspect.
type batchReport struct {
	Meta      *batch.Meta      `json:"meta"`
	Remaining int64            `json:"remaining"`
	Processed int64            `json:"processed"`
	Runs      []string         `json:"runs"`
	Failures  []*batch.Failure `json:"failures"`
}

var batchInspectCmd = &cobra.Command{
	Use:   "inspect <batch-id>",
	Short: "Show metadata and progress of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		batchID := args[0]
		var r batchReport
		if r.Meta, err = s.GetMeta(ctx, batchID); err != nil {
			return err
		}
		if r.Remaining, err = s.RemainingCount(ctx, batchID); err != nil {
			return err
		}
		if r.Processed, err = s.ProcessedCount(ctx, batchID); err != nil {
			return err
		}
		if r.Runs, err = s.ListRuns(ctx, batchID); err != nil {
			return err
		}
		if r.Failures, err = s.ListFailures(ctx, batchID); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}
		fmt.Fprintf(out, "Batch:       %s (%s)\n", r.Meta.BatchID, r.Meta.FriendlyID)
		fmt.Fprintf(out, "Environment: %s (%s)\n", r.Meta.EnvironmentID, r.Meta.EnvironmentType)
		fmt.Fprintf(out, "Created:     %s\n", r.Meta.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
		fmt.Fprintf(out, "Progress:    %d/%d processed, %d not yet dequeued\n", r.Processed, r.Meta.RunCount, r.Remaining)
		fmt.Fprintf(out, "Runs:        %d\n", len(r.Runs))
		fmt.Fprintf(out, "Failures:    %d\n", len(r.Failures))
		for _, f := range r.Failures {
			fmt.Fprintf(out, "  [%d] %s %s: %s\n", f.Index, f.Task, f.ErrorCode, f.Error)
		}
		return nil
	},
}

func init() {
	batchCmd.AddCommand(batchInspectCmd)
	rootCmd.AddCommand(batchCmd)
}
