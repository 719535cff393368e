package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/runqueue/workerqueue"
)

var routeFile string

var routeCmd = &cobra.Command{
	Use:   "route [message-json]",
	Short: "Resolve the worker queue for a dispatch message",
	Long: "Resolve the worker queue for a dispatch message. The message is read " +
		"from the argument, from --file, or from stdin.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readMessage(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		var msg workerqueue.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}

		r, err := cfg.resolver()
		if err != nil {
			return err
		}
		queue := r.Resolve(&msg)

		out := cmd.OutOrStdout()
		if outputJSON {
			return json.NewEncoder(out).Encode(map[string]string{"worker_queue": queue})
		}
		fmt.Fprintln(out, queue)
		return nil
	},
}

func readMessage(stdin io.Reader, args []string) ([]byte, error) {
	switch {
	case len(args) == 1:
		return []byte(args[0]), nil
	case routeFile != "":
		return os.ReadFile(routeFile)
	default:
		return io.ReadAll(stdin)
	}
}

func init() {
	routeCmd.Flags().StringVar(&routeFile, "file", "", "Read the message from a file")
	rootCmd.AddCommand(routeCmd)
}
