package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runledger/runledger/pkg/stores"
)

func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Fetch a recorded run by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			inst, _, err := openInstance(ctx)
			if err != nil {
				return err
			}
			defer inst.Close(ctx)

			run, err := inst.GetRun(ctx, args[0])
			if err != nil {
				return err
			}

			return printRun(cmd, run)
		},
	}

	return cmd
}

// printRun writes one run to stdout, honoring the --json flag.
func printRun(cmd *cobra.Command, run *stores.Run) error {
	if jsonOutput {
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:      %s\n", run.RunID)
	fmt.Fprintf(out, "Pipeline: %s\n", run.PipelineName)
	fmt.Fprintf(out, "Mode:     %s\n", run.Mode)
	fmt.Fprintf(out, "Status:   %s\n", run.Status)
	if len(run.StepKeysToExecute) > 0 {
		fmt.Fprintf(out, "Steps:    %v\n", run.StepKeysToExecute)
	}
	for key, value := range run.Tags {
		fmt.Fprintf(out, "Tag:      %s=%s\n", key, value)
	}
	return nil
}
