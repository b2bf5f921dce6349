package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runledger/runledger/pkg/stores"
)

func newListCommand() *cobra.Command {
	var (
		pipeline string
		tag      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		Long: `List recorded runs, optionally filtered by pipeline name or by an
exact tag key/value match. Filters are equality-only; at most one filter
may be given per invocation.`,
		Example: `  # All runs
  runledger list

  # Runs of one pipeline
  runledger list --pipeline nightly_etl

  # Runs carrying a tag
  runledger list --tag team=data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if pipeline != "" && tag != "" {
				return fmt.Errorf("--pipeline and --tag are mutually exclusive")
			}

			inst, _, err := openInstance(ctx)
			if err != nil {
				return err
			}
			defer inst.Close(ctx)

			var runs []*stores.Run
			switch {
			case pipeline != "":
				runs, err = inst.AllRunsForPipeline(ctx, pipeline)
			case tag != "":
				parsed, perr := parseTags([]string{tag})
				if perr != nil {
					return perr
				}
				for key, value := range parsed {
					runs, err = inst.AllRunsForTag(ctx, key, value)
				}
			default:
				runs, err = inst.AllRuns(ctx)
			}
			if err != nil {
				return err
			}

			return printRuns(cmd, runs)
		},
	}

	cmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "filter by exact pipeline name")
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "filter by exact tag as key=value")

	return cmd
}

// printRuns writes a run listing to stdout, honoring the --json flag.
func printRuns(cmd *cobra.Command, runs []*stores.Run) error {
	if jsonOutput {
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out := cmd.OutOrStdout()
	for _, run := range runs {
		fmt.Fprintf(out, "%s  %s  %s\n", run.RunID, run.PipelineName, run.Status)
	}
	fmt.Fprintf(out, "%d run(s)\n", len(runs))
	return nil
}
