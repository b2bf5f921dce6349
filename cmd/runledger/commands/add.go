package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/runledger/runledger/pkg/stores"
)

func newAddCommand() *cobra.Command {
	var (
		runID    string
		mode     string
		tags     []string
		steps    []string
		selector string
		envCfg   string
	)

	cmd := &cobra.Command{
		Use:   "add <pipeline-name>",
		Short: "Record a new run for a pipeline",
		Args:  cobra.ExactArgs(1),
		Example: `  # Record a run with a generated id
  runledger add nightly_etl

  # Record a run with tags and an explicit id
  runledger add nightly_etl --run-id run-001 --tag team=data --tag priority=high

  # Restrict the run to a subset of steps
  runledger add nightly_etl --step load.compute --step transform.compute`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			inst, _, err := openInstance(ctx)
			if err != nil {
				return err
			}
			defer inst.Close(ctx)

			if runID == "" {
				runID = uuid.New().String()
			}

			run := stores.NewRun(runID, args[0])
			if mode != "" {
				run.Mode = mode
			}
			run.StepKeysToExecute = steps
			if selector != "" {
				run.Selector = json.RawMessage(selector)
			}
			if envCfg != "" {
				run.EnvironmentConfig = json.RawMessage(envCfg)
			}

			parsed, err := parseTags(tags)
			if err != nil {
				return err
			}
			run.Tags = parsed

			if err := inst.AddRun(ctx, run); err != nil {
				return err
			}

			return printRun(cmd, run)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run id (generated when omitted)")
	cmd.Flags().StringVar(&mode, "mode", "", "execution mode (default \"default\")")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tag as key=value (repeatable)")
	cmd.Flags().StringSliceVar(&steps, "step", nil, "restrict execution to a step key (repeatable)")
	cmd.Flags().StringVar(&selector, "selector", "", "opaque execution-target descriptor (JSON)")
	cmd.Flags().StringVar(&envCfg, "env-config", "", "opaque environment config (JSON)")

	return cmd
}

// parseTags converts repeated key=value flags to a tag map.
func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid tag %q (expected key=value)", pair)
		}
		tags[key] = value
	}
	return tags, nil
}
