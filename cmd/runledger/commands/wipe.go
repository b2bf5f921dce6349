package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWipeCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Remove every recorded run",
		Long: `Remove every recorded run from the store. The operation is atomic with
respect to concurrent reads and idempotent on an empty store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if !yes {
				return fmt.Errorf("refusing to wipe without --yes")
			}

			inst, _, err := openInstance(ctx)
			if err != nil {
				return err
			}
			defer inst.Close(ctx)

			if err := inst.Wipe(ctx); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "All runs removed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")

	return cmd
}
