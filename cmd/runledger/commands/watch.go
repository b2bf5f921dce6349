package commands

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/runledger/runledger/pkg/stores"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the store and print runs as they are recorded",
		Long: `Watch the storage directory for database changes and print newly
recorded runs as other processes add them. Only the durable backend can be
watched; the in-memory backend is scoped to a single process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if ephemeral {
				return fmt.Errorf("the in-memory backend cannot be watched")
			}

			inst, cfg, err := openInstance(ctx)
			if err != nil {
				return err
			}
			defer inst.Close(ctx)

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			if err := watcher.Add(cfg.DataDir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", cfg.DataDir, err)
			}

			seen := make(map[string]bool)
			printNew := func() error {
				runs, err := inst.AllRuns(ctx)
				if err != nil {
					return err
				}
				for _, run := range runs {
					if !seen[run.RunID] {
						seen[run.RunID] = true
						fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", run.RunID, run.PipelineName, run.Status)
					}
				}
				return nil
			}

			// Seed with the current contents before tailing changes.
			if err := printNew(); err != nil {
				return err
			}
			log.Info().Str("dir", cfg.DataDir).Msg("Watching for new runs")

			for {
				select {
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if !strings.Contains(event.Name, stores.DatabaseFile) {
						continue
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
						continue
					}
					if err := printNew(); err != nil {
						return err
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("Watcher error")
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	return cmd
}
