package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/runledger/runledger/pkg/instance"
	"github.com/runledger/runledger/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	dataDir    string
	ephemeral  bool
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "runledger",
		Short: "RunLedger - Pipeline Run Metadata Store",
		Long: `RunLedger records one entry per execution of a named pipeline and lets
you retrieve, enumerate, filter, and reset those records.

Two interchangeable backends are available:
  - An ephemeral in-memory store scoped to the process
  - A durable embedded SQLite store rooted at a data directory

Filtering supports exact matches on pipeline name and on tag key/value
pairs.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "storage directory (default ~/.runledger)")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "use the in-memory backend")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newAddCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newWipeCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

// fileConfig is the YAML shape of the optional config file.
type fileConfig struct {
	DataDir string `yaml:"data_dir"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// loadConfig merges the config file (when present) with flag overrides and
// defaults. Flags win over file values.
func loadConfig() (*fileConfig, error) {
	cfg := &fileConfig{}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".runledger")
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "warn"
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	return cfg, nil
}

// openInstance builds a facade according to the global flags: ephemeral or
// rooted at the configured data directory.
func openInstance(ctx context.Context) (*instance.Instance, *fileConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.Logging.Level = cfg.Logging.Level
	telCfg.Logging.Format = cfg.Logging.Format
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, nil, err
	}

	if ephemeral {
		inst, err := instance.Ephemeral(instance.WithTelemetry(tel))
		return inst, cfg, err
	}

	inst, err := instance.Local(ctx, cfg.DataDir, instance.WithTelemetry(tel))
	return inst, cfg, err
}
