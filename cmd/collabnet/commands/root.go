// Package commands implements the collabnet CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/config"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/logger"
)

// Version is set at build time with -ldflags "-X .../commands.Version=..."
var Version = "0.0.0-dev"

// globalFlags override configuration loaded from the environment
type globalFlags struct {
	limit       int
	topPercent  float64
	concurrency int
	outputDir   string
	kind        string
	retry       string
}

// NewRootCmd constructs the collabnet root command
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	var cfg *config.Config

	cmd := &cobra.Command{
		Use:   "collabnet",
		Short: "Build contributor collaboration graphs from hub commit histories",
		Long: `collabnet lists the most popular repositories of the model hub, reads
their commit histories concurrently and aggregates who worked with whom
into a weighted, directed collaboration graph.

Commands:
  run       Collect once and print the report
  serve     Run the control API and collect on a schedule
  graph     Query or reset the Neo4j collaboration graph`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.IntVar(&flags.limit, "limit", 0, "number of repositories to process (overrides HF_LIMIT)")
	pf.Float64Var(&flags.topPercent, "top-percent", 0, "share of the estimated catalog to process (overrides HF_TOP_PERCENT)")
	pf.IntVarP(&flags.concurrency, "concurrency", "c", 0, "in-flight commit history requests (overrides COLLAB_CONCURRENCY)")
	pf.StringVarP(&flags.outputDir, "output-dir", "o", "", "directory for the edge list and summary (overrides COLLAB_OUTPUT_DIR)")
	pf.StringVar(&flags.kind, "kind", "", "repository kind: model, space or dataset (overrides HF_REPO_KIND)")
	pf.StringVar(&flags.retry, "retry", "", "retry policy: none, fixed or backoff (overrides COLLAB_RETRY_POLICY)")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		if c.Name() == "version" {
			return nil
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if err := flags.apply(loaded); err != nil {
			return err
		}
		if err := logger.Init(loaded.Env, loaded.LogFile); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	}

	loadedConfig := func() *config.Config { return cfg }

	cmd.AddCommand(newRunCmd(loadedConfig))
	cmd.AddCommand(newServeCmd(loadedConfig))
	cmd.AddCommand(newGraphCmd(loadedConfig))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of collabnet",
		Run: func(c *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(c.OutOrStdout(), "collabnet version %s\n", Version)
		},
	})

	return cmd
}

// apply copies explicitly set flags onto cfg and revalidates it
func (f *globalFlags) apply(cfg *config.Config) error {
	if f.topPercent > 0 {
		cfg.Limit = 0
		cfg.TopPercent = f.topPercent
	}
	if f.limit > 0 {
		cfg.Limit = f.limit
	}
	if f.concurrency != 0 {
		cfg.Concurrency = f.concurrency
	}
	if f.outputDir != "" {
		cfg.OutputDir = f.outputDir
	}
	if f.kind != "" {
		cfg.RepoKind = f.kind
	}
	if f.retry != "" {
		cfg.RetryPolicy = f.retry
	}
	return cfg.Validate()
}
