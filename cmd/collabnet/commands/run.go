package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/collab"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/report"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/config"
)

func newRunCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Collect the collaboration graph once and print the report",
		Long: `Lists the top repositories, fetches their commit histories, aggregates
the collaboration graph and writes it to every configured sink.

SIGINT or SIGTERM stops fetching; repositories still outstanding are
reported as failures and the partial graph is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, cmd, cfg())
		},
	}
}

func runOnce(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.pipeline.Run(ctx, runOptions(cfg))
	if run == nil {
		return err
	}
	if err != nil {
		// the report is still worth printing when only a sink failed
		a.log.Error("Run finished with sink errors", zap.Error(err))
	}

	if rerr := report.Render(cmd.OutOrStdout(), cfg.RepoKind, collab.Summarize(run)); rerr != nil {
		a.log.Error("Failed to render report", zap.Error(rerr))
	}
	return err
}
