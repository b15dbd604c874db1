package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/api"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/pipeline"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/config"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	var noSchedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API and collect on a schedule",
		Long: `Starts the HTTP API (health, Prometheus metrics, run control and edge
queries) and triggers a run on COLLAB_SCHEDULE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			c := cfg()
			if noSchedule {
				c.Schedule = ""
			}
			return serve(ctx, c)
		},
	}
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "only run when triggered over the API")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	// runs outlive the request that started them, but not the process
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	routerCfg := api.Config{
		Runner:     a.pipeline,
		Options:    runOptions(cfg),
		RunContext: runCtx,
		Metrics:    a.metrics.Handler(),
		Logger:     log,
		Release:    cfg.IsProduction(),
	}
	if a.graphRepo != nil {
		routerCfg.Edges = a.graphRepo
	}

	var scheduler *pipeline.Scheduler
	if cfg.Schedule != "" {
		scheduler = pipeline.NewScheduler(a.pipeline, cfg.Schedule, runOptions(cfg))
		if err := scheduler.Start(); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(routerCfg),
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error("Failed to start server", zap.Error(err))
			if scheduler != nil {
				scheduler.Stop()
			}
			return err
		}
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	cancelRuns()
	// an API-triggered run writes its partial graph before we exit
	a.pipeline.Wait()

	log.Info("Server exited")
	return nil
}
