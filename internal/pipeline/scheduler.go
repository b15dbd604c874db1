package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/logger"
)

// Scheduler triggers pipeline runs on a cron schedule
type Scheduler struct {
	pipeline *Pipeline
	opts     Options
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for the given cron expression
func NewScheduler(p *Pipeline, schedule string, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pipeline: p,
		opts:     opts,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.Named("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers the job and starts the scheduler
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.trigger); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop cancels a scheduled run in flight and waits for it to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) trigger() {
	_, err := s.pipeline.Run(s.ctx, s.opts)
	switch {
	case stderrors.Is(err, ErrRunInProgress):
		s.logger.Info("Skipping scheduled run, another run is active")
	case err != nil:
		s.logger.Error("Scheduled run failed", zap.Error(err))
	}
}
