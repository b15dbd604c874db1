package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/collab"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/hub"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/logger"
)

// ErrRunInProgress is returned when a run is requested while another one is active
var ErrRunInProgress = stderrors.New("a collection run is already in progress")

// Catalog lists the repositories a run should process
type Catalog interface {
	ListRepositories(ctx context.Context, sortBy string, direction, limit int) ([]collab.RepositoryID, error)
}

// Sink persists the result of a run
type Sink interface {
	Name() string
	Write(ctx context.Context, run *collab.Run) error
}

// RunObserver is notified with the summary of every finished run
type RunObserver interface {
	ObserveRun(s collab.Summary)
}

// Options selects the repositories of a run
type Options struct {
	Kind           string
	SortBy         string
	Direction      int
	Limit          int     // explicit limit; 0 derives it from TopPercent
	TopPercent     float64
	EstimatedTotal int
	Timeout        time.Duration // 0 disables the run deadline
}

// ResolveLimit returns the number of repositories to request
func (o Options) ResolveLimit() int {
	if o.Limit > 0 {
		return o.Limit
	}
	total := o.EstimatedTotal
	if total <= 0 {
		total = hub.EstimatedTotalModels
	}
	return hub.SelectTopPercent(total, o.TopPercent)
}

// Pipeline runs catalog → fetch → aggregate → sinks and remembers the latest run
type Pipeline struct {
	catalog  Catalog
	fetcher  *collab.Fetcher
	sinks    []Sink
	observer RunObserver
	logger   *zap.Logger

	// sinkTimeout bounds sink writes once the run context is gone
	sinkTimeout time.Duration

	mu      sync.Mutex
	running bool
	latest  *collab.Run
	active  sync.WaitGroup
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithSinks adds result sinks, written in order
func WithSinks(sinks ...Sink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

// WithRunObserver registers an observer for finished runs
func WithRunObserver(o RunObserver) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithSinkTimeout overrides how long sinks may take after the run ended
func WithSinkTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.sinkTimeout = d }
}

// New creates a pipeline
func New(catalog Catalog, fetcher *collab.Fetcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		catalog:     catalog,
		fetcher:     fetcher,
		logger:      logger.Named("pipeline"),
		sinkTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Running reports whether a run is active
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Wait blocks until no run is active
func (p *Pipeline) Wait() {
	p.active.Wait()
}

// Latest returns the last finished run, or nil
func (p *Pipeline) Latest() *collab.Run {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Run performs one collection run. A cancelled or expired ctx still yields a
// run: repositories that did not finish are recorded as failures and the
// partial graph is handed to every sink with Complete unset, so sinks keep
// the result of the last complete run. The returned error joins all sink
// failures; a catalog failure or a broken fold returns no run.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*collab.Run, error) {
	if !p.begin() {
		return nil, ErrRunInProgress
	}
	defer p.end()
	return p.run(ctx, opts)
}

// Start launches a run in the background and returns once it is reserved.
// done, if not nil, receives the result.
func (p *Pipeline) Start(ctx context.Context, opts Options, done func(*collab.Run, error)) error {
	if !p.begin() {
		return ErrRunInProgress
	}
	go func() {
		defer p.end()
		run, err := p.run(ctx, opts)
		if err != nil {
			p.logger.Error("Background run failed", zap.Error(err))
		}
		if done != nil {
			done(run, err)
		}
	}()
	return nil
}

func (p *Pipeline) run(ctx context.Context, opts Options) (*collab.Run, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	run := &collab.Run{
		ID:        uuid.NewString(),
		Kind:      opts.Kind,
		StartedAt: time.Now().UTC(),
	}
	log := p.logger.With(zap.String("run_id", run.ID))

	limit := opts.ResolveLimit()
	log.Info("Listing repositories",
		zap.String("kind", opts.Kind),
		zap.String("sort", opts.SortBy),
		zap.Int("limit", limit),
	)
	listed, err := p.catalog.ListRepositories(ctx, opts.SortBy, opts.Direction, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	ids := dedupe(listed)
	if dropped := len(listed) - len(ids); dropped > 0 {
		log.Warn("Dropped duplicate repositories", zap.Int("duplicates", dropped))
	}
	run.Requested = len(ids)
	log.Info("Fetching commit histories", zap.Int("repositories", len(ids)))

	agg := collab.NewAggregator()
	folded := 0
	err = p.fetch(ctx, ids, func(o collab.Outcome) error {
		if err := agg.Fold(o); err != nil {
			return err
		}
		folded++
		if folded%100 == 0 || folded == len(ids) {
			log.Info("Progress", zap.Int("done", folded), zap.Int("total", len(ids)))
		}
		return nil
	})
	if err != nil {
		log.Error("Aggregation aborted", zap.Error(err))
		return nil, err
	}
	run.Complete = ctx.Err() == nil
	if !run.Complete {
		log.Warn("Run ended early, writing partial graph", zap.Error(ctx.Err()))
	}

	run.Graph = agg.Graph()
	run.FinishedAt = time.Now().UTC()

	summary := collab.Summarize(run)
	log.Info("Run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("with_commits", summary.WithCommits),
		zap.Int("solo_contributor", summary.SoloContributor),
		zap.Int("failures", len(summary.Failures)),
		zap.Int("edges", summary.Edges),
		zap.Bool("complete", run.Complete),
		zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
	)

	sinkErr := p.writeSinks(ctx, run)

	p.mu.Lock()
	p.latest = run
	p.mu.Unlock()
	if p.observer != nil {
		p.observer.ObserveRun(summary)
	}

	return run, sinkErr
}

// fetch streams the outcomes of ids into fold. A fold error cancels the
// outstanding hub calls before it is returned.
func (p *Pipeline) fetch(ctx context.Context, ids []collab.RepositoryID, fold func(collab.Outcome) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	return collab.Collect(ctx, ids, p.fetcher.Stream(ctx, ids), func(o collab.Outcome) error {
		if err := fold(o); err != nil {
			cancel()
			return err
		}
		return nil
	})
}

func (p *Pipeline) writeSinks(ctx context.Context, run *collab.Run) error {
	// sinks still get the partial graph after a cancelled run
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.sinkTimeout)
	defer cancel()

	var errs []error
	for _, s := range p.sinks {
		if err := s.Write(ctx, run); err != nil {
			p.logger.Error("Sink failed",
				zap.String("sink", s.Name()),
				zap.String("run_id", run.ID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
			continue
		}
		p.logger.Info("Sink written", zap.String("sink", s.Name()), zap.String("run_id", run.ID))
	}
	return stderrors.Join(errs...)
}

func (p *Pipeline) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	p.active.Add(1)
	return true
}

func (p *Pipeline) end() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.active.Done()
}

func dedupe(ids []collab.RepositoryID) []collab.RepositoryID {
	seen := make(map[collab.RepositoryID]struct{}, len(ids))
	out := make([]collab.RepositoryID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
