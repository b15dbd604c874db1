package collab

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/errors"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/logger"
)

// DefaultConcurrency is the number of in-flight commit-history calls
const DefaultConcurrency = 10

// CommitSource returns the ordered commit list of a repository
type CommitSource interface {
	ListCommits(ctx context.Context, repo RepositoryID) ([]Commit, error)
}

// Observer is notified once per finished repository
type Observer interface {
	ObserveOutcome(o Outcome)
}

// Fetcher processes repositories concurrently and turns every call into an Outcome
type Fetcher struct {
	source      CommitSource
	concurrency int
	retry       RetryPolicy
	observer    Observer
	logger      *zap.Logger
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithRetryPolicy swaps the failure policy (NoRetry by default)
func WithRetryPolicy(p RetryPolicy) Option {
	return func(f *Fetcher) {
		if p != nil {
			f.retry = p
		}
	}
}

// WithObserver registers an observer for finished repositories
func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observer = o }
}

// NewFetcher creates a fetcher; a non-positive concurrency falls back to DefaultConcurrency
func NewFetcher(source CommitSource, concurrency int, opts ...Option) *Fetcher {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	f := &Fetcher{
		source:      source,
		concurrency: concurrency,
		retry:       NoRetry{},
		logger:      logger.Named("fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Stream starts one task per repository and returns the channel their outcomes
// arrive on, in completion order. The channel is closed once every task has
// returned. It is buffered for all ids, so a consumer that stops reading never
// blocks a task.
func (f *Fetcher) Stream(ctx context.Context, ids []RepositoryID) <-chan Outcome {
	out := make(chan Outcome, len(ids))

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(f.concurrency)
		for _, id := range ids {
			if ctx.Err() != nil {
				out <- cancelled(ctx, id)
				continue
			}
			id := id
			g.Go(func() error {
				out <- f.process(ctx, id)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}

// Fetch processes every id and returns one outcome per id. If ctx ends first,
// ids still outstanding are returned as failures.
func (f *Fetcher) Fetch(ctx context.Context, ids []RepositoryID) []Outcome {
	outcomes := make([]Outcome, 0, len(ids))
	_ = Collect(ctx, ids, f.Stream(ctx, ids), func(o Outcome) error {
		outcomes = append(outcomes, o)
		return nil
	})
	return outcomes
}

func (f *Fetcher) process(ctx context.Context, id RepositoryID) (o Outcome) {
	start := time.Now()
	o = Outcome{Repository: id}

	defer func() {
		if r := recover(); r != nil {
			o = Outcome{Repository: id, Err: apperrors.NewFetchError(string(id), 0, fmt.Errorf("panic: %v", r))}
		}
		o.Duration = time.Since(start)
		if o.Failed() {
			f.logger.Warn("Repository failed",
				zap.String("repository", string(id)),
				zap.Int("attempts", o.Attempts),
				zap.Error(o.Err),
			)
		}
		if f.observer != nil {
			f.observer.ObserveOutcome(o)
		}
	}()

	if ctx.Err() != nil {
		return cancelled(ctx, id)
	}

	var commits []Commit
	attempts, err := f.retry.Do(ctx, func(ctx context.Context) error {
		c, err := f.source.ListCommits(ctx, id)
		if err != nil {
			return err
		}
		commits = c
		return nil
	})
	o.Attempts = attempts
	if err != nil {
		o.Err = asFetchError(id, err)
		return o
	}

	ex := Extract(id, commits)
	o.Edges = ex.Edges
	o.HadCommits = ex.HadCommits
	o.SoloContributor = ex.SoloContributor
	o.Contributions = ex.Contributions
	return o
}

// Collect feeds outcomes to fn until the channel is drained or ctx ends. On
// cancellation, outcomes already delivered are still consumed and every id
// without an outcome is passed to fn as a failure. An error from fn stops
// collection and is returned.
func Collect(ctx context.Context, ids []RepositoryID, outcomes <-chan Outcome, fn func(Outcome) error) error {
	pending := make(map[RepositoryID]int, len(ids))
	for _, id := range ids {
		pending[id]++
	}
	deliver := func(o Outcome) error {
		if pending[o.Repository] > 0 {
			pending[o.Repository]--
		}
		return fn(o)
	}

	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				return nil
			}
			if err := deliver(o); err != nil {
				return err
			}
		case <-ctx.Done():
			// take whatever already finished, then give up on the rest
			for drained := false; !drained; {
				select {
				case o, ok := <-outcomes:
					if !ok {
						drained = true
						break
					}
					if err := deliver(o); err != nil {
						return err
					}
				default:
					drained = true
				}
			}
			for _, id := range ids {
				if pending[id] == 0 {
					continue
				}
				pending[id]--
				if err := fn(cancelled(ctx, id)); err != nil {
					return err
				}
			}
			return nil
		}
	}
}

func cancelled(ctx context.Context, id RepositoryID) Outcome {
	return Outcome{
		Repository: id,
		Err:        apperrors.NewContextCancelled(fmt.Sprintf("run ended before %s completed", id), ctx.Err()),
	}
}

func asFetchError(id RepositoryID, err error) error {
	var fetchErr *apperrors.FetchError
	if stderrors.As(err, &fetchErr) {
		return err
	}
	return apperrors.NewFetchError(string(id), 0, err)
}
