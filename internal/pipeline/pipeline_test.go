package pipeline

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/collab"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/export"
	apperrors "github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/errors"
)

type fakeCatalog struct {
	ids     []collab.RepositoryID
	err     error
	limit   int
	release chan struct{} // if set, ListRepositories waits for it
}

func (c *fakeCatalog) ListRepositories(ctx context.Context, sortBy string, direction, limit int) ([]collab.RepositoryID, error) {
	c.limit = limit
	if c.release != nil {
		<-c.release
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.ids, nil
}

type fakeSource struct {
	commits map[collab.RepositoryID][]collab.Commit
	fail    map[collab.RepositoryID]error
	block   bool                         // wait for ctx before answering
	hold    map[collab.RepositoryID]bool // like block, for single ids

	mu       sync.Mutex
	calls    map[collab.RepositoryID]int
	released int // held calls that returned
}

func (s *fakeSource) ListCommits(ctx context.Context, repo collab.RepositoryID) ([]collab.Commit, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[collab.RepositoryID]int)
	}
	s.calls[repo]++
	s.mu.Unlock()

	if s.block || s.hold[repo] {
		<-ctx.Done()
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
		return nil, ctx.Err()
	}
	if err, ok := s.fail[repo]; ok {
		return nil, err
	}
	return s.commits[repo], nil
}

func (s *fakeSource) called(repo collab.RepositoryID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[repo] > 0
}

func (s *fakeSource) releasedCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type recordingSink struct {
	name string
	err  error
	runs []*collab.Run
	ctxs []error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(ctx context.Context, run *collab.Run) error {
	s.runs = append(s.runs, run)
	s.ctxs = append(s.ctxs, ctx.Err())
	return s.err
}

type recordingRunObserver struct {
	summaries []collab.Summary
}

func (o *recordingRunObserver) ObserveRun(s collab.Summary) {
	o.summaries = append(o.summaries, s)
}

func commit(authors ...string) collab.Commit {
	c := collab.Commit{}
	for _, a := range authors {
		c.Authors = append(c.Authors, collab.AuthorHandle(a))
	}
	return c
}

func testSource() *fakeSource {
	return &fakeSource{
		commits: map[collab.RepositoryID][]collab.Commit{
			"acme/m1": {commit("alice"), commit("bob")},
			"acme/m2": {commit("alice")},
			"solo/m3": {commit("carol"), commit("carol")},
			"void/m4": nil,
		},
		fail: map[collab.RepositoryID]error{
			"gone/m5": apperrors.NewFetchError("gone/m5", 404, nil),
		},
	}
}

func TestOptions_ResolveLimit(t *testing.T) {
	assert.Equal(t, 25, Options{Limit: 25, TopPercent: 1}.ResolveLimit())
	assert.Equal(t, 15316, Options{TopPercent: 1}.ResolveLimit())
	assert.Equal(t, 5, Options{TopPercent: 50, EstimatedTotal: 10}.ResolveLimit())
	assert.Equal(t, 1, Options{TopPercent: 0.0001, EstimatedTotal: 10}.ResolveLimit())
}

func TestPipeline_Run(t *testing.T) {
	catalog := &fakeCatalog{ids: []collab.RepositoryID{"acme/m1", "acme/m2", "solo/m3", "void/m4", "gone/m5", "acme/m1"}}
	source := testSource()
	sink := &recordingSink{name: "memory"}
	observer := &recordingRunObserver{}

	p := New(catalog, collab.NewFetcher(source, 2), WithSinks(sink), WithRunObserver(observer))
	run, err := p.Run(context.Background(), Options{Kind: "model", Limit: 6})
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, 6, catalog.limit)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "model", run.Kind)
	assert.Equal(t, 5, run.Requested, "duplicate ids are processed once")
	assert.True(t, run.Complete)
	assert.Equal(t, 1, source.calls["acme/m1"])
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	c := run.Graph.Counters()
	assert.Equal(t, 4, c.Processed)
	assert.Equal(t, 3, c.WithCommits)
	assert.Equal(t, 2, c.SoloContributor)

	failures := run.Graph.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, collab.RepositoryID("gone/m5"), failures[0].Repository)

	e, ok := run.Graph.Edge("alice", "bob")
	require.True(t, ok)
	assert.Equal(t, 1, e.Frequency)
	e, ok = run.Graph.Edge("carol", "carol")
	require.True(t, ok)
	assert.Equal(t, 2, e.Frequency)
	e, ok = run.Graph.Edge("alice", "alice")
	require.True(t, ok)
	assert.Equal(t, []string{"acme/m2"}, e.Repositories())

	assert.Equal(t, []collab.Contribution{
		{Repository: "acme/m1", Contributor: "alice", Commits: 1},
		{Repository: "acme/m1", Contributor: "bob", Commits: 1},
		{Repository: "acme/m2", Contributor: "alice", Commits: 1},
		{Repository: "solo/m3", Contributor: "carol", Commits: 2},
	}, run.Graph.Contributions())

	require.Len(t, sink.runs, 1)
	assert.Same(t, run, sink.runs[0])
	assert.Same(t, run, p.Latest())
	require.Len(t, observer.summaries, 1)
	assert.Equal(t, run.ID, observer.summaries[0].RunID)
	assert.False(t, p.Running())
}

func TestPipeline_Run_WritesFiles(t *testing.T) {
	dir := t.TempDir()
	catalog := &fakeCatalog{ids: []collab.RepositoryID{"acme/m1", "solo/m3"}}

	p := New(catalog, collab.NewFetcher(testSource(), 4), WithSinks(export.NewFileSink(dir)))
	_, err := p.Run(context.Background(), Options{Kind: "model", Limit: 2})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, export.EdgeListFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "alice,bob,1")
	assert.Contains(t, string(data), "carol,carol,2")
	assert.FileExists(t, filepath.Join(dir, export.SummaryFile))

	data, err = os.ReadFile(filepath.Join(dir, export.ContributorsFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "solo/m3,carol,2")
}

func TestPipeline_Run_CatalogFailure(t *testing.T) {
	catalog := &fakeCatalog{err: apperrors.NewCatalogFailed("model", stderrors.New("boom"))}
	sink := &recordingSink{name: "memory"}

	p := New(catalog, collab.NewFetcher(testSource(), 2), WithSinks(sink))
	run, err := p.Run(context.Background(), Options{Limit: 10})
	require.Error(t, err)
	assert.Nil(t, run)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeHub))
	assert.Empty(t, sink.runs)
	assert.Nil(t, p.Latest())
}

func TestPipeline_Run_SinkFailuresAreJoined(t *testing.T) {
	catalog := &fakeCatalog{ids: []collab.RepositoryID{"acme/m1"}}
	broken := &recordingSink{name: "broken", err: apperrors.NewExportFailed("out.csv", stderrors.New("disk full"))}
	other := &recordingSink{name: "other", err: stderrors.New("unreachable")}
	ok := &recordingSink{name: "ok"}

	p := New(catalog, collab.NewFetcher(testSource(), 2), WithSinks(broken, other, ok))
	run, err := p.Run(context.Background(), Options{Limit: 1})
	require.Error(t, err)
	require.NotNil(t, run, "a sink failure still returns the run")

	assert.Len(t, ok.runs, 1, "every sink is attempted")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeExport))
	assert.Contains(t, err.Error(), "broken sink")
	assert.Contains(t, err.Error(), "other sink")
	assert.Same(t, run, p.Latest())
}

func TestPipeline_Run_TimeoutWritesPartialGraph(t *testing.T) {
	catalog := &fakeCatalog{ids: []collab.RepositoryID{"acme/m1", "acme/m2"}}
	source := &fakeSource{block: true}
	sink := &recordingSink{name: "memory"}

	p := New(catalog, collab.NewFetcher(source, 2), WithSinks(sink))
	run, err := p.Run(context.Background(), Options{Limit: 2, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.False(t, run.Complete)
	assert.Equal(t, 0, run.Graph.Counters().Processed)
	assert.Len(t, run.Graph.Failures(), 2)
	require.Len(t, sink.runs, 1)
	assert.NoError(t, sink.ctxs[0], "sinks run on a live context after the deadline")
}

func TestPipeline_Run_IncompleteRunKeepsStoredGraph(t *testing.T) {
	dir := t.TempDir()
	ids := []collab.RepositoryID{"acme/m1", "solo/m3"}
	store := &recordingSink{name: "store"}

	good := New(&fakeCatalog{ids: ids}, collab.NewFetcher(testSource(), 2), WithSinks(export.NewFileSink(dir), store))
	first, err := good.Run(context.Background(), Options{Kind: "model", Limit: 2})
	require.NoError(t, err)
	require.True(t, first.Complete)

	edgeList := filepath.Join(dir, export.EdgeListFile)
	before, err := os.ReadFile(edgeList)
	require.NoError(t, err)
	for _, row := range []string{"alice,bob,1", "bob,alice,1", "carol,carol,2"} {
		assert.Contains(t, string(before), row)
	}

	stalled := New(&fakeCatalog{ids: ids}, collab.NewFetcher(&fakeSource{block: true}, 2),
		WithSinks(export.NewFileSink(dir), store))
	second, err := stalled.Run(context.Background(), Options{Kind: "model", Limit: 2, Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	require.False(t, second.Complete)
	assert.Len(t, second.Graph.Failures(), 2)

	after, err := os.ReadFile(edgeList)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "an incomplete run leaves the edge list alone")

	partial, err := os.ReadFile(filepath.Join(dir, export.PartialName(export.EdgeListFile)))
	require.NoError(t, err)
	assert.NotContains(t, string(partial), "alice,bob")

	summary, err := os.ReadFile(filepath.Join(dir, export.SummaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "run_id: "+first.ID)

	require.Len(t, store.runs, 2, "every sink still receives the incomplete run")
	assert.True(t, store.runs[0].Complete)
	assert.False(t, store.runs[1].Complete)
}

func TestPipeline_FoldErrorCancelsFetches(t *testing.T) {
	source := &fakeSource{
		commits: map[collab.RepositoryID][]collab.Commit{"acme/m1": {commit("alice", "bob")}},
		hold:    map[collab.RepositoryID]bool{"held/a": true, "held/b": true},
	}
	p := New(&fakeCatalog{}, collab.NewFetcher(source, 3))
	ids := []collab.RepositoryID{"acme/m1", "held/a", "held/b"}

	violation := apperrors.NewAggregationInvariantViolation("acme/m1", "outcome folded more than once")
	err := p.fetch(context.Background(), ids, func(o collab.Outcome) error {
		require.Equal(t, collab.RepositoryID("acme/m1"), o.Repository)
		require.Eventually(t, func() bool {
			return source.called("held/a") && source.called("held/b")
		}, time.Second, 5*time.Millisecond)
		return violation
	})
	assert.ErrorIs(t, err, violation)

	assert.Eventually(t, func() bool { return source.releasedCalls() == 2 }, time.Second, 5*time.Millisecond,
		"outstanding hub calls are cancelled once the fold fails")
}

func TestPipeline_Run_RejectsConcurrentRun(t *testing.T) {
	catalog := &fakeCatalog{ids: []collab.RepositoryID{"acme/m1"}, release: make(chan struct{})}
	p := New(catalog, collab.NewFetcher(testSource(), 2))

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), Options{Limit: 1})
		done <- err
	}()

	require.Eventually(t, p.Running, time.Second, 5*time.Millisecond)
	_, err := p.Run(context.Background(), Options{Limit: 1})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(catalog.release)
	require.NoError(t, <-done)
	assert.False(t, p.Running())
	assert.NotNil(t, p.Latest())
}

func TestDedupe(t *testing.T) {
	ids := []collab.RepositoryID{"a/x", "b/y", "a/x", "c/z", "b/y"}
	assert.Equal(t, []collab.RepositoryID{"a/x", "b/y", "c/z"}, dedupe(ids))
	assert.Empty(t, dedupe(nil))
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	p := New(&fakeCatalog{}, collab.NewFetcher(testSource(), 1))
	s := NewScheduler(p, "not a schedule", Options{Limit: 1})
	assert.Error(t, s.Start())
}

func TestScheduler_TriggerRunsPipeline(t *testing.T) {
	sink := &recordingSink{name: "memory"}
	p := New(&fakeCatalog{ids: []collab.RepositoryID{"acme/m1"}}, collab.NewFetcher(testSource(), 1), WithSinks(sink))
	s := NewScheduler(p, "@daily", Options{Limit: 1})
	require.NoError(t, s.Start())
	defer s.Stop()

	s.trigger()
	assert.Len(t, sink.runs, 1)
	assert.NotNil(t, p.Latest())
}

func TestPipeline_Start(t *testing.T) {
	catalog := &fakeCatalog{ids: []collab.RepositoryID{"acme/m1"}, release: make(chan struct{})}
	p := New(catalog, collab.NewFetcher(testSource(), 2))

	results := make(chan *collab.Run, 1)
	require.NoError(t, p.Start(context.Background(), Options{Limit: 1}, func(run *collab.Run, err error) {
		assert.NoError(t, err)
		results <- run
	}))
	assert.True(t, p.Running(), "the run is reserved before Start returns")
	assert.ErrorIs(t, p.Start(context.Background(), Options{Limit: 1}, nil), ErrRunInProgress)

	close(catalog.release)
	run := <-results
	require.NotNil(t, run)
	assert.Equal(t, 1, run.Graph.Counters().Processed)
	p.Wait()
	assert.False(t, p.Running())
}
