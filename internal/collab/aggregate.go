package collab

import (
	"fmt"
	"sort"

	apperrors "github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/errors"
)

// Graph is the aggregated, deduplicated collaboration graph of a run
type Graph struct {
	edges         map[EdgeKey]*AggregatedEdge
	contributions []Contribution
	counters      Counters
	failures      []Failure
}

func newGraph() *Graph {
	return &Graph{edges: make(map[EdgeKey]*AggregatedEdge)}
}

// Counters returns the run counters
func (g *Graph) Counters() Counters { return g.counters }

// Len returns the number of distinct (source, target) edges
func (g *Graph) Len() int { return len(g.edges) }

// Edge looks up the aggregated edge for a pair of authors
func (g *Graph) Edge(source, target AuthorHandle) (*AggregatedEdge, bool) {
	e, ok := g.edges[EdgeKey{Source: source, Target: target}]
	return e, ok
}

// Edges returns every edge ordered by source, then target
func (g *Graph) Edges() []*AggregatedEdge {
	out := make([]*AggregatedEdge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Authors returns the distinct author handles appearing on any edge, sorted
func (g *Graph) Authors() []AuthorHandle {
	seen := make(map[AuthorHandle]struct{})
	for k := range g.edges {
		seen[k.Source] = struct{}{}
		seen[k.Target] = struct{}{}
	}
	out := make([]AuthorHandle, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contributions returns the per-repository commit counts ordered by
// repository, then contributor
func (g *Graph) Contributions() []Contribution {
	out := make([]Contribution, len(g.contributions))
	copy(out, g.contributions)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Repository != out[j].Repository {
			return out[i].Repository < out[j].Repository
		}
		return out[i].Contributor < out[j].Contributor
	})
	return out
}

// Contributors returns the number of distinct authors with at least one commit
func (g *Graph) Contributors() int {
	seen := make(map[AuthorHandle]struct{})
	for _, c := range g.contributions {
		seen[c.Contributor] = struct{}{}
	}
	return len(seen)
}

// Failures returns the failed repositories ordered by identifier
func (g *Graph) Failures() []Failure {
	out := make([]Failure, len(g.failures))
	copy(out, g.failures)
	sort.Slice(out, func(i, j int) bool { return out[i].Repository < out[j].Repository })
	return out
}

// Aggregator folds outcomes into a Graph. It is not safe for concurrent use;
// a single consumer owns it for the whole run.
type Aggregator struct {
	graph *Graph
	seen  map[RepositoryID]struct{}
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		graph: newGraph(),
		seen:  make(map[RepositoryID]struct{}),
	}
}

// Graph returns the graph folded so far
func (a *Aggregator) Graph() *Graph {
	return a.graph
}

// Fold adds one outcome to the graph. An outcome that breaks the model is
// rejected whole and reported as an AggregationInvariantViolation.
func (a *Aggregator) Fold(o Outcome) error {
	if err := a.check(o); err != nil {
		return err
	}
	a.seen[o.Repository] = struct{}{}

	if o.Failed() {
		a.graph.failures = append(a.graph.failures, Failure{Repository: o.Repository, Reason: o.Reason()})
		return nil
	}

	a.graph.counters.Processed++
	if o.HadCommits {
		a.graph.counters.WithCommits++
	}
	if o.SoloContributor {
		a.graph.counters.SoloContributor++
	}

	for _, occ := range o.Edges {
		key := EdgeKey{Source: occ.Source, Target: occ.Target}
		edge, ok := a.graph.edges[key]
		if !ok {
			edge = newAggregatedEdge(key)
			a.graph.edges[key] = edge
		}
		edge.add(occ.Repository)
	}
	for author, n := range o.Contributions {
		a.graph.contributions = append(a.graph.contributions, Contribution{
			Repository:  o.Repository,
			Contributor: author,
			Commits:     n,
		})
	}
	return nil
}

func (a *Aggregator) check(o Outcome) error {
	repo := string(o.Repository)
	if _, dup := a.seen[o.Repository]; dup {
		return apperrors.NewAggregationInvariantViolation(repo, "outcome folded more than once")
	}
	if o.Failed() {
		if len(o.Edges) > 0 {
			return apperrors.NewAggregationInvariantViolation(repo, "failed outcome carries edges")
		}
		if len(o.Contributions) > 0 {
			return apperrors.NewAggregationInvariantViolation(repo, "failed outcome carries contributions")
		}
		return nil
	}
	for author, n := range o.Contributions {
		if n <= 0 {
			return apperrors.NewAggregationInvariantViolation(repo,
				fmt.Sprintf("non-positive commit count %d for %s", n, author))
		}
	}
	for i, occ := range o.Edges {
		if occ.Repository != o.Repository {
			return apperrors.NewAggregationInvariantViolation(repo,
				fmt.Sprintf("edge %d references repository %s", i, occ.Repository))
		}
		if occ.Source == occ.Target && !o.SoloContributor {
			return apperrors.NewAggregationInvariantViolation(repo,
				fmt.Sprintf("self-loop for %s outside a solo repository", occ.Source))
		}
	}
	return nil
}

// Aggregate folds a complete set of outcomes. The result does not depend on
// the order of outcomes.
func Aggregate(outcomes []Outcome) (*Graph, error) {
	agg := NewAggregator()
	for _, o := range outcomes {
		if err := agg.Fold(o); err != nil {
			return nil, err
		}
	}
	return agg.Graph(), nil
}
