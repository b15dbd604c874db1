package collab

import (
	"sort"
	"strings"
	"time"
)

// RepositoryID names one hub repository as "owner/name"
type RepositoryID string

// Split separates the owner from the name at the first "/".
// An id without a separator is all owner.
func (r RepositoryID) Split() (owner, name string) {
	owner, name, _ = strings.Cut(string(r), "/")
	return owner, name
}

// AuthorHandle identifies a commit author. Literal equality is identity.
type AuthorHandle string

// Commit is one recorded change; Authors[0] is the primary author
type Commit struct {
	ID      string
	Authors []AuthorHandle
}

// EdgeOccurrence is a single directed collaboration observation in one repository
type EdgeOccurrence struct {
	Source     AuthorHandle
	Target     AuthorHandle
	Repository RepositoryID
}

// Outcome is the immutable result of processing one repository.
// Err == nil marks a success.
type Outcome struct {
	Repository      RepositoryID
	Edges           []EdgeOccurrence
	HadCommits      bool
	SoloContributor bool
	Contributions   map[AuthorHandle]int
	Err             error
	Attempts        int
	Duration        time.Duration
}

// Failed reports whether the repository could not be processed
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Reason is the stringified cause of a failed outcome
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// EdgeKey identifies an aggregated edge
type EdgeKey struct {
	Source AuthorHandle
	Target AuthorHandle
}

// AggregatedEdge is the weighted reduction of every occurrence sharing a key
type AggregatedEdge struct {
	Source       AuthorHandle
	Target       AuthorHandle
	Frequency    int
	repositories map[string]struct{}
	owners       map[string]struct{}
	names        map[string]struct{}
}

func newAggregatedEdge(key EdgeKey) *AggregatedEdge {
	return &AggregatedEdge{
		Source:       key.Source,
		Target:       key.Target,
		repositories: make(map[string]struct{}),
		owners:       make(map[string]struct{}),
		names:        make(map[string]struct{}),
	}
}

func (e *AggregatedEdge) add(repo RepositoryID) {
	owner, name := repo.Split()
	e.Frequency++
	e.repositories[string(repo)] = struct{}{}
	// root-level ids have no name segment
	if owner != "" {
		e.owners[owner] = struct{}{}
	}
	if name != "" {
		e.names[name] = struct{}{}
	}
}

// Repositories returns the distinct repositories, sorted
func (e *AggregatedEdge) Repositories() []string { return sortedKeys(e.repositories) }

// Owners returns the distinct owner segments, sorted
func (e *AggregatedEdge) Owners() []string { return sortedKeys(e.owners) }

// Names returns the distinct name segments, sorted
func (e *AggregatedEdge) Names() []string { return sortedKeys(e.names) }

// HasRepository reports whether repo contributed to this edge
func (e *AggregatedEdge) HasRepository(repo RepositoryID) bool {
	_, ok := e.repositories[string(repo)]
	return ok
}

// Counters are the run-level tallies produced by the fold
type Counters struct {
	Processed       int `json:"processed" yaml:"processed"`
	WithCommits     int `json:"with_commits" yaml:"with_commits"`
	SoloContributor int `json:"solo_contributor" yaml:"solo_contributor"`
}

// Contribution is the commit count of one author in one repository
type Contribution struct {
	Repository  RepositoryID `json:"repository" yaml:"repository"`
	Contributor AuthorHandle `json:"contributor" yaml:"contributor"`
	Commits     int          `json:"commit_count" yaml:"commit_count"`
}

// Failure records a repository that contributed nothing to the graph
type Failure struct {
	Repository RepositoryID `json:"repository" yaml:"repository"`
	Reason     string       `json:"reason" yaml:"reason"`
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
