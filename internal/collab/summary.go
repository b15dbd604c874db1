package collab

import "time"

// Ratio returns n/d, or 0 when there is nothing to divide by
func Ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Run is a finished (or abandoned) collection run handed to sinks.
// Complete is false when the run context ended before every repository
// was processed; such a run must not replace a complete one.
type Run struct {
	ID         string
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time
	Requested  int
	Complete   bool
	Graph      *Graph
}

// Summary holds the counters of a run plus the derived ratios
type Summary struct {
	RunID            string    `json:"run_id" yaml:"run_id"`
	StartedAt        time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt       time.Time `json:"finished_at" yaml:"finished_at"`
	Requested        int       `json:"requested" yaml:"requested"`
	Complete         bool      `json:"complete" yaml:"complete"`
	Counters         `yaml:",inline"`
	ZeroCommits      int       `json:"zero_commits" yaml:"zero_commits"`
	WithCommitsRatio float64   `json:"with_commits_ratio" yaml:"with_commits_ratio"`
	ZeroCommitsRatio float64   `json:"zero_commits_ratio" yaml:"zero_commits_ratio"`
	SoloRatio        float64   `json:"solo_ratio" yaml:"solo_ratio"`
	Edges            int       `json:"edges" yaml:"edges"`
	Authors          int       `json:"authors" yaml:"authors"`
	Contributors     int       `json:"contributors" yaml:"contributors"`
	Contributions    int       `json:"contributions" yaml:"contributions"`
	Failures         []Failure `json:"failures" yaml:"failures"`
}

// Summarize computes the report figures of a run. The solo share is taken
// over repositories that had commits.
func Summarize(run *Run) Summary {
	c := run.Graph.Counters()
	zero := c.Processed - c.WithCommits
	return Summary{
		RunID:            run.ID,
		StartedAt:        run.StartedAt,
		FinishedAt:       run.FinishedAt,
		Requested:        run.Requested,
		Complete:         run.Complete,
		Counters:         c,
		ZeroCommits:      zero,
		WithCommitsRatio: Ratio(c.WithCommits, c.Processed),
		ZeroCommitsRatio: Ratio(zero, c.Processed),
		SoloRatio:        Ratio(c.SoloContributor, c.WithCommits),
		Edges:            run.Graph.Len(),
		Authors:          len(run.Graph.Authors()),
		Contributors:     run.Graph.Contributors(),
		Contributions:    len(run.Graph.Contributions()),
		Failures:         run.Graph.Failures(),
	}
}
