package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/collab"
)

// maximum reason width before it is wrapped in the failure table
const reasonWidth = 80

// Percent formats a ratio as a percentage with two decimals
func Percent(ratio float64) string {
	return fmt.Sprintf("%.2f%%", ratio*100)
}

// Render writes the key facts of a run, followed by the failed repositories
func Render(w io.Writer, kind string, s collab.Summary) error {
	if kind == "" {
		kind = "model"
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Format.Footer = text.FormatDefault
	tbl.SetTitle("Key Facts")
	tbl.AppendHeader(table.Row{"Metric", "Repositories", "Share"})
	tbl.AppendRows([]table.Row{
		{"Requested", humanize.Comma(int64(s.Requested)), ""},
		{fmt.Sprintf("Public %s repositories processed", kind), humanize.Comma(int64(s.Processed)), ""},
		{"With commits", humanize.Comma(int64(s.WithCommits)), Percent(s.WithCommitsRatio)},
		{"With zero commits", humanize.Comma(int64(s.ZeroCommits)), Percent(s.ZeroCommitsRatio)},
		{"With only one contributor", humanize.Comma(int64(s.SoloContributor)), Percent(s.SoloRatio)},
		{"Failed", humanize.Comma(int64(len(s.Failures))), ""},
		{"Contributor records", humanize.Comma(int64(s.Contributions)), ""},
	})
	tbl.AppendFooter(table.Row{
		"Graph",
		fmt.Sprintf("%s edges", humanize.Comma(int64(s.Edges))),
		fmt.Sprintf("%s authors", humanize.Comma(int64(s.Authors))),
	})
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	tbl.Render()

	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		if _, err := fmt.Fprintf(w, "Run %s finished in %s\n", s.RunID, s.FinishedAt.Sub(s.StartedAt).Round(time.Second)); err != nil {
			return err
		}
	}

	if !s.Complete {
		if _, err := fmt.Fprintln(w, "Run ended early, results are partial"); err != nil {
			return err
		}
	}

	if len(s.Failures) == 0 {
		return nil
	}

	failures := table.NewWriter()
	failures.SetOutputMirror(w)
	failures.SetStyle(table.StyleLight)
	failures.SetTitle("Failed Repositories")
	failures.AppendHeader(table.Row{"Repository", "Reason"})
	for _, f := range s.Failures {
		failures.AppendRow(table.Row{f.Repository, f.Reason})
	}
	failures.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: reasonWidth},
	})
	failures.Render()
	return nil
}
