package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/collab"
	apperrors "github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/errors"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/logger"
)

const (
	// EdgeListFile is the aggregated edge list
	EdgeListFile = "hf-edgelist-contributors-with-models.csv"
	// ContributorsFile holds per-repository commit counts
	ContributorsFile = "hf-contributors-with-models.csv"
	// SummaryFile holds counters, ratios and failures of the run
	SummaryFile = "run-summary.yaml"
)

var (
	// EdgeListHeader is the column layout of the edge list
	EdgeListHeader = []string{"source", "target", "freq", "models_contributed_to", "owners", "model_names"}
	// ContributorsHeader is the column layout of the contributors file
	ContributorsHeader = []string{"modelId", "contributor", "commit_count"}
)

// PartialName returns the file name an incomplete run writes instead of file
func PartialName(file string) string {
	ext := filepath.Ext(file)
	return strings.TrimSuffix(file, ext) + ".partial" + ext
}

// FileSink writes run results into a directory
type FileSink struct {
	dir    string
	logger *zap.Logger
}

// NewFileSink creates a sink writing into dir, created on first write
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, logger: logger.Named("export")}
}

// Name identifies the sink in logs
func (s *FileSink) Name() string { return "file" }

// Write stores the edge list, the contributor counts and the run summary.
// An incomplete run goes to the partial file names and leaves the files of
// the last complete run untouched.
func (s *FileSink) Write(ctx context.Context, run *collab.Run) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperrors.NewExportFailed(s.dir, err)
	}

	name := func(file string) string {
		if run.Complete {
			return filepath.Join(s.dir, file)
		}
		return filepath.Join(s.dir, PartialName(file))
	}

	edgePath := name(EdgeListFile)
	if err := writeAtomically(edgePath, func(w io.Writer) error { return WriteEdgeList(w, run.Graph) }); err != nil {
		return apperrors.NewExportFailed(edgePath, err)
	}

	contributorsPath := name(ContributorsFile)
	if err := writeAtomically(contributorsPath, func(w io.Writer) error { return WriteContributors(w, run.Graph) }); err != nil {
		return apperrors.NewExportFailed(contributorsPath, err)
	}

	summaryPath := name(SummaryFile)
	if err := writeAtomically(summaryPath, func(w io.Writer) error { return WriteSummary(w, collab.Summarize(run)) }); err != nil {
		return apperrors.NewExportFailed(summaryPath, err)
	}

	log := s.logger.Info
	if !run.Complete {
		log = s.logger.Warn
	}
	log("Saved enriched commit data",
		zap.String("edge_list", edgePath),
		zap.String("contributors", contributorsPath),
		zap.String("summary", summaryPath),
		zap.Int("edges", run.Graph.Len()),
		zap.Bool("complete", run.Complete),
	)
	return nil
}

// WriteEdgeList writes one CSV row per aggregated edge. Set-valued columns are
// JSON arrays, sorted, so identical graphs produce identical bytes.
func WriteEdgeList(w io.Writer, g *collab.Graph) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EdgeListHeader); err != nil {
		return err
	}
	for _, e := range g.Edges() {
		repos, err := json.Marshal(e.Repositories())
		if err != nil {
			return err
		}
		owners, err := json.Marshal(e.Owners())
		if err != nil {
			return err
		}
		names, err := json.Marshal(e.Names())
		if err != nil {
			return err
		}
		row := []string{
			string(e.Source),
			string(e.Target),
			strconv.Itoa(e.Frequency),
			string(repos),
			string(owners),
			string(names),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteContributors writes one CSV row per repository and contributor
func WriteContributors(w io.Writer, g *collab.Graph) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ContributorsHeader); err != nil {
		return err
	}
	for _, c := range g.Contributions() {
		if err := cw.Write([]string{string(c.Repository), string(c.Contributor), strconv.Itoa(c.Commits)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummary writes the run summary as YAML
func WriteSummary(w io.Writer, s collab.Summary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return enc.Close()
}

// writeAtomically writes into a temp file and renames it over path, so a
// reader never sees a half-written file
func writeAtomically(path string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
