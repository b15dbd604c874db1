package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/graph"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/config"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/logger"
)

func newGraphCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Query or reset the Neo4j collaboration graph",
	}
	cmd.AddCommand(newCollaboratorsCmd(cfg))
	cmd.AddCommand(newResetCmd(cfg))
	return cmd
}

func newCollaboratorsCmd(cfg func() *config.Config) *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "collaborators <handle>",
		Short: "List the stored collaborators of an author, heaviest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := openGraph(ctx, cfg())
			if err != nil {
				return err
			}
			defer repo.Close()

			edges, err := repo.Collaborators(ctx, args[0], top)
			if err != nil {
				return err
			}
			renderCollaborators(cmd.OutOrStdout(), args[0], edges)
			return nil
		},
	}
	cmd.Flags().IntVarP(&top, "top", "n", 20, "number of collaborators to show")
	return cmd
}

func newResetCmd(cfg func() *config.Config) *cobra.Command {
	var skipConfirm bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every author, edge and run from Neo4j",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logger.Get()
			if !skipConfirm && !confirm(cmd.InOrStdin(), cmd.OutOrStdout()) {
				log.Info("Aborted.")
				return nil
			}

			ctx := cmd.Context()
			repo, err := openGraph(ctx, cfg())
			if err != nil {
				return err
			}
			defer repo.Close()

			deleted, err := repo.Reset(ctx)
			if err != nil {
				return err
			}
			if err := repo.EnsureSchema(ctx); err != nil {
				return err
			}
			log.Info("Graph reset", zap.Int("deleted_nodes", deleted))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// openGraph connects with the NEO4J_* settings whether or not the sink is enabled
func openGraph(ctx context.Context, cfg *config.Config) (*graph.Repository, error) {
	driver, err := graph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return nil, err
	}
	return graph.NewRepository(driver), nil
}

func confirm(in io.Reader, out io.Writer) bool {
	_, _ = fmt.Fprintln(out, "This will DELETE the collaboration graph from Neo4j. It cannot be undone.")
	_, _ = fmt.Fprint(out, "Are you sure you want to continue? (yes/no): ")
	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "yes" || response == "y"
}

func renderCollaborators(w io.Writer, handle string, edges []graph.EdgeRecord) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(fmt.Sprintf("Collaborators of %s", handle))
	tbl.AppendHeader(table.Row{"Target", "Frequency", "Repositories"})
	for _, e := range edges {
		tbl.AppendRow(table.Row{e.Target, humanize.Comma(int64(e.Frequency)), strings.Join(e.Repositories, ", ")})
	}
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, WidthMax: 80},
	})
	tbl.Render()
}
