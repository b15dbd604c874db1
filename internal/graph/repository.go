package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/collab"
	apperrors "github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/errors"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/logger"
)

// edges written per transaction
const batchSize = 1000

// Repository handles all Neo4j database operations
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Named("neo4j"),
	}
}

// Connect opens a driver and verifies the server is reachable
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, apperrors.NewGraphConnectionFailed(uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewGraphConnectionFailed(uri, err)
	}
	return driver, nil
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// Name identifies the sink in logs
func (r *Repository) Name() string { return "neo4j" }

// EnsureSchema creates the uniqueness constraints the writes rely on
func (r *Repository) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, query := range []string{
		`CREATE CONSTRAINT author_handle IF NOT EXISTS FOR (a:Author) REQUIRE a.handle IS UNIQUE`,
		`CREATE CONSTRAINT run_id IF NOT EXISTS FOR (r:Run) REQUIRE r.id IS UNIQUE`,
	} {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return apperrors.NewGraphQueryFailed(query, err)
		}
	}
	return nil
}

// Write stores the aggregated graph of a run. Collaboration edges carry the
// values of this run. Edges not seen in a complete run are removed; an
// incomplete run only upserts, so it never shrinks the stored graph.
func (r *Repository) Write(ctx context.Context, run *collab.Run) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	now := time.Now().UTC().Format(time.RFC3339)
	for _, st := range writeStatements(run, now) {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			result, err := tx.Run(ctx, st.query, st.params)
			if err != nil {
				return nil, err
			}
			return result.Consume(ctx)
		})
		if err != nil {
			return apperrors.NewGraphQueryFailed(st.name, err)
		}
		r.logger.Debug("Statement written", zap.String("run_id", run.ID), zap.String("statement", st.name))
	}

	if !run.Complete {
		r.logger.Warn("Incomplete run, stale edges kept", zap.String("run_id", run.ID))
	}
	r.logger.Info("Collaboration graph stored",
		zap.String("run_id", run.ID),
		zap.Int("edges", run.Graph.Len()),
		zap.Bool("complete", run.Complete),
	)
	return nil
}

// statement is one write transaction
type statement struct {
	name   string
	query  string
	params map[string]interface{}
}

// writeStatements lists the transactions storing a run, in order: edge
// batches, the prune of stale edges for a complete run, then the Run node.
func writeStatements(run *collab.Run, now string) []statement {
	var out []statement
	edges := edgeParams(run.Graph)
	for start := 0; start < len(edges); start += batchSize {
		end := start + batchSize
		if end > len(edges) {
			end = len(edges)
		}
		out = append(out, statement{
			name:  fmt.Sprintf("upsert collaboration edges %d-%d", start, end),
			query: upsertEdgesQuery,
			params: map[string]interface{}{
				"edges": edges[start:end],
				"runID": run.ID,
				"now":   now,
			},
		})
	}
	if run.Complete {
		out = append(out, statement{
			name:   "prune stale edges",
			query:  pruneEdgesQuery,
			params: map[string]interface{}{"runID": run.ID},
		})
	}
	return append(out, runStatement(run))
}

const upsertEdgesQuery = `
	UNWIND $edges AS e
	MERGE (s:Author {handle: e.source})
	MERGE (t:Author {handle: e.target})
	MERGE (s)-[c:COLLABORATED_WITH]->(t)
	SET c.frequency = e.frequency,
	    c.repositories = e.repositories,
	    c.owners = e.owners,
	    c.names = e.names,
	    c.run_id = $runID,
	    c.updated_at = datetime($now)
`

const pruneEdgesQuery = `
	MATCH (:Author)-[c:COLLABORATED_WITH]->(:Author)
	WHERE c.run_id <> $runID
	DELETE c
`

const recordRunQuery = `
	MERGE (r:Run {id: $id})
	SET r.kind = $kind,
	    r.started_at = datetime($startedAt),
	    r.finished_at = datetime($finishedAt),
	    r.complete = $complete,
	    r.requested = $requested,
	    r.processed = $processed,
	    r.with_commits = $withCommits,
	    r.solo_contributor = $solo,
	    r.edges = $edges,
	    r.failed_repositories = $failed,
	    r.failure_reasons = $reasons
`

func runStatement(run *collab.Run) statement {
	summary := collab.Summarize(run)
	failed := make([]string, 0, len(summary.Failures))
	reasons := make([]string, 0, len(summary.Failures))
	for _, f := range summary.Failures {
		failed = append(failed, string(f.Repository))
		reasons = append(reasons, f.Reason)
	}
	return statement{
		name:  "record run",
		query: recordRunQuery,
		params: map[string]interface{}{
			"id":          run.ID,
			"kind":        run.Kind,
			"startedAt":   run.StartedAt.UTC().Format(time.RFC3339),
			"finishedAt":  run.FinishedAt.UTC().Format(time.RFC3339),
			"complete":    run.Complete,
			"requested":   run.Requested,
			"processed":   summary.Processed,
			"withCommits": summary.WithCommits,
			"solo":        summary.SoloContributor,
			"edges":       summary.Edges,
			"failed":      failed,
			"reasons":     reasons,
		},
	}
}

// Collaborators returns the stored outgoing edges of an author, heaviest first
func (r *Repository) Collaborators(ctx context.Context, handle string, limit int) ([]EdgeRecord, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (s:Author {handle: $handle})-[c:COLLABORATED_WITH]->(t:Author)
		RETURN s.handle AS source,
		       t.handle AS target,
		       c.frequency AS frequency,
		       c.repositories AS repositories,
		       c.owners AS owners,
		       c.names AS names
		ORDER BY c.frequency DESC, t.handle
		LIMIT $limit
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"handle": handle,
		"limit":  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	var edges []EdgeRecord
	for result.Next(ctx) {
		edges = append(edges, edgeFromRecord(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	if len(edges) == 0 {
		return nil, ErrAuthorNotFound{Handle: handle}
	}
	return edges, nil
}

// Reset deletes every author, collaboration edge and run node. It returns the
// number of nodes removed.
func (r *Repository) Reset(ctx context.Context) (int, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (n)
		WHERE n:Author OR n:Run
		WITH n LIMIT $batch
		DETACH DELETE n
		RETURN count(*) AS deleted
	`
	total := 0
	for {
		deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			result, err := tx.Run(ctx, query, map[string]interface{}{"batch": batchSize})
			if err != nil {
				return nil, err
			}
			record, err := result.Single(ctx)
			if err != nil {
				return nil, err
			}
			return recordInt(record, "deleted"), nil
		})
		if err != nil {
			return total, apperrors.NewGraphQueryFailed("reset graph", err)
		}
		n := deleted.(int)
		total += n
		if n < batchSize {
			break
		}
	}

	r.logger.Info("Graph reset", zap.Int("deleted_nodes", total))
	return total, nil
}

// edgeParams flattens the graph into Cypher parameters, in graph order
func edgeParams(g *collab.Graph) []interface{} {
	edges := g.Edges()
	params := make([]interface{}, 0, len(edges))
	for _, e := range edges {
		params = append(params, map[string]interface{}{
			"source":       string(e.Source),
			"target":       string(e.Target),
			"frequency":    e.Frequency,
			"repositories": e.Repositories(),
			"owners":       e.Owners(),
			"names":        e.Names(),
		})
	}
	return params
}

// Errors

type ErrAuthorNotFound struct {
	Handle string
}

func (e ErrAuthorNotFound) Error() string {
	return fmt.Sprintf("author not found: %s", e.Handle)
}
