package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/collab"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/graph"
	"github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/internal/pipeline"
)

const (
	defaultEdgeLimit = 100
	maxEdgeLimit     = 10000
)

// Runner starts collection runs and exposes the latest result
type Runner interface {
	Start(ctx context.Context, opts pipeline.Options, done func(*collab.Run, error)) error
	Running() bool
	Latest() *collab.Run
}

// EdgeStore answers collaborator queries from the graph database
type EdgeStore interface {
	Collaborators(ctx context.Context, handle string, limit int) ([]graph.EdgeRecord, error)
}

// Config holds the dependencies of the HTTP API
type Config struct {
	Runner  Runner
	Options pipeline.Options
	// RunContext parents every run started over HTTP; runs outlive their request
	RunContext context.Context
	Metrics    http.Handler
	Edges      EdgeStore // nil when Neo4j is disabled
	Logger     *zap.Logger
	Release    bool
}

// NewRouter builds the gin engine serving the control API
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.RunContext == nil {
		cfg.RunContext = context.Background()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"running": cfg.Runner.Running(),
		})
	})

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	api := router.Group("/api")
	{
		// Trigger a run
		api.POST("/runs", func(c *gin.Context) {
			var req struct {
				Limit      int     `json:"limit" binding:"omitempty,min=1"`
				TopPercent float64 `json:"top_percent" binding:"omitempty,gt=0,lte=100"`
			}
			if c.Request.ContentLength > 0 {
				if err := c.ShouldBindJSON(&req); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
			}

			opts := cfg.Options
			if req.Limit > 0 {
				opts.Limit = req.Limit
			}
			if req.TopPercent > 0 {
				opts.Limit = 0
				opts.TopPercent = req.TopPercent
			}

			err := cfg.Runner.Start(cfg.RunContext, opts, nil)
			if stderrors.Is(err, pipeline.ErrRunInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				log.Error("Failed to start run", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start run"})
				return
			}

			c.JSON(http.StatusAccepted, gin.H{
				"status": "started",
				"limit":  opts.ResolveLimit(),
			})
		})

		// Summary of the latest run
		api.GET("/runs/latest", func(c *gin.Context) {
			run := cfg.Runner.Latest()
			if run == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "No run has finished yet"})
				return
			}
			c.JSON(http.StatusOK, collab.Summarize(run))
		})

		// Heaviest edges of the latest run
		api.GET("/edges", func(c *gin.Context) {
			limit, err := parseLimit(c.Query("limit"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			run := cfg.Runner.Latest()
			if run == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "No run has finished yet"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"run_id": run.ID,
				"total":  run.Graph.Len(),
				"edges":  heaviestEdges(run.Graph, limit),
			})
		})

		// Stored collaborators of one author
		api.GET("/authors/:handle/edges", func(c *gin.Context) {
			if cfg.Edges == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Graph store is disabled"})
				return
			}
			limit, err := parseLimit(c.Query("limit"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			handle := c.Param("handle")
			edges, err := cfg.Edges.Collaborators(c.Request.Context(), handle, limit)
			if err != nil {
				if _, ok := err.(graph.ErrAuthorNotFound); ok {
					c.JSON(http.StatusNotFound, gin.H{"error": "Author not found"})
					return
				}
				log.Error("Failed to fetch collaborators", zap.String("handle", handle), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch collaborators"})
				return
			}

			c.JSON(http.StatusOK, gin.H{"handle": handle, "edges": edges})
		})
	}

	return router
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultEdgeLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, stderrors.New("limit must be a positive integer")
	}
	if n > maxEdgeLimit {
		n = maxEdgeLimit
	}
	return n, nil
}

// heaviestEdges returns up to limit edges, highest frequency first
func heaviestEdges(g *collab.Graph, limit int) []graph.EdgeRecord {
	edges := g.Edges()
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Frequency > edges[j].Frequency
	})
	if len(edges) > limit {
		edges = edges[:limit]
	}
	out := make([]graph.EdgeRecord, 0, len(edges))
	for _, e := range edges {
		out = append(out, graph.EdgeRecord{
			Source:       string(e.Source),
			Target:       string(e.Target),
			Frequency:    e.Frequency,
			Repositories: e.Repositories(),
			Owners:       e.Owners(),
			Names:        e.Names(),
		})
	}
	return out
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
