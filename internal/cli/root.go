// Package cli provides the command-line interface for contentgraph.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contentgraph/internal/config"
	"github.com/raphaelgruber/contentgraph/internal/db"
	"github.com/raphaelgruber/contentgraph/internal/embedding"
	"github.com/raphaelgruber/contentgraph/internal/llm"
	"github.com/raphaelgruber/contentgraph/internal/metrics"
	"github.com/raphaelgruber/contentgraph/internal/service"
	"github.com/raphaelgruber/contentgraph/internal/sqlite"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose     bool
	showTimings bool

	// Composition root, set up in PersistentPreRunE
	cfg          config.Config
	logger       *slog.Logger
	closeLog     func() error
	collector    *metrics.Collector
	contentStore *store.Store
	batchTracker *service.BatchTracker
	embedder     *embedding.Client
	summarizer   *llm.Model
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "contentgraph",
	Short: "Versioned content graph with hybrid search and summary pyramids",
	Long: `Contentgraph imports notes and chat exports into a versioned content graph.

Nodes are immutable rows: updates create new versions that share a lineage.
Nodes are searchable by title, full text and embeddings, and long threads
can be condensed into chunk, summary and apex tiers for retrieval.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for help and shell completion
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.HasParent() && cmd.Parent().Name() == "completion" {
			return nil
		}

		cfg = config.Load()
		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)
		collector = metrics.NewCollector()

		backend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		contentStore = store.New(backend, store.WithLogger(logger), store.WithMetrics(collector))
		batchTracker = service.NewBatchTracker(contentStore, logger)
		return nil
	},
}

// openBackend opens the configured storage engine.
func openBackend(ctx context.Context) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		opts := []sqlite.Option{sqlite.WithMkdirAll(), sqlite.WithLogger(logger)}
		if cfg.VectorSearch {
			opts = append(opts, sqlite.WithVectorSearch())
		}
		b, err := sqlite.Open(cfg.SQLitePath, opts...)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return b, nil

	case config.BackendSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := client.InitSchema(ctx, cfg.EmbedDimension); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// getEmbedder lazily creates the embedding client.
func getEmbedder() (*embedding.Client, error) {
	if embedder != nil {
		return embedder, nil
	}
	provider, err := llm.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	embedder = embedding.NewClient(provider, embedding.WithLogger(logger), embedding.WithMetrics(collector))
	return embedder, nil
}

// getSummarizer lazily creates the summarization model.
func getSummarizer() (*llm.Model, error) {
	if summarizer != nil {
		return summarizer, nil
	}
	m, err := llm.NewModel(cfg, collector)
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}
	summarizer = m
	return summarizer, nil
}

func searchService() *service.SearchService {
	// Vector search is optional for text search; a missing provider only
	// matters to "similar".
	e, err := getEmbedder()
	if err != nil {
		logger.Debug("embedder unavailable", "error", err)
	}
	return service.NewSearchService(contentStore, e, logger)
}

func pyramidService() (*service.PyramidService, error) {
	e, err := getEmbedder()
	if err != nil {
		return nil, err
	}
	var sum service.Summarizer
	if m, err := getSummarizer(); err != nil {
		logger.Warn("summarizer unavailable, summaries will be extractive", "error", err)
	} else {
		sum = m
	}
	cfgPyramid := service.DefaultPyramidConfig()
	cfgPyramid.ChunkMaxSize = cfg.ChunkMaxSize
	return service.NewPyramidService(contentStore, e, sum,
		service.WithPyramidConfig(cfgPyramid),
		service.WithPyramidLogger(logger),
		service.WithPyramidMetrics(collector),
	), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	defer shutdown()
	return rootCmd.ExecuteContext(ctx)
}

// shutdown releases what PersistentPreRunE opened. It runs on failed
// commands too, which cobra's post-run hooks skip.
func shutdown() {
	if showTimings && collector != nil {
		printTimings(collector.Snapshot())
	}
	if contentStore != nil {
		if err := contentStore.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
		}
	}
	if closeLog != nil {
		_ = closeLog()
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&showTimings, "timings", false, "print operation timings after the command")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(keywordCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(lineageCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(blobCmd)
	rootCmd.AddCommand(pyramidCmd)
	rootCmd.AddCommand(embeddingsCmd)
	rootCmd.AddCommand(batchesCmd)
	rootCmd.AddCommand(statsCmd)
}
