package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contentgraph/internal/metrics"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Long: `Show node counts per source type, embedding coverage and backend capabilities.

Examples:
  contentgraph stats
  contentgraph stats --timings`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var owner []store.Predicate
	if cfg.Owner != "" {
		owner = append(owner, store.OwnedBy(cfg.Owner))
	}

	current, err := contentStore.CountNodes(ctx, owner)
	if err != nil {
		return err
	}
	rows, err := contentStore.QueryNodes(ctx, store.NodeQuery{Owner: cfg.Owner, AllVersions: true})
	if err != nil {
		return err
	}
	bySource := map[string]int{}
	var order []string
	for _, n := range rows {
		if _, ok := bySource[n.Source.Type]; !ok {
			order = append(order, n.Source.Type)
		}
		bySource[n.Source.Type]++
	}

	fmt.Printf("Backend: %s\n", cfg.Backend)
	fmt.Printf("Vector search: %v\n\n", contentStore.Capabilities().Vector)
	fmt.Printf("Nodes:\n")
	fmt.Printf("  Current versions:    %d\n", current)
	fmt.Printf("  Rows (all versions): %d\n", len(rows))
	for _, src := range order {
		fmt.Printf("    %-18s %d\n", src, bySource[src])
	}

	embedded, err := contentStore.EmbeddedNodes(ctx)
	if err != nil {
		return err
	}
	pending, err := contentStore.NodesNeedingEmbedding(ctx, 0)
	if err != nil {
		return err
	}
	fmt.Printf("\nEmbeddings:\n")
	fmt.Printf("  Embedded: %d\n", len(embedded))
	fmt.Printf("  Missing or stale: %d\n", len(pending))

	batches, err := contentStore.ListBatches(ctx, 0)
	if err != nil {
		return err
	}
	fmt.Printf("\nImport batches: %d\n", len(batches))
	return nil
}

// printTimings prints the collected operation statistics to stderr.
func printTimings(snap metrics.Snapshot) {
	if len(snap.Operations) == 0 {
		return
	}
	w := os.Stderr
	fmt.Fprintf(w, "\nTimings (%.1fs):\n", snap.UptimeSeconds)
	for _, op := range snap.Operations {
		fmt.Fprintf(w, "  %s:\n", op.Name)
		fmt.Fprintf(w, "    Calls: %d, Errors: %d, Total: %dms\n", op.Count, op.Errors, op.TotalTimeMs)
		fmt.Fprintf(w, "    Time: avg %.1fms, min %dms, max %dms\n", op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
		if op.TotalInputTokens != nil && op.TotalOutputTokens != nil {
			fmt.Fprintf(w, "    Tokens: in=%d, out=%d\n", *op.TotalInputTokens, *op.TotalOutputTokens)
		}
	}
}
