package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contentgraph/internal/embedding"
	"github.com/raphaelgruber/contentgraph/internal/service"
)

var (
	backfillLimit     int
	backfillGroupSize int
	pruneExecute      bool
)

var embeddingsCmd = &cobra.Command{
	Use:   "embeddings",
	Short: "Maintain node embeddings",
}

var embeddingsBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed nodes whose embedding is missing or stale",
	Long: `Embed current node versions that have no embedding or whose embedding
was computed from older content.

Examples:
  contentgraph embeddings backfill
  contentgraph embeddings backfill --limit 500 --group-size 16`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

var embeddingsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove embeddings of low-value nodes",
	Long: `Flag embedded nodes that match a junk rule (tool output, tracebacks,
very short messages, raw JSON, ...) and report them per rule.

Nothing is deleted unless --execute is given. Nodes are never deleted,
only their embeddings.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	embeddingsBackfillCmd.Flags().IntVarP(&backfillLimit, "limit", "n", 0, "max nodes to embed (0 for all)")
	embeddingsBackfillCmd.Flags().IntVar(&backfillGroupSize, "group-size", 32, "texts per provider request")
	embeddingsPruneCmd.Flags().BoolVar(&pruneExecute, "execute", false, "delete the flagged embeddings")

	embeddingsCmd.AddCommand(embeddingsBackfillCmd)
	embeddingsCmd.AddCommand(embeddingsPruneCmd)
}

func embeddingService() (*service.EmbeddingService, error) {
	e, err := getEmbedder()
	if err != nil {
		return nil, err
	}
	return service.NewEmbeddingService(contentStore, e, logger), nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	svc, err := embeddingService()
	if err != nil {
		return err
	}
	return runWithProgress(cmd.Context(), "embed", "nodes", func(ctx context.Context, report reportFunc) ([]string, error) {
		res, err := svc.Backfill(ctx, service.BackfillOptions{
			Limit:      backfillLimit,
			GroupSize:  backfillGroupSize,
			OnProgress: func(p embedding.Progress) { report(p.Done, p.Total) },
		})
		if err != nil {
			return nil, fmt.Errorf("backfill: %w", err)
		}
		lines := []string{
			fmt.Sprintf("Candidates: %d", res.Candidates),
			fmt.Sprintf("Embedded:   %d", res.Embedded),
			fmt.Sprintf("Failed:     %d", res.Failed),
		}
		for _, e := range res.Errors {
			lines = append(lines, "• "+e)
		}
		return lines, nil
	})
}

func runPrune(cmd *cobra.Command, args []string) error {
	svc, err := embeddingService()
	if err != nil {
		return err
	}
	res, err := svc.Prune(cmd.Context(), service.PruneOptions{Execute: pruneExecute})
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	fmt.Printf("Scanned: %d embedded nodes\n", res.Scanned)
	fmt.Printf("Flagged: %d\n", res.Flagged)
	rules := make([]string, 0, len(res.ByRule))
	for r := range res.ByRule {
		rules = append(rules, r)
	}
	sort.Strings(rules)
	for _, r := range rules {
		fmt.Printf("  %-18s %d\n", r, res.ByRule[r])
	}

	if !pruneExecute {
		if res.Flagged > 0 {
			fmt.Println(defaultTheme.hintStyle().Render("\nPreview only. Re-run with --execute to delete."))
		}
		return nil
	}
	fmt.Printf("Deleted: %d embeddings\n", res.Deleted)
	return nil
}
