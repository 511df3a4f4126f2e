package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contentgraph/internal/models"
)

var batchesLimit int

var batchesCmd = &cobra.Command{
	Use:   "batches [batch-id]",
	Short: "List import batches or show one",
	Long: `List recent import batches or show details of a specific batch.

Examples:
  contentgraph batches              # List recent batches
  contentgraph batches b_abc123     # Show batch details`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBatches,
}

func init() {
	batchesCmd.Flags().IntVarP(&batchesLimit, "limit", "n", 20, "max batches to list")
}

func runBatches(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return showBatch(cmd, args[0])
	}

	batches, err := batchTracker.List(cmd.Context(), batchesLimit)
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}
	if len(batches) == 0 {
		fmt.Println("No import batches found.")
		return nil
	}

	fmt.Printf("%-24s %-14s %-10s %-8s %-8s %-20s\n", "ID", "SOURCE", "STATUS", "NODES", "SKIPPED", "STARTED")
	fmt.Println(strings.Repeat("-", 88))
	for _, b := range batches {
		fmt.Printf("%-24s %-14s %-10s %-8d %-8d %-20s\n",
			b.ID, b.SourceType, statusText(b.Status), b.Counts.Nodes, b.Counts.Skipped,
			b.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showBatch(cmd *cobra.Command, id string) error {
	b, err := batchTracker.Get(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("get batch: %w", err)
	}
	if b == nil {
		return fmt.Errorf("batch not found: %s", id)
	}

	fmt.Printf("Batch: %s\n", b.ID)
	fmt.Printf("Source: %s %s\n", b.SourceType, b.SourcePath)
	fmt.Printf("Status: %s\n", statusText(b.Status))
	fmt.Printf("Started: %s\n", b.StartedAt.Format("2006-01-02 15:04:05"))
	if b.CompletedAt != nil {
		fmt.Printf("Completed: %s (%s)\n", b.CompletedAt.Format("2006-01-02 15:04:05"), b.CompletedAt.Sub(b.StartedAt).Round(1e6))
	}
	fmt.Printf("\nNodes created: %d\n", b.Counts.Nodes)
	fmt.Printf("Skipped:       %d\n", b.Counts.Skipped)
	fmt.Printf("Links created: %d\n", b.Counts.Links)
	if b.Counts.Errors > 0 {
		fmt.Printf("Errors:        %d\n", b.Counts.Errors)
	}
	if b.Error != "" {
		fmt.Println(defaultTheme.errorStyle().Render("\nError: " + b.Error))
	}
	return nil
}

func statusText(s models.BatchStatus) string {
	switch s {
	case models.BatchCompleted:
		return defaultTheme.completedStyle().Render(string(s))
	case models.BatchFailed:
		return defaultTheme.errorStyle().Render(string(s))
	case models.BatchRunning:
		return defaultTheme.statusStyle().Render(string(s))
	}
	return string(s)
}
