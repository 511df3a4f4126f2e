package cli

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/service"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

var (
	pyramidSources     []string
	pyramidConcurrency int
	pyramidOutput      string
	pyramidThread      string
	pyramidLimit       int
)

var pyramidCmd = &cobra.Command{
	Use:   "pyramid",
	Short: "Build and search summary pyramids over long threads",
	Long: `A pyramid condenses a thread into three tiers: chunks (L0), summaries
over runs of chunks (L1) and a single apex synthesis. Every tier is embedded
so a query can match detail or gist.`,
}

var pyramidBuildCmd = &cobra.Command{
	Use:   "build [node-id...]",
	Short: "Build pyramids for nodes",
	Long: `Build pyramids for the given nodes, or for every current node of the
given source types. Rebuilding a node replaces its previous pyramid.

Examples:
  contentgraph pyramid build n_123
  contentgraph pyramid build --source chat --concurrency 2`,
	RunE: runPyramidBuild,
}

var pyramidShowCmd = &cobra.Command{
	Use:   "show <node-id>",
	Short: "Show the pyramid of a node",
	Args:  cobra.ExactArgs(1),
	RunE:  runPyramidShow,
}

var pyramidSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search every pyramid tier",
	Args:  cobra.ExactArgs(1),
	RunE:  runPyramidSearch,
}

func init() {
	pyramidBuildCmd.Flags().StringSliceVarP(&pyramidSources, "source", "s", nil, "build every node of these source types")
	pyramidBuildCmd.Flags().IntVarP(&pyramidConcurrency, "concurrency", "c", 2, "parallel builds")
	pyramidShowCmd.Flags().StringVarP(&pyramidOutput, "output", "o", outputText, "output format: text, json or yaml")
	pyramidSearchCmd.Flags().StringVar(&pyramidThread, "thread", "", "only this node's pyramid")
	pyramidSearchCmd.Flags().IntVarP(&pyramidLimit, "limit", "n", 10, "max results")

	pyramidCmd.AddCommand(pyramidBuildCmd)
	pyramidCmd.AddCommand(pyramidShowCmd)
	pyramidCmd.AddCommand(pyramidSearchCmd)
}

func runPyramidBuild(cmd *cobra.Command, args []string) error {
	ids := append([]string{}, args...)
	if len(pyramidSources) > 0 {
		nodes, err := contentStore.QueryNodes(cmd.Context(), store.NodeQuery{SourceTypes: pyramidSources, Owner: cfg.Owner})
		if err != nil {
			return err
		}
		for _, n := range nodes {
			ids = append(ids, n.ID)
		}
	}
	if len(ids) == 0 {
		return errors.New("nothing to build: pass node ids or --source")
	}

	svc, err := pyramidService()
	if err != nil {
		return err
	}
	return runWithProgress(cmd.Context(), "pyramid", "threads", func(ctx context.Context, report reportFunc) ([]string, error) {
		var done atomic.Int32
		res := svc.BuildAll(ctx, ids, service.BuildAllOptions{
			Concurrency: pyramidConcurrency,
			OnDone: func(string, *service.BuildResult, error) {
				report(int(done.Add(1)), len(ids))
			},
		})
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines := []string{
			fmt.Sprintf("Built:     %d", res.Built),
			fmt.Sprintf("Degraded:  %d", res.Degraded),
			fmt.Sprintf("Failed:    %d", res.Failed),
		}
		for _, e := range res.Errors {
			lines = append(lines, "• "+e)
		}
		return lines, nil
	})
}

// threadID maps a node id to the lineage root its pyramid is stored under.
func threadID(ctx context.Context, id string) (string, error) {
	n, err := contentStore.GetNode(ctx, id)
	if err != nil {
		return "", err
	}
	if n == nil {
		return id, nil
	}
	return n.Version.RootID, nil
}

func runPyramidShow(cmd *cobra.Command, args []string) error {
	tid, err := threadID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	p, err := contentStore.GetPyramid(cmd.Context(), tid)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("no pyramid for %s (run 'contentgraph pyramid build %s')", args[0], args[0])
	}
	if pyramidOutput != outputText {
		return printStructured(pyramidOutput, stripEmbeddings(p))
	}

	fmt.Printf("Thread:  %s\n", p.ThreadID)
	fmt.Printf("Depth:   %d\n", p.Depth)
	fmt.Printf("Built:   %s\n\n", p.BuiltAt.Format("2006-01-02 15:04:05"))
	if p.Apex != nil {
		fmt.Printf("Apex (%d words, %.1fx):\n  %s\n\n", p.Apex.WordCount, p.Apex.CompressionRatio, p.Apex.Text)
	}
	if len(p.Summaries) > 0 {
		fmt.Printf("Summaries (%d):\n", len(p.Summaries))
		for _, s := range p.Summaries {
			mark := ""
			if s.Extractive {
				mark = " extractive"
			}
			fmt.Printf("  [%d] %s (%.1fx%s)\n", s.Seq, preview(s.Text, 100), s.CompressionRatio, mark)
		}
		fmt.Println()
	}
	if h, err := service.Highlights(p, 2); err == nil && h.Representative >= 0 {
		fmt.Printf("Representative chunk: [%d]\n", h.Representative)
		for _, o := range h.Outliers {
			fmt.Printf("Outlying chunk:       [%d] (distance %.3f)\n", o.Index, o.Score)
		}
		fmt.Println()
	}
	fmt.Printf("Chunks (%d):\n", len(p.Chunks))
	for _, c := range p.Chunks {
		fmt.Printf("  [%d] %d words, %s boundary: %s\n", c.Seq, c.WordCount, c.Boundary, preview(c.Text, 60))
	}
	return nil
}

// stripEmbeddings returns a copy of p without vectors for display.
func stripEmbeddings(p *models.Pyramid) *models.Pyramid {
	out := *p
	out.Chunks = append([]models.PyramidChunk{}, p.Chunks...)
	for i := range out.Chunks {
		out.Chunks[i].Embedding = nil
	}
	out.Summaries = append([]models.PyramidSummary{}, p.Summaries...)
	for i := range out.Summaries {
		out.Summaries[i].Embedding = nil
	}
	if p.Apex != nil {
		apex := *p.Apex
		apex.Embedding = nil
		out.Apex = &apex
	}
	return &out
}

func runPyramidSearch(cmd *cobra.Command, args []string) error {
	svc, err := pyramidService()
	if err != nil {
		return err
	}
	opts := service.PyramidSearchOptions{Limit: pyramidLimit}
	if pyramidThread != "" {
		if opts.ThreadID, err = threadID(cmd.Context(), pyramidThread); err != nil {
			return err
		}
	}

	hits, err := svc.SearchPyramid(cmd.Context(), args[0], opts)
	if err != nil {
		if errors.Is(err, store.ErrVectorUnavailable) {
			return fmt.Errorf("%w: use the surrealdb backend or set CONTENTGRAPH_VECTOR_SEARCH=true", err)
		}
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	for i, h := range hits {
		fmt.Printf("%d. [%s] %s (thread %s, %.3f)\n   %s\n\n", i+1, h.Tier, h.ID, h.ThreadID, h.Similarity, preview(h.Text, 120))
	}
	return nil
}
