package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/service"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

var (
	searchSources        []string
	searchExcludeSources []string
	searchTags           []string
	searchExcludeTags    []string
	searchAfter          string
	searchBefore         string
	searchMinWords       int
	searchMaxWords       int
	searchPhrase         string
	searchTitleRegex     string
	searchBatch          string
	searchAllVersions    bool
	searchLimit          int
	searchOffset         int

	keywordLimit int
	similarLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search and filter content nodes",
	Long: `Search content nodes by title and full text, optionally filtered.

Nodes whose title contains the query rank first, then full-text matches.
Without a query the filters alone select nodes, newest first.

Examples:
  contentgraph search "kubernetes"
  contentgraph search "rotation" --source markdown --tag ops
  contentgraph search --after 2024-01-01 --min-words 200
  contentgraph search --phrase "deploy*prod" --limit 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

var keywordCmd = &cobra.Command{
	Use:   "keyword <word>",
	Short: "Rank nodes by how central a keyword is to them",
	Long: `Rank current node versions by keyword relevance.

Scores are TF-IDF weighted and boosted when the keyword appears in the
title or the opening of the text.

Examples:
  contentgraph keyword terraform
  contentgraph keyword "rate limit" -n 5`,
	Args: cobra.ExactArgs(1),
	RunE: runKeyword,
}

var similarCmd = &cobra.Command{
	Use:   "similar <text>",
	Short: "Find nodes semantically similar to a text",
	Long: `Find nodes whose embeddings are nearest to the embedding of text.

Requires a backend with vector search and an embedding provider.
Run 'contentgraph embeddings backfill' first to embed existing nodes.

Examples:
  contentgraph similar "how we handle on-call handovers"`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	f := searchCmd.Flags()
	f.StringSliceVarP(&searchSources, "source", "s", nil, "only these source types")
	f.StringSliceVar(&searchExcludeSources, "exclude-source", nil, "skip these source types")
	f.StringSliceVarP(&searchTags, "tag", "t", nil, "require all of these tags")
	f.StringSliceVar(&searchExcludeTags, "exclude-tag", nil, "skip nodes with any of these tags")
	f.StringVar(&searchAfter, "after", "", "created on or after (YYYY-MM-DD or RFC3339)")
	f.StringVar(&searchBefore, "before", "", "created on or before (YYYY-MM-DD or RFC3339)")
	f.IntVar(&searchMinWords, "min-words", 0, "minimum word count")
	f.IntVar(&searchMaxWords, "max-words", 0, "maximum word count")
	f.StringVar(&searchPhrase, "phrase", "", "substring of title or text, * and ? are wildcards")
	f.StringVar(&searchTitleRegex, "title-regex", "", "regular expression on the title")
	f.StringVar(&searchBatch, "batch", "", "only nodes from this import batch")
	f.BoolVar(&searchAllVersions, "all-versions", false, "include superseded versions")
	f.IntVarP(&searchLimit, "limit", "n", 10, "max results")
	f.IntVar(&searchOffset, "offset", 0, "skip this many results")

	keywordCmd.Flags().IntVarP(&keywordLimit, "limit", "n", 10, "max results")
	similarCmd.Flags().IntVarP(&similarLimit, "limit", "n", 10, "max results")
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q", s)
}

func optionalInt(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func buildQuery(args []string) (store.NodeQuery, error) {
	after, err := parseDate(searchAfter)
	if err != nil {
		return store.NodeQuery{}, err
	}
	before, err := parseDate(searchBefore)
	if err != nil {
		return store.NodeQuery{}, err
	}
	q := store.NodeQuery{
		SourceTypes:        searchSources,
		ExcludeSourceTypes: searchExcludeSources,
		Tags:               searchTags,
		ExcludeTags:        searchExcludeTags,
		CreatedAfter:       after,
		CreatedBefore:      before,
		MinWords:           optionalInt(searchMinWords),
		MaxWords:           optionalInt(searchMaxWords),
		Phrase:             searchPhrase,
		Owner:              cfg.Owner,
		BatchID:            searchBatch,
		AllVersions:        searchAllVersions,
		Limit:              searchLimit,
		Offset:             searchOffset,
	}
	if len(args) > 0 {
		q.Text = args[0]
	}
	if searchTitleRegex != "" {
		q.Regex = []store.RegexFilter{{Field: store.FieldTitle, Pattern: searchTitleRegex}}
	}
	return q, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	q, err := buildQuery(args)
	if err != nil {
		return err
	}
	nodes, err := searchService().Query(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(nodes) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results:\n\n", len(nodes))
	for i := range nodes {
		printNodeLine(i+1, &nodes[i], nil)
	}
	return nil
}

func runKeyword(cmd *cobra.Command, args []string) error {
	hits, err := searchService().FindByKeyword(cmd.Context(), args[0], service.KeywordOptions{
		Limit: keywordLimit,
		Owner: cfg.Owner,
	})
	if err != nil {
		return fmt.Errorf("keyword search: %w", err)
	}
	printScored(hits)
	return nil
}

func runSimilar(cmd *cobra.Command, args []string) error {
	hits, err := searchService().SimilarNodes(cmd.Context(), args[0], similarLimit)
	if err != nil {
		if errors.Is(err, store.ErrVectorUnavailable) {
			return fmt.Errorf("%w: use the surrealdb backend or set CONTENTGRAPH_VECTOR_SEARCH=true", err)
		}
		return err
	}
	printScored(hits)
	return nil
}

func printScored(hits []models.ScoredNode) {
	if len(hits) == 0 {
		fmt.Println("No results found.")
		return
	}
	fmt.Printf("Found %d results:\n\n", len(hits))
	for i := range hits {
		score := hits[i].Score
		printNodeLine(i+1, &hits[i].Node, &score)
	}
}

// printNodeLine prints a numbered one-node summary.
func printNodeLine(n int, node *models.ContentNode, score *float64) {
	title := node.Metadata.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Printf("%d. %s [%s] %s\n", n, title, node.Source.Type, node.ID)
	if score != nil {
		fmt.Printf("   Score: %.3f\n", *score)
	}
	fmt.Printf("   %s\n", preview(node.Content.Text, 100))
	if verbose {
		if len(node.Metadata.Tags) > 0 {
			fmt.Printf("   Tags: %s\n", strings.Join(node.Metadata.Tags, ", "))
		}
		fmt.Printf("   Version: %d, Words: %d\n", node.Version.Number, node.Metadata.WordCount)
	}
	fmt.Println()
}

// preview returns the first max runes of text on one line.
func preview(text string, max int) string {
	text = models.NormalizeText(text)
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max]) + "..."
}
