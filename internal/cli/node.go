package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

var (
	nodeOutput string

	addTitle  string
	addTags   []string
	addAuthor string
	addFormat string
	addSource string
	addBlob   string

	updateText     string
	updateFile     string
	updateTitle    string
	updateAuthor   string
	updateTags     []string
	updateExpected int
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Create, inspect and version content nodes",
}

var nodeAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Create a node",
	Long: `Create a node from text. Without an argument the text is read from stdin.

Examples:
  contentgraph node add "Remember to rotate the API keys" --title "Key rotation" --tags ops
  cat notes.md | contentgraph node add --format markdown --title "Standup"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNodeAdd,
}

var nodeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a node",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodeShow,
}

var nodeHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the version history of a node",
	Long: `Show the audit trail of the lineage a node belongs to, oldest first.

Any version id of the lineage can be given.`,
	Args: cobra.ExactArgs(1),
	RunE: runNodeHistory,
}

var nodeUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Create a new version of a node",
	Long: `Create a new version of a node. The existing row is never modified.

Use --expect-version to fail when someone else updated the node since you
last read it.

Examples:
  contentgraph node update n_123 --title "Key rotation (done)"
  contentgraph node update n_123 --file revised.md --expect-version 2`,
	Args: cobra.ExactArgs(1),
	RunE: runNodeUpdate,
}

var lineageCmd = &cobra.Command{
	Use:   "lineage <id>",
	Short: "Show what a node derives from and what derives from it",
	Args:  cobra.ExactArgs(1),
	RunE:  runLineage,
}

func init() {
	nodeCmd.PersistentFlags().StringVarP(&nodeOutput, "output", "o", outputText, "output format: text, json or yaml")

	nodeAddCmd.Flags().StringVar(&addTitle, "title", "", "node title")
	nodeAddCmd.Flags().StringSliceVarP(&addTags, "tags", "t", nil, "tags")
	nodeAddCmd.Flags().StringVar(&addAuthor, "author", "", "author")
	nodeAddCmd.Flags().StringVar(&addFormat, "format", "text", "content format")
	nodeAddCmd.Flags().StringVar(&addSource, "source", "manual", "source type")
	nodeAddCmd.Flags().StringVar(&addBlob, "blob", "", "hash of a stored blob the node refers to")

	nodeUpdateCmd.Flags().StringVar(&updateText, "text", "", "new text")
	nodeUpdateCmd.Flags().StringVarP(&updateFile, "file", "f", "", "read new text from file")
	nodeUpdateCmd.Flags().StringVar(&updateTitle, "title", "", "new title")
	nodeUpdateCmd.Flags().StringVar(&updateAuthor, "author", "", "new author")
	nodeUpdateCmd.Flags().StringSliceVarP(&updateTags, "tags", "t", nil, "replace tags")
	nodeUpdateCmd.Flags().IntVar(&updateExpected, "expect-version", 0, "fail unless the node is at this version")

	lineageCmd.Flags().StringVarP(&nodeOutput, "output", "o", outputText, "output format: text, json or yaml")

	nodeCmd.AddCommand(nodeAddCmd)
	nodeCmd.AddCommand(nodeShowCmd)
	nodeCmd.AddCommand(nodeHistoryCmd)
	nodeCmd.AddCommand(nodeUpdateCmd)
}

func runNodeAdd(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 1 {
		text = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}

	node, err := contentStore.CreateNode(cmd.Context(), models.NodeInput{
		Text:      text,
		Format:    addFormat,
		BinaryRef: addBlob,
		Metadata: models.Metadata{
			Title:  addTitle,
			Author: addAuthor,
			Tags:   addTags,
		},
		Source:   models.Source{Type: addSource, Adapter: "cli"},
		OwnerID:  cfg.Owner,
		Operator: "cli",
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created node %s (%s)\n", node.ID, node.URI)
	return nil
}

// getNode loads a node visible to the configured owner or fails with a not found error.
func getNode(cmd *cobra.Command, id string) (*models.ContentNode, error) {
	node, err := contentStore.GetNodeForOwner(cmd.Context(), id, cfg.Owner)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return node, nil
}

func runNodeShow(cmd *cobra.Command, args []string) error {
	node, err := getNode(cmd, args[0])
	if err != nil {
		return err
	}
	if nodeOutput != outputText {
		return printStructured(nodeOutput, node)
	}

	fmt.Printf("ID:       %s\n", node.ID)
	fmt.Printf("URI:      %s\n", node.URI)
	if node.Metadata.Title != "" {
		fmt.Printf("Title:    %s\n", node.Metadata.Title)
	}
	if node.Metadata.Author != "" {
		fmt.Printf("Author:   %s\n", node.Metadata.Author)
	}
	fmt.Printf("Source:   %s (%s)\n", node.Source.Type, node.Source.Adapter)
	fmt.Printf("Version:  %d of lineage %s\n", node.Version.Number, node.Version.RootID)
	fmt.Printf("Words:    %d\n", node.Metadata.WordCount)
	if len(node.Metadata.Tags) > 0 {
		fmt.Printf("Tags:     %s\n", strings.Join(node.Metadata.Tags, ", "))
	}
	if node.Content.BinaryRef != "" {
		fmt.Printf("Blob:     %s\n", node.Content.BinaryRef)
	}
	fmt.Printf("Inserted: %s\n", node.InsertedAt.Format("2006-01-02 15:04:05"))

	links, err := contentStore.GetLinks(cmd.Context(), node.ID, models.LinkQuery{Direction: models.DirectionBoth})
	if err != nil {
		return err
	}
	if len(links) > 0 {
		fmt.Printf("Links:    %d\n", len(links))
		for _, l := range links {
			if l.SourceID == node.ID {
				fmt.Printf("  -[%s]-> %s\n", l.Type, l.TargetID)
			} else {
				fmt.Printf("  <-[%s]- %s\n", l.Type, l.SourceID)
			}
		}
	}
	fmt.Printf("\n%s\n", node.Content.Text)
	return nil
}

func runNodeHistory(cmd *cobra.Command, args []string) error {
	if _, err := getNode(cmd, args[0]); err != nil {
		return err
	}
	recs, err := contentStore.NodeHistory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if nodeOutput != outputText {
		return printStructured(nodeOutput, recs)
	}

	fmt.Printf("%-8s %-24s %-8s %-20s %s\n", "VERSION", "NODE", "OP", "WHEN", "CHANGES")
	fmt.Println(strings.Repeat("-", 90))
	for _, r := range recs {
		fmt.Printf("%-8d %-24s %-8s %-20s %s\n",
			r.VersionNumber, r.NodeID, r.Operation, r.CreatedAt.Format("2006-01-02 15:04:05"), r.ChangeSummary)
	}
	return nil
}

func runNodeUpdate(cmd *cobra.Command, args []string) error {
	var patch models.NodePatch
	flags := cmd.Flags()
	if flags.Changed("text") {
		patch.Text = &updateText
	}
	if updateFile != "" {
		data, err := os.ReadFile(updateFile)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		text := string(data)
		patch.Text = &text
	}
	if flags.Changed("title") {
		patch.Title = &updateTitle
	}
	if flags.Changed("author") {
		patch.Author = &updateAuthor
	}
	if flags.Changed("tags") {
		patch.Tags = append([]string{}, updateTags...)
	}
	if patch.IsEmpty() {
		return errors.New("nothing to update: pass --text, --file, --title, --author or --tags")
	}

	if _, err := getNode(cmd, args[0]); err != nil {
		return err
	}
	node, err := contentStore.UpdateNode(cmd.Context(), args[0], patch, store.UpdateOptions{
		Operator:        "cli",
		ExpectedVersion: updateExpected,
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("%w (run 'contentgraph node history %s' to see newer versions)", err, args[0])
		}
		return err
	}
	fmt.Printf("Created version %d: %s\n", node.Version.Number, node.ID)
	return nil
}

func runLineage(cmd *cobra.Command, args []string) error {
	if _, err := getNode(cmd, args[0]); err != nil {
		return err
	}
	lin, err := contentStore.GetLineage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if nodeOutput != outputText {
		return printStructured(nodeOutput, lin)
	}

	section := func(name string, nodes []models.ContentNode) {
		fmt.Printf("%s (%d):\n", name, len(nodes))
		for _, n := range nodes {
			fmt.Printf("  %s  v%d  %s\n", n.ID, n.Version.Number, preview(n.Metadata.Title+" "+n.Content.Text, 60))
		}
	}
	fmt.Printf("Node: %s\n\n", lin.Node.ID)
	section("Derived from", lin.Ancestors)
	section("Derived into", lin.Descendants)
	section("Versions", lin.Versions)
	return nil
}
