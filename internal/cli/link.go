package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contentgraph/internal/models"
)

var (
	linkType     string
	linkStrength float64

	linksDirection string
	linksTypes     []string
)

var linkCmd = &cobra.Command{
	Use:   "link <from> <to>",
	Short: "Create a typed link between two nodes",
	Long: `Create a directed, typed link between two nodes.

Types: child, parent, responds-to, follows, derived-from, references, quotes.
Linking the same pair with the same type again returns the existing link.

Examples:
  contentgraph link n_summary n_source --type derived-from
  contentgraph link n_note n_other --type references --strength 0.5`,
	Args: cobra.ExactArgs(2),
	RunE: runLink,
}

var linksCmd = &cobra.Command{
	Use:   "links <id>",
	Short: "List the links around a node",
	Args:  cobra.ExactArgs(1),
	RunE:  runLinks,
}

func init() {
	linkCmd.Flags().StringVarP(&linkType, "type", "t", string(models.LinkReferences), "link type")
	linkCmd.Flags().Float64Var(&linkStrength, "strength", 1.0, "link strength (0-1)")

	linksCmd.Flags().StringVarP(&linksDirection, "direction", "d", string(models.DirectionBoth), "outgoing, incoming or both")
	linksCmd.Flags().StringSliceVarP(&linksTypes, "type", "t", nil, "only these link types")
}

func runLink(cmd *cobra.Command, args []string) error {
	from, err := getNode(cmd, args[0])
	if err != nil {
		return fmt.Errorf("source %w", err)
	}
	to, err := getNode(cmd, args[1])
	if err != nil {
		return fmt.Errorf("target %w", err)
	}

	in := models.LinkInput{
		SourceID:  from.ID,
		TargetID:  to.ID,
		Type:      models.LinkType(linkType),
		CreatedBy: "cli",
	}
	if cmd.Flags().Changed("strength") {
		in.Strength = &linkStrength
	}
	link, err := contentStore.CreateLink(cmd.Context(), in)
	if err != nil {
		return fmt.Errorf("create link: %w", err)
	}

	fmt.Printf("Linked: %s -[%s]-> %s (%s)\n", displayName(from), link.Type, displayName(to), link.ID)
	return nil
}

func runLinks(cmd *cobra.Command, args []string) error {
	node, err := getNode(cmd, args[0])
	if err != nil {
		return err
	}
	q := models.LinkQuery{Direction: models.Direction(linksDirection)}
	for _, t := range linksTypes {
		q.Types = append(q.Types, models.LinkType(t))
	}
	links, err := contentStore.GetLinks(cmd.Context(), node.ID, q)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		fmt.Println("No links found.")
		return nil
	}

	fmt.Printf("%-14s %-24s %-24s %s\n", "TYPE", "SOURCE", "TARGET", "STRENGTH")
	for _, l := range links {
		fmt.Printf("%-14s %-24s %-24s %.2f\n", l.Type, l.SourceID, l.TargetID, l.EffectiveStrength())
	}
	return nil
}

func displayName(n *models.ContentNode) string {
	if n.Metadata.Title != "" {
		return n.Metadata.Title
	}
	return n.ID
}
