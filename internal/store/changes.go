package store

import (
	"fmt"
	"slices"
	"strings"

	"github.com/raphaelgruber/contentgraph/internal/models"
)

// changeSummary describes what differs between two rows of a lineage,
// e.g. "text (+12 words); title; tags +draft -final".
func changeSummary(old, next *models.ContentNode) string {
	var parts []string

	if old.Content.Text != next.Content.Text {
		delta := next.Metadata.WordCount - old.Metadata.WordCount
		parts = append(parts, fmt.Sprintf("text (%+d words)", delta))
	}
	if old.Content.Format != next.Content.Format {
		parts = append(parts, fmt.Sprintf("format %s -> %s", old.Content.Format, next.Content.Format))
	}
	if old.Content.Rendered != next.Content.Rendered {
		parts = append(parts, "rendered")
	}
	if old.Metadata.Title != next.Metadata.Title {
		parts = append(parts, "title")
	}
	if old.Metadata.Author != next.Metadata.Author {
		parts = append(parts, "author")
	}
	if added, removed := diffTags(old.Metadata.Tags, next.Metadata.Tags); len(added)+len(removed) > 0 {
		var b strings.Builder
		b.WriteString("tags")
		for _, t := range added {
			b.WriteString(" +" + t)
		}
		for _, t := range removed {
			b.WriteString(" -" + t)
		}
		parts = append(parts, b.String())
	}
	if fmt.Sprint(old.Metadata.Extra) != fmt.Sprint(next.Metadata.Extra) {
		parts = append(parts, "metadata")
	}
	if !slices.Equal(old.Anchors, next.Anchors) {
		parts = append(parts, "anchors")
	}
	if old.OwnerID != next.OwnerID {
		parts = append(parts, "owner")
	}

	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, "; ")
}

func diffTags(old, next []string) (added, removed []string) {
	for _, t := range next {
		if !slices.Contains(old, t) {
			added = append(added, t)
		}
	}
	for _, t := range old {
		if !slices.Contains(next, t) {
			removed = append(removed, t)
		}
	}
	return added, removed
}
