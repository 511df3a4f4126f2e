package parser

import (
	"testing"
	"time"
)

func TestParseMarkdown_Frontmatter(t *testing.T) {
	content := "---\ntitle: Garden Notes\ntags: [plants, soil]\nauthor: sam\ndate: 2024-03-01\n---\n# Ignored Heading\n\nBody text with [[Compost]] and [[Worms|the worms]]."

	doc := ParseMarkdown(content)

	if doc.Title != "Garden Notes" {
		t.Errorf("Title = %q, want %q", doc.Title, "Garden Notes")
	}
	if got := doc.GetFrontmatterString("author"); got != "sam" {
		t.Errorf("author = %q, want sam", got)
	}
	tags := doc.GetFrontmatterStringSlice("tags")
	if len(tags) != 2 || tags[0] != "plants" || tags[1] != "soil" {
		t.Errorf("tags = %v, want [plants soil]", tags)
	}
	date := doc.GetFrontmatterTime("date")
	if date == nil || !date.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v, want 2024-03-01", date)
	}
	if doc.Content[:len("# Ignored Heading")] != "# Ignored Heading" {
		t.Errorf("Content should start after frontmatter, got %q", doc.Content)
	}

	links := ExtractWikiLinks(doc.Content)
	if len(links) != 2 || links[0] != "Compost" || links[1] != "Worms" {
		t.Errorf("wiki links = %v, want [Compost Worms]", links)
	}
}

func TestParseMarkdown_TitleFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"h1", "# First\n\ntext", "First"},
		{"name key", "---\nname: Named\n---\nbody", "Named"},
		{"none", "just text", ""},
		{"bad yaml keeps body", "---\n: : :\n---\n# Heading", "Heading"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseMarkdown(tt.content).Title; got != tt.want {
				t.Errorf("Title = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetFrontmatterStringSlice_CommaString(t *testing.T) {
	doc := ParseMarkdown("---\ntags: a, b ,c\n---\n")
	got := doc.GetFrontmatterStringSlice("tags")
	if len(got) != 3 || got[1] != "b" {
		t.Errorf("tags = %v, want [a b c]", got)
	}
}
