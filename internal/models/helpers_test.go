package models

import (
	"testing"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already normal", "hello world", "hello world"},
		{"trims", "  hello world \n", "hello world"},
		{"collapses runs", "hello \t\n  world", "hello world"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.in); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHashTextIgnoresWhitespace(t *testing.T) {
	a := HashText("the quick  brown fox")
	b := HashText("\tthe quick\nbrown fox ")
	if a != b {
		t.Errorf("hashes differ: %s vs %s", a, b)
	}
	if a == HashText("the quick brown fox!") {
		t.Error("different text produced the same hash")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
}

func TestNodeURI(t *testing.T) {
	tests := []struct {
		name                       string
		sourceType, originalID, id string
		want                       string
	}{
		{"original id", "markdown", "notes/a.md", "n1", "content://markdown/notes/a.md"},
		{"falls back to id", "chat", "", "n2", "content://chat/n2"},
		{"unknown source", "", "", "n3", "content://unknown/n3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NodeURI(tt.sourceType, tt.originalID, tt.id); got != tt.want {
				t.Errorf("NodeURI() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPyramidDepth(t *testing.T) {
	p := &Pyramid{Chunks: []PyramidChunk{{}}}
	if d := p.ComputeDepth(); d != 1 {
		t.Errorf("chunks only: depth = %d, want 1", d)
	}
	p.Summaries = []PyramidSummary{{}}
	if d := p.ComputeDepth(); d != 2 {
		t.Errorf("with summaries: depth = %d, want 2", d)
	}
	p.Apex = &PyramidApex{}
	if d := p.ComputeDepth(); d != 3 {
		t.Errorf("with apex: depth = %d, want 3", d)
	}
}

func TestCompressionRatio(t *testing.T) {
	if got := CompressionRatio(1000, 250); got != 4 {
		t.Errorf("CompressionRatio(1000, 250) = %v, want 4", got)
	}
	if got := CompressionRatio(1000, 0); got != 0 {
		t.Errorf("CompressionRatio(1000, 0) = %v, want 0", got)
	}
}

func TestRecordIDString(t *testing.T) {
	id, err := RecordIDString(surrealmodels.NewRecordID("node", "abc"))
	if err != nil || id != "abc" {
		t.Errorf("RecordIDString() = %q, %v", id, err)
	}
	if _, err := RecordIDString(surrealmodels.NewRecordID("node", 42)); err == nil {
		t.Error("expected error for non-string id")
	}
}
