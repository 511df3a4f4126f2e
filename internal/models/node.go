// Package models defines data structures for the content graph.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Content formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatJSON     = "json"
)

// Version operations recorded on node rows and audit records.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationImport = "import"
)

// Content is the payload of a node.
type Content struct {
	Text      string `json:"text"`
	Format    string `json:"format"`
	Rendered  string `json:"rendered,omitempty"`   // e.g. HTML rendering of markdown
	BinaryRef string `json:"binary_ref,omitempty"` // blob hash
}

// Metadata describes a node's content.
type Metadata struct {
	Title     string         `json:"title,omitempty"`
	Author    string         `json:"author,omitempty"`
	CreatedAt *time.Time     `json:"created_at,omitempty"` // authored time at the source
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	WordCount int            `json:"word_count"`
	Tags      []string       `json:"tags"`
	Extra     map[string]any `json:"extra,omitempty"` // arbitrary source metadata
}

// Source describes where a node came from.
type Source struct {
	Type         string `json:"type"`    // "chatgpt", "markdown", "facebook", ...
	Adapter      string `json:"adapter"` // importer that produced it
	OriginalID   string `json:"original_id,omitempty"`
	OriginalPath string `json:"original_path,omitempty"`
	BatchID      string `json:"batch_id,omitempty"`
}

// Version places a row in its node's history chain.
type Version struct {
	Number    int    `json:"number"`
	ParentID  string `json:"parent_id,omitempty"` // previous row, empty for version 1
	RootID    string `json:"root_id"`             // first row of the chain
	Operation string `json:"operation"`
	Operator  string `json:"operator,omitempty"`
}

// Anchor marks a span of a node's text.
type Anchor struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label,omitempty"`
}

// ContentNode is one immutable row of a versioned unit of content.
type ContentNode struct {
	ID          string    `json:"id"`
	ContentHash string    `json:"content_hash"`
	URI         string    `json:"uri"`
	Content     Content   `json:"content"`
	Metadata    Metadata  `json:"metadata"`
	Source      Source    `json:"source"`
	Version     Version   `json:"version"`
	Anchors     []Anchor  `json:"anchors,omitempty"`
	OwnerID     string    `json:"owner_id,omitempty"`
	InsertedAt  time.Time `json:"inserted_at"`
}

// Title returns the metadata title.
func (n *ContentNode) Title() string {
	return n.Metadata.Title
}

// SearchableText returns title and text joined the way lexical scoring sees them.
func (n *ContentNode) SearchableText() string {
	if n.Metadata.Title == "" {
		return n.Content.Text
	}
	return n.Metadata.Title + "\n\n" + n.Content.Text
}

// SortTime returns the authored time if known, else the insert time.
func (n *ContentNode) SortTime() time.Time {
	if n.Metadata.CreatedAt != nil {
		return *n.Metadata.CreatedAt
	}
	return n.InsertedAt
}

// VisibleTo reports whether the node passes the soft ownership filter.
// An empty owner on either side means shared data.
func (n *ContentNode) VisibleTo(owner string) bool {
	return owner == "" || n.OwnerID == "" || n.OwnerID == owner
}

// NodeInput is the input structure for creating nodes.
type NodeInput struct {
	Text      string
	Format    string
	Rendered  string
	BinaryRef string
	Metadata  Metadata
	Source    Source
	Anchors   []Anchor
	OwnerID   string
	Operator  string
}

// NodePatch holds the fields an update replaces. Nil fields are kept.
type NodePatch struct {
	Text     *string
	Format   *string
	Rendered *string
	Title    *string
	Author   *string
	Tags     []string // nil keeps, empty clears
	Extra    map[string]any
	Anchors  []Anchor
	OwnerID  *string
}

// IsEmpty reports whether the patch changes nothing.
func (p NodePatch) IsEmpty() bool {
	return p.Text == nil && p.Format == nil && p.Rendered == nil && p.Title == nil &&
		p.Author == nil && p.Tags == nil && p.Extra == nil && p.Anchors == nil && p.OwnerID == nil
}

// VersionRecord is the immutable audit entry written for every new version.
type VersionRecord struct {
	ID              string    `json:"id"`
	NodeID          string    `json:"node_id"`
	RootID          string    `json:"root_id"`
	VersionNumber   int       `json:"version_number"`
	ParentVersionID string    `json:"parent_version_id,omitempty"`
	Operation       string    `json:"operation"`
	Operator        string    `json:"operator,omitempty"`
	ChangeSummary   string    `json:"change_summary"`
	CreatedAt       time.Time `json:"created_at"`
}

// NormalizeText collapses whitespace runs and trims, the form content hashes are computed over.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// HashText returns the hex sha256 of the normalized text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the hex sha256 of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// NodeURI derives a node's URI from its source type and original id, falling back to the node id.
func NodeURI(sourceType, originalID, id string) string {
	if sourceType == "" {
		sourceType = "unknown"
	}
	ref := originalID
	if ref == "" {
		ref = id
	}
	return fmt.Sprintf("content://%s/%s", sourceType, ref)
}
