package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

var _ store.Backend = (*Client)(nil)

// nodeRow is the flattened node record.
type nodeRow struct {
	ID            surrealmodels.RecordID `json:"id"`
	ContentHash   string                 `json:"content_hash"`
	URI           string                 `json:"uri"`
	Text          string                 `json:"text"`
	Format        string                 `json:"format"`
	Rendered      string                 `json:"rendered"`
	BinaryRef     string                 `json:"binary_ref"`
	Title         string                 `json:"title"`
	Author        string                 `json:"author"`
	CreatedAt     *time.Time             `json:"created_at,omitempty"`
	UpdatedAt     *time.Time             `json:"updated_at,omitempty"`
	WordCount     int                    `json:"word_count"`
	Tags          []string               `json:"tags"`
	Extra         map[string]any         `json:"extra,omitempty"`
	SourceType    string                 `json:"source_type"`
	Adapter       string                 `json:"adapter"`
	OriginalID    string                 `json:"original_id"`
	OriginalPath  string                 `json:"original_path"`
	BatchID       string                 `json:"batch_id"`
	VersionNumber int                    `json:"version_number"`
	ParentID      string                 `json:"parent_id"`
	RootID        string                 `json:"root_id"`
	Operation     string                 `json:"operation"`
	Operator      string                 `json:"operator"`
	Anchors       []models.Anchor        `json:"anchors,omitempty"`
	OwnerID       string                 `json:"owner_id"`
	InsertedAt    time.Time              `json:"inserted_at"`
	Score         float64                `json:"score,omitempty"`
}

func (r *nodeRow) toNode() (models.ContentNode, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.ContentNode{}, err
	}
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return models.ContentNode{
		ID:          id,
		ContentHash: r.ContentHash,
		URI:         r.URI,
		Content: models.Content{
			Text:      r.Text,
			Format:    r.Format,
			Rendered:  r.Rendered,
			BinaryRef: r.BinaryRef,
		},
		Metadata: models.Metadata{
			Title:     r.Title,
			Author:    r.Author,
			CreatedAt: utcPtr(r.CreatedAt),
			UpdatedAt: utcPtr(r.UpdatedAt),
			WordCount: r.WordCount,
			Tags:      tags,
			Extra:     r.Extra,
		},
		Source: models.Source{
			Type:         r.SourceType,
			Adapter:      r.Adapter,
			OriginalID:   r.OriginalID,
			OriginalPath: r.OriginalPath,
			BatchID:      r.BatchID,
		},
		Version: models.Version{
			Number:    r.VersionNumber,
			ParentID:  r.ParentID,
			RootID:    r.RootID,
			Operation: r.Operation,
			Operator:  r.Operator,
		},
		Anchors:    r.Anchors,
		OwnerID:    r.OwnerID,
		InsertedAt: r.InsertedAt.UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toNodes(rows []nodeRow) ([]models.ContentNode, error) {
	nodes := make([]models.ContentNode, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// nodeContent is the CONTENT object for a node row. Unset optionals are left
// out so they stay NONE.
func nodeContent(n *models.ContentNode) map[string]any {
	tags := n.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}
	content := map[string]any{
		"content_hash":   n.ContentHash,
		"uri":            n.URI,
		"text":           n.Content.Text,
		"format":         n.Content.Format,
		"rendered":       n.Content.Rendered,
		"binary_ref":     n.Content.BinaryRef,
		"title":          n.Metadata.Title,
		"author":         n.Metadata.Author,
		"word_count":     n.Metadata.WordCount,
		"tags":           tags,
		"source_type":    n.Source.Type,
		"adapter":        n.Source.Adapter,
		"original_id":    n.Source.OriginalID,
		"original_path":  n.Source.OriginalPath,
		"batch_id":       n.Source.BatchID,
		"version_number": n.Version.Number,
		"parent_id":      n.Version.ParentID,
		"root_id":        n.Version.RootID,
		"operation":      n.Version.Operation,
		"operator":       n.Version.Operator,
		"owner_id":       n.OwnerID,
		"inserted_at":    n.InsertedAt.UTC(),
		"sort_time":      n.SortTime().UTC(),
	}
	if n.Metadata.CreatedAt != nil {
		content["created_at"] = n.Metadata.CreatedAt.UTC()
	}
	if n.Metadata.UpdatedAt != nil {
		content["updated_at"] = n.Metadata.UpdatedAt.UTC()
	}
	if len(n.Metadata.Extra) > 0 {
		content["extra"] = n.Metadata.Extra
	}
	if len(n.Anchors) > 0 {
		anchors := make([]map[string]any, len(n.Anchors))
		for i, a := range n.Anchors {
			anchors[i] = anchorContent(a)
		}
		content["anchors"] = anchors
	}
	return content
}

func anchorContent(a models.Anchor) map[string]any {
	return map[string]any{"start": a.Start, "end": a.End, "label": a.Label}
}

func versionContent(rec *models.VersionRecord) map[string]any {
	return map[string]any{
		"node_id":           rec.NodeID,
		"root_id":           rec.RootID,
		"version_number":    rec.VersionNumber,
		"parent_version_id": rec.ParentVersionID,
		"operation":         rec.Operation,
		"operator":          rec.Operator,
		"change_summary":    rec.ChangeSummary,
		"created_at":        rec.CreatedAt.UTC(),
	}
}

// InsertNode writes a version 1 row together with its head and audit record.
func (c *Client) InsertNode(ctx context.Context, node *models.ContentNode, rec *models.VersionRecord) error {
	sql := `
		BEGIN TRANSACTION;
		CREATE type::record("node", $id) CONTENT $node;
		CREATE type::record("node_head", $root) CONTENT {
			head: type::record("node", $id),
			version: $version
		};
		CREATE type::record("node_version", $rec_id) CONTENT $rec;
		COMMIT TRANSACTION;
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":      node.ID,
		"root":    node.Version.RootID,
		"version": node.Version.Number,
		"node":    nodeContent(node),
		"rec_id":  rec.ID,
		"rec":     versionContent(rec),
	})
	if err != nil {
		return fmt.Errorf("insert node: %w", wrapWriteConflict(err))
	}
	return nil
}

// InsertVersion appends a row and moves the head only if it still points at
// expectedHead. The check and the writes share one transaction.
func (c *Client) InsertVersion(ctx context.Context, node *models.ContentNode, rec *models.VersionRecord, expectedHead int) error {
	sql := `
		BEGIN TRANSACTION;
		LET $current = (SELECT VALUE version FROM ONLY type::record("node_head", $root));
		IF $current != $expected {
			THROW "version conflict";
		};
		CREATE type::record("node", $id) CONTENT $node;
		UPDATE type::record("node_head", $root) SET
			head = type::record("node", $id),
			version = $version;
		CREATE type::record("node_version", $rec_id) CONTENT $rec;
		COMMIT TRANSACTION;
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":       node.ID,
		"root":     node.Version.RootID,
		"expected": expectedHead,
		"version":  node.Version.Number,
		"node":     nodeContent(node),
		"rec_id":   rec.ID,
		"rec":      versionContent(rec),
	})
	if err != nil {
		return fmt.Errorf("insert version: %w", wrapWriteConflict(err))
	}
	return nil
}

// GetNode returns a row by id.
func (c *Client) GetNode(ctx context.Context, id string) (*models.ContentNode, error) {
	return c.queryNode(ctx, `SELECT * FROM type::record("node", $id)`, map[string]any{"id": id})
}

// GetHead returns the current version of a lineage.
func (c *Client) GetHead(ctx context.Context, rootID string) (*models.ContentNode, error) {
	sql := `
		SELECT * FROM node
		WHERE id = (SELECT VALUE head FROM ONLY type::record("node_head", $root))
	`
	return c.queryNode(ctx, sql, map[string]any{"root": rootID})
}

// GetNodeByHash returns the highest version carrying hash.
func (c *Client) GetNodeByHash(ctx context.Context, hash string) (*models.ContentNode, error) {
	sql := `
		SELECT * FROM node WHERE content_hash = $hash
		ORDER BY version_number DESC, inserted_at DESC LIMIT 1
	`
	return c.queryNode(ctx, sql, map[string]any{"hash": hash})
}

func (c *Client) queryNode(ctx context.Context, sql string, vars map[string]any) (*models.ContentNode, error) {
	results, err := surrealdb.Query[[]nodeRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("get node: %w", wrapQueryError(err))
	}
	row := first(results)
	if row == nil {
		return nil, nil
	}
	n, err := row.toNode()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListVersions returns a lineage's rows, oldest first.
func (c *Client) ListVersions(ctx context.Context, rootID string) ([]models.ContentNode, error) {
	sql := `SELECT * FROM node WHERE root_id = $root ORDER BY version_number ASC, inserted_at ASC`
	return c.queryNodes(ctx, sql, map[string]any{"root": rootID})
}

func (c *Client) queryNodes(ctx context.Context, sql string, vars map[string]any) ([]models.ContentNode, error) {
	results, err := surrealdb.Query[[]nodeRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", wrapQueryError(err))
	}
	return toNodes(resultRows(results, 0))
}

type versionRow struct {
	ID              surrealmodels.RecordID `json:"id"`
	NodeID          string                 `json:"node_id"`
	RootID          string                 `json:"root_id"`
	VersionNumber   int                    `json:"version_number"`
	ParentVersionID string                 `json:"parent_version_id"`
	Operation       string                 `json:"operation"`
	Operator        string                 `json:"operator"`
	ChangeSummary   string                 `json:"change_summary"`
	CreatedAt       time.Time              `json:"created_at"`
}

// ListVersionRecords returns a lineage's audit records, oldest first.
func (c *Client) ListVersionRecords(ctx context.Context, rootID string) ([]models.VersionRecord, error) {
	sql := `SELECT * FROM node_version WHERE root_id = $root ORDER BY version_number ASC`
	results, err := surrealdb.Query[[]versionRow](ctx, c.db, sql, map[string]any{"root": rootID})
	if err != nil {
		return nil, fmt.Errorf("list version records: %w", wrapQueryError(err))
	}
	rows := resultRows(results, 0)
	recs := make([]models.VersionRecord, 0, len(rows))
	for _, r := range rows {
		id, err := models.RecordIDString(r.ID)
		if err != nil {
			return nil, err
		}
		recs = append(recs, models.VersionRecord{
			ID:              id,
			NodeID:          r.NodeID,
			RootID:          r.RootID,
			VersionNumber:   r.VersionNumber,
			ParentVersionID: r.ParentVersionID,
			Operation:       r.Operation,
			Operator:        r.Operator,
			ChangeSummary:   r.ChangeSummary,
			CreatedAt:       r.CreatedAt.UTC(),
		})
	}
	return recs, nil
}

// FindNodes evaluates pushed predicates, newest first.
func (c *Client) FindNodes(ctx context.Context, q store.FindQuery) ([]models.ContentNode, error) {
	vars := map[string]any{}
	where, err := whereClause(q, vars)
	if err != nil {
		return nil, err
	}
	sql := "SELECT * FROM node" + where + " ORDER BY sort_time DESC, inserted_at DESC"
	if q.Limit > 0 {
		sql += " LIMIT $limit"
		vars["limit"] = q.Limit
	}
	if q.Offset > 0 {
		if q.Limit <= 0 {
			// START requires a LIMIT in practice; an unbounded page uses a large one.
			sql += " LIMIT $limit"
			vars["limit"] = maxRows
		}
		sql += " START $offset"
		vars["offset"] = q.Offset
	}
	return c.queryNodes(ctx, sql, vars)
}

const maxRows = 1 << 31

// CountNodes counts rows matching pushed predicates.
func (c *Client) CountNodes(ctx context.Context, q store.FindQuery) (int, error) {
	vars := map[string]any{}
	where, err := whereClause(q, vars)
	if err != nil {
		return 0, err
	}
	sql := "SELECT count() AS c FROM node" + where + " GROUP ALL"
	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("count nodes: %w", wrapQueryError(err))
	}
	row := first(results)
	if row == nil {
		return 0, nil
	}
	return row.C, nil
}

// LexicalSearch ranks lineage heads by BM25 over title and text, title
// weighted double.
func (c *Client) LexicalSearch(ctx context.Context, query string, limit int) ([]models.ScoredNode, error) {
	if query == "" {
		return []models.ScoredNode{}, nil
	}
	if limit <= 0 {
		limit = 100
	}
	sql := `
		SELECT *, (search::score(0) ?? 0) * 2 + (search::score(1) ?? 0) AS score
		FROM node
		WHERE (title @0@ $q OR text @1@ $q)
			AND id IN (SELECT VALUE head FROM node_head)
		ORDER BY score DESC
		LIMIT $limit
	`
	results, err := surrealdb.Query[[]nodeRow](ctx, c.db, sql, map[string]any{
		"q":     query,
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("full-text query %q: %w", query, wrapQueryError(err))
	}
	return toScored(resultRows(results, 0))
}

func toScored(rows []nodeRow) ([]models.ScoredNode, error) {
	scored := make([]models.ScoredNode, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toNode()
		if err != nil {
			return nil, err
		}
		scored = append(scored, models.ScoredNode{Node: n, Score: rows[i].Score})
	}
	return scored, nil
}
