package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

const nodeColumns = `n.id, n.content_hash, n.uri, n.text, n.format, n.rendered, n.binary_ref,
	n.title, n.author, n.created_at, n.updated_at, n.word_count, n.tags, n.extra,
	n.source_type, n.adapter, n.original_id, n.original_path, n.batch_id,
	n.version_number, n.parent_id, n.root_id, n.operation, n.operator,
	n.anchors, n.owner_id, n.inserted_at`

// scanNode scans a row selected with nodeColumns.
func scanNode(scanner interface{ Scan(dest ...any) error }) (*models.ContentNode, error) {
	var (
		n                   models.ContentNode
		createdAt, updateAt sql.NullInt64
		tags                string
		extra, anchors      sql.NullString
		insertedAt          int64
	)
	err := scanner.Scan(
		&n.ID, &n.ContentHash, &n.URI, &n.Content.Text, &n.Content.Format, &n.Content.Rendered, &n.Content.BinaryRef,
		&n.Metadata.Title, &n.Metadata.Author, &createdAt, &updateAt, &n.Metadata.WordCount, &tags, &extra,
		&n.Source.Type, &n.Source.Adapter, &n.Source.OriginalID, &n.Source.OriginalPath, &n.Source.BatchID,
		&n.Version.Number, &n.Version.ParentID, &n.Version.RootID, &n.Version.Operation, &n.Version.Operator,
		&anchors, &n.OwnerID, &insertedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Metadata.CreatedAt = fromNanos(createdAt)
	n.Metadata.UpdatedAt = fromNanos(updateAt)
	n.InsertedAt = nanosTime(insertedAt)
	n.Metadata.Tags = []string{}
	if err := decodeJSON(sql.NullString{String: tags, Valid: true}, &n.Metadata.Tags); err != nil {
		return nil, err
	}
	if err := decodeJSON(extra, &n.Metadata.Extra); err != nil {
		return nil, err
	}
	if err := decodeJSON(anchors, &n.Anchors); err != nil {
		return nil, err
	}
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]models.ContentNode, error) {
	defer rows.Close()
	nodes := []models.ContentNode{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

func (b *Backend) queryNode(ctx context.Context, query string, args ...any) (*models.ContentNode, error) {
	n, err := scanNode(b.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func insertNodeRow(ctx context.Context, tx *sql.Tx, n *models.ContentNode) error {
	tags, err := encodeJSON(n.Metadata.Tags)
	if err != nil {
		return err
	}
	if !tags.Valid {
		tags = sql.NullString{String: "[]", Valid: true}
	}
	extra, err := encodeJSON(n.Metadata.Extra)
	if err != nil {
		return err
	}
	anchors, err := encodeJSON(n.Anchors)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (id, content_hash, uri, text, format, rendered, binary_ref,
			title, author, created_at, updated_at, word_count, tags, extra,
			source_type, adapter, original_id, original_path, batch_id,
			version_number, parent_id, root_id, operation, operator,
			anchors, owner_id, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ContentHash, n.URI, n.Content.Text, n.Content.Format, n.Content.Rendered, n.Content.BinaryRef,
		n.Metadata.Title, n.Metadata.Author, toNanos(n.Metadata.CreatedAt), toNanos(n.Metadata.UpdatedAt),
		n.Metadata.WordCount, tags.String, extra,
		n.Source.Type, n.Source.Adapter, n.Source.OriginalID, n.Source.OriginalPath, n.Source.BatchID,
		n.Version.Number, n.Version.ParentID, n.Version.RootID, n.Version.Operation, n.Version.Operator,
		anchors, n.OwnerID, n.InsertedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: nodes.root_id, nodes.version_number") {
			return fmt.Errorf("%w: version %d of %s exists", store.ErrVersionConflict, n.Version.Number, n.Version.RootID)
		}
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func insertVersionRecord(ctx context.Context, tx *sql.Tx, r *models.VersionRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO node_versions (id, node_id, root_id, version_number, parent_version_id,
			operation, operator, change_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.NodeID, r.RootID, r.VersionNumber, r.ParentVersionID,
		r.Operation, r.Operator, r.ChangeSummary, r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert version record: %w", err)
	}
	return nil
}

// InsertNode writes a first version with its head pointer and audit record.
func (b *Backend) InsertNode(ctx context.Context, node *models.ContentNode, rec *models.VersionRecord) error {
	return runTx(ctx, b.db, func(tx *sql.Tx) error {
		if err := insertNodeRow(ctx, tx, node); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO node_heads (root_id, head_id, version_number) VALUES (?, ?, ?)`,
			node.Version.RootID, node.ID, node.Version.Number,
		); err != nil {
			return fmt.Errorf("insert head: %w", err)
		}
		return insertVersionRecord(ctx, tx, rec)
	})
}

// InsertVersion moves the lineage head from expectedHead to node in one transaction.
func (b *Backend) InsertVersion(ctx context.Context, node *models.ContentNode, rec *models.VersionRecord, expectedHead int) error {
	return runTx(ctx, b.db, func(tx *sql.Tx) error {
		if err := insertNodeRow(ctx, tx, node); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE node_heads SET head_id = ?, version_number = ?
			WHERE root_id = ? AND version_number = ?`,
			node.ID, node.Version.Number, node.Version.RootID, expectedHead,
		)
		if err != nil {
			return fmt.Errorf("move head: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("move head: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: head of %s is not at version %d", store.ErrVersionConflict, node.Version.RootID, expectedHead)
		}
		return insertVersionRecord(ctx, tx, rec)
	})
}

// GetNode returns a row by id, nil if unknown.
func (b *Backend) GetNode(ctx context.Context, id string) (*models.ContentNode, error) {
	return b.queryNode(ctx, `SELECT `+nodeColumns+` FROM nodes n WHERE n.id = ?`, id)
}

// GetHead returns the current head row of a lineage.
func (b *Backend) GetHead(ctx context.Context, rootID string) (*models.ContentNode, error) {
	return b.queryNode(ctx, `
		SELECT `+nodeColumns+` FROM nodes n
		JOIN node_heads h ON h.head_id = n.id
		WHERE h.root_id = ?`, rootID)
}

// GetNodeByHash returns the highest version row with hash.
func (b *Backend) GetNodeByHash(ctx context.Context, hash string) (*models.ContentNode, error) {
	return b.queryNode(ctx, `
		SELECT `+nodeColumns+` FROM nodes n
		WHERE n.content_hash = ?
		ORDER BY n.version_number DESC, n.inserted_at DESC
		LIMIT 1`, hash)
}

// ListVersions returns every row of a lineage, oldest first.
func (b *Backend) ListVersions(ctx context.Context, rootID string) ([]models.ContentNode, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes n
		WHERE n.root_id = ?
		ORDER BY n.version_number`, rootID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return scanNodes(rows)
}

// ListVersionRecords returns a lineage's audit records, oldest first.
func (b *Backend) ListVersionRecords(ctx context.Context, rootID string) ([]models.VersionRecord, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, node_id, root_id, version_number, parent_version_id,
			operation, operator, change_summary, created_at
		FROM node_versions
		WHERE root_id = ?
		ORDER BY version_number`, rootID)
	if err != nil {
		return nil, fmt.Errorf("list version records: %w", err)
	}
	defer rows.Close()

	recs := []models.VersionRecord{}
	for rows.Next() {
		var r models.VersionRecord
		var created int64
		if err := rows.Scan(&r.ID, &r.NodeID, &r.RootID, &r.VersionNumber, &r.ParentVersionID,
			&r.Operation, &r.Operator, &r.ChangeSummary, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = nanosTime(created)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// FindNodes evaluates pushed predicates, newest first.
func (b *Backend) FindNodes(ctx context.Context, q store.FindQuery) ([]models.ContentNode, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + nodeColumns + ` FROM nodes n` + where +
		` ORDER BY ` + sortExpr + ` DESC, n.inserted_at DESC, n.rowid DESC`
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, q.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find nodes: %w", err)
	}
	return scanNodes(rows)
}

// CountNodes counts rows matching pushed predicates.
func (b *Backend) CountNodes(ctx context.Context, q store.FindQuery) (int, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes n`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count nodes: %w", err)
	}
	return n, nil
}

// LexicalSearch ranks lineage heads with FTS5 bm25, title weighted double.
// The query uses FTS5 syntax; syntax errors are returned.
func (b *Backend) LexicalSearch(ctx context.Context, query string, limit int) ([]models.ScoredNode, error) {
	if strings.TrimSpace(query) == "" {
		return []models.ScoredNode{}, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT `+nodeColumns+`, bm25(nodes_fts, 2.0, 1.0) AS score
		FROM nodes_fts
		JOIN nodes n ON n.rowid = nodes_fts.rowid
		JOIN node_heads h ON h.head_id = n.id
		WHERE nodes_fts MATCH ?
		ORDER BY score
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query %q: %w", query, err)
	}
	defer rows.Close()

	hits := []models.ScoredNode{}
	for rows.Next() {
		var score float64
		n, err := scanNode(scanWithExtra{rows, &score})
		if err != nil {
			return nil, fmt.Errorf("fts query %q: %w", query, err)
		}
		// bm25 is lower-is-better; report higher-is-better.
		hits = append(hits, models.ScoredNode{Node: *n, Score: -score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fts query %q: %w", query, err)
	}
	return hits, nil
}

// scanWithExtra appends trailing columns to a node scan.
type scanWithExtra struct {
	rows  *sql.Rows
	extra any
}

func (s scanWithExtra) Scan(dest ...any) error {
	return s.rows.Scan(append(dest, s.extra)...)
}
