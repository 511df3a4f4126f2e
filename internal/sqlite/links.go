package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/raphaelgruber/contentgraph/internal/models"
)

const linkColumns = `id, source_id, target_id, link_type, strength, source_anchor, target_anchor,
	created_at, created_by, metadata`

// UpsertLink replaces any link with the same source, target and type.
func (b *Backend) UpsertLink(ctx context.Context, l *models.ContentLink) error {
	srcAnchor, err := encodeJSON(l.SourceAnchor)
	if err != nil {
		return err
	}
	tgtAnchor, err := encodeJSON(l.TargetAnchor)
	if err != nil {
		return err
	}
	meta, err := encodeJSON(l.Metadata)
	if err != nil {
		return err
	}
	var strength sql.NullFloat64
	if l.Strength != nil {
		strength = sql.NullFloat64{Float64: *l.Strength, Valid: true}
	}

	return runTx(ctx, b.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO links (`+linkColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (source_id, target_id, link_type) DO UPDATE SET
				strength = excluded.strength,
				source_anchor = excluded.source_anchor,
				target_anchor = excluded.target_anchor,
				created_by = excluded.created_by,
				metadata = excluded.metadata`,
			l.ID, l.SourceID, l.TargetID, string(l.Type), strength, srcAnchor, tgtAnchor,
			l.CreatedAt.UnixNano(), l.CreatedBy, meta,
		)
		if err != nil {
			return fmt.Errorf("upsert link: %w", err)
		}
		// Report the surviving row's identity back to the caller.
		return tx.QueryRowContext(ctx,
			`SELECT id, created_at FROM links WHERE source_id = ? AND target_id = ? AND link_type = ?`,
			l.SourceID, l.TargetID, string(l.Type),
		).Scan(&l.ID, new(int64))
	})
}

// FindLinks returns links around nodeID filtered by direction, type and strength.
func (b *Backend) FindLinks(ctx context.Context, nodeID string, q models.LinkQuery) ([]models.ContentLink, error) {
	var (
		parts []string
		args  []any
	)
	switch q.Direction {
	case models.DirectionOutgoing:
		parts = append(parts, "source_id = ?")
		args = append(args, nodeID)
	case models.DirectionIncoming:
		parts = append(parts, "target_id = ?")
		args = append(args, nodeID)
	default:
		parts = append(parts, "(source_id = ? OR target_id = ?)")
		args = append(args, nodeID, nodeID)
	}
	if len(q.Types) > 0 {
		parts = append(parts, "link_type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if q.MinStrength > 0 {
		parts = append(parts, "COALESCE(strength, 1.0) >= ?")
		args = append(args, q.MinStrength)
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE `+strings.Join(parts, " AND ")+` ORDER BY created_at, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("find links: %w", err)
	}
	return scanLinks(rows)
}

// LinksByType returns every link of one type.
func (b *Backend) LinksByType(ctx context.Context, linkType models.LinkType) ([]models.ContentLink, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE link_type = ? ORDER BY created_at, id`, string(linkType))
	if err != nil {
		return nil, fmt.Errorf("links by type: %w", err)
	}
	return scanLinks(rows)
}

func scanLinks(rows *sql.Rows) ([]models.ContentLink, error) {
	defer rows.Close()
	links := []models.ContentLink{}
	for rows.Next() {
		var (
			l                    models.ContentLink
			linkType             string
			strength             sql.NullFloat64
			srcAnchor, tgtAnchor sql.NullString
			meta                 sql.NullString
			created              int64
		)
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &linkType, &strength, &srcAnchor, &tgtAnchor,
			&created, &l.CreatedBy, &meta); err != nil {
			return nil, err
		}
		l.Type = models.LinkType(linkType)
		if strength.Valid {
			s := strength.Float64
			l.Strength = &s
		}
		if srcAnchor.Valid {
			l.SourceAnchor = &models.Anchor{}
			if err := decodeJSON(srcAnchor, l.SourceAnchor); err != nil {
				return nil, err
			}
		}
		if tgtAnchor.Valid {
			l.TargetAnchor = &models.Anchor{}
			if err := decodeJSON(tgtAnchor, l.TargetAnchor); err != nil {
				return nil, err
			}
		}
		if err := decodeJSON(meta, &l.Metadata); err != nil {
			return nil, err
		}
		l.CreatedAt = nanosTime(created)
		links = append(links, l)
	}
	return links, rows.Err()
}
