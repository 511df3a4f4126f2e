package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

var _ store.Backend = (*Backend)(nil)

// Backend is a store.Backend on one SQLite database.
type Backend struct {
	db     *sql.DB
	vector bool
	logger *slog.Logger
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// DB returns the underlying database for diagnostics and tests.
func (b *Backend) DB() *sql.DB {
	return b.db
}

// Capabilities reports vector search only when enabled at open.
func (b *Backend) Capabilities() store.Capabilities {
	return store.Capabilities{Vector: b.vector}
}

// columns maps string predicate fields to SQL expressions over nodes n.
var columns = map[store.Field]string{
	store.FieldSourceType: "n.source_type",
	store.FieldText:       "n.text",
	store.FieldTitle:      "n.title",
	store.FieldSearchable: "(CASE WHEN n.title = '' THEN n.text ELSE n.title || char(10) || char(10) || n.text END)",
	store.FieldOwner:      "n.owner_id",
	store.FieldFormat:     "n.format",
	store.FieldBatch:      "n.batch_id",
	store.FieldAuthor:     "n.author",
	store.FieldRoot:       "n.root_id",
}

const sortExpr = "COALESCE(n.created_at, n.inserted_at)"

// CanPushDown accepts everything except regex. Case-insensitive containment
// is only pushed for ASCII values because SQLite lower() and LIKE fold ASCII only.
func (b *Backend) CanPushDown(p store.Predicate) bool {
	_, _, ok := predicateSQL(p)
	return ok
}

// predicateSQL renders p as a WHERE fragment over nodes n.
func predicateSQL(p store.Predicate) (string, []any, bool) {
	var (
		clause string
		args   []any
	)

	switch p.Field {
	case store.FieldTags:
		switch p.Op {
		case store.OpEquals:
			clause = "EXISTS (SELECT 1 FROM json_each(n.tags) WHERE value = ?)"
			args = []any{p.Value}
			if p.OrUnset {
				clause = "(" + clause + " OR json_array_length(n.tags) = 0)"
			}
		case store.OpInSet:
			if len(p.Values) == 0 {
				clause = "0"
				break
			}
			clause = "EXISTS (SELECT 1 FROM json_each(n.tags) WHERE value IN (" + placeholders(len(p.Values)) + "))"
			args = stringArgs(p.Values)
		default:
			return "", nil, false
		}

	case store.FieldCreatedAt:
		if p.Op != store.OpRange {
			return "", nil, false
		}
		var parts []string
		if p.From != nil {
			parts = append(parts, sortExpr+" >= ?")
			args = append(args, p.From.UnixNano())
		}
		if p.To != nil {
			parts = append(parts, sortExpr+" <= ?")
			args = append(args, p.To.UnixNano())
		}
		clause = andOrTrue(parts)

	case store.FieldWordCount:
		switch p.Op {
		case store.OpRange:
			var parts []string
			if p.Min != nil {
				parts = append(parts, "n.word_count >= ?")
				args = append(args, *p.Min)
			}
			if p.Max != nil {
				parts = append(parts, "n.word_count <= ?")
				args = append(args, *p.Max)
			}
			clause = andOrTrue(parts)
		case store.OpEquals:
			wc, err := strconv.Atoi(p.Value)
			if err != nil {
				return "", nil, false
			}
			clause, args = "n.word_count = ?", []any{wc}
		default:
			return "", nil, false
		}

	default:
		col, ok := columns[p.Field]
		if !ok {
			return "", nil, false
		}
		switch p.Op {
		case store.OpEquals:
			clause, args = col+" = ?", []any{p.Value}
			if p.OrUnset {
				clause = "(" + col + " = ? OR " + col + " = '')"
			}
		case store.OpInSet:
			if len(p.Values) == 0 {
				clause = "0"
				break
			}
			clause, args = col+" IN ("+placeholders(len(p.Values))+")", stringArgs(p.Values)
		case store.OpContains:
			if !isASCII(p.Value) {
				return "", nil, false
			}
			if p.HasWildcard() {
				clause, args = col+` LIKE ? ESCAPE '\'`, []any{store.WildcardToLike(p.Value)}
			} else {
				clause, args = "instr(lower("+col+"), lower(?)) > 0", []any{p.Value}
			}
		default:
			return "", nil, false
		}
	}

	if p.Negate {
		clause = "NOT " + clause
	}
	return clause, args, true
}

// whereClause joins pushed predicates. Callers guarantee every predicate is pushable.
func whereClause(q store.FindQuery) (string, []any, error) {
	parts := []string{}
	var args []any
	if !q.AllVersions {
		parts = append(parts, "n.id IN (SELECT head_id FROM node_heads)")
	}
	for _, p := range q.Predicates {
		clause, a, ok := predicateSQL(p)
		if !ok {
			return "", nil, fmt.Errorf("predicate %s cannot be pushed down", p)
		}
		parts = append(parts, clause)
		args = append(args, a...)
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func andOrTrue(parts []string) string {
	if len(parts) == 0 {
		return "1"
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// Encoding helpers.

func toNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func nanosTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// encodeJSON returns NULL for nil values.
func encodeJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case map[string]any:
		if x == nil {
			return sql.NullString{}, nil
		}
	case []models.Anchor:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *models.Anchor:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode json: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
