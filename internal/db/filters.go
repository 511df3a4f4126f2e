package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/raphaelgruber/contentgraph/internal/store"
)

// fieldExprs maps string predicate fields to SurrealQL expressions over node.
var fieldExprs = map[store.Field]string{
	store.FieldSourceType: "source_type",
	store.FieldText:       "text",
	store.FieldTitle:      "title",
	store.FieldSearchable: `(IF title = "" THEN text ELSE string::concat(title, "\n\n", text) END)`,
	store.FieldOwner:      "owner_id",
	store.FieldFormat:     "format",
	store.FieldBatch:      "batch_id",
	store.FieldAuthor:     "author",
	store.FieldRoot:       "root_id",
}

const headsOnly = "id IN (SELECT VALUE head FROM node_head)"

// CanPushDown accepts everything except regex and wildcard containment.
func (c *Client) CanPushDown(p store.Predicate) bool {
	_, ok := filterClause(p, "p", map[string]any{})
	return ok
}

// filterClause renders p as a WHERE fragment, binding values as $<name>.
func filterClause(p store.Predicate, name string, vars map[string]any) (string, bool) {
	param := "$" + name
	var clause string

	switch p.Field {
	case store.FieldTags:
		switch p.Op {
		case store.OpEquals:
			clause = "tags CONTAINS " + param
			vars[name] = p.Value
			if p.OrUnset {
				clause = "(" + clause + " OR array::len(tags) = 0)"
			}
		case store.OpInSet:
			clause = "tags CONTAINSANY " + param
			vars[name] = nonNil(p.Values)
		default:
			return "", false
		}

	case store.FieldCreatedAt:
		if p.Op != store.OpRange {
			return "", false
		}
		var parts []string
		if p.From != nil {
			parts = append(parts, "sort_time >= "+param+"_from")
			vars[name+"_from"] = *p.From
		}
		if p.To != nil {
			parts = append(parts, "sort_time <= "+param+"_to")
			vars[name+"_to"] = *p.To
		}
		clause = andOrTrue(parts)

	case store.FieldWordCount:
		switch p.Op {
		case store.OpRange:
			var parts []string
			if p.Min != nil {
				parts = append(parts, "word_count >= "+param+"_min")
				vars[name+"_min"] = *p.Min
			}
			if p.Max != nil {
				parts = append(parts, "word_count <= "+param+"_max")
				vars[name+"_max"] = *p.Max
			}
			clause = andOrTrue(parts)
		case store.OpEquals:
			wc, err := strconv.Atoi(p.Value)
			if err != nil {
				return "", false
			}
			clause = "word_count = " + param
			vars[name] = wc
		default:
			return "", false
		}

	default:
		expr, ok := fieldExprs[p.Field]
		if !ok {
			return "", false
		}
		switch p.Op {
		case store.OpEquals:
			clause = expr + " = " + param
			vars[name] = p.Value
			if p.OrUnset {
				clause = "(" + clause + " OR " + expr + ` = "")`
			}
		case store.OpInSet:
			clause = expr + " IN " + param
			vars[name] = nonNil(p.Values)
		case store.OpContains:
			if p.HasWildcard() {
				return "", false
			}
			clause = "string::contains(string::lowercase(" + expr + "), " + param + ")"
			vars[name] = strings.ToLower(p.Value)
		default:
			return "", false
		}
	}

	if p.Negate {
		clause = "!(" + clause + ")"
	}
	return clause, true
}

// whereClause joins pushed predicates. Callers guarantee every predicate is pushable.
func whereClause(q store.FindQuery, vars map[string]any) (string, error) {
	var parts []string
	if !q.AllVersions {
		parts = append(parts, headsOnly)
	}
	for i, p := range q.Predicates {
		clause, ok := filterClause(p, fmt.Sprintf("p%d", i), vars)
		if !ok {
			return "", fmt.Errorf("predicate %s cannot be pushed down", p)
		}
		parts = append(parts, clause)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func andOrTrue(parts []string) string {
	if len(parts) == 0 {
		return "true"
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
