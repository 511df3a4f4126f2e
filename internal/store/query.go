package store

import (
	"time"
)

// RegexFilter is a post-fetch regular expression on one field.
type RegexFilter struct {
	Field   Field
	Pattern string
}

// NodeQuery is the structured node filter accepted by QueryNodes.
type NodeQuery struct {
	// Text is a free-text term. The store ignores it; SearchService.Query
	// routes queries carrying it to hybrid search.
	Text string

	SourceTypes        []string // allow-list
	ExcludeSourceTypes []string // deny-list
	Tags               []string // node must carry all of them
	ExcludeTags        []string // node must carry none of them
	CreatedAfter       *time.Time
	CreatedBefore      *time.Time
	MinWords           *int
	MaxWords           *int
	// Phrase is a case-insensitive substring of title or text; '*' and '?' are wildcards.
	Phrase  string
	Regex   []RegexFilter
	Owner   string // soft filter, empty means no filter
	BatchID string

	AllVersions bool
	Limit       int
	Offset      int

	// Extra predicates appended as-is.
	Extra []Predicate
}

// Predicates translates the query into predicates, pagination and Text excluded.
// Regex predicates are returned uncompiled.
func (q NodeQuery) Predicates() []Predicate {
	var preds []Predicate
	if len(q.SourceTypes) > 0 {
		preds = append(preds, In(FieldSourceType, q.SourceTypes...))
	}
	if len(q.ExcludeSourceTypes) > 0 {
		preds = append(preds, NotIn(FieldSourceType, q.ExcludeSourceTypes...))
	}
	for _, tag := range q.Tags {
		preds = append(preds, Equals(FieldTags, tag))
	}
	if len(q.ExcludeTags) > 0 {
		preds = append(preds, NotIn(FieldTags, q.ExcludeTags...))
	}
	if q.CreatedAfter != nil || q.CreatedBefore != nil {
		preds = append(preds, TimeRange(q.CreatedAfter, q.CreatedBefore))
	}
	if q.MinWords != nil || q.MaxWords != nil {
		preds = append(preds, WordRange(q.MinWords, q.MaxWords))
	}
	if q.Phrase != "" {
		preds = append(preds, Contains(FieldSearchable, q.Phrase))
	}
	if q.Owner != "" {
		preds = append(preds, OwnedBy(q.Owner))
	}
	if q.BatchID != "" {
		preds = append(preds, Equals(FieldBatch, q.BatchID))
	}
	for _, r := range q.Regex {
		preds = append(preds, Regex(r.Field, r.Pattern))
	}
	return append(preds, q.Extra...)
}

// Page applies offset and limit to an in-memory result.
func Page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
