package store

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/contentgraph/internal/models"
)

// Op is the kind of a predicate.
type Op int

const (
	OpEquals Op = iota + 1
	OpInSet
	OpRange
	OpContains
	OpRegex
)

func (o Op) String() string {
	switch o {
	case OpEquals:
		return "equals"
	case OpInSet:
		return "in"
	case OpRange:
		return "range"
	case OpContains:
		return "contains"
	case OpRegex:
		return "regex"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Field names a filterable node attribute.
type Field string

const (
	FieldSourceType Field = "source_type"
	FieldTags       Field = "tags"
	FieldCreatedAt  Field = "created_at" // authored time, insert time when unknown
	FieldWordCount  Field = "word_count"
	FieldText       Field = "text"
	FieldTitle      Field = "title"
	FieldSearchable Field = "searchable" // title and text
	FieldOwner      Field = "owner"
	FieldFormat     Field = "format"
	FieldBatch      Field = "batch"
	FieldAuthor     Field = "author"
	FieldRoot       Field = "root_id"
)

// Predicate is one filter condition. Which value fields are read depends on Op:
//
//	Equals    Value (tags: node has the tag; OrUnset also matches an empty field)
//	InSet     Values (tags: node has any of them)
//	Range     From/To for created_at, Min/Max for word_count, bounds inclusive
//	Contains  Value, case-insensitive substring; '*' and '?' are wildcards
//	          unless Literal is set
//	Regex     Value, RE2 syntax; never pushed to a storage engine
type Predicate struct {
	Op      Op
	Field   Field
	Negate  bool
	OrUnset bool
	Literal bool

	Value  string
	Values []string

	From, To *time.Time
	Min, Max *int

	re *regexp.Regexp
}

// Equals matches field == value.
func Equals(field Field, value string) Predicate {
	return Predicate{Op: OpEquals, Field: field, Value: value}
}

// In matches field in values.
func In(field Field, values ...string) Predicate {
	return Predicate{Op: OpInSet, Field: field, Values: values}
}

// NotIn matches field not in values.
func NotIn(field Field, values ...string) Predicate {
	return Predicate{Op: OpInSet, Field: field, Values: values, Negate: true}
}

// TimeRange matches created_at within [from, to]; nil bounds are open.
func TimeRange(from, to *time.Time) Predicate {
	return Predicate{Op: OpRange, Field: FieldCreatedAt, From: from, To: to}
}

// WordRange matches word_count within [min, max]; nil bounds are open.
func WordRange(min, max *int) Predicate {
	return Predicate{Op: OpRange, Field: FieldWordCount, Min: min, Max: max}
}

// Contains matches a case-insensitive substring or wildcard pattern.
func Contains(field Field, text string) Predicate {
	return Predicate{Op: OpContains, Field: field, Value: text}
}

// ContainsText matches a case-insensitive substring taken verbatim, so free
// text like "why go?" does not act as a pattern.
func ContainsText(field Field, text string) Predicate {
	return Predicate{Op: OpContains, Field: field, Value: text, Literal: true}
}

// Regex matches a regular expression. Compile before use.
func Regex(field Field, pattern string) Predicate {
	return Predicate{Op: OpRegex, Field: field, Value: pattern}
}

// OwnedBy is the soft ownership filter: owner matches or is unset.
func OwnedBy(owner string) Predicate {
	return Predicate{Op: OpEquals, Field: FieldOwner, Value: owner, OrUnset: true}
}

// HasWildcard reports whether a Contains value uses '*' or '?'.
func (p Predicate) HasWildcard() bool {
	return !p.Literal && strings.ContainsAny(p.Value, "*?")
}

// Compile prepares regex and wildcard predicates for in-process matching.
func (p Predicate) Compile() (Predicate, error) {
	switch {
	case p.Op == OpRegex:
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return p, fmt.Errorf("compile %s regex %q: %w", p.Field, p.Value, err)
		}
		p.re = re
	case p.Op == OpContains && p.HasWildcard():
		p.re = regexp.MustCompile("(?is)" + WildcardToRegexp(p.Value))
	}
	return p, nil
}

// WildcardToRegexp translates '*' and '?' into an unanchored regexp body.
func WildcardToRegexp(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// WildcardToLike translates '*' and '?' into a LIKE pattern wrapped in '%',
// escaping LIKE metacharacters with '\'.
func WildcardToLike(pattern string) string {
	var b strings.Builder
	b.WriteByte('%')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('%')
	return b.String()
}

// Match evaluates the predicate against a node in process.
func (p Predicate) Match(n *models.ContentNode) bool {
	return p.match(n) != p.Negate
}

func (p Predicate) match(n *models.ContentNode) bool {
	switch p.Field {
	case FieldTags:
		return p.matchTags(n.Metadata.Tags)
	case FieldCreatedAt:
		t := n.SortTime()
		if p.From != nil && t.Before(*p.From) {
			return false
		}
		if p.To != nil && t.After(*p.To) {
			return false
		}
		return true
	case FieldWordCount:
		wc := n.Metadata.WordCount
		if p.Op == OpEquals {
			return fmt.Sprint(wc) == p.Value
		}
		if p.Min != nil && wc < *p.Min {
			return false
		}
		if p.Max != nil && wc > *p.Max {
			return false
		}
		return true
	}

	return p.matchString(fieldString(n, p.Field))
}

func (p Predicate) matchString(v string) bool {
	switch p.Op {
	case OpEquals:
		return v == p.Value || (p.OrUnset && v == "")
	case OpInSet:
		return slices.Contains(p.Values, v)
	case OpContains:
		if p.re != nil {
			return p.re.MatchString(v)
		}
		if p.HasWildcard() {
			c, _ := p.Compile()
			return c.re.MatchString(v)
		}
		return strings.Contains(strings.ToLower(v), strings.ToLower(p.Value))
	case OpRegex:
		// An uncompiled regex matches everything; the store drops invalid patterns.
		return p.re == nil || p.re.MatchString(v)
	}
	return false
}

// matchTags treats Equals as "has tag" and InSet as "has any".
func (p Predicate) matchTags(tags []string) bool {
	if p.Op == OpEquals && p.OrUnset && len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		if p.matchString(t) {
			return true
		}
	}
	return false
}

func fieldString(n *models.ContentNode, f Field) string {
	switch f {
	case FieldSourceType:
		return n.Source.Type
	case FieldText:
		return n.Content.Text
	case FieldTitle:
		return n.Metadata.Title
	case FieldSearchable:
		return n.SearchableText()
	case FieldOwner:
		return n.OwnerID
	case FieldFormat:
		return n.Content.Format
	case FieldBatch:
		return n.Source.BatchID
	case FieldAuthor:
		return n.Metadata.Author
	case FieldRoot:
		return n.Version.RootID
	}
	return ""
}

// MatchAll reports whether n satisfies every predicate.
func MatchAll(preds []Predicate, n *models.ContentNode) bool {
	for _, p := range preds {
		if !p.Match(n) {
			return false
		}
	}
	return true
}

func (p Predicate) String() string {
	neg := ""
	if p.Negate {
		neg = "not "
	}
	switch p.Op {
	case OpInSet:
		return fmt.Sprintf("%s%s %s %v", neg, p.Field, p.Op, p.Values)
	case OpRange:
		return fmt.Sprintf("%s%s %s", neg, p.Field, p.Op)
	default:
		return fmt.Sprintf("%s%s %s %q", neg, p.Field, p.Op, p.Value)
	}
}
