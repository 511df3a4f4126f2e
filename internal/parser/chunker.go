package parser

import (
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/raphaelgruber/contentgraph/internal/models"
)

// Boundary names the delimiter that produced a chunk.
type Boundary string

const (
	BoundaryNone      Boundary = "none"
	BoundaryMessage   Boundary = "message"
	BoundaryParagraph Boundary = "paragraph"
	BoundarySentence  Boundary = "sentence"
	BoundaryClause    Boundary = "clause"
	BoundaryHard      Boundary = "hard"
)

// Chunk is a contiguous piece of the chunked input.
// Start and End are byte offsets into the original input, End exclusive.
type Chunk struct {
	Seq       int
	Start     int
	End       int
	Boundary  Boundary
	Text      string
	WordCount int
}

// ChunkConfig defines chunking parameters.
type ChunkConfig struct {
	// MaxSize is the largest chunk in bytes. Only hard splits may reach it exactly.
	MaxSize int
}

// DefaultChunkConfig returns sensible defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{MaxSize: 4000}
}

// Chunker splits text on the coarsest boundary that keeps pieces under MaxSize.
// It holds no mutable state and is safe for concurrent use.
type Chunker struct {
	maxSize int
}

// NewChunker creates a chunker. A non-positive MaxSize falls back to the default.
func NewChunker(cfg ChunkConfig) *Chunker {
	if cfg.MaxSize <= 0 {
		cfg = DefaultChunkConfig()
	}
	return &Chunker{maxSize: cfg.MaxSize}
}

// MaxSize returns the configured maximum chunk size.
func (c *Chunker) MaxSize() int {
	return c.maxSize
}

// level is a rung of the split cascade, coarsest first.
type level int

const (
	levelMessage level = iota
	levelParagraph
	levelSentence
	levelClause
	levelHard
)

func (l level) boundary() Boundary {
	switch l {
	case levelMessage:
		return BoundaryMessage
	case levelParagraph:
		return BoundaryParagraph
	case levelSentence:
		return BoundarySentence
	case levelClause:
		return BoundaryClause
	default:
		return BoundaryHard
	}
}

// piece is a chunk span before sequencing.
type piece struct {
	start, end int
	boundary   Boundary
}

// Chunk splits text into ordered chunks whose concatenation is text.
func (c *Chunker) Chunk(text string) []Chunk {
	if len(text) <= c.maxSize {
		return []Chunk{{
			Seq:       0,
			Start:     0,
			End:       len(text),
			Boundary:  BoundaryNone,
			Text:      text,
			WordCount: models.WordCount(text),
		}}
	}

	first := levelParagraph
	if IsTurnStructured(text) {
		first = levelMessage
	}

	pieces := c.split(text, first)
	chunks := make([]Chunk, 0, len(pieces))
	for i, p := range pieces {
		t := text[p.start:p.end]
		chunks = append(chunks, Chunk{
			Seq:       i,
			Start:     p.start,
			End:       p.end,
			Boundary:  p.boundary,
			Text:      t,
			WordCount: models.WordCount(t),
		})
	}
	return chunks
}

// split returns pieces of s with offsets relative to s.
func (c *Chunker) split(s string, lvl level) []piece {
	if lvl >= levelHard {
		return c.hardSplit(s)
	}

	var units []span
	switch lvl {
	case levelMessage:
		units = turnSpans(s)
	case levelParagraph:
		units = paragraphSpans(s)
		if len(units) < 2 {
			return c.split(s, levelSentence)
		}
	case levelSentence:
		units = sentenceSpans(s)
	case levelClause:
		units = clauseSpans(s)
	}
	if len(units) < 2 {
		return c.split(s, lvl+1)
	}

	var out []piece
	bufStart, bufEnd := -1, -1

	flush := func() {
		if bufStart < 0 {
			return
		}
		out = append(out, piece{start: bufStart, end: bufEnd, boundary: lvl.boundary()})
		bufStart, bufEnd = -1, -1
	}

	for _, u := range units {
		// A unit that cannot fit on its own is split one level down and spliced in.
		if u.end-u.start > c.maxSize {
			flush()
			for _, sub := range c.split(s[u.start:u.end], lvl+1) {
				sub.start += u.start
				sub.end += u.start
				out = append(out, sub)
			}
			continue
		}

		// If adding this unit would exceed max, flush current chunk
		if bufStart >= 0 && u.end-bufStart > c.maxSize {
			flush()
		}
		if bufStart < 0 {
			bufStart = u.start
		}
		bufEnd = u.end
	}
	flush()

	return out
}

// hardSplit cuts fixed MaxSize windows, backing off to a rune boundary.
func (c *Chunker) hardSplit(s string) []piece {
	var out []piece
	for start := 0; start < len(s); {
		end := start + c.maxSize
		if end >= len(s) {
			end = len(s)
		} else {
			for end > start+1 && !utf8.RuneStart(s[end]) {
				end--
			}
		}
		out = append(out, piece{start: start, end: end, boundary: BoundaryHard})
		start = end
	}
	return out
}

// span is a half-open byte range.
type span struct {
	start, end int
}

// spansFromCuts turns cut positions into contiguous spans covering [0, n).
func spansFromCuts(n int, cuts []int) []span {
	var spans []span
	prev := 0
	for _, cut := range cuts {
		if cut <= prev || cut >= n {
			continue
		}
		spans = append(spans, span{prev, cut})
		prev = cut
	}
	if prev < n {
		spans = append(spans, span{prev, n})
	}
	return spans
}

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n\s*`)

// paragraphSpans cuts after each blank-line run, keeping the separator with the preceding paragraph.
func paragraphSpans(s string) []span {
	var cuts []int
	for _, m := range paragraphBreak.FindAllStringIndex(s, -1) {
		cuts = append(cuts, m[1])
	}
	return spansFromCuts(len(s), cuts)
}

// sentenceSpans cuts after terminal punctuation followed by whitespace.
// A period after a lone capital letter ("J. Smith") is treated as an initial.
func sentenceSpans(s string) []span {
	var cuts []int
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != '.' && ch != '!' && ch != '?' {
			continue
		}
		// Absorb runs like "?!" and closing quotes or brackets.
		j := i + 1
		for j < len(s) && (s[j] == '.' || s[j] == '!' || s[j] == '?' || s[j] == '"' || s[j] == '\'' || s[j] == ')' || s[j] == ']') {
			j++
		}
		if j < len(s) && !isSpaceByte(s[j]) {
			i = j - 1
			continue
		}
		if ch == '.' && isInitial(s, i) {
			i = j - 1
			continue
		}
		for j < len(s) && isSpaceByte(s[j]) {
			j++
		}
		cuts = append(cuts, j)
		i = j - 1
	}
	return spansFromCuts(len(s), cuts)
}

// isInitial reports whether the period at i follows a single capital letter word.
func isInitial(s string, i int) bool {
	if i == 0 {
		return false
	}
	r, size := utf8.DecodeLastRuneInString(s[:i])
	if !unicode.IsUpper(r) {
		return false
	}
	before := i - size
	if before == 0 {
		return true
	}
	p, _ := utf8.DecodeLastRuneInString(s[:before])
	return unicode.IsSpace(p)
}

var clauseBreak = regexp.MustCompile(`(?:[,;:]|\x{2014}|\s-{1,2})\s+`)

// clauseSpans cuts after commas, semicolons, colons and dashes followed by whitespace.
func clauseSpans(s string) []span {
	var cuts []int
	for _, m := range clauseBreak.FindAllStringIndex(s, -1) {
		cuts = append(cuts, m[1])
	}
	return spansFromCuts(len(s), cuts)
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r' || b == '\f' || b == '\v'
}
