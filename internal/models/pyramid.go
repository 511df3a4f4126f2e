package models

import "time"

// PyramidTier identifies a pyramid level.
type PyramidTier string

const (
	TierChunk   PyramidTier = "chunk"   // L0
	TierSummary PyramidTier = "summary" // L1
	TierApex    PyramidTier = "apex"
)

// PyramidChunk is an L0 piece of a thread.
type PyramidChunk struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Seq       int       `json:"seq"`
	Text      string    `json:"text"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Boundary  string    `json:"boundary"`
	WordCount int       `json:"word_count"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// PyramidSummary is an L1 summary over a run of consecutive chunks.
type PyramidSummary struct {
	ID               string    `json:"id"`
	ThreadID         string    `json:"thread_id"`
	Seq              int       `json:"seq"`
	Text             string    `json:"text"`
	ChildIDs         []string  `json:"child_ids"`
	SourceWords      int       `json:"source_words"`
	WordCount        int       `json:"word_count"`
	CompressionRatio float64   `json:"compression_ratio"`
	Extractive       bool      `json:"extractive"`
	Embedding        []float32 `json:"embedding,omitempty"`
}

// PyramidApex is the single whole-thread synthesis.
type PyramidApex struct {
	ID               string    `json:"id"`
	ThreadID         string    `json:"thread_id"`
	Text             string    `json:"text"`
	ChildIDs         []string  `json:"child_ids"`
	SourceWords      int       `json:"source_words"`
	WordCount        int       `json:"word_count"`
	CompressionRatio float64   `json:"compression_ratio"`
	Extractive       bool      `json:"extractive"`
	Embedding        []float32 `json:"embedding,omitempty"`
}

// Pyramid holds every tier built for one thread.
type Pyramid struct {
	ThreadID  string           `json:"thread_id"`
	Chunks    []PyramidChunk   `json:"chunks"`
	Summaries []PyramidSummary `json:"summaries"`
	Apex      *PyramidApex     `json:"apex,omitempty"`
	Depth     int              `json:"depth"`
	BuiltAt   time.Time        `json:"built_at"`
}

// ComputeDepth returns 1 plus one for each upper tier that exists.
func (p *Pyramid) ComputeDepth() int {
	depth := 1
	if len(p.Summaries) > 0 {
		depth++
	}
	if p.Apex != nil {
		depth++
	}
	return depth
}

// PyramidHit is one cross-tier search result.
type PyramidHit struct {
	Tier       PyramidTier `json:"tier"`
	ID         string      `json:"id"`
	ThreadID   string      `json:"thread_id"`
	Text       string      `json:"text"`
	Similarity float64     `json:"similarity"`
}

// CompressionRatio returns source words per output word, 0 when output is empty.
func CompressionRatio(sourceWords, outputWords int) float64 {
	if outputWords == 0 {
		return 0
	}
	return float64(sourceWords) / float64(outputWords)
}
