package models

import "time"

// ContentBlob is a binary payload keyed by the hash of its bytes.
type ContentBlob struct {
	Hash      string    `json:"hash"`
	MIMEType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// BatchStatus represents the state of an import batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchCounts tallies what an import batch produced.
type BatchCounts struct {
	Nodes   int `json:"nodes"`
	Skipped int `json:"skipped"`
	Links   int `json:"links"`
	Errors  int `json:"errors"`
}

// ImportBatch records one ingestion run.
type ImportBatch struct {
	ID          string      `json:"id"`
	SourceType  string      `json:"source_type"`
	SourcePath  string      `json:"source_path"`
	Status      BatchStatus `json:"status"`
	Counts      BatchCounts `json:"counts"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// NodeEmbedding is a node's vector stamped with the content hash it was computed from.
type NodeEmbedding struct {
	NodeID      string    `json:"node_id"`
	ContentHash string    `json:"content_hash"`
	Model       string    `json:"model"`
	Vector      []float32 `json:"vector"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScoredNode pairs a node with a ranking score.
type ScoredNode struct {
	Node  ContentNode `json:"node"`
	Score float64     `json:"score"`
}
