package domain

import (
	"context"
	"time"
)

// Well-known metadata keys.
const (
	MetaSource      = "source"
	MetaFilePath    = "file_path"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
	MetaSummary     = "summary"
	MetaText        = "text"
	MetaIndexedAt   = "indexed_at"
	MetaPage        = "page"
	MetaTotalPages  = "total_pages"
)

// Index status values reported by IndexStats.
const (
	StatusUninitialized = "uninitialized"
	StatusReady         = "ready"
)

// Metadata is a free-form attribute map attached to records, passages and index entries.
type Metadata map[string]any

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns the value under key if it is a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Int returns the value under key as an int. JSON round trips turn ints into
// float64, so both are accepted.
func (m Metadata) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	}
	return 0, false
}

// Record is one unit of text produced by a document loader.
type Record struct {
	Text     string
	Metadata Metadata
}

// Passage is a retrieval-sized piece of a Record.
type Passage struct {
	Text     string
	Metadata Metadata
}

// SearchResult is a ranked hit returned by a similarity search.
type SearchResult struct {
	Metadata Metadata `json:"metadata"`
	Score    float32  `json:"score"`
	Rank     int      `json:"rank"`
}

// IndexStats is a diagnostic snapshot of a vector index.
type IndexStats struct {
	Status        string `json:"status" yaml:"status"`
	TotalVectors  int    `json:"total_vectors" yaml:"total_vectors"`
	Dimension     int    `json:"dimension" yaml:"dimension"`
	MetadataCount int    `json:"metadata_count" yaml:"metadata_count"`
	Backend       string `json:"backend,omitempty" yaml:"backend,omitempty"`
}

// BuildResult reports the outcome of a knowledge base build.
type BuildResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Stats   *IndexStats   `json:"stats,omitempty"`
	Elapsed time.Duration `json:"-"`
}

// KnowledgeBase defines the operations exposed by the application core.
type KnowledgeBase interface {
	Build(ctx context.Context, rebuild bool) BuildResult
	Search(ctx context.Context, query string, k int) []SearchResult
	Stats(ctx context.Context) IndexStats
}
