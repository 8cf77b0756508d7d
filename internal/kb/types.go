// Package kb is the local knowledge store the assistant's tools read from and write to.
package kb

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSourceNotFound = errors.New("source not found")
	ErrAlreadyExists  = errors.New("source already exists")
)

// Source is one ingested document
type Source struct {
	ID         string    `json:"id"`
	Title      string    `json:"title,omitempty"`
	URL        string    `json:"url,omitempty"`
	SourceType string    `json:"source_type"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Chunk is a contiguous piece of a source's text
type Chunk struct {
	SourceID string `json:"source_id"`
	Index    int    `json:"index"`
	Content  string `json:"content"`
}

// SearchResult is a chunk matched by a search, annotated with its source
type SearchResult struct {
	SourceID    string  `json:"source_id"`
	SourceType  string  `json:"source_type"`
	SourceTitle string  `json:"source_title,omitempty"`
	SourceURL   string  `json:"source_url,omitempty"`
	Similarity  float64 `json:"similarity"`
	Content     string  `json:"content"`
}

type SearchOptions struct {
	Limit         int
	MinSimilarity float64
}

type IngestOptions struct {
	Title string
	Tags  []string
}

// IngestResult reports the outcome of an ingest. A failed ingest of something already present sets
// ExistingSourceID, which callers should treat as success-equivalent rather than a hard failure
type IngestResult struct {
	Success          bool   `json:"success"`
	SourceID         string `json:"source_id,omitempty"`
	ChunksCount      int    `json:"chunks_count,omitempty"`
	Error            string `json:"error,omitempty"`
	ExistingSourceID string `json:"existingSourceId,omitempty"`
}

type DeleteResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Store is the set of knowledge store operations the assistant depends on
type Store interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
	IngestURL(ctx context.Context, url string, opts IngestOptions) (IngestResult, error)
	IngestContent(ctx context.Context, content string, opts IngestOptions) (IngestResult, error)
	ListSources(ctx context.Context, limit int) ([]Source, error)
	DeleteSource(ctx context.Context, id string) (DeleteResult, error)
	ChunksBySourceID(ctx context.Context, id string) ([]Chunk, error)
	// SourceByID returns ErrSourceNotFound if there is no source with the given ID
	SourceByID(ctx context.Context, id string) (*Source, error)
}
