package vector

import (
	"context"
	"errors"
)

// ErrDimensionMismatch signals that an existing collection was created with
// a different vector dimension than the one configured. Never retried.
var ErrDimensionMismatch = errors.New("collection dimension mismatch")

// Chunk is one contiguous text segment of a source document, the unit of
// embedding and retrieval. Metadata is copied by value from the owning job.
type Chunk struct {
	Text     string
	Index    int
	Source   string
	Metadata map[string]any
	Vector   []float32
}

// Point is a persisted vector-plus-payload record, one per chunk. IDs are
// derived deterministically from (source, chunk index) so re-ingesting the
// same source overwrites instead of duplicating.
type Point struct {
	ID         uint64
	Vector     []float32
	Text       string
	Source     string
	ChunkIndex int
	Metadata   map[string]any
}

// ScoredPoint is a single similarity-search match.
type ScoredPoint struct {
	ID         uint64
	Score      float32
	Text       string
	Source     string
	ChunkIndex int
	Metadata   map[string]any
}

// SearchParams bound a similarity query. Limit must already be validated by
// the caller; ScoreThreshold of nil means no cutoff.
type SearchParams struct {
	Limit          int
	ScoreThreshold *float32
	Filters        map[string]any
}

// Store is the vector-search collaborator. Upsert and DeleteBySource are
// idempotent; Search returns matches ordered by descending score with ties
// broken by ascending point ID.
type Store interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []Point) error
	DeleteBySource(ctx context.Context, source string) error
	Search(ctx context.Context, queryVector []float32, params SearchParams) ([]ScoredPoint, error)
	CountPoints(ctx context.Context) (uint64, error)
}
