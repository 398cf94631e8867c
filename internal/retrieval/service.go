package retrieval

import (
	"context"
	"fmt"
	"time"

	"qsearch/internal/vector"
)

// Result is one search hit as returned to clients. Metadata carries the
// chunk's payload minus text and source.
type Result struct {
	Text     string         `json:"text"`
	Source   string         `json:"source"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Options tune one query. Limit must be validated by the boundary before
// the service is called; a nil ScoreThreshold means no cutoff.
type Options struct {
	Limit          int
	ScoreThreshold *float32
	Filters        map[string]any
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorSearcher interface {
	Search(ctx context.Context, queryVector []float32, params vector.SearchParams) ([]vector.ScoredPoint, error)
}

// Service is the stateless query path: embed the query text as a
// single-item batch, delegate to the vector store, shape the results.
// No results is success, not an error.
type Service struct {
	embedder Embedder
	store    VectorSearcher
	logger   *QueryLogger
}

func NewService(e Embedder, s VectorSearcher, l *QueryLogger) *Service {
	return &Service{embedder: e, store: s, logger: l}
}

func (s *Service) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	start := time.Now()

	vecs, err := s.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}

	points, err := s.store.Search(ctx, vecs[0], vector.SearchParams{
		Limit:          opts.Limit,
		ScoreThreshold: opts.ScoreThreshold,
		Filters:        opts.Filters,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]Result, len(points))
	for i, p := range points {
		md := make(map[string]any, len(p.Metadata)+1)
		for k, v := range p.Metadata {
			md[k] = v
		}
		md["chunk_index"] = p.ChunkIndex
		results[i] = Result{
			Text:     p.Text,
			Source:   p.Source,
			Score:    p.Score,
			Metadata: md,
		}
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			Query:      query,
			NumResults: len(results),
			Duration:   time.Since(start),
		})
	}
	return results, nil
}
