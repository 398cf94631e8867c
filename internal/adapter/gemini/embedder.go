package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini caps batch embedding requests at 100 contents.
const maxBatchSize = 100

// Embedder is the embedding gateway: ordered batch embedding over the
// Gemini API. Sub-batching is an internal performance detail; callers see
// one vector per input text, in input order.
type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey, model string) (*Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: model}, nil
}

// EmbedBatch embeds texts one-to-one, preserving order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	slog.DebugContext(ctx, "embedding batch", "model", e.model, "count", len(texts))

	em := e.client.EmbeddingModel(e.model)
	vectors := make([][]float32, 0, len(texts))

	for _, sub := range splitBatches(texts, maxBatchSize) {
		b := em.NewBatch()
		for _, t := range sub {
			b.AddContent(genai.Text(t))
		}
		res, err := em.BatchEmbedContents(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("embed batch: %w", err)
		}
		if len(res.Embeddings) != len(sub) {
			return nil, fmt.Errorf("embed batch: got %d embeddings for %d texts", len(res.Embeddings), len(sub))
		}
		for _, emb := range res.Embeddings {
			vectors = append(vectors, emb.Values)
		}
	}

	return vectors, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}

func splitBatches(texts []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for len(texts) > size {
		out = append(out, texts[:size])
		texts = texts[size:]
	}
	return append(out, texts)
}
