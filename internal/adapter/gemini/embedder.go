// Package gemini adapts the Google generative AI embedding API.
package gemini

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"kbase/internal/kberr"
)

type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey, model string) (*Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &Embedder{client: client, model: model}, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}

// Embed vectorizes a single text, used for retrieval queries.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, wrapAPIError(err, "embed content")
	}
	if res.Embedding == nil {
		return nil, kberr.Embedding(nil, "empty embedding response")
	}
	return res.Embedding.Values, nil
}

// EmbedBatch vectorizes up to the API's batch limit of texts in one call,
// preserving input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", len(texts))

	em := e.client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, wrapAPIError(err, "batch embed")
	}
	if len(res.Embeddings) != len(texts) {
		return nil, kberr.Embedding(nil, "embedding count mismatch: want %d, got %d", len(texts), len(res.Embeddings))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range res.Embeddings {
		if emb == nil {
			return nil, kberr.Embedding(nil, "missing embedding at index %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// wrapAPIError keeps rate limits and server hiccups retryable. Other API
// statuses mean the request itself is bad; retrying those burns quota for
// nothing, so they map to a permanent kind.
func wrapAPIError(err error, op string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return kberr.Embedding(err, "%s: api status %d", op, apiErr.Code)
		}
		return kberr.Internal(err, "%s: api status %d", op, apiErr.Code)
	}
	return kberr.Embedding(err, "%s", op)
}
