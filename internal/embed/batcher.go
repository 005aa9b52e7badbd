// Package embed batches chunk texts into embedding API calls with retry
// and partial-failure accounting.
package embed

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kbase/internal/kberr"
)

// Embedder is the slice of the API adapter the batcher needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Failure records a single text that could not be embedded after retries.
type Failure struct {
	Index int
	Err   error
}

// Result holds vectors aligned with the input texts. Vectors[i] is nil when
// texts[i] failed; the failure detail is in Failed.
type Result struct {
	Vectors [][]float32
	Failed  []Failure
}

type Batcher struct {
	embedder   Embedder
	batchSize  int
	maxRetries int
	baseDelay  time.Duration
}

func NewBatcher(embedder Embedder, batchSize, maxRetries int) *Batcher {
	if batchSize <= 0 {
		batchSize = 32
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Batcher{
		embedder:   embedder,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
	}
}

// EmbedAll vectorizes every text, splitting into batches. A batch that keeps
// failing after retries falls back to per-item calls so one poisoned text
// cannot sink its whole batch.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) (Result, error) {
	res := Result{Vectors: make([][]float32, len(texts))}

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		batch := texts[start:end]

		vectors, err := b.embedBatchWithRetry(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			slog.WarnContext(ctx, "batch embedding failed, falling back to per-item calls",
				"batch_start", start, "batch_size", len(batch), "error", err)
			b.embedItems(ctx, texts, start, end, &res)
			continue
		}
		copy(res.Vectors[start:], vectors)
	}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

func (b *Batcher) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	op := func() error {
		v, err := b.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			if !kberr.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		vectors = v
		return nil
	}
	if err := backoff.Retry(op, b.policy(ctx)); err != nil {
		return nil, err
	}
	return vectors, nil
}

// embedItems retries each text on its own, recording the ones that still fail.
func (b *Batcher) embedItems(ctx context.Context, texts []string, start, end int, res *Result) {
	for i := start; i < end; i++ {
		if ctx.Err() != nil {
			return
		}
		var vector []float32
		op := func() error {
			v, err := b.embedder.Embed(ctx, texts[i])
			if err != nil {
				if !kberr.Retryable(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			vector = v
			return nil
		}
		if err := backoff.Retry(op, b.policy(ctx)); err != nil {
			res.Failed = append(res.Failed, Failure{Index: i, Err: err})
			continue
		}
		res.Vectors[i] = vector
	}
}

func (b *Batcher) policy(ctx context.Context) backoff.BackOff {
	pol := backoff.NewExponentialBackOff()
	pol.InitialInterval = b.baseDelay
	pol.MaxInterval = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(pol, uint64(b.maxRetries)), ctx)
}
