// Package retrieval turns a free-text query into ranked chunks from the
// vector store, honoring exclusion rules.
package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"kbase/internal/kberr"
)

type Result struct {
	Text      string    `json:"text"`
	SourceRef string    `json:"sourceRef"`
	JobID     string    `json:"jobId"`
	Position  int       `json:"position"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	// Query returns up to k chunks nearest to vector, skipping chunks whose
	// source ref equals or is prefixed by any entry in exclude.
	Query(ctx context.Context, vector []float32, k int, exclude []string) ([]Result, error)
}

// ExclusionSource yields the refs currently blocked from retrieval.
type ExclusionSource interface {
	ActiveRefs(ctx context.Context) ([]string, error)
}

type Service struct {
	embedder   Embedder
	store      VectorStore
	exclusions ExclusionSource
	defaultK   int
}

func NewService(embedder Embedder, store VectorStore, exclusions ExclusionSource, defaultK int) *Service {
	if defaultK <= 0 {
		defaultK = 5
	}
	return &Service{embedder: embedder, store: store, exclusions: exclusions, defaultK: defaultK}
}

func (s *Service) Search(ctx context.Context, query string, k int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, kberr.Validation("query must not be empty")
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.SearchVector(ctx, vector, k)
}

// SearchVector runs retrieval for a pre-computed query vector.
func (s *Service) SearchVector(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if len(vector) == 0 {
		return nil, kberr.Validation("query vector must not be empty")
	}
	if k <= 0 {
		k = s.defaultK
	}

	var exclude []string
	if s.exclusions != nil {
		refs, err := s.exclusions.ActiveRefs(ctx)
		if err != nil {
			return nil, err
		}
		exclude = refs
	}

	start := time.Now()
	results, err := s.store.Query(ctx, vector, k, exclude)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "vector search completed",
		"k", k, "results", len(results), "excluded_refs", len(exclude),
		"duration_ms", time.Since(start).Milliseconds())
	return results, nil
}

// Excluded reports whether ref matches any exclusion entry, either exactly
// or as a path underneath an excluded prefix.
func Excluded(ref string, exclude []string) bool {
	for _, ex := range exclude {
		if ref == ex || strings.HasPrefix(ref, ex) {
			return true
		}
	}
	return false
}
