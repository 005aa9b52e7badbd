// Package memory is an in-process vector store used in tests and for
// single-node setups without a Weaviate instance.
package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kbase/internal/retrieval"
	"kbase/internal/worker"
)

type Store struct {
	mu     sync.RWMutex
	chunks map[uuid.UUID]worker.Chunk
}

func NewStore() *Store {
	return &Store{chunks: make(map[uuid.UUID]worker.Chunk)}
}

func (s *Store) ReplaceJobChunks(_ context.Context, jobID uuid.UUID, chunks []worker.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.chunks {
		if c.JobID == jobID {
			delete(s.chunks, id)
		}
	}
	for _, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = worker.ChunkID(c.JobID, c.Position)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *Store) DeleteByJob(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.chunks {
		if c.JobID == jobID {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *Store) DeleteBySourceRef(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.chunks {
		if c.SourceRef == ref || strings.HasPrefix(c.SourceRef, ref) {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *Store) Query(_ context.Context, vector []float32, k int, exclude []string) ([]retrieval.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]retrieval.Result, 0, len(s.chunks))
	for _, c := range s.chunks {
		if retrieval.Excluded(c.SourceRef, exclude) {
			continue
		}
		results = append(results, retrieval.Result{
			Text:      c.Text,
			SourceRef: c.SourceRef,
			JobID:     c.JobID.String(),
			Position:  c.Position,
			Score:     cosine(vector, c.Vector),
			CreatedAt: c.CreatedAt,
		})
	}

	// Newer chunks win score ties so fresh content surfaces first.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) GetChunksByJob(_ context.Context, jobID uuid.UUID) ([]worker.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []worker.Chunk
	for _, c := range s.chunks {
		if c.JobID == jobID {
			chunks = append(chunks, c)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Position < chunks[j].Position })
	return chunks, nil
}

func (s *Store) CountChunks(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.chunks)), nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
