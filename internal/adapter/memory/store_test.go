package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbase/internal/worker"
)

func TestQuery_RanksByCosineSimilarity(t *testing.T) {
	s := NewStore()
	jobID := uuid.New()

	err := s.ReplaceJobChunks(context.Background(), jobID, []worker.Chunk{
		{JobID: jobID, SourceRef: "https://shop.test/faq", Position: 0, Text: "exact", Vector: []float32{1, 0}},
		{JobID: jobID, SourceRef: "https://shop.test/faq", Position: 1, Text: "orthogonal", Vector: []float32{0, 1}},
		{JobID: jobID, SourceRef: "https://shop.test/faq", Position: 2, Text: "close", Vector: []float32{0.9, 0.1}},
	})
	require.NoError(t, err)

	results, err := s.Query(context.Background(), []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "exact", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 0.0001)
	assert.Equal(t, "close", results[1].Text)
	assert.Equal(t, "orthogonal", results[2].Text)
}

func TestQuery_TieBreaksByRecency(t *testing.T) {
	s := NewStore()
	older := uuid.New()
	newer := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, s.ReplaceJobChunks(context.Background(), older, []worker.Chunk{
		{JobID: older, SourceRef: "https://shop.test/v1", Position: 0, Text: "old", Vector: []float32{1, 0}, CreatedAt: now.Add(-time.Hour)},
	}))
	require.NoError(t, s.ReplaceJobChunks(context.Background(), newer, []worker.Chunk{
		{JobID: newer, SourceRef: "https://shop.test/v2", Position: 0, Text: "new", Vector: []float32{1, 0}, CreatedAt: now},
	}))

	results, err := s.Query(context.Background(), []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "new", results[0].Text)
	assert.Equal(t, "old", results[1].Text)
}

func TestQuery_ExclusionByEqualOrPrefix(t *testing.T) {
	s := NewStore()
	jobID := uuid.New()

	require.NoError(t, s.ReplaceJobChunks(context.Background(), jobID, []worker.Chunk{
		{JobID: jobID, SourceRef: "https://shop.test/docs/old", Position: 0, Text: "excluded", Vector: []float32{1, 0}},
		{JobID: jobID, SourceRef: "https://shop.test/faq", Position: 1, Text: "kept", Vector: []float32{1, 0}},
	}))

	results, err := s.Query(context.Background(), []float32{1, 0}, 5, []string{"https://shop.test/docs/"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept", results[0].Text)
}

func TestReplaceJobChunks_Idempotent(t *testing.T) {
	s := NewStore()
	jobID := uuid.New()
	chunks := []worker.Chunk{
		{JobID: jobID, SourceRef: "https://shop.test/faq", Position: 0, Text: "a", Vector: []float32{1}},
		{JobID: jobID, SourceRef: "https://shop.test/faq", Position: 1, Text: "b", Vector: []float32{1}},
	}

	require.NoError(t, s.ReplaceJobChunks(context.Background(), jobID, chunks))
	require.NoError(t, s.ReplaceJobChunks(context.Background(), jobID, chunks))

	count, err := s.CountChunks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestReplaceJobChunks_ShrinkingJobDropsStale(t *testing.T) {
	s := NewStore()
	jobID := uuid.New()

	require.NoError(t, s.ReplaceJobChunks(context.Background(), jobID, []worker.Chunk{
		{JobID: jobID, SourceRef: "https://shop.test/faq", Position: 0, Text: "a", Vector: []float32{1}},
		{JobID: jobID, SourceRef: "https://shop.test/faq", Position: 1, Text: "b", Vector: []float32{1}},
		{JobID: jobID, SourceRef: "https://shop.test/faq", Position: 2, Text: "c", Vector: []float32{1}},
	}))
	require.NoError(t, s.ReplaceJobChunks(context.Background(), jobID, []worker.Chunk{
		{JobID: jobID, SourceRef: "https://shop.test/faq", Position: 0, Text: "a2", Vector: []float32{1}},
	}))

	chunks, err := s.GetChunksByJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a2", chunks[0].Text)
}

func TestDeleteBySourceRef_PrefixMatch(t *testing.T) {
	s := NewStore()
	docsJob := uuid.New()
	faqJob := uuid.New()

	require.NoError(t, s.ReplaceJobChunks(context.Background(), docsJob, []worker.Chunk{
		{JobID: docsJob, SourceRef: "https://shop.test/docs/setup", Position: 0, Text: "docs", Vector: []float32{1}},
	}))
	require.NoError(t, s.ReplaceJobChunks(context.Background(), faqJob, []worker.Chunk{
		{JobID: faqJob, SourceRef: "https://shop.test/faq", Position: 0, Text: "faq", Vector: []float32{1}},
	}))

	require.NoError(t, s.DeleteBySourceRef(context.Background(), "https://shop.test/docs/"))

	count, err := s.CountChunks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	chunks, err := s.GetChunksByJob(context.Background(), faqJob)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestGetChunksByJob_OrderedByPosition(t *testing.T) {
	s := NewStore()
	jobID := uuid.New()

	require.NoError(t, s.ReplaceJobChunks(context.Background(), jobID, []worker.Chunk{
		{JobID: jobID, SourceRef: "r", Position: 2, Text: "c", Vector: []float32{1}},
		{JobID: jobID, SourceRef: "r", Position: 0, Text: "a", Vector: []float32{1}},
		{JobID: jobID, SourceRef: "r", Position: 1, Text: "b", Vector: []float32{1}},
	}))

	chunks, err := s.GetChunksByJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{chunks[0].Text, chunks[1].Text, chunks[2].Text})
}
