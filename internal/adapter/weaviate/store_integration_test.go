package weaviate_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	weaviatestore "kbase/internal/adapter/weaviate"
	"kbase/internal/testutils"
	"kbase/internal/vector"
	"kbase/internal/worker"
)

func TestWeaviateStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.SetupWeaviate()
	defer s.Teardown()

	ctx := context.Background()
	require.NoError(t, vector.EnsureSchema(ctx, vector.NewWeaviateClientAdapter(s.Weaviate)))

	store := weaviatestore.NewStore(s.Weaviate)
	jobID := uuid.New()
	now := time.Now().UTC()

	chunks := []worker.Chunk{
		{
			ID: worker.ChunkID(jobID, 0), JobID: jobID,
			SourceRef: "https://shop.example/faq",
			Position:  0, Text: "Refunds are accepted within 30 days of purchase.",
			Vector: []float32{0.9, 0.1, 0.0}, CreatedAt: now,
		},
		{
			ID: worker.ChunkID(jobID, 1), JobID: jobID,
			SourceRef: "https://shop.example/faq/shipping",
			Position:  1, Text: "Standard shipping takes three to five business days.",
			Vector: []float32{0.0, 0.9, 0.1}, CreatedAt: now,
		},
	}
	require.NoError(t, store.ReplaceJobChunks(ctx, jobID, chunks))

	// Nearest neighbor to the refund vector is the refund chunk
	res, err := store.Query(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Contains(t, res[0].Text, "Refunds")
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)

	// Re-processing the same job does not duplicate chunks
	require.NoError(t, store.ReplaceJobChunks(ctx, jobID, chunks))
	count, err := store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Prefix exclusion hides the shipping page
	res, err = store.Query(ctx, []float32{0, 1, 0}, 2, []string{"https://shop.example/faq/"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Contains(t, res[0].Text, "Refunds")

	// Positions come back ordered
	stored, err := store.GetChunksByJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 0, stored[0].Position)
	assert.Equal(t, 1, stored[1].Position)

	// Prefix delete removes the shipping page only
	require.NoError(t, store.DeleteBySourceRef(ctx, "https://shop.example/faq/shipping"))
	count, err = store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, store.DeleteByJob(ctx, jobID))
	count, err = store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
