package job_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbase/features/job"
	"kbase/internal/testutils"
)

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := job.NewPostgresRepo(s.DB)
	ctx := context.Background()

	// Create + Get
	j := &job.Job{
		Kind:      job.KindWeb,
		SourceRef: "https://shop.example/faq",
		Config:    job.Config{FollowLinks: true, ExcludePaths: []string{"/cart/*"}},
		Status:    job.StatusQueued,
	}
	require.NoError(t, repo.Create(ctx, j))
	require.NotEmpty(t, j.ID)
	require.False(t, j.CreatedAt.IsZero())

	got, err := repo.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.SourceRef, got.SourceRef)
	assert.True(t, got.Config.FollowLinks)
	assert.Equal(t, []string{"/cart/*"}, got.Config.ExcludePaths)

	// Claim moves the job to processing and bumps the attempt counter
	claimed, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, j.ID, claimed.ID)
	assert.Equal(t, job.StatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.AttemptCount)
	require.NotNil(t, claimed.LastAttemptAt)

	// A second job for the same source stays queued while the first processes
	second := &job.Job{Kind: job.KindWeb, SourceRef: j.SourceRef, Status: job.StatusQueued}
	require.NoError(t, repo.Create(ctx, second))

	blocked, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, blocked)

	active, err := repo.HasActive(ctx, j.SourceRef)
	require.NoError(t, err)
	assert.True(t, active)

	// Finish the first job, the second becomes claimable
	claimed.Status = job.StatusProcessed
	claimed.ResultCount = 12
	require.NoError(t, repo.Update(ctx, claimed))

	next, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second.ID, next.ID)

	// Crawled pages round-trip
	pages := []job.Page{
		{JobID: j.ID, URL: "https://shop.example/faq", Depth: 0, Status: "completed"},
		{JobID: j.ID, URL: "https://shop.example/faq/returns", Depth: 1, Status: "completed"},
	}
	require.NoError(t, repo.BulkCreatePages(ctx, pages))
	// Duplicate insert is a no-op
	require.NoError(t, repo.BulkCreatePages(ctx, pages[:1]))

	listed, err := repo.ListPages(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	require.NoError(t, repo.UpdatePageStatus(ctx, j.ID, pages[1].URL, "failed", "timeout"))
	listed, err = repo.ListPages(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", listed[1].Status)
	assert.Equal(t, "timeout", listed[1].Error)

	// ListBySourceRef is newest first
	history, err := repo.ListBySourceRef(ctx, j.SourceRef)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)

	byPrefix, err := repo.ListBySourceRefPrefix(ctx, "https://shop.example/")
	require.NoError(t, err)
	assert.Len(t, byPrefix, 2)

	// Delete cascades to pages
	require.NoError(t, repo.Delete(ctx, j.ID))
	_, err = repo.Get(ctx, j.ID)
	assert.Error(t, err)

	orphans, err := repo.ListPages(ctx, j.ID)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}
