// Package weaviate persists and searches vectorized chunks.
package weaviate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"kbase/internal/retrieval"
	"kbase/internal/vector"
	"kbase/internal/worker"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// ReplaceJobChunks removes any chunks a previous run of the job left behind,
// then inserts the new set in one batch. Object IDs are derived from the job
// and position, so a replay lands on the same IDs.
func (s *Store) ReplaceJobChunks(ctx context.Context, jobID uuid.UUID, chunks []worker.Chunk) error {
	if err := s.DeleteByJob(ctx, jobID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(chunks))
	for _, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = worker.ChunkID(c.JobID, c.Position)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		objects = append(objects, &models.Object{
			Class: vector.ClassName,
			ID:    strfmt.UUID(id.String()),
			Properties: map[string]interface{}{
				"content":   c.Text,
				"jobId":     c.JobID.String(),
				"sourceRef": c.SourceRef,
				"position":  c.Position,
				"createdAt": createdAt.Format(time.RFC3339),
			},
			Vector: c.Vector,
		})
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, obj := range res {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch insert object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) DeleteByJob(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"jobId"}).
			WithOperator(filters.Equal).
			WithValueString(jobID.String())).
		Do(ctx)
	return err
}

// DeleteBySourceRef removes chunks whose source ref equals ref or lives
// underneath it.
func (s *Store) DeleteBySourceRef(ctx context.Context, ref string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithOperator(filters.Or).
			WithOperands([]*filters.WhereBuilder{
				filters.Where().
					WithPath([]string{"sourceRef"}).
					WithOperator(filters.Equal).
					WithValueString(ref),
				filters.Where().
					WithPath([]string{"sourceRef"}).
					WithOperator(filters.Like).
					WithValueString(ref + "*"),
			})).
		Do(ctx)
	return err
}

// Query returns the k nearest chunks to vector. Exclusions use prefix
// semantics Weaviate's where filters cannot express directly, so the query
// over-fetches and filters here.
func (s *Store) Query(ctx context.Context, queryVector []float32, k int, exclude []string) ([]retrieval.Result, error) {
	fetchLimit := k
	if len(exclude) > 0 {
		fetchLimit = k * 5
		if fetchLimit < 50 {
			fetchLimit = 50
		}
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(queryVector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "jobId"},
		{Name: "sourceRef"},
		{Name: "position"},
		{Name: "createdAt"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(fetchLimit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var results []retrieval.Result
	for _, props := range objects(res.Data) {
		result := retrieval.Result{}
		if content, ok := props["content"].(string); ok {
			result.Text = content
		}
		if jobID, ok := props["jobId"].(string); ok {
			result.JobID = jobID
		}
		if ref, ok := props["sourceRef"].(string); ok {
			result.SourceRef = ref
		}
		if position, ok := props["position"].(float64); ok {
			result.Position = int(position)
		}
		if created, ok := props["createdAt"].(string); ok {
			if t, err := time.Parse(time.RFC3339, created); err == nil {
				result.CreatedAt = t
			}
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				// certainty is (cosine+1)/2, undo that to report raw cosine
				result.Score = 2*certainty - 1
			}
		}

		if retrieval.Excluded(result.SourceRef, exclude) {
			continue
		}
		results = append(results, result)
	}

	// Newer chunks win score ties so fresh content surfaces first.
	sort.SliceStable(results, func(i, j int) bool {
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

func (s *Store) GetChunksByJob(ctx context.Context, jobID uuid.UUID) ([]worker.Chunk, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "jobId"},
		{Name: "sourceRef"},
		{Name: "position"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	where := filters.Where().
		WithPath([]string{"jobId"}).
		WithOperator(filters.Equal).
		WithValueString(jobID.String())

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithWhere(where).
		WithLimit(10000).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var chunks []worker.Chunk
	for _, props := range objects(res.Data) {
		chunk := worker.Chunk{JobID: jobID}
		if content, ok := props["content"].(string); ok {
			chunk.Text = content
		}
		if ref, ok := props["sourceRef"].(string); ok {
			chunk.SourceRef = ref
		}
		if position, ok := props["position"].(float64); ok {
			chunk.Position = int(position)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if rawID, ok := additional["id"].(string); ok {
				if id, err := uuid.Parse(rawID); err == nil {
					chunk.ID = id
				}
			}
		}
		chunks = append(chunks, chunk)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Position < chunks[j].Position })
	return chunks, nil
}

// CountChunks reports the total number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if rows, ok := data[vector.ClassName].([]interface{}); ok && len(rows) > 0 {
			if row, ok := rows[0].(map[string]interface{}); ok {
				if meta, ok := row["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int64(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

// objects unwraps the Get payload into per-object property maps.
func objects(data map[string]models.JSONObject) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := get[vector.ClassName].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}
