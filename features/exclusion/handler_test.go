package exclusion_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kbase/features/exclusion"
)

func TestHandler_Exclude(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		repo := new(MockRepo)
		chunks := new(MockChunkStore)
		repo.On("Save", mock.Anything, mock.Anything).Return(nil)
		chunks.On("DeleteBySourceRef", mock.Anything, "product:99").Return(nil)

		h := exclusion.NewHandler(exclusion.NewService(repo, chunks, nil))
		req := httptest.NewRequest("POST", "/exclusions",
			strings.NewReader(`{"entity_type": "product", "entity_id": "product:99"}`))
		rec := httptest.NewRecorder()

		h.Exclude(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, true, body["success"])
	})

	t.Run("bad entity type is 400", func(t *testing.T) {
		h := exclusion.NewHandler(exclusion.NewService(new(MockRepo), new(MockChunkStore), nil))
		req := httptest.NewRequest("POST", "/exclusions",
			strings.NewReader(`{"entity_type": "wiki", "entity_id": "x"}`))
		rec := httptest.NewRecorder()

		h.Exclude(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_Cleanup(t *testing.T) {
	repo := new(MockRepo)
	chunks := new(MockChunkStore)
	repo.On("List", mock.Anything).Return([]exclusion.Rule{
		{EntityType: "url", EntityID: "https://shop.test/faq"},
	}, nil)
	chunks.On("DeleteBySourceRef", mock.Anything, "https://shop.test/faq").Return(nil)

	h := exclusion.NewHandler(exclusion.NewService(repo, chunks, nil))
	req := httptest.NewRequest("POST", "/exclusions/cleanup", nil)
	rec := httptest.NewRecorder()

	h.Cleanup(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body["message"], "1 exclusion rule")
}
