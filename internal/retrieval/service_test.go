package retrieval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kbase/internal/kberr"
	"kbase/internal/retrieval"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockStore struct{ mock.Mock }

func (m *MockStore) Query(ctx context.Context, vector []float32, k int, exclude []string) ([]retrieval.Result, error) {
	args := m.Called(ctx, vector, k, exclude)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.Result), args.Error(1)
}

type MockExclusions struct{ mock.Mock }

func (m *MockExclusions) ActiveRefs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func TestService_Search(t *testing.T) {
	t.Run("embeds query and passes exclusions through", func(t *testing.T) {
		e := new(MockEmbedder)
		s := new(MockStore)
		x := new(MockExclusions)

		e.On("Embed", mock.Anything, "refund policy").Return([]float32{0.1, 0.2}, nil)
		x.On("ActiveRefs", mock.Anything).Return([]string{"https://old.example.com/"}, nil)
		s.On("Query", mock.Anything, []float32{0.1, 0.2}, 5, []string{"https://old.example.com/"}).
			Return([]retrieval.Result{{Text: "Refunds within 30 days.", Score: 0.91}}, nil)

		svc := retrieval.NewService(e, s, x, 5)
		results, err := svc.Search(context.Background(), "refund policy", 0)

		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Refunds within 30 days.", results[0].Text)
		s.AssertExpectations(t)
	})

	t.Run("empty query rejected before embedding", func(t *testing.T) {
		e := new(MockEmbedder)
		svc := retrieval.NewService(e, new(MockStore), nil, 5)

		_, err := svc.Search(context.Background(), "   ", 3)

		assert.Equal(t, kberr.KindValidation, kberr.KindOf(err))
		e.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	})

	t.Run("explicit k overrides default", func(t *testing.T) {
		e := new(MockEmbedder)
		s := new(MockStore)

		e.On("Embed", mock.Anything, "hours").Return([]float32{0.3}, nil)
		s.On("Query", mock.Anything, []float32{0.3}, 12, []string(nil)).
			Return([]retrieval.Result{}, nil)

		svc := retrieval.NewService(e, s, nil, 5)
		_, err := svc.Search(context.Background(), "hours", 12)

		require.NoError(t, err)
		s.AssertExpectations(t)
	})

	t.Run("embedder failure surfaces", func(t *testing.T) {
		e := new(MockEmbedder)
		e.On("Embed", mock.Anything, "q").Return(nil, kberr.Embedding(errors.New("429"), "rate limited"))

		svc := retrieval.NewService(e, new(MockStore), nil, 5)
		_, err := svc.Search(context.Background(), "q", 3)

		assert.Equal(t, kberr.KindEmbedding, kberr.KindOf(err))
	})

	t.Run("exclusion lookup failure surfaces", func(t *testing.T) {
		e := new(MockEmbedder)
		x := new(MockExclusions)
		e.On("Embed", mock.Anything, "q").Return([]float32{0.1}, nil)
		x.On("ActiveRefs", mock.Anything).Return(nil, errors.New("db down"))

		svc := retrieval.NewService(e, new(MockStore), x, 5)
		_, err := svc.Search(context.Background(), "q", 3)

		assert.Error(t, err)
	})
}

func TestSearchVector_EmptyVector(t *testing.T) {
	svc := retrieval.NewService(new(MockEmbedder), new(MockStore), nil, 5)
	_, err := svc.SearchVector(context.Background(), nil, 3)
	assert.Equal(t, kberr.KindValidation, kberr.KindOf(err))
}

func TestExcluded(t *testing.T) {
	exclude := []string{"https://a.test/docs/", "upload:old.pdf"}

	assert.True(t, retrieval.Excluded("https://a.test/docs/", exclude))
	assert.True(t, retrieval.Excluded("https://a.test/docs/setup", exclude))
	assert.True(t, retrieval.Excluded("upload:old.pdf", exclude))
	assert.False(t, retrieval.Excluded("https://a.test/blog/post", exclude))
	assert.False(t, retrieval.Excluded("upload:new.pdf", exclude))
}
