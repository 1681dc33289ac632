package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-good-bye/chroma-nodes/schema"
	"github.com/mr-good-bye/chroma-nodes/vectorstores"
)

func TestStore_Namespaces(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.AddDocuments(ctx, []schema.Document{schema.NewDocument("alpha", nil)}, vectorstores.WithNameSpace("a"))
	require.NoError(t, err)
	_, err = s.AddDocuments(ctx, []schema.Document{schema.NewDocument("beta", nil)}, vectorstores.WithNameSpace("b"))
	require.NoError(t, err)

	docs, err := s.SimilaritySearch(ctx, "alpha", 10, vectorstores.WithNameSpace("a"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "alpha", docs[0].PageContent)

	_, err = s.AddDocuments(ctx, nil, vectorstores.WithNameSpace("a"), vectorstores.WithClearNamespace(true))
	require.NoError(t, err)
	assert.Len(t, s.Docs(), 1)
	assert.Len(t, s.Calls(), 3)

	_, err = s.AddDocuments(ctx, []schema.Document{schema.NewDocument("gamma", nil)})
	require.NoError(t, err)
	_, err = s.AddDocuments(ctx, nil, vectorstores.WithClearNamespace(true))
	require.NoError(t, err)
	require.Len(t, s.Docs(), 1)
	assert.Equal(t, "beta", s.Docs()[0].PageContent, "named namespaces survive a clear without namespace")
}

func TestStore_FiltersAndScores(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.AddDocuments(ctx, []schema.Document{
		schema.NewDocument("go channels", map[string]any{"lang": "go"}),
		schema.NewDocument("rust traits", map[string]any{"lang": "rust"}),
	})
	require.NoError(t, err)

	results, err := s.SimilaritySearchWithScores(ctx, "channels", 5, vectorstores.WithFilter("lang", "go"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 0.0001)

	results, err = s.SimilaritySearchWithScores(ctx, "nothing", 5, vectorstores.WithScoreThreshold(0.9))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeleteCollection(t *testing.T) {
	s := New()
	_, err := s.AddDocuments(context.Background(), []schema.Document{schema.NewDocument("x", nil)})
	require.NoError(t, err)

	err = s.DeleteCollection(context.Background(), "test-collection")
	assert.NoError(t, err)
	assert.Empty(t, s.Docs())
}

func TestStore_Error(t *testing.T) {
	s := New()
	s.ErrToReturn = errors.New("boom")
	_, err := s.SimilaritySearch(context.Background(), "q", 1)
	assert.EqualError(t, err, "boom")
}
