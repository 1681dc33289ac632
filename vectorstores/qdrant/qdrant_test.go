package qdrant

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/mr-good-bye/chroma-nodes/embeddings/fake"
	"github.com/mr-good-bye/chroma-nodes/schema"
	"github.com/mr-good-bye/chroma-nodes/vectorstores"
	"github.com/mr-good-bye/chroma-nodes/vectorstores/qdrant/qdranttest"
)

func newTestStore(t *testing.T, srv *qdranttest.Server, opts ...Option) *Store {
	t.Helper()
	u, err := ParseURL(srv.URL())
	require.NoError(t, err)

	base := []Option{
		WithURL(u),
		WithCollectionName("docs"),
		WithEmbedder(fake.NewEmbedder(4)),
	}
	store, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.SetBatchConfig(BatchConfig{BatchSize: 2, RetryAttempts: 2, RetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond})
	return store
}

func sampleDocs(n int) []schema.Document {
	docs := make([]schema.Document, n)
	for i := range docs {
		docs[i] = schema.NewDocument(fmt.Sprintf("document %d", i), map[string]any{"index": i, "lang": "en"})
	}
	return docs
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw      string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{raw: "https://q.example.com", wantHost: "q.example.com", wantPort: 6334, wantTLS: true},
		{raw: "http://localhost:6333", wantHost: "localhost", wantPort: 6334},
		{raw: "localhost:6333", wantHost: "localhost", wantPort: 6334},
		{raw: "http://10.0.0.5:7334", wantHost: "10.0.0.5", wantPort: 7334},
		{raw: "", wantErr: true},
		{raw: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := ParseURL(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)

			opts := options{qdrantURL: u}
			port, err := opts.grpcPort()
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, u.Hostname())
			assert.Equal(t, tt.wantPort, port)
			assert.Equal(t, tt.wantTLS, opts.useTLS())
		})
	}
}

func TestParseOptions(t *testing.T) {
	_, err := parseOptions()
	assert.ErrorIs(t, err, ErrMissingCollectionName)

	_, err = parseOptions(WithCollectionName("docs"), WithContentKey("ns"), WithNamespaceKey("ns"))
	assert.ErrorIs(t, err, ErrInvalidOptions)

	o, err := parseOptions(WithCollectionName(" docs "), WithAPIKey("secret123"))
	require.NoError(t, err)
	assert.Equal(t, "docs", o.collectionName)
	assert.Equal(t, defaultContentKey, o.contentKey)
	assert.Equal(t, defaultNamespaceKey, o.namespaceKey)
	assert.Equal(t, "localhost:6334", o.qdrantURL.Host)
	assert.NotContains(t, o.String(), "secret123")
	assert.Contains(t, o.String(), "has_api_key=true")
}

func TestStore_AddDocumentsAndSearch(t *testing.T) {
	ctx := context.Background()
	srv := qdranttest.Start(t)
	store := newTestStore(t, srv)

	ids, err := store.AddDocuments(ctx, sampleDocs(5))
	require.NoError(t, err)
	assert.Len(t, ids, 5)
	assert.Equal(t, 3, srv.UpsertCount(), "5 points in batches of 2")

	info, err := store.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), info.VectorSize, "collection created with the embedder dimension")
	assert.Equal(t, uint64(5), info.PointsCount)
	assert.Equal(t, "Cosine", info.VectorDistance)

	byContent := map[string]*qdrant.PointStruct{}
	for _, p := range srv.Points("docs") {
		byContent[p.GetPayload()["content"].GetStringValue()] = p
	}
	require.Len(t, byContent, 5)
	require.Contains(t, byContent, "document 3")
	assert.Equal(t, int64(3), byContent["document 3"].GetPayload()["index"].GetIntegerValue())

	results, err := store.SimilaritySearchWithScores(ctx, "document", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Contains(t, r.Document.PageContent, "document ")
		assert.Equal(t, "en", r.Document.Metadata["lang"])
		assert.InDelta(t, 0.9, r.Score, 0.0001)
	}
	assert.Nil(t, srv.LastSearch().GetFilter())
	assert.Nil(t, srv.LastSearch().ScoreThreshold)
}

func TestStore_Namespaces(t *testing.T) {
	ctx := context.Background()
	srv := qdranttest.Start(t)
	store := newTestStore(t, srv)

	_, err := store.AddDocuments(ctx, sampleDocs(2), vectorstores.WithNameSpace("team-a"))
	require.NoError(t, err)
	_, err = store.AddDocuments(ctx, sampleDocs(3), vectorstores.WithNameSpace("team-b"))
	require.NoError(t, err)

	docs, err := store.SimilaritySearch(ctx, "document", 10, vectorstores.WithNameSpace("team-a"))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, "team-a", d.Metadata["namespace"])
	}

	t.Run("clear namespace before insert", func(t *testing.T) {
		_, err := store.AddDocuments(ctx, sampleDocs(1),
			vectorstores.WithNameSpace("team-b"), vectorstores.WithClearNamespace(true))
		require.NoError(t, err)

		docs, err := store.SimilaritySearch(ctx, "document", 10, vectorstores.WithNameSpace("team-b"))
		require.NoError(t, err)
		assert.Len(t, docs, 1)

		docs, err = store.SimilaritySearch(ctx, "document", 10, vectorstores.WithNameSpace("team-a"))
		require.NoError(t, err)
		assert.Len(t, docs, 2, "other namespaces are untouched")
	})

	t.Run("clear without namespace keeps other namespaces", func(t *testing.T) {
		_, err := store.AddDocuments(ctx, sampleDocs(2))
		require.NoError(t, err)
		require.Len(t, srv.Points("docs"), 5)

		_, err = store.AddDocuments(ctx, nil, vectorstores.WithClearNamespace(true))
		require.NoError(t, err)

		points := srv.Points("docs")
		require.Len(t, points, 3)
		for _, p := range points {
			assert.NotEmpty(t, p.GetPayload()["namespace"].GetStringValue())
		}
		docs, err := store.SimilaritySearch(ctx, "document", 10, vectorstores.WithNameSpace("team-a"))
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		info, err := store.CollectionInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), info.PointsCount)
	})
}

func TestStore_SearchFilters(t *testing.T) {
	ctx := context.Background()
	srv := qdranttest.Start(t)
	store := newTestStore(t, srv)

	_, err := store.AddDocuments(ctx, sampleDocs(4))
	require.NoError(t, err)

	docs, err := store.SimilaritySearch(ctx, "document", 10,
		vectorstores.WithFilters(map[string]any{"index": float64(2), "lang": "en"}),
		vectorstores.WithScoreThreshold(0.5))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "document 2", docs[0].PageContent)

	must := srv.LastSearch().GetFilter().GetMust()
	require.Len(t, must, 2)
	assert.Equal(t, "index", must[0].GetField().GetKey())
	assert.Equal(t, "lang", must[1].GetField().GetKey())
	require.NotNil(t, srv.LastSearch().ScoreThreshold)
	assert.InDelta(t, 0.5, *srv.LastSearch().ScoreThreshold, 0.0001)
}

func TestStore_FilterValues(t *testing.T) {
	ctx := context.Background()
	srv := qdranttest.Start(t)
	store := newTestStore(t, srv)

	_, err := store.AddDocuments(ctx, []schema.Document{
		schema.NewDocument("tenant x", map[string]any{"tenant": "x", "ratio": 0.25}),
		schema.NewDocument("tenant y", map[string]any{"tenant": "y", "ratio": 1.5}),
	})
	require.NoError(t, err)

	t.Run("fractional number", func(t *testing.T) {
		docs, err := store.SimilaritySearch(ctx, "tenant", 10, vectorstores.WithFilter("ratio", 1.5))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "tenant y", docs[0].PageContent)

		must := srv.LastSearch().GetFilter().GetMust()
		require.Len(t, must, 1)
		r := must[0].GetField().GetRange()
		require.NotNil(t, r)
		assert.Equal(t, 1.5, r.GetGte())
		assert.Equal(t, 1.5, r.GetLte())
	})

	t.Run("empty string matches nothing here", func(t *testing.T) {
		docs, err := store.SimilaritySearch(ctx, "tenant", 10, vectorstores.WithFilter("tenant", ""))
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("unsupported value fails instead of widening", func(t *testing.T) {
		before := srv.LastSearch()
		for _, value := range []any{nil, struct{}{}, []any{"a", 1}, math.NaN()} {
			_, err := store.SimilaritySearch(ctx, "tenant", 10,
				vectorstores.WithFilter("tenant", "x"), vectorstores.WithFilter("extra", value))
			assert.ErrorIs(t, err, ErrUnsupportedFilter, "value %v", value)
		}
		assert.Same(t, before, srv.LastSearch(), "no search reaches the server")
	})
}

func TestFilterCondition(t *testing.T) {
	assert.Nil(t, filterCondition("k", nil))
	assert.Nil(t, filterCondition("k", math.Inf(1)))

	c := filterCondition("k", float64(3))
	require.NotNil(t, c)
	assert.Equal(t, int64(3), c.GetField().GetMatch().GetInteger())

	c = filterCondition("k", float32(0.5))
	require.NotNil(t, c)
	assert.Equal(t, 0.5, c.GetField().GetRange().GetGte())
	assert.Equal(t, 0.5, c.GetField().GetRange().GetLte())

	c = filterCondition("k", "")
	require.NotNil(t, c)
	assert.Equal(t, "", c.GetField().GetMatch().GetKeyword())
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing collection", func(t *testing.T) {
		srv := qdranttest.Start(t)
		store := newTestStore(t, srv)
		_, err := store.SimilaritySearch(ctx, "query", 1)
		assert.ErrorIs(t, err, vectorstores.ErrCollectionNotFound)
	})

	t.Run("invalid document count", func(t *testing.T) {
		srv := qdranttest.Start(t)
		store := newTestStore(t, srv)
		_, err := store.SimilaritySearch(ctx, "query", 0)
		assert.ErrorIs(t, err, ErrInvalidNumDocuments)
	})

	t.Run("missing embedder", func(t *testing.T) {
		srv := qdranttest.Start(t)
		store := newTestStore(t, srv, WithEmbedder(nil))
		_, err := store.AddDocuments(ctx, sampleDocs(1))
		assert.ErrorIs(t, err, ErrMissingEmbedder)
	})

	t.Run("transient upsert failures are retried", func(t *testing.T) {
		srv := qdranttest.Start(t)
		srv.FailNextUpserts(1, codes.Unavailable)
		store := newTestStore(t, srv)

		ids, err := store.AddDocuments(ctx, sampleDocs(1))
		require.NoError(t, err)
		assert.Len(t, ids, 1)
		assert.Equal(t, 2, srv.UpsertCount())
	})

	t.Run("permanent upsert failures are not retried", func(t *testing.T) {
		srv := qdranttest.Start(t)
		srv.FailNextUpserts(10, codes.PermissionDenied)
		store := newTestStore(t, srv)

		_, err := store.AddDocuments(ctx, sampleDocs(1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "injected failure")
		assert.Equal(t, 1, srv.UpsertCount())
	})
}

func TestFromDocuments(t *testing.T) {
	ctx := context.Background()
	srv := qdranttest.Start(t)
	u, err := ParseURL(srv.URL())
	require.NoError(t, err)

	ids, err := FromDocuments(ctx, sampleDocs(3),
		[]Option{WithURL(u), WithCollectionName("bulk"), WithEmbedder(fake.NewEmbedder(2))},
		vectorstores.WithNameSpace("ns"))
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	points := srv.Points("bulk")
	require.Len(t, points, 3)
	for _, p := range points {
		assert.Equal(t, "ns", p.GetPayload()["namespace"].GetStringValue())
	}
}

func TestCodec(t *testing.T) {
	s := &Store{options: options{contentKey: "content", namespaceKey: "namespace"}}

	doc := schema.NewDocument("hello", map[string]any{
		"tags":   []string{"a", "b"},
		"nested": map[string]any{"page": 3},
		"score":  0.5,
		"ok":     true,
		"none":   nil,
	})
	payload := s.documentToPayload(doc, "team")
	assert.Equal(t, "hello", payload["content"].GetStringValue())
	assert.Equal(t, "team", payload["namespace"].GetStringValue())

	back := s.payloadToDocument(payload)
	assert.Equal(t, "hello", back.PageContent)
	assert.Equal(t, []any{"a", "b"}, back.Metadata["tags"])
	assert.Equal(t, map[string]any{"page": int64(3)}, back.Metadata["nested"])
	assert.Equal(t, 0.5, back.Metadata["score"])
	assert.Equal(t, true, back.Metadata["ok"])
	assert.Nil(t, back.Metadata["none"])
	assert.Equal(t, "team", back.Metadata["namespace"])
}

func TestToMatch(t *testing.T) {
	assert.Nil(t, toMatch(1.5))
	assert.Nil(t, toMatch(struct{}{}))
	assert.Nil(t, toMatch([]any{"a", 1}))

	m := toMatch([]any{"a", "b"})
	require.NotNil(t, m)
	assert.Equal(t, []string{"a", "b"}, m.GetKeywords().GetStrings())

	m = toMatch(float64(3))
	require.NotNil(t, m)
	assert.Equal(t, int64(3), m.GetInteger())

	_, isKeyword := toMatch("x").GetMatchValue().(*qdrant.Match_Keyword)
	assert.True(t, isKeyword)
}
