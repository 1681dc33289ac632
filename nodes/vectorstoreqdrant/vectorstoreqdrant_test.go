package vectorstoreqdrant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-good-bye/chroma-nodes/credentials"
	"github.com/mr-good-bye/chroma-nodes/embeddings"
	embedfake "github.com/mr-good-bye/chroma-nodes/embeddings/fake"
	"github.com/mr-good-bye/chroma-nodes/nodes/vectorstore"
	"github.com/mr-good-bye/chroma-nodes/schema"
	"github.com/mr-good-bye/chroma-nodes/vectorstores"
	storefake "github.com/mr-good-bye/chroma-nodes/vectorstores/fake"
	"github.com/mr-good-bye/chroma-nodes/vectorstores/qdrant"
	"github.com/mr-good-bye/chroma-nodes/vectorstores/qdrant/qdranttest"
	"github.com/mr-good-bye/chroma-nodes/workflow"
)

type bulkLoad struct {
	docs []schema.Document
	cfg  Config
	opts vectorstores.Options
}

// recordingFactory hands out a new fake store per construction and records
// every call.
type recordingFactory struct {
	constructed []Config
	stores      []*storefake.Store
	loads       []bulkLoad
	err         error
}

func (f *recordingFactory) NewStore(_ context.Context, _ embeddings.Embedder, cfg Config) (vectorstores.VectorStore, error) {
	f.constructed = append(f.constructed, cfg)
	if f.err != nil {
		return nil, f.err
	}
	store := storefake.New()
	f.stores = append(f.stores, store)
	return store, nil
}

func (f *recordingFactory) FromDocuments(_ context.Context, docs []schema.Document, _ embeddings.Embedder, cfg Config, opts ...vectorstores.Option) error {
	f.loads = append(f.loads, bulkLoad{docs: docs, cfg: cfg, opts: vectorstores.ParseOptions(opts...)})
	return f.err
}

func validContext(params map[string]any) *workflow.StaticContext {
	p := map[string]any{ParamCollectionName: "docs"}
	for k, v := range params {
		p[k] = v
	}
	return &workflow.StaticContext{
		Parameters: p,
		Credentials: map[string]map[string]any{
			credentials.QdrantAPIName: {"url": "https://q.example.com", "apiKey": "secret123"},
		},
	}
}

func threeDocs() []schema.Document {
	return []schema.Document{
		schema.NewDocument("one", nil),
		schema.NewDocument("two", nil),
		schema.NewDocument("three", nil),
	}
}

func TestDefinition(t *testing.T) {
	def := Definition()
	require.NoError(t, def.Validate())
	assert.Equal(t, "Qdrant Vector Store", def.Meta.DisplayName)
	assert.Equal(t, "QDrant", def.Meta.Name)
	assert.Equal(t, "Work with your data in Qdrant", def.Meta.Description)
	assert.Equal(t, []credentials.Requirement{{Name: "qdrantApi", Required: true}}, def.Meta.Credentials)

	collection, ok := workflow.Lookup(def.SharedFields, ParamCollectionName)
	require.True(t, ok)
	assert.Equal(t, "Qdrant Collection Name", collection.DisplayName)
	assert.True(t, collection.Required)

	retrieveOpts := def.RetrieveFields[0].Options
	_, ok = workflow.Lookup(retrieveOpts, OptionNamespace)
	assert.True(t, ok)
	_, ok = workflow.Lookup(retrieveOpts, vectorstore.OptionMetadataFilter)
	assert.True(t, ok)
	assert.Equal(t, def.RetrieveFields, def.LoadFields)

	clearField, ok := workflow.Lookup(def.InsertFields[0].Options, OptionClearNamespace)
	require.True(t, ok)
	assert.Equal(t, false, clearField.Default)

	for _, p := range def.Properties() {
		for _, opt := range p.Options {
			assert.NotContains(t, opt.DisplayName, "Pinecone")
		}
	}
}

func TestGetVectorStoreClient(t *testing.T) {
	ctx := context.Background()
	embedder := embedfake.NewEmbedder(3)

	t.Run("constructs with resolved config and returns the handle unmodified", func(t *testing.T) {
		factory := &recordingFactory{}
		a := New(WithFactory(factory))

		store, err := a.GetVectorStoreClient(ctx, validContext(nil), nil, embedder, 0)
		require.NoError(t, err)

		require.Len(t, factory.constructed, 1)
		cfg := factory.constructed[0]
		assert.Equal(t, "https://q.example.com", cfg.URL)
		assert.Equal(t, "secret123", cfg.APIKey.Reveal())
		assert.Equal(t, "docs", cfg.CollectionName)
		assert.Same(t, factory.stores[0], store)
	})

	t.Run("no caching between calls", func(t *testing.T) {
		factory := &recordingFactory{}
		a := New(WithFactory(factory))
		exec := validContext(nil)

		first, err := a.GetVectorStoreClient(ctx, exec, nil, embedder, 0)
		require.NoError(t, err)
		second, err := a.GetVectorStoreClient(ctx, exec, nil, embedder, 0)
		require.NoError(t, err)

		assert.Len(t, factory.constructed, 2)
		assert.NotSame(t, first, second)
	})

	t.Run("collection name is resolved per item", func(t *testing.T) {
		factory := &recordingFactory{}
		a := New(WithFactory(factory))
		exec := validContext(nil)
		exec.Items = []map[string]any{{}, {ParamCollectionName: "other"}}

		_, err := a.GetVectorStoreClient(ctx, exec, nil, embedder, 1)
		require.NoError(t, err)
		assert.Equal(t, "other", factory.constructed[0].CollectionName)
	})

	t.Run("namespace and filter scope the handle", func(t *testing.T) {
		factory := &recordingFactory{}
		a := New(WithFactory(factory))
		exec := validContext(map[string]any{
			vectorstore.ParamOptions: map[string]any{OptionNamespace: "team-a"},
		})

		store, err := a.GetVectorStoreClient(ctx, exec, map[string]any{"lang": "en"}, embedder, 0)
		require.NoError(t, err)
		assert.NotSame(t, factory.stores[0], store)

		_, err = store.SimilaritySearch(ctx, "q", 2)
		require.NoError(t, err)
		calls := factory.stores[0].Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "team-a", calls[0].NameSpace)
		assert.Equal(t, map[string]any{"lang": "en"}, calls[0].Filters)
	})

	t.Run("factory errors propagate", func(t *testing.T) {
		boom := errors.New("unauthenticated")
		a := New(WithFactory(&recordingFactory{err: boom}))
		_, err := a.GetVectorStoreClient(ctx, validContext(nil), nil, embedder, 0)
		assert.ErrorIs(t, err, boom)
	})
}

func TestPopulateVectorStore(t *testing.T) {
	ctx := context.Background()
	embedder := embedfake.NewEmbedder(3)

	t.Run("three documents in one bulk load", func(t *testing.T) {
		factory := &recordingFactory{}
		a := New(WithFactory(factory))

		require.NoError(t, a.PopulateVectorStore(ctx, validContext(nil), embedder, threeDocs(), 0))
		require.Len(t, factory.loads, 1)
		load := factory.loads[0]
		assert.Len(t, load.docs, 3)
		assert.Equal(t, "https://q.example.com", load.cfg.URL)
		assert.Equal(t, "secret123", load.cfg.APIKey.Reveal())
		assert.Equal(t, "docs", load.cfg.CollectionName)
		assert.Empty(t, load.opts.NameSpace)
		assert.False(t, load.opts.ClearNamespace)
		assert.Empty(t, factory.constructed)
	})

	t.Run("zero documents still delegate", func(t *testing.T) {
		factory := &recordingFactory{}
		a := New(WithFactory(factory))

		require.NoError(t, a.PopulateVectorStore(ctx, validContext(nil), embedder, nil, 0))
		require.Len(t, factory.loads, 1)
		assert.Empty(t, factory.loads[0].docs)
	})

	t.Run("namespace options", func(t *testing.T) {
		factory := &recordingFactory{}
		a := New(WithFactory(factory))
		exec := validContext(map[string]any{
			vectorstore.ParamOptions: map[string]any{OptionNamespace: "team-b", OptionClearNamespace: true},
		})

		require.NoError(t, a.PopulateVectorStore(ctx, exec, embedder, threeDocs(), 0))
		assert.Equal(t, "team-b", factory.loads[0].opts.NameSpace)
		assert.True(t, factory.loads[0].opts.ClearNamespace)
	})

	t.Run("bulk load errors propagate", func(t *testing.T) {
		boom := errors.New("collection absent")
		a := New(WithFactory(&recordingFactory{err: boom}))
		err := a.PopulateVectorStore(ctx, validContext(nil), embedder, threeDocs(), 0)
		assert.ErrorIs(t, err, boom)
	})
}

func TestMissingConfiguration(t *testing.T) {
	ctx := context.Background()
	embedder := embedfake.NewEmbedder(3)

	tests := []struct {
		name     string
		exec     func() *workflow.StaticContext
		embedder embeddings.Embedder
		field    string
	}{
		{
			name: "collection name",
			exec: func() *workflow.StaticContext {
				e := validContext(nil)
				delete(e.Parameters, ParamCollectionName)
				return e
			},
			embedder: embedder,
			field:    ParamCollectionName,
		},
		{
			name: "blank collection name",
			exec: func() *workflow.StaticContext {
				return validContext(map[string]any{ParamCollectionName: "  "})
			},
			embedder: embedder,
			field:    ParamCollectionName,
		},
		{
			name: "credentials",
			exec: func() *workflow.StaticContext {
				e := validContext(nil)
				e.Credentials = nil
				return e
			},
			embedder: embedder,
			field:    credentials.QdrantAPIName,
		},
		{
			name: "url",
			exec: func() *workflow.StaticContext {
				e := validContext(nil)
				delete(e.Credentials[credentials.QdrantAPIName], "url")
				return e
			},
			embedder: embedder,
			field:    "qdrantApi.url",
		},
		{
			name: "api key",
			exec: func() *workflow.StaticContext {
				e := validContext(nil)
				e.Credentials[credentials.QdrantAPIName]["apiKey"] = ""
				return e
			},
			embedder: embedder,
			field:    "qdrantApi.apiKey",
		},
		{
			name:  "embedder",
			exec:  func() *workflow.StaticContext { return validContext(nil) },
			field: "embeddings",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := &recordingFactory{}
			a := New(WithFactory(factory))

			_, err := a.GetVectorStoreClient(ctx, tt.exec(), nil, tt.embedder, 0)
			assertConfigError(t, err, tt.field)

			err = a.PopulateVectorStore(ctx, tt.exec(), tt.embedder, threeDocs(), 0)
			assertConfigError(t, err, tt.field)

			assert.Empty(t, factory.constructed, "no store is built")
			assert.Empty(t, factory.loads, "no bulk load is attempted")
		})
	}
}

func assertConfigError(t *testing.T, err error, field string) {
	t.Helper()
	require.ErrorIs(t, err, workflow.ErrConfiguration)
	var cfgErr *workflow.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, field, cfgErr.Field)
	assert.NotContains(t, err.Error(), "secret123")
}

func TestQdrantFactory(t *testing.T) {
	ctx := context.Background()
	embedder := embedfake.NewEmbedder(3)

	t.Run("malformed url", func(t *testing.T) {
		f := &QdrantFactory{}
		_, err := f.NewStore(ctx, embedder, Config{URL: "http://", APIKey: "k", CollectionName: "docs"})
		assert.ErrorIs(t, err, qdrant.ErrInvalidURL)

		err = f.FromDocuments(ctx, threeDocs(), embedder, Config{URL: "", CollectionName: "docs"})
		assert.ErrorIs(t, err, qdrant.ErrInvalidURL)
	})

	t.Run("node round trip over gRPC", func(t *testing.T) {
		srv := qdranttest.Start(t)
		node, err := NewNode()
		require.NoError(t, err)

		exec := &workflow.StaticContext{
			Parameters: map[string]any{
				vectorstore.ParamMode: "insert",
				ParamCollectionName:   "docs",
				vectorstore.ParamOptions: map[string]any{
					OptionNamespace: "team-a",
				},
			},
			Credentials: map[string]map[string]any{
				credentials.QdrantAPIName: {"url": srv.URL(), "apiKey": "secret123"},
			},
		}
		res, err := node.Execute(ctx, exec, embedder, threeDocs(), 0)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Inserted)

		points := srv.Points("docs")
		require.Len(t, points, 3)
		for _, p := range points {
			assert.Equal(t, "team-a", p.GetPayload()["namespace"].GetStringValue())
		}

		exec.Parameters[vectorstore.ParamMode] = "load"
		exec.Parameters[vectorstore.ParamPrompt] = "two"
		res, err = node.Execute(ctx, exec, embedder, nil, 0)
		require.NoError(t, err)
		assert.Len(t, res.Documents, 3)
		assert.Equal(t, "team-a", srv.LastSearch().GetFilter().GetMust()[0].GetField().GetMatch().GetKeyword())
	})

	t.Run("metadata filter never widens a search", func(t *testing.T) {
		srv := qdranttest.Start(t)
		node, err := NewNode()
		require.NoError(t, err)

		exec := &workflow.StaticContext{
			Parameters: map[string]any{vectorstore.ParamMode: "insert", ParamCollectionName: "docs"},
			Credentials: map[string]map[string]any{
				credentials.QdrantAPIName: {"url": srv.URL(), "apiKey": "secret123"},
			},
		}
		_, err = node.Execute(ctx, exec, embedder, []schema.Document{
			schema.NewDocument("for x", map[string]any{"tenant": "x"}),
			schema.NewDocument("for y", map[string]any{"tenant": "y"}),
		}, 0)
		require.NoError(t, err)

		load := func(pair map[string]any) ([]vectorstores.DocumentWithScore, error) {
			exec.Parameters[vectorstore.ParamMode] = "load"
			exec.Parameters[vectorstore.ParamPrompt] = "for"
			exec.Parameters[vectorstore.ParamOptions] = map[string]any{
				vectorstore.OptionMetadataFilter: map[string]any{"metadataValues": []any{pair}},
			}
			res, err := node.Execute(ctx, exec, embedder, nil, 0)
			return res.Documents, err
		}

		docs, err := load(map[string]any{"name": "tenant", "value": "x"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "for x", docs[0].Document.PageContent)

		docs, err = load(map[string]any{"name": "tenant"})
		require.NoError(t, err)
		assert.Empty(t, docs)
		assert.NotNil(t, srv.LastSearch().GetFilter())

		docs, err = load(map[string]any{"name": "tenant", "value": 1.5})
		require.NoError(t, err)
		assert.Empty(t, docs)
		assert.NotNil(t, srv.LastSearch().GetFilter().GetMust()[0].GetField().GetRange())

		_, err = load(map[string]any{"name": "tenant", "value": map[string]any{"nested": true}})
		assert.ErrorIs(t, err, qdrant.ErrUnsupportedFilter)
	})

	t.Run("clear without namespace keeps named namespaces", func(t *testing.T) {
		srv := qdranttest.Start(t)
		node, err := NewNode()
		require.NoError(t, err)

		exec := &workflow.StaticContext{
			Parameters: map[string]any{
				vectorstore.ParamMode:    "insert",
				ParamCollectionName:      "docs",
				vectorstore.ParamOptions: map[string]any{OptionNamespace: "team-a"},
			},
			Credentials: map[string]map[string]any{
				credentials.QdrantAPIName: {"url": srv.URL(), "apiKey": "secret123"},
			},
		}
		_, err = node.Execute(ctx, exec, embedder, threeDocs()[:2], 0)
		require.NoError(t, err)

		exec.Parameters[vectorstore.ParamOptions] = map[string]any{OptionClearNamespace: true}
		_, err = node.Execute(ctx, exec, embedder, threeDocs()[2:], 0)
		require.NoError(t, err)

		namespaces := map[string]int{}
		for _, p := range srv.Points("docs") {
			namespaces[p.GetPayload()["namespace"].GetStringValue()]++
		}
		assert.Equal(t, map[string]int{"team-a": 2, "": 1}, namespaces)
	})
}
