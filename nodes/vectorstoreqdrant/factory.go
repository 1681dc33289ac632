package vectorstoreqdrant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mr-good-bye/chroma-nodes/credentials"
	"github.com/mr-good-bye/chroma-nodes/embeddings"
	"github.com/mr-good-bye/chroma-nodes/schema"
	"github.com/mr-good-bye/chroma-nodes/vectorstores"
	"github.com/mr-good-bye/chroma-nodes/vectorstores/qdrant"
)

// Config is everything needed to reach one Qdrant collection.
type Config struct {
	URL            string
	APIKey         credentials.Secret
	CollectionName string
}

func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", c.URL),
		slog.String("collection", c.CollectionName),
		slog.Any("api_key", c.APIKey),
	)
}

// StoreFactory constructs Qdrant stores. It is the seam between the node and
// the client library.
type StoreFactory interface {
	// NewStore returns a fresh store handle for the collection.
	NewStore(ctx context.Context, embedder embeddings.Embedder, cfg Config) (vectorstores.VectorStore, error)
	// FromDocuments embeds and writes docs to the collection in one call.
	FromDocuments(ctx context.Context, docs []schema.Document, embedder embeddings.Embedder, cfg Config, opts ...vectorstores.Option) error
}

// QdrantFactory builds stores over the gRPC client in vectorstores/qdrant.
type QdrantFactory struct {
	Logger *slog.Logger
	// Options are applied after the connection options derived from Config.
	Options []qdrant.Option
}

var _ StoreFactory = (*QdrantFactory)(nil)

func (f *QdrantFactory) storeOptions(embedder embeddings.Embedder, cfg Config) ([]qdrant.Option, error) {
	u, err := qdrant.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	opts := []qdrant.Option{
		qdrant.WithURL(u),
		qdrant.WithAPIKey(cfg.APIKey.Reveal()),
		qdrant.WithCollectionName(cfg.CollectionName),
		qdrant.WithEmbedder(embedder),
		qdrant.WithLogger(f.Logger),
	}
	return append(opts, f.Options...), nil
}

func (f *QdrantFactory) NewStore(ctx context.Context, embedder embeddings.Embedder, cfg Config) (vectorstores.VectorStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts, err := f.storeOptions(embedder, cfg)
	if err != nil {
		return nil, err
	}
	store, err := qdrant.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant store for %q: %w", cfg.CollectionName, err)
	}
	return store, nil
}

func (f *QdrantFactory) FromDocuments(ctx context.Context, docs []schema.Document, embedder embeddings.Embedder, cfg Config, opts ...vectorstores.Option) error {
	storeOpts, err := f.storeOptions(embedder, cfg)
	if err != nil {
		return err
	}
	if _, err := qdrant.FromDocuments(ctx, docs, storeOpts, opts...); err != nil {
		return fmt.Errorf("qdrant bulk load into %q: %w", cfg.CollectionName, err)
	}
	return nil
}
