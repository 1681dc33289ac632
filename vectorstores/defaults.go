package vectorstores

import (
	"context"
	"io"

	"github.com/mr-good-bye/chroma-nodes/schema"
)

// scopedStore applies a fixed set of options ahead of the per-call options
// of every operation.
type scopedStore struct {
	VectorStore
	defaults []Option
}

// WithDefaults returns a store that applies defaults before the options
// passed to each call. Options passed per call win on conflict.
// Without defaults the store is returned unchanged.
func WithDefaults(store VectorStore, defaults ...Option) VectorStore {
	if len(defaults) == 0 {
		return store
	}
	return &scopedStore{VectorStore: store, defaults: defaults}
}

// Unwrap returns the decorated store.
func (s *scopedStore) Unwrap() VectorStore {
	return s.VectorStore
}

// Close closes the decorated store if it holds resources.
func (s *scopedStore) Close() error {
	if c, ok := s.VectorStore.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *scopedStore) merge(options []Option) []Option {
	out := make([]Option, 0, len(s.defaults)+len(options))
	out = append(out, s.defaults...)
	return append(out, options...)
}

func (s *scopedStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...Option) ([]string, error) {
	return s.VectorStore.AddDocuments(ctx, docs, s.merge(options)...)
}

func (s *scopedStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...Option) ([]schema.Document, error) {
	return s.VectorStore.SimilaritySearch(ctx, query, numDocuments, s.merge(options)...)
}

func (s *scopedStore) SimilaritySearchWithScores(ctx context.Context, query string, numDocuments int, options ...Option) ([]DocumentWithScore, error) {
	return s.VectorStore.SimilaritySearchWithScores(ctx, query, numDocuments, s.merge(options)...)
}
