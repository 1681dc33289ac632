// Package vectorstores defines the store abstraction a vector-store node
// hands to the workflow host, with per-call options for namespaces and
// metadata filters.
package vectorstores

import (
	"context"
	"errors"
	"maps"

	"github.com/mr-good-bye/chroma-nodes/embeddings"
	"github.com/mr-good-bye/chroma-nodes/schema"
)

var ErrCollectionNotFound = errors.New("collection not found")

// VectorStore stores documents with their embeddings and searches them by
// similarity to a query.
type VectorStore interface {
	AddDocuments(ctx context.Context, docs []schema.Document, options ...Option) ([]string, error)
	SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...Option) ([]schema.Document, error)
	SimilaritySearchWithScores(ctx context.Context, query string, numDocuments int, options ...Option) ([]DocumentWithScore, error)
	ListCollections(ctx context.Context) ([]string, error)
}

// CollectionManager is implemented by stores that can drop whole collections.
type CollectionManager interface {
	DeleteCollection(ctx context.Context, collectionName string) error
	ListCollections(ctx context.Context) ([]string, error)
}

// DocumentWithScore is a search hit. Higher scores are more similar.
type DocumentWithScore struct {
	Document schema.Document
	Score    float32
}

type Option func(*Options)

// Options configures a single store call.
//
// NameSpace partitions the points of one collection: searches only see points
// stamped with the same namespace, and inserts stamp every point with it.
// ClearNamespace removes the namespace's points before an insert; without a
// namespace it removes the points stored without one. Filters are exact
// matches on metadata keys and must all hold.
type Options struct {
	Embedder       embeddings.Embedder
	NameSpace      string
	ClearNamespace bool
	ScoreThreshold float32
	Filters        map[string]any
}

// WithEmbedder overrides the store's embedder for one call.
func WithEmbedder(embedder embeddings.Embedder) Option {
	return func(opts *Options) {
		opts.Embedder = embedder
	}
}

func WithNameSpace(namespace string) Option {
	return func(opts *Options) {
		opts.NameSpace = namespace
	}
}

func WithClearNamespace(enabled bool) Option {
	return func(opts *Options) {
		opts.ClearNamespace = enabled
	}
}

// WithScoreThreshold drops search hits scoring below threshold.
func WithScoreThreshold(threshold float32) Option {
	return func(opts *Options) {
		opts.ScoreThreshold = threshold
	}
}

// WithFilters adds every entry of filters; existing keys are overwritten.
func WithFilters(filters map[string]any) Option {
	return func(opts *Options) {
		if opts.Filters == nil {
			opts.Filters = make(map[string]any, len(filters))
		}
		maps.Copy(opts.Filters, filters)
	}
}

func WithFilter(key string, value any) Option {
	return func(opts *Options) {
		if opts.Filters == nil {
			opts.Filters = make(map[string]any)
		}
		opts.Filters[key] = value
	}
}

// ParseOptions applies options in order to fresh Options. Nil options are
// skipped.
func ParseOptions(options ...Option) Options {
	opts := Options{Filters: make(map[string]any)}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	return opts
}
