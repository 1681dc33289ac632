package vectorstores

import (
	"context"
	"errors"

	"github.com/mr-good-bye/chroma-nodes/schema"
)

var ErrNoStore = errors.New("retriever has no vector store")

// Retriever is the interface for fetching relevant documents for a query.
type Retriever interface {
	GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error)
}

// StoreRetriever searches Store for the NumDocuments most similar documents.
// Options are applied to every search.
type StoreRetriever struct {
	Store        VectorStore
	NumDocuments int
	Options      []Option
}

var _ Retriever = StoreRetriever{}

func (r StoreRetriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	if r.Store == nil {
		return nil, ErrNoStore
	}
	return r.Store.SimilaritySearch(ctx, query, r.NumDocuments, r.Options...)
}

// ToRetriever creates a retriever from a vector store.
func ToRetriever(store VectorStore, numDocuments int, options ...Option) Retriever {
	return StoreRetriever{Store: store, NumDocuments: numDocuments, Options: options}
}
