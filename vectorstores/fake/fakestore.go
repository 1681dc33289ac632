package fake

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/mr-good-bye/chroma-nodes/schema"
	"github.com/mr-good-bye/chroma-nodes/vectorstores"
)

type entry struct {
	id        string
	namespace string
	doc       schema.Document
}

// Store is an in-memory vector store for testing purposes. Searches return
// documents in insertion order. Namespaces and exact-match filters are honored.
type Store struct {
	mu      sync.Mutex
	entries []entry
	idSeq   int
	calls   []vectorstores.Options

	// ErrToReturn, when set, fails every operation.
	ErrToReturn error
}

// New creates a new fake vector store.
func New() *Store {
	return &Store{}
}

// AddDocuments adds documents to the in-memory store.
func (s *Store) AddDocuments(_ context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := vectorstores.ParseOptions(options...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, opts)
	if s.ErrToReturn != nil {
		return nil, s.ErrToReturn
	}

	if opts.ClearNamespace {
		kept := s.entries[:0]
		for _, e := range s.entries {
			if e.namespace != opts.NameSpace {
				kept = append(kept, e)
			}
		}
		s.entries = kept
	}

	ids := make([]string, len(docs))
	for i, doc := range docs {
		id := fmt.Sprintf("fake-id-%d", s.idSeq)
		s.idSeq++
		s.entries = append(s.entries, entry{id: id, namespace: opts.NameSpace, doc: doc})
		ids[i] = id
	}
	return ids, nil
}

// SimilaritySearch returns the first N matching documents, simulating a search.
func (s *Store) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	scored, err := s.SimilaritySearchWithScores(ctx, query, numDocuments, options...)
	if err != nil {
		return nil, err
	}
	docs := make([]schema.Document, len(scored))
	for i, r := range scored {
		docs[i] = r.Document
	}
	return docs, nil
}

// SimilaritySearchWithScores scores documents containing the query at 1.0
// and every other match at 0.5.
func (s *Store) SimilaritySearchWithScores(_ context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]vectorstores.DocumentWithScore, error) {
	opts := vectorstores.ParseOptions(options...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, opts)
	if s.ErrToReturn != nil {
		return nil, s.ErrToReturn
	}

	var results []vectorstores.DocumentWithScore
	for _, e := range s.entries {
		if len(results) >= numDocuments {
			break
		}
		if opts.NameSpace != "" && e.namespace != opts.NameSpace {
			continue
		}
		if !matchesFilters(e.doc, opts.Filters) {
			continue
		}
		score := float32(0.5)
		if query != "" && strings.Contains(e.doc.PageContent, query) {
			score = 1.0
		}
		if score < opts.ScoreThreshold {
			continue
		}
		results = append(results, vectorstores.DocumentWithScore{Document: e.doc, Score: score})
	}
	return results, nil
}

func matchesFilters(doc schema.Document, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := doc.Metadata[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// ListCollections returns a dummy collection name.
func (s *Store) ListCollections(_ context.Context) ([]string, error) {
	return []string{"fake-collection"}, nil
}

// DeleteCollection drops every document.
func (s *Store) DeleteCollection(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

// Docs returns all documents currently in the fake store, in insertion order.
func (s *Store) Docs() []schema.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]schema.Document, len(s.entries))
	for i, e := range s.entries {
		docs[i] = e.doc
	}
	return docs
}

// Calls returns the parsed options of every call made so far.
func (s *Store) Calls() []vectorstores.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]vectorstores.Options, len(s.calls))
	copy(out, s.calls)
	return out
}
