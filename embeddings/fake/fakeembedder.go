package fake

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/mr-good-bye/chroma-nodes/embeddings"
)

// Embedder returns deterministic vectors derived from the text. It is safe
// for concurrent use.
type Embedder struct {
	Dimension int
	// ErrToReturn, when set, is returned by every call.
	ErrToReturn error

	mu        sync.Mutex
	callCount int
	texts     []string
}

var _ embeddings.Embedder = (*Embedder)(nil)

// NewEmbedder creates a fake embedder producing vectors of the given size.
func NewEmbedder(dimension int) *Embedder {
	return &Embedder{Dimension: dimension}
}

func (e *Embedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callCount++
	if e.ErrToReturn != nil {
		return nil, e.ErrToReturn
	}
	e.texts = append(e.texts, texts...)

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vector(text)
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embeddings.ErrEmptyText
	}
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) GetDimension(_ context.Context) (int, error) {
	if e.Dimension <= 0 {
		return 0, errors.New("fake embedder has no dimension")
	}
	return e.Dimension, nil
}

// CallCount returns the number of EmbedDocuments and EmbedQuery calls.
func (e *Embedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callCount
}

// Texts returns every text embedded so far.
func (e *Embedder) Texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.Dimension)
	h := fnv.New32a()
	for i := range v {
		h.Write([]byte(text))
		v[i] = float32(h.Sum32()%1000) / 1000
	}
	return v
}
