package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Embedder converts text into vectors. It is the embeddings provider a host
// hands to a vector-store node.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	GetDimension(ctx context.Context) (int, error)
}

type EmbedderImpl struct {
	client Embedder
	opts   options
}

var (
	ErrEmptyText     = errors.New("text cannot be empty")
	ErrCountMismatch = errors.New("embedder returned a different number of vectors than texts")
)

// NewEmbedder wraps client with newline stripping and concurrent batching.
func NewEmbedder(client Embedder, opts ...Option) (Embedder, error) {
	if client == nil {
		return nil, errors.New("embedder client is required")
	}
	if _, ok := client.(*EmbedderImpl); ok {
		return nil, errors.New("cannot wrap an already-wrapped EmbedderImpl")
	}

	return &EmbedderImpl{
		client: client,
		opts:   applyOptions(opts...),
	}, nil
}

func (e *EmbedderImpl) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	return e.client.EmbedQuery(ctx, e.preprocessText(text))
}

// EmbedDocuments embeds texts in batches of the configured size, running at
// most the configured number of batches at a time. Output order matches
// input order.
func (e *EmbedderImpl) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	processed := make([]string, len(texts))
	for i, text := range texts {
		processed[i] = e.preprocessText(text)
	}

	batches := batchTexts(processed, e.opts.batchSize)
	results := make([][][]float32, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.maxConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			vectors, err := e.client.EmbedDocuments(gctx, batch)
			if err != nil {
				return fmt.Errorf("error embedding batch %d: %w", i, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("batch %d: %w: %d vectors for %d texts", i, ErrCountMismatch, len(vectors), len(batch))
			}
			results[i] = vectors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([][]float32, 0, len(texts))
	for _, batch := range results {
		all = append(all, batch...)
	}
	return all, nil
}

func (e *EmbedderImpl) GetDimension(ctx context.Context) (int, error) {
	return e.client.GetDimension(ctx)
}

func (e *EmbedderImpl) preprocessText(text string) string {
	if e.opts.stripNewLines {
		return strings.ReplaceAll(text, "\n", " ")
	}
	return text
}

func batchTexts(texts []string, batchSize int) [][]string {
	if batchSize <= 0 {
		return [][]string{texts}
	}

	batches := make([][]string, 0, (len(texts)+batchSize-1)/batchSize)
	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))
		batches = append(batches, texts[i:end])
	}
	return batches
}
