// Package ollama provides an embeddings.Embedder backed by an Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/mr-good-bye/chroma-nodes/embeddings"
)

var (
	ErrInvalidModel        = errors.New("ollama: invalid model specified")
	ErrIncompleteEmbedding = errors.New("ollama: not all input texts were embedded")
)

// Embedder calls the Ollama /api/embed endpoint.
type Embedder struct {
	client    *api.Client
	model     string
	keepAlive *api.Duration
	logger    *slog.Logger

	dimMu     sync.Mutex
	dimension int
}

var _ embeddings.Embedder = (*Embedder)(nil)

func New(opts ...Option) (*Embedder, error) {
	o := applyOptions(opts...)
	if o.model == "" {
		return nil, ErrInvalidModel
	}

	base := o.serverURL
	if base == nil {
		raw := DefaultServerURL
		if host := os.Getenv("OLLAMA_HOST"); host != "" {
			raw = host
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama server URL %q: %w", raw, err)
		}
		base = parsed
	}

	e := &Embedder{
		client: api.NewClient(base, o.httpClient),
		model:  o.model,
		logger: o.logger.With("component", "ollama_embedder", "model", o.model),
	}
	if o.keepAlive != "" {
		d, err := time.ParseDuration(o.keepAlive)
		if err != nil {
			return nil, fmt.Errorf("invalid keep-alive %q: %w", o.keepAlive, err)
		}
		e.keepAlive = &api.Duration{Duration: d}
	}
	return e, nil
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model:     e.model,
		Input:     texts,
		KeepAlive: e.keepAlive,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Embedding API call failed", "error", err, "texts", len(texts))
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		e.logger.ErrorContext(ctx, "Embedding count mismatch",
			"expected", len(texts), "got", len(resp.Embeddings))
		return nil, ErrIncompleteEmbedding
	}

	e.logger.DebugContext(ctx, "Embedded documents", "texts", len(texts), "duration", time.Since(start))
	return resp.Embeddings, nil
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

// GetDimension embeds a sample text and caches the vector size. Failures
// are not cached; the next call asks the server again.
func (e *Embedder) GetDimension(ctx context.Context) (int, error) {
	e.dimMu.Lock()
	defer e.dimMu.Unlock()
	if e.dimension > 0 {
		return e.dimension, nil
	}

	v, err := e.EmbedQuery(ctx, "dimension check")
	if err != nil {
		return 0, fmt.Errorf("failed to determine embedding dimension: %w", err)
	}
	e.dimension = len(v)
	return e.dimension, nil
}
