// Package textsplitter breaks long documents into chunks small enough to
// embed one at a time.
package textsplitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/mr-good-bye/chroma-nodes/schema"
)

var ErrInvalidOptions = errors.New("textsplitter: invalid options")

// TextSplitter splits documents into smaller documents.
type TextSplitter interface {
	SplitDocuments(ctx context.Context, docs []schema.Document) ([]schema.Document, error)
}

// splitDocuments applies split to the content of every document. Each chunk
// inherits a copy of its parent's metadata; documents that produce more than
// one chunk also get "chunk_index" and "chunk_count".
func splitDocuments(ctx context.Context, docs []schema.Document, split func(string) ([]string, error)) ([]schema.Document, error) {
	out := make([]schema.Document, 0, len(docs))
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks, err := split(doc.PageContent)
		if err != nil {
			return nil, fmt.Errorf("split document %d: %w", i, err)
		}
		for n, chunk := range chunks {
			part := doc.WithContent(chunk)
			if len(chunks) > 1 {
				part.Metadata["chunk_index"] = n
				part.Metadata["chunk_count"] = len(chunks)
			}
			out = append(out, part)
		}
	}
	return out, nil
}
