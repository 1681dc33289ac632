package textsplitter

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mr-good-bye/chroma-nodes/schema"
)

const overlapSeparator = "\n"

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveCharacter is a text splitter that recursively tries to split text
// using a list of separators. It keeps paragraphs, then lines, then words
// together as long as they fit into a chunk.
type RecursiveCharacter struct {
	opts options
}

var _ TextSplitter = (*RecursiveCharacter)(nil)

// NewRecursiveCharacter creates a new RecursiveCharacter text splitter.
func NewRecursiveCharacter(opts ...Option) (*RecursiveCharacter, error) {
	o := options{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		separators:   defaultSeparators,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.chunkOverlap >= o.chunkSize {
		return nil, fmt.Errorf("%w: chunk overlap (%d) must be smaller than chunk size (%d)",
			ErrInvalidOptions, o.chunkOverlap, o.chunkSize)
	}
	return &RecursiveCharacter{opts: o}, nil
}

// SplitDocuments splits every document into chunks.
func (s *RecursiveCharacter) SplitDocuments(ctx context.Context, docs []schema.Document) ([]schema.Document, error) {
	return splitDocuments(ctx, docs, func(text string) ([]string, error) {
		return s.SplitText(ctx, text)
	})
}

// SplitText splits a single text into chunks. Text that already fits is
// returned unchanged; blank text yields no chunks.
func (s *RecursiveCharacter) SplitText(_ context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if len(text) <= s.opts.chunkSize {
		return []string{text}, nil
	}
	if s.opts.chunkOverlap == 0 {
		return splitRecursive(text, s.opts.separators, s.opts.chunkSize), nil
	}
	// leave room for the overlap prefix
	limit := max(s.opts.chunkSize-s.opts.chunkOverlap-len(overlapSeparator), 1)
	return s.withOverlap(splitRecursive(text, s.opts.separators, limit)), nil
}

// splitRecursive splits text on the first separator, merges adjacent pieces
// up to limit bytes and recurses with the finer separators into pieces that
// are still too long.
func splitRecursive(text string, separators []string, limit int) []string {
	if len(text) <= limit || len(separators) == 0 {
		return []string{text}
	}

	separator := separators[0]
	remaining := separators[1:]

	var merged []string
	current := ""
	for _, split := range strings.Split(text, separator) {
		if split == "" {
			continue
		}
		if current != "" && len(current)+len(separator)+len(split) <= limit {
			current += separator + split
			continue
		}
		if current != "" {
			merged = append(merged, current)
		}
		current = split
	}
	if current != "" {
		merged = append(merged, current)
	}

	var chunks []string
	for _, split := range merged {
		if len(split) <= limit {
			chunks = append(chunks, split)
			continue
		}
		chunks = append(chunks, splitRecursive(split, remaining, limit)...)
	}
	return chunks
}

// withOverlap prefixes every chunk after the first with the tail of its
// predecessor.
func (s *RecursiveCharacter) withOverlap(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if i == 0 {
			out = append(out, chunk)
			continue
		}
		out = append(out, tail(chunks[i-1], s.opts.chunkOverlap)+overlapSeparator+chunk)
	}
	return out
}

// tail returns at most n trailing bytes of s without cutting a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
