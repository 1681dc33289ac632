// Package schema holds the types shared by loaders, splitters, embedders and
// vector stores.
package schema

import "maps"

// Document is a piece of text and the metadata stored alongside its vector.
type Document struct {
	PageContent string
	Metadata    map[string]any
}

func (d Document) String() string {
	return d.PageContent
}

// NewDocument creates a document; a nil metadata map is replaced by an empty one.
func NewDocument(content string, metadata map[string]any) Document {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return Document{
		PageContent: content,
		Metadata:    metadata,
	}
}

// WithContent returns a document with the given content and a shallow copy
// of d's metadata.
func (d Document) WithContent(content string) Document {
	return NewDocument(content, maps.Clone(d.Metadata))
}

// CollectionInfo describes a vector collection.
type CollectionInfo struct {
	Name           string `json:"name" yaml:"name"`
	PointsCount    uint64 `json:"points_count" yaml:"points_count"`
	VectorSize     uint64 `json:"vector_size" yaml:"vector_size"`
	VectorDistance string `json:"vector_distance" yaml:"vector_distance"` // e.g. "Cosine"
}
