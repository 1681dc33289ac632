// Package vectorstore is the generic vector-store node. A backend supplies a
// Definition (meta plus per-mode fields) and the two Callbacks; the node
// resolves the operation mode and shared parameters and dispatches.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mr-good-bye/chroma-nodes/credentials"
	"github.com/mr-good-bye/chroma-nodes/embeddings"
	"github.com/mr-good-bye/chroma-nodes/schema"
	"github.com/mr-good-bye/chroma-nodes/vectorstores"
	"github.com/mr-good-bye/chroma-nodes/workflow"
)

var (
	ErrUnknownMode       = errors.New("vectorstore: unknown operation mode")
	ErrInvalidDefinition = errors.New("vectorstore: invalid node definition")
)

// Mode is the operation a vector-store node performs.
type Mode string

const (
	ModeLoad     Mode = "load"
	ModeInsert   Mode = "insert"
	ModeRetrieve Mode = "retrieve"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.TrimSpace(s)); m {
	case ModeLoad, ModeInsert, ModeRetrieve:
		return m, nil
	default:
		return "", workflow.NewConfigurationError(ParamMode, fmt.Errorf("%w: %q", ErrUnknownMode, s))
	}
}

// Callbacks is what a backend implements. Both calls run once per batch item
// and must not keep state between calls.
type Callbacks interface {
	// GetVectorStoreClient builds a fresh store handle for reading.
	GetVectorStoreClient(ctx context.Context, exec workflow.ExecutionContext, filter map[string]any, embedder embeddings.Embedder, itemIndex int) (vectorstores.VectorStore, error)
	// PopulateVectorStore writes docs in a single delegated bulk load.
	PopulateVectorStore(ctx context.Context, exec workflow.ExecutionContext, embedder embeddings.Embedder, docs []schema.Document, itemIndex int) error
}

// Meta is the node's identity in the workflow editor.
type Meta struct {
	DisplayName string                    `json:"displayName" yaml:"displayName"`
	Name        string                    `json:"name" yaml:"name"`
	Description string                    `json:"description" yaml:"description"`
	Icon        string                    `json:"icon,omitempty" yaml:"icon,omitempty"`
	DocsURL     string                    `json:"docsUrl" yaml:"docsUrl"`
	Credentials []credentials.Requirement `json:"credentials" yaml:"credentials"`
}

// Definition declares a vector-store node.
type Definition struct {
	Meta           Meta
	SharedFields   []workflow.Property
	RetrieveFields []workflow.Property
	LoadFields     []workflow.Property
	InsertFields   []workflow.Property
}

// Validate checks that the definition can be rendered by the editor.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Meta.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDefinition)
	}
	if strings.TrimSpace(d.Meta.DisplayName) == "" {
		return fmt.Errorf("%w: %s: missing display name", ErrInvalidDefinition, d.Meta.Name)
	}
	seen := map[string]bool{ParamMode: true, ParamPrompt: true, ParamTopK: true}
	for _, p := range d.SharedFields {
		if seen[p.Name] {
			return fmt.Errorf("%w: %s: shared field %q collides with a reserved or shared field", ErrInvalidDefinition, d.Meta.Name, p.Name)
		}
		seen[p.Name] = true
	}
	for mode, fields := range map[Mode][]workflow.Property{ModeRetrieve: d.RetrieveFields, ModeLoad: d.LoadFields, ModeInsert: d.InsertFields} {
		for _, p := range fields {
			if seen[p.Name] {
				return fmt.Errorf("%w: %s: %s field %q collides with a reserved or shared field", ErrInvalidDefinition, d.Meta.Name, mode, p.Name)
			}
		}
	}
	return nil
}

// Properties returns the full parameter list shown in the editor: the mode
// selector, the shared fields and every mode's fields gated on the mode.
func (d Definition) Properties() []workflow.Property {
	props := []workflow.Property{modeSelector(d)}
	props = append(props, d.SharedFields...)
	props = append(props, workflow.ShowFor(loadModeFields(), ParamMode, string(ModeLoad))...)
	props = append(props, workflow.ShowFor(d.LoadFields, ParamMode, string(ModeLoad))...)
	props = append(props, workflow.ShowFor(d.InsertFields, ParamMode, string(ModeInsert))...)
	props = append(props, workflow.ShowFor(d.RetrieveFields, ParamMode, string(ModeRetrieve))...)
	return props
}

// Node dispatches host invocations to a backend's callbacks.
type Node struct {
	def       Definition
	callbacks Callbacks
	logger    *slog.Logger
}

type Option func(*Node)

func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// New creates a node from a definition and the backend callbacks.
func New(def Definition, callbacks Callbacks, opts ...Option) (*Node, error) {
	if callbacks == nil {
		return nil, fmt.Errorf("%w: %s: callbacks are required", ErrInvalidDefinition, def.Meta.Name)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	n := &Node{def: def, callbacks: callbacks, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "vectorstore_node", "node", def.Meta.Name)
	return n, nil
}

func (n *Node) Definition() Definition {
	return n.def
}

// Retrieve returns a store handle for downstream AI nodes. The metadata
// filter is read from the options collection and passed to the backend.
func (n *Node) Retrieve(ctx context.Context, exec workflow.ExecutionContext, embedder embeddings.Embedder, itemIndex int) (vectorstores.VectorStore, error) {
	opts, err := workflow.OptionalCollection(exec, ParamOptions, itemIndex)
	if err != nil {
		return nil, err
	}
	filter, err := MetadataFilter(opts)
	if err != nil {
		return nil, err
	}
	store, err := n.callbacks.GetVectorStoreClient(ctx, exec, filter, embedder, itemIndex)
	if err != nil {
		return nil, fmt.Errorf("%s: get vector store client: %w", n.def.Meta.Name, err)
	}
	return store, nil
}

// Load runs the prompt against the store and returns the topK best matches.
func (n *Node) Load(ctx context.Context, exec workflow.ExecutionContext, embedder embeddings.Embedder, itemIndex int) ([]vectorstores.DocumentWithScore, error) {
	prompt, err := workflow.RequiredString(exec, ParamPrompt, itemIndex)
	if err != nil {
		return nil, err
	}
	topK, err := workflow.Int(exec, ParamTopK, itemIndex, DefaultTopK)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, workflow.NewConfigurationError(ParamTopK, fmt.Errorf("must be positive, got %d", topK))
	}

	store, err := n.Retrieve(ctx, exec, embedder, itemIndex)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	results, err := store.SimilaritySearchWithScores(ctx, prompt, topK)
	if err != nil {
		return nil, fmt.Errorf("%s: similarity search: %w", n.def.Meta.Name, err)
	}
	n.logger.DebugContext(ctx, "Loaded documents", "item", itemIndex, "top_k", topK, "results", len(results))
	return results, nil
}

// Insert hands every document to the backend in one call.
func (n *Node) Insert(ctx context.Context, exec workflow.ExecutionContext, embedder embeddings.Embedder, docs []schema.Document, itemIndex int) error {
	if err := n.callbacks.PopulateVectorStore(ctx, exec, embedder, docs, itemIndex); err != nil {
		return fmt.Errorf("%s: populate vector store: %w", n.def.Meta.Name, err)
	}
	n.logger.DebugContext(ctx, "Inserted documents", "item", itemIndex, "count", len(docs))
	return nil
}

// Result is the outcome of Execute. Store is set in retrieve mode, Documents
// in load mode and Inserted in insert mode.
type Result struct {
	Mode      Mode
	Store     vectorstores.VectorStore
	Documents []vectorstores.DocumentWithScore
	Inserted  int
}

// Retriever exposes the store of a retrieve result to downstream consumers
// that only search. It fails with vectorstores.ErrNoStore for other modes.
func (r Result) Retriever(numDocuments int, options ...vectorstores.Option) vectorstores.Retriever {
	return vectorstores.ToRetriever(r.Store, numDocuments, options...)
}

// Execute resolves the mode parameter for the item and runs that mode.
// An unset mode means retrieve.
func (n *Node) Execute(ctx context.Context, exec workflow.ExecutionContext, embedder embeddings.Embedder, docs []schema.Document, itemIndex int) (Result, error) {
	mode := ModeRetrieve
	raw, err := exec.GetNodeParameter(ParamMode, itemIndex)
	switch {
	case errors.Is(err, workflow.ErrParameterNotFound):
	case err != nil:
		return Result{}, workflow.NewConfigurationError(ParamMode, err)
	default:
		s, ok := raw.(string)
		if !ok {
			return Result{}, workflow.NewConfigurationError(ParamMode, fmt.Errorf("expected string, got %T", raw))
		}
		if mode, err = ParseMode(s); err != nil {
			return Result{}, err
		}
	}

	res := Result{Mode: mode}
	switch mode {
	case ModeLoad:
		res.Documents, err = n.Load(ctx, exec, embedder, itemIndex)
	case ModeInsert:
		err = n.Insert(ctx, exec, embedder, docs, itemIndex)
		res.Inserted = len(docs)
	case ModeRetrieve:
		res.Store, err = n.Retrieve(ctx, exec, embedder, itemIndex)
	}
	if err != nil {
		return Result{Mode: mode}, err
	}
	return res, nil
}
