// Package vectorstoreqdrant is the Qdrant backend of the vector-store node.
package vectorstoreqdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mr-good-bye/chroma-nodes/credentials"
	"github.com/mr-good-bye/chroma-nodes/embeddings"
	"github.com/mr-good-bye/chroma-nodes/nodes/vectorstore"
	"github.com/mr-good-bye/chroma-nodes/schema"
	"github.com/mr-good-bye/chroma-nodes/vectorstores"
	"github.com/mr-good-bye/chroma-nodes/workflow"
)

const (
	ParamCollectionName  = "collectionName"
	OptionNamespace      = "namespace"
	OptionClearNamespace = "clearNamespace"

	DocsURL = "https://docs.n8n.io/integrations/builtin/cluster-nodes/root-nodes/n8n-nodes-langchain.vectorstoreqdrant/"
)

var namespaceField = workflow.Property{
	DisplayName: "Namespace",
	Name:        OptionNamespace,
	Type:        workflow.TypeString,
	Description: "Partition the records in a collection into namespaces. Queries and other operations are then limited to one namespace, so different requests can search different subsets of your collection.",
	Default:     "",
}

var sharedFields = []workflow.Property{
	{
		DisplayName: "Qdrant Collection Name",
		Name:        ParamCollectionName,
		Type:        workflow.TypeString,
		Required:    true,
		Default:     "",
	},
}

var retrieveFields = []workflow.Property{
	{
		DisplayName: "Options",
		Name:        vectorstore.ParamOptions,
		Type:        workflow.TypeCollection,
		Placeholder: "Add Option",
		Default:     map[string]any{},
		Options:     []workflow.Property{namespaceField, vectorstore.MetadataFilterField},
	},
}

var insertFields = []workflow.Property{
	{
		DisplayName: "Options",
		Name:        vectorstore.ParamOptions,
		Type:        workflow.TypeCollection,
		Placeholder: "Add Option",
		Default:     map[string]any{},
		Options: []workflow.Property{
			{
				DisplayName: "Clear Namespace",
				Name:        OptionClearNamespace,
				Type:        workflow.TypeBoolean,
				Default:     false,
				Description: "Whether to clear the namespace before inserting new data",
			},
			namespaceField,
		},
	},
}

// Definition declares the Qdrant Vector Store node.
func Definition() vectorstore.Definition {
	return vectorstore.Definition{
		Meta: vectorstore.Meta{
			DisplayName: "Qdrant Vector Store",
			Name:        "QDrant",
			Description: "Work with your data in Qdrant",
			Icon:        "file:qdrant.png",
			DocsURL:     DocsURL,
			Credentials: []credentials.Requirement{{Name: credentials.QdrantAPIName, Required: true}},
		},
		SharedFields:   sharedFields,
		RetrieveFields: retrieveFields,
		LoadFields:     retrieveFields,
		InsertFields:   insertFields,
	}
}

// Adapter implements the vector-store callbacks against Qdrant.
type Adapter struct {
	factory StoreFactory
	logger  *slog.Logger
}

var _ vectorstore.Callbacks = (*Adapter)(nil)

type Option func(*Adapter)

// WithFactory replaces the store factory. The default is a QdrantFactory.
func WithFactory(factory StoreFactory) Option {
	return func(a *Adapter) {
		if factory != nil {
			a.factory = factory
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func New(opts ...Option) *Adapter {
	a := &Adapter{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	if a.factory == nil {
		a.factory = &QdrantFactory{Logger: a.logger}
	}
	a.logger = a.logger.With("component", "qdrant_node")
	return a
}

// NewNode wires the adapter into a vector-store node.
func NewNode(opts ...Option) (*vectorstore.Node, error) {
	a := New(opts...)
	return vectorstore.New(Definition(), a, vectorstore.WithLogger(a.logger))
}

// resolve reads the collection name and the credential record for an item.
// Nothing is sent to Qdrant before both resolve.
func (a *Adapter) resolve(ctx context.Context, exec workflow.ExecutionContext, embedder embeddings.Embedder, itemIndex int) (Config, error) {
	collection, err := workflow.RequiredString(exec, ParamCollectionName, itemIndex)
	if err != nil {
		return Config{}, err
	}
	raw, err := exec.GetCredentials(ctx, credentials.QdrantAPIName)
	if err != nil {
		if errors.Is(err, workflow.ErrCredentialsNotFound) {
			return Config{}, workflow.NewConfigurationError(credentials.QdrantAPIName, err)
		}
		return Config{}, fmt.Errorf("resolve %s credentials: %w", credentials.QdrantAPIName, err)
	}
	rec, err := credentials.ResolveQdrant(raw)
	if err != nil {
		return Config{}, err
	}
	if embedder == nil {
		return Config{}, workflow.NewConfigurationError("embeddings", workflow.ErrValueRequired)
	}
	return Config{URL: rec.URL, APIKey: rec.APIKey, CollectionName: collection}, nil
}

// GetVectorStoreClient returns a new store for the item's collection. The
// namespace option and the metadata filter become defaults of every call on
// the returned store; without them the factory's store is returned as is.
func (a *Adapter) GetVectorStoreClient(ctx context.Context, exec workflow.ExecutionContext, filter map[string]any, embedder embeddings.Embedder, itemIndex int) (vectorstores.VectorStore, error) {
	cfg, err := a.resolve(ctx, exec, embedder, itemIndex)
	if err != nil {
		return nil, err
	}
	opts, err := workflow.OptionalCollection(exec, vectorstore.ParamOptions, itemIndex)
	if err != nil {
		return nil, err
	}
	namespace, err := workflow.StringOption(opts, OptionNamespace)
	if err != nil {
		return nil, err
	}

	store, err := a.factory.NewStore(ctx, embedder, cfg)
	if err != nil {
		return nil, err
	}
	a.logger.DebugContext(ctx, "Created vector store client", "config", cfg, "item", itemIndex, "namespace", namespace, "filters", len(filter))

	var defaults []vectorstores.Option
	if namespace != "" {
		defaults = append(defaults, vectorstores.WithNameSpace(namespace))
	}
	if len(filter) > 0 {
		defaults = append(defaults, vectorstores.WithFilters(filter))
	}
	return vectorstores.WithDefaults(store, defaults...), nil
}

// PopulateVectorStore writes docs through a single bulk load, even when docs
// is empty.
func (a *Adapter) PopulateVectorStore(ctx context.Context, exec workflow.ExecutionContext, embedder embeddings.Embedder, docs []schema.Document, itemIndex int) error {
	cfg, err := a.resolve(ctx, exec, embedder, itemIndex)
	if err != nil {
		return err
	}
	opts, err := workflow.OptionalCollection(exec, vectorstore.ParamOptions, itemIndex)
	if err != nil {
		return err
	}
	namespace, err := workflow.StringOption(opts, OptionNamespace)
	if err != nil {
		return err
	}
	clearNS, err := workflow.BoolOption(opts, OptionClearNamespace, false)
	if err != nil {
		return err
	}

	var addOpts []vectorstores.Option
	if namespace != "" {
		addOpts = append(addOpts, vectorstores.WithNameSpace(namespace))
	}
	if clearNS {
		addOpts = append(addOpts, vectorstores.WithClearNamespace(true))
	}

	a.logger.DebugContext(ctx, "Populating vector store", "config", cfg, "item", itemIndex, "documents", len(docs), "namespace", namespace, "clear", clearNS)
	return a.factory.FromDocuments(ctx, docs, embedder, cfg, addOpts...)
}
