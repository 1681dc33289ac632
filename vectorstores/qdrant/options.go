package qdrant

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"google.golang.org/grpc"

	"github.com/mr-good-bye/chroma-nodes/embeddings"
)

const (
	defaultContentKey   = "content"
	defaultNamespaceKey = "namespace"
	defaultHost         = "localhost"
	defaultGRPCPort     = 6334
	restPort            = "6333"
)

var ErrInvalidOptions = errors.New("qdrant: invalid options provided")

// options holds all configuration options for the Qdrant store.
type options struct {
	collectionName     string
	qdrantURL          url.URL
	embedder           embeddings.Embedder
	apiKey             string
	contentKey         string
	namespaceKey       string
	logger             *slog.Logger
	retryAttempts      int
	batchSize          int
	grpcOptions        []grpc.DialOption
	checkCompatibility bool
}

// Option defines a function type for configuring Qdrant store options.
type Option func(*options)

// WithCollectionName sets the collection name for the Qdrant store.
func WithCollectionName(name string) Option {
	return func(opts *options) {
		opts.collectionName = strings.TrimSpace(name)
	}
}

// WithLogger sets the logger for the Qdrant store.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithURL sets the Qdrant server URL. An https scheme enables TLS. A missing
// port or the REST port 6333 is mapped to the gRPC port 6334.
func WithURL(qdrantURL url.URL) Option {
	return func(opts *options) {
		opts.qdrantURL = qdrantURL
	}
}

// WithEmbedder sets the embedder for generating vector embeddings.
func WithEmbedder(embedder embeddings.Embedder) Option {
	return func(opts *options) {
		opts.embedder = embedder
	}
}

// WithAPIKey sets the API key for Qdrant authentication.
func WithAPIKey(apiKey string) Option {
	return func(opts *options) {
		opts.apiKey = strings.TrimSpace(apiKey)
	}
}

// WithContentKey sets the payload key that holds the document content.
func WithContentKey(contentKey string) Option {
	return func(opts *options) {
		if contentKey != "" {
			opts.contentKey = strings.TrimSpace(contentKey)
		}
	}
}

// WithNamespaceKey sets the payload key that partitions a collection into namespaces.
func WithNamespaceKey(key string) Option {
	return func(opts *options) {
		if key != "" {
			opts.namespaceKey = strings.TrimSpace(key)
		}
	}
}

// WithRetryAttempts sets the number of retry attempts for failed upserts.
func WithRetryAttempts(attempts int) Option {
	return func(opts *options) {
		if attempts >= 0 {
			opts.retryAttempts = attempts
		}
	}
}

// WithBatchSize sets the number of points per upsert request.
func WithBatchSize(size int) Option {
	return func(opts *options) {
		if size > 0 {
			opts.batchSize = size
		}
	}
}

// WithGRPCOptions appends dial options to the underlying gRPC connection.
func WithGRPCOptions(dialOptions ...grpc.DialOption) Option {
	return func(opts *options) {
		opts.grpcOptions = append(opts.grpcOptions, dialOptions...)
	}
}

// WithCompatibilityCheck makes the client compare its version with the server on connect.
func WithCompatibilityCheck(enabled bool) Option {
	return func(opts *options) {
		opts.checkCompatibility = enabled
	}
}

// ParseURL parses a Qdrant endpoint as users write it, with or without a scheme.
func ParseURL(raw string) (url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return url.URL{}, fmt.Errorf("%w: empty URL", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return url.URL{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Hostname() == "" {
		return url.URL{}, fmt.Errorf("%w: missing host in %q", ErrInvalidURL, u.Redacted())
	}
	return *u, nil
}

// applyDefaults sets default values for options that weren't explicitly configured.
func applyDefaults(opts *options) {
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	if opts.contentKey == "" {
		opts.contentKey = defaultContentKey
	}
	if opts.namespaceKey == "" {
		opts.namespaceKey = defaultNamespaceKey
	}
	if opts.retryAttempts == 0 {
		opts.retryAttempts = DefaultRetryAttempts
	}
	if opts.batchSize == 0 {
		opts.batchSize = DefaultBatchSize
	}
	if opts.qdrantURL.Host == "" {
		opts.qdrantURL = url.URL{
			Scheme: "http",
			Host:   fmt.Sprintf("%s:%d", defaultHost, defaultGRPCPort),
		}
	}
}

// validate checks if the options are valid and returns an error if not.
func (opts *options) validate() error {
	if strings.TrimSpace(opts.collectionName) == "" {
		return ErrMissingCollectionName
	}
	if opts.batchSize <= 0 || opts.batchSize > MaxBatchSize {
		return fmt.Errorf("%w: batch size must be between 1 and %d", ErrInvalidOptions, MaxBatchSize)
	}
	if opts.qdrantURL.Scheme != "http" && opts.qdrantURL.Scheme != "https" {
		return fmt.Errorf("%w: URL scheme must be http or https", ErrInvalidURL)
	}
	if opts.contentKey == opts.namespaceKey {
		return fmt.Errorf("%w: content key and namespace key must differ", ErrInvalidOptions)
	}
	return nil
}

// parseOptions processes the provided options and returns a configured options struct.
func parseOptions(opts ...Option) (options, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	applyDefaults(&o)
	if err := o.validate(); err != nil {
		return o, err
	}
	return o, nil
}

func (opts *options) useTLS() bool {
	return opts.qdrantURL.Scheme == "https"
}

// grpcPort maps the configured port to the gRPC port.
func (opts *options) grpcPort() (int, error) {
	port := opts.qdrantURL.Port()
	if port == "" || port == restPort {
		return defaultGRPCPort, nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("%w: invalid port %q", ErrInvalidURL, port)
	}
	return n, nil
}

// String returns a string representation of the options (excluding sensitive data).
func (opts *options) String() string {
	var parts []string

	parts = append(parts, "collection="+opts.collectionName)
	parts = append(parts, "host="+opts.qdrantURL.Host)
	parts = append(parts, "content_key="+opts.contentKey)
	parts = append(parts, "namespace_key="+opts.namespaceKey)

	if opts.apiKey != "" {
		parts = append(parts, "has_api_key=true")
	}
	if opts.embedder != nil {
		parts = append(parts, "has_embedder=true")
	}

	return "QdrantOptions{" + strings.Join(parts, ", ") + "}"
}
