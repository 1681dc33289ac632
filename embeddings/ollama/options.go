package ollama

import (
	"log/slog"
	"net/http"
	"net/url"
)

// DefaultServerURL is used when neither WithServerURL nor OLLAMA_HOST is set.
const DefaultServerURL = "http://127.0.0.1:11434"

type options struct {
	model      string
	serverURL  *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	keepAlive  string
}

// Option configures the Ollama embedder.
type Option func(*options)

func applyOptions(opts ...Option) options {
	o := options{
		logger:     slog.Default(),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithServerURL sets the Ollama endpoint. Unparseable URLs are ignored.
func WithServerURL(rawURL string) Option {
	return func(opts *options) {
		if parsedURL, err := url.Parse(rawURL); err == nil && parsedURL.Host != "" {
			opts.serverURL = parsedURL
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(opts *options) {
		if client != nil {
			opts.httpClient = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithKeepAlive controls how long the model stays loaded after a request, e.g. "5m".
func WithKeepAlive(d string) Option {
	return func(opts *options) {
		opts.keepAlive = d
	}
}
