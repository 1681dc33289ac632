package embeddings

const (
	defaultBatchSize      = 32
	defaultMaxConcurrency = 8
)

type options struct {
	stripNewLines  bool
	batchSize      int
	maxConcurrency int
}

type Option func(*options)

func applyOptions(opts ...Option) options {
	o := options{
		stripNewLines:  true,
		batchSize:      defaultBatchSize,
		maxConcurrency: defaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.batchSize <= 0 {
		o.batchSize = defaultBatchSize
	}
	if o.maxConcurrency <= 0 {
		o.maxConcurrency = 1
	}
	return o
}

// WithBatchSize sets how many texts are sent to the client per call.
func WithBatchSize(size int) Option {
	return func(opts *options) {
		opts.batchSize = size
	}
}

// WithMaxConcurrency bounds how many batches are embedded at the same time.
// Values below one embed batches one after another.
func WithMaxConcurrency(n int) Option {
	return func(opts *options) {
		opts.maxConcurrency = n
	}
}

// WithStripNewLines controls whether newlines are replaced by spaces before embedding.
func WithStripNewLines(strip bool) Option {
	return func(opts *options) {
		opts.stripNewLines = strip
	}
}
