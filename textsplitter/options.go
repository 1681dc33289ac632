package textsplitter

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// options holds configuration settings for the text splitter.
type options struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// Option is a function type for configuring the splitter.
type Option func(*options)

// WithChunkSize sets the target chunk size in bytes.
func WithChunkSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.chunkSize = size
		}
	}
}

// WithChunkOverlap sets how many trailing bytes of a chunk are repeated at
// the start of the next one.
func WithChunkOverlap(overlap int) Option {
	return func(o *options) {
		if overlap >= 0 {
			o.chunkOverlap = overlap
		}
	}
}

// WithSeparators replaces the separators tried, from coarsest to finest.
// The empty separator splits between characters.
func WithSeparators(separators ...string) Option {
	return func(o *options) {
		if len(separators) > 0 {
			o.separators = separators
		}
	}
}
