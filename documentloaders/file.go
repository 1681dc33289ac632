// Package documentloaders reads documents from the local file system for
// insertion into a vector store.
package documentloaders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ledongthuc/pdf"
	"gopkg.in/yaml.v3"

	"github.com/mr-good-bye/chroma-nodes/schema"
)

var (
	ErrMalformedRecords = errors.New("documentloaders: malformed document records")
	ErrUnreadablePDF    = errors.New("documentloaders: unreadable PDF")
)

// Loader loads documents from a source.
type Loader interface {
	Load(ctx context.Context) ([]schema.Document, error)
}

// record is one document in a YAML or JSON records file. Both "content" and
// "pageContent" are accepted for the text.
type record struct {
	Content     string         `yaml:"content"`
	PageContent string         `yaml:"pageContent"`
	Metadata    map[string]any `yaml:"metadata"`
}

func (r record) text() string {
	if r.Content != "" {
		return r.Content
	}
	return r.PageContent
}

// FileLoader loads documents from a file or a directory tree.
//
// YAML and JSON files hold a list of records, either at the top level or
// under a "documents" key; every record becomes one document. PDF files
// yield one document per page with text. Any other text file becomes a
// single document. Every document carries the path of
// its file, relative to the loader root, as "source" metadata.
type FileLoader struct {
	path   string
	logger *slog.Logger
}

type FileLoaderOption func(*FileLoader)

// WithLogger sets a custom logger for the FileLoader.
// If not provided, slog.Default() will be used.
func WithLogger(logger *slog.Logger) FileLoaderOption {
	return func(l *FileLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewFile(path string, opts ...FileLoaderOption) *FileLoader {
	l := &FileLoader{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "file_loader")
	return l
}

var _ Loader = (*FileLoader)(nil)

func (l *FileLoader) Load(ctx context.Context) ([]schema.Document, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return l.loadFile(l.path, filepath.Base(l.path))
	}

	var documents []schema.Document
	err = filepath.WalkDir(l.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("Skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != l.path && shouldSkipDir(d.Name()) {
				l.logger.Debug("Skipping excluded directory", "path", path)
				return filepath.SkipDir
			}
			return nil
		}
		fileInfo, err := d.Info()
		if err != nil {
			l.logger.Warn("Could not get file info, skipping", "path", path, "error", err)
			return nil
		}
		if shouldSkipFile(path, fileInfo) {
			l.logger.Debug("Skipping excluded file", "path", path, "size", fileInfo.Size())
			return nil
		}

		rel, err := filepath.Rel(l.path, path)
		if err != nil {
			rel = path
		}
		docs, err := l.loadFile(path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		documents = append(documents, docs...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Directory load completed", "path", l.path, "total_documents", len(documents))
	return documents, nil
}

func (l *FileLoader) loadFile(path, source string) ([]schema.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		docs, err := l.decodeRecords(content, source)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		return docs, nil
	case ".pdf":
		docs, err := l.extractPDF(content, source)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", source, ErrUnreadablePDF, err)
		}
		return docs, nil
	default:
		if len(bytes.TrimSpace(content)) == 0 {
			l.logger.Debug("Skipping empty file", "path", path)
			return nil, nil
		}
		return []schema.Document{schema.NewDocument(string(content), map[string]any{"source": source})}, nil
	}
}

// extractPDF returns one document per page that carries text. Pages are
// numbered from 1 in the "page" metadata.
func (l *FileLoader) extractPDF(content []byte, source string) (docs []schema.Document, err error) {
	// the reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("%v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			l.logger.Warn("Skipping null page", "source", source, "page", i)
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			l.logger.Warn("Could not extract page text, skipping", "source", source, "page", i, "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		docs = append(docs, schema.NewDocument(text, map[string]any{"source": source, "page": i}))
	}
	l.logger.Debug("PDF text extracted", "source", source, "pages", numPages, "documents", len(docs))
	return docs, nil
}

// decodeRecords reads every YAML document of a stream. JSON input is a
// single YAML document.
func (l *FileLoader) decodeRecords(content []byte, source string) ([]schema.Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))

	var documents []schema.Document
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: %w", ErrMalformedRecords, err)
		}

		records, err := recordsOf(&node)
		if err != nil {
			return nil, err
		}
		for i, r := range records {
			text := r.text()
			if strings.TrimSpace(text) == "" {
				l.logger.Warn("Skipping record without content", "source", source, "index", i)
				continue
			}
			metadata := make(map[string]any, len(r.Metadata)+2)
			for k, v := range r.Metadata {
				metadata[k] = v
			}
			metadata["source"] = source
			metadata["record_index"] = i
			documents = append(documents, schema.NewDocument(text, metadata))
		}
	}
	return documents, nil
}

func recordsOf(node *yaml.Node) ([]record, error) {
	root := node
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	var records []record
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&records); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRecords, err)
		}
	case yaml.MappingNode:
		var wrapper struct {
			Documents []record `yaml:"documents"`
		}
		if err := root.Decode(&wrapper); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRecords, err)
		}
		records = wrapper.Documents
	default:
		return nil, fmt.Errorf("%w: expected a list of records or a documents key", ErrMalformedRecords)
	}
	return records, nil
}

func shouldSkipDir(name string) bool {
	skipDirs := []string{
		".git", ".svn", ".hg",
		"vendor", "node_modules", "__pycache__",
		".vscode", ".idea", ".vs",
	}
	return slices.Contains(skipDirs, name)
}

// shouldSkipFile returns true for hidden, binary and very large files.
func shouldSkipFile(path string, info fs.FileInfo) bool {
	const maxFileSize = 10 * 1024 * 1024
	if info.Size() > maxFileSize {
		return true
	}
	if strings.HasPrefix(info.Name(), ".") {
		return true
	}

	binaryExts := map[string]bool{
		".exe": true, ".dll": true, ".so": true, ".dylib": true,
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
		".zip": true, ".tar": true, ".gz": true, ".7z": true,
		".bin": true, ".dat": true,
	}
	return binaryExts[strings.ToLower(filepath.Ext(path))]
}
