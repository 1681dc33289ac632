package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mr-good-bye/chroma-nodes/embeddings"
	"github.com/mr-good-bye/chroma-nodes/schema"
	"github.com/mr-good-bye/chroma-nodes/vectorstores"
)

var (
	ErrMissingEmbedder       = errors.New("qdrant: embedder is required but not provided")
	ErrMissingCollectionName = errors.New("qdrant: collection name is required")
	ErrInvalidNumDocuments   = errors.New("qdrant: number of documents must be positive")
	ErrInvalidURL            = errors.New("qdrant: invalid URL provided")
	ErrCollectionExists      = errors.New("qdrant: collection already exists")
	ErrPartialBatchFailure   = errors.New("qdrant: some batches failed to process")
	ErrUnsupportedFilter     = errors.New("qdrant: unsupported metadata filter value")
)

const (
	DefaultBatchSize      = 100
	MaxBatchSize          = 1000
	DefaultMaxConcurrency = 8
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = time.Second
	DefaultMaxRetryDelay  = 30 * time.Second
)

type BatchResult struct {
	TotalProcessed int           `json:"total_processed"`
	TotalFailed    int           `json:"total_failed"`
	Duration       time.Duration `json:"duration"`
	Errors         []error       `json:"errors,omitempty"`
	ProcessedIDs   []string      `json:"processed_ids,omitempty"`
}

type BatchConfig struct {
	BatchSize      int           `json:"batch_size"`
	MaxConcurrency int           `json:"max_concurrency"`
	RetryAttempts  int           `json:"retry_attempts"`
	RetryDelay     time.Duration `json:"retry_delay"`
	MaxRetryDelay  time.Duration `json:"max_retry_delay"`
}

// Store is a vectorstores.VectorStore over one Qdrant collection.
type Store struct {
	client         *qdrant.Client
	embedder       embeddings.Embedder
	collectionName string
	logger         *slog.Logger
	options        options
	batchConfig    BatchConfig
	mu             sync.RWMutex
}

var (
	_ vectorstores.VectorStore       = (*Store)(nil)
	_ vectorstores.CollectionManager = (*Store)(nil)
)

// New connects a store to the configured collection. The gRPC connection is
// established lazily, so configuration errors surface here and network errors
// on the first call.
func New(opts ...Option) (*Store, error) {
	storeOptions, err := parseOptions(opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	logger := storeOptions.logger.With("component", "qdrant_store", "collection", storeOptions.collectionName)
	client, err := createQdrantClient(storeOptions, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	store := &Store{
		client:         client,
		embedder:       storeOptions.embedder,
		collectionName: storeOptions.collectionName,
		logger:         logger,
		options:        storeOptions,
		batchConfig: BatchConfig{
			BatchSize:      storeOptions.batchSize,
			MaxConcurrency: DefaultMaxConcurrency,
			RetryAttempts:  storeOptions.retryAttempts,
			RetryDelay:     DefaultRetryDelay,
			MaxRetryDelay:  DefaultMaxRetryDelay,
		},
	}
	logger.Debug("Qdrant store initialized", "config", storeOptions.String())
	return store, nil
}

// FromDocuments creates a store, writes docs to it in one pipeline and
// closes it. It is the bulk-load entry point used by insert operations.
func FromDocuments(ctx context.Context, docs []schema.Document, storeOpts []Option, addOpts ...vectorstores.Option) ([]string, error) {
	store, err := New(storeOpts...)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.AddDocuments(ctx, docs, addOpts...)
}

func createQdrantClient(opts options, logger *slog.Logger) (*qdrant.Client, error) {
	port, err := opts.grpcPort()
	if err != nil {
		return nil, err
	}
	hostname := opts.qdrantURL.Hostname()
	logger.Debug("Creating Qdrant client", "host", hostname, "port", port, "tls", opts.useTLS())

	config := &qdrant.Config{
		Host:                   hostname,
		Port:                   port,
		UseTLS:                 opts.useTLS(),
		GrpcOptions:            opts.grpcOptions,
		SkipCompatibilityCheck: !opts.checkCompatibility,
	}
	if opts.apiKey != "" {
		config.APIKey = opts.apiKey
	}

	client, err := qdrant.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("client creation failed: %w", err)
	}
	return client, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) SetBatchConfig(config BatchConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchSize > MaxBatchSize {
		config.BatchSize = MaxBatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultMaxConcurrency
	}
	if config.RetryAttempts < 0 {
		config.RetryAttempts = DefaultRetryAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.MaxRetryDelay <= 0 {
		config.MaxRetryDelay = DefaultMaxRetryDelay
	}
	s.batchConfig = config
}

func (s *Store) GetBatchConfig() BatchConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchConfig
}

// AddDocuments embeds docs and upserts them. With a namespace every point is
// stamped with it; with ClearNamespace the namespace is emptied first, even
// when docs is empty.
func (s *Store) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := vectorstores.ParseOptions(options...)
	embedder := s.getEmbedder(opts)

	if opts.ClearNamespace {
		if err := s.ClearNamespace(ctx, opts.NameSpace); err != nil {
			return nil, fmt.Errorf("namespace clearing failed: %w", err)
		}
	}

	totalDocs := len(docs)
	if totalDocs == 0 {
		return []string{}, nil
	}
	if embedder == nil {
		return nil, ErrMissingEmbedder
	}

	start := time.Now()
	s.logger.InfoContext(ctx, "Starting document addition", "total_documents", totalDocs, "namespace", opts.NameSpace)

	if err := s.ensureCollection(ctx, embedder); err != nil {
		return nil, fmt.Errorf("collection preparation failed: %w", err)
	}

	texts := make([]string, totalDocs)
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("document embedding stage failed: %w", err)
	}
	if len(vectors) != totalDocs {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), totalDocs)
	}

	points := make([]*qdrant.PointStruct, totalDocs)
	allIDs := make([]string, totalDocs)
	for i, doc := range docs {
		docID := generateDocumentID(doc)
		allIDs[i] = docID
		points[i] = &qdrant.PointStruct{
			Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: docID}},
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: vectors[i]}}},
			Payload: s.documentToPayload(doc, opts.NameSpace),
		}
	}

	result, err := s.upsertPointsInBatches(ctx, points)
	if err != nil {
		if result != nil && len(result.ProcessedIDs) > 0 {
			s.logger.WarnContext(ctx, "Partial success in document addition",
				"processed", len(result.ProcessedIDs), "failed_batches", len(result.Errors))
			return result.ProcessedIDs, err
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "Document addition completed",
		"total_processed", result.TotalProcessed, "duration", time.Since(start))
	return allIDs, nil
}

func (s *Store) upsertPointsInBatches(ctx context.Context, points []*qdrant.PointStruct) (*BatchResult, error) {
	cfg := s.GetBatchConfig()
	totalPoints := len(points)
	numBatches := int(math.Ceil(float64(totalPoints) / float64(cfg.BatchSize)))
	start := time.Now()

	semaphore := make(chan struct{}, cfg.MaxConcurrency)
	resultsChan := make(chan BatchResult, numBatches)
	var wg sync.WaitGroup

	for startIdx := 0; startIdx < totalPoints; startIdx += cfg.BatchSize {
		wg.Add(1)
		go func() {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			batchPoints := points[startIdx:min(startIdx+cfg.BatchSize, totalPoints)]
			batchIDs := make([]string, len(batchPoints))
			for j, p := range batchPoints {
				batchIDs[j] = p.GetId().GetUuid()
			}

			if err := s.upsertWithRetry(ctx, cfg, batchPoints); err != nil {
				resultsChan <- BatchResult{TotalFailed: len(batchPoints), Errors: []error{err}}
				return
			}
			resultsChan <- BatchResult{TotalProcessed: len(batchPoints), ProcessedIDs: batchIDs}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	final := &BatchResult{ProcessedIDs: make([]string, 0, totalPoints)}
	for res := range resultsChan {
		final.TotalProcessed += res.TotalProcessed
		final.TotalFailed += res.TotalFailed
		final.ProcessedIDs = append(final.ProcessedIDs, res.ProcessedIDs...)
		final.Errors = append(final.Errors, res.Errors...)
	}
	final.Duration = time.Since(start)

	if final.TotalFailed > 0 {
		if final.TotalProcessed == 0 {
			return final, fmt.Errorf("all upsert batches failed: %w", errors.Join(final.Errors...))
		}
		return final, fmt.Errorf("%w: %w", ErrPartialBatchFailure, errors.Join(final.Errors...))
	}
	return final, nil
}

func (s *Store) upsertWithRetry(ctx context.Context, cfg BatchConfig, points []*qdrant.PointStruct) error {
	var lastErr error
	delay := cfg.RetryDelay

	for attempt := 0; attempt <= cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = min(time.Duration(float64(delay)*1.5), cfg.MaxRetryDelay)
		}

		wait := true
		_, err := s.client.GetPointsClient().Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collectionName,
			Wait:           &wait,
			Points:         points,
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		s.logger.WarnContext(ctx, "Upsert attempt failed", "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("upsert failed: %w", lastErr)
}

// retryable reports whether an upsert error may succeed on a later attempt.
func retryable(err error) bool {
	stat, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch stat.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.Unauthenticated,
		codes.PermissionDenied, codes.FailedPrecondition, codes.Canceled:
		return false
	}
	return true
}

func (s *Store) SimilaritySearch(
	ctx context.Context,
	query string,
	numDocuments int,
	options ...vectorstores.Option,
) ([]schema.Document, error) {
	scored, err := s.SimilaritySearchWithScores(ctx, query, numDocuments, options...)
	if err != nil {
		return nil, err
	}
	docs := make([]schema.Document, len(scored))
	for i, d := range scored {
		docs[i] = d.Document
	}
	return docs, nil
}

func (s *Store) SimilaritySearchWithScores(
	ctx context.Context,
	query string,
	numDocuments int,
	options ...vectorstores.Option,
) ([]vectorstores.DocumentWithScore, error) {
	start := time.Now()
	if numDocuments <= 0 {
		return nil, ErrInvalidNumDocuments
	}

	opts := vectorstores.ParseOptions(options...)
	filter, err := s.buildFilter(opts)
	if err != nil {
		return nil, err
	}
	embedder := s.getEmbedder(opts)
	if embedder == nil {
		return nil, ErrMissingEmbedder
	}

	queryVector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.ErrorContext(ctx, "Query embedding failed", "error", err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	req := &qdrant.SearchPoints{
		CollectionName: s.collectionName,
		Vector:         queryVector,
		Limit:          uint64(numDocuments),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
		Filter: filter,
	}
	if opts.ScoreThreshold > 0 {
		req.ScoreThreshold = &opts.ScoreThreshold
	}

	searchResult, err := s.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		if isNotFound(err) {
			s.logger.WarnContext(ctx, "Collection not found during search")
			return nil, vectorstores.ErrCollectionNotFound
		}
		s.logger.ErrorContext(ctx, "Search failed", "error", err)
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	results := searchResult.GetResult()
	docsWithScore := make([]vectorstores.DocumentWithScore, len(results))
	for i, point := range results {
		docsWithScore[i] = vectorstores.DocumentWithScore{
			Document: s.payloadToDocument(point.GetPayload()),
			Score:    point.GetScore(),
		}
	}

	s.logger.DebugContext(ctx, "Similarity search completed",
		"results", len(docsWithScore), "namespace", opts.NameSpace, "duration", time.Since(start))
	return docsWithScore, nil
}

// ClearNamespace deletes every point stamped with namespace. An empty
// namespace addresses the points stored without one; points of other
// namespaces are kept.
func (s *Store) ClearNamespace(ctx context.Context, namespace string) error {
	cond := isEmptyCondition(s.options.namespaceKey)
	if namespace != "" {
		cond = keywordCondition(s.options.namespaceKey, namespace)
	}

	wait := true
	_, err := s.client.GetPointsClient().Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Must: []*qdrant.Condition{cond}},
			},
		},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to clear namespace %q: %w", namespace, err)
	}
	s.logger.InfoContext(ctx, "Namespace cleared", "namespace", namespace)
	return nil
}

func (s *Store) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}}
	}

	wait := true
	_, err := s.client.GetPointsClient().Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete documents from qdrant: %w", err)
	}
	s.logger.InfoContext(ctx, "Documents deleted", "count", len(ids))
	return nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	resp, err := s.client.GetCollectionsClient().List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list qdrant collections: %w", err)
	}

	collections := resp.GetCollections()
	names := make([]string, len(collections))
	for i, col := range collections {
		names[i] = col.GetName()
	}
	return names, nil
}

// CollectionInfo describes the store's collection.
func (s *Store) CollectionInfo(ctx context.Context) (schema.CollectionInfo, error) {
	resp, err := s.client.GetCollectionsClient().Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: s.collectionName,
	})
	if err != nil {
		if isNotFound(err) {
			return schema.CollectionInfo{}, vectorstores.ErrCollectionNotFound
		}
		return schema.CollectionInfo{}, fmt.Errorf("failed to get collection info: %w", err)
	}

	info := resp.GetResult()
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return schema.CollectionInfo{
		Name:           s.collectionName,
		PointsCount:    info.GetPointsCount(),
		VectorSize:     params.GetSize(),
		VectorDistance: params.GetDistance().String(),
	}, nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	if name == "" {
		return ErrMissingCollectionName
	}

	resp, err := s.client.GetCollectionsClient().Delete(ctx, &qdrant.DeleteCollection{
		CollectionName: name,
	})
	if err != nil {
		if isNotFound(err) {
			return vectorstores.ErrCollectionNotFound
		}
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if !resp.GetResult() {
		return vectorstores.ErrCollectionNotFound
	}

	s.logger.InfoContext(ctx, "Collection deleted", "name", name)
	return nil
}

// Health checks that the server answers and accepts the credentials.
func (s *Store) Health(ctx context.Context) error {
	if _, err := s.client.GetCollectionsClient().List(ctx, &qdrant.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

func (s *Store) getEmbedder(opts vectorstores.Options) embeddings.Embedder {
	if opts.Embedder != nil {
		return opts.Embedder
	}
	return s.embedder
}

func (s *Store) ensureCollection(ctx context.Context, embedder embeddings.Embedder) error {
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	dimension, err := embedder.GetDimension(ctx)
	if err != nil {
		return fmt.Errorf("could not get embedder dimension: %w", err)
	}

	s.logger.InfoContext(ctx, "Creating collection automatically", "dimension", dimension)
	_, err = s.client.GetCollectionsClient().Create(ctx, &qdrant.CreateCollection{
		CollectionName: s.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dimension),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		if stat, ok := status.FromError(err); ok && stat.Code() == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("failed to create qdrant collection: %w", err)
	}
	return nil
}

func (s *Store) collectionExists(ctx context.Context) (bool, error) {
	_, err := s.client.GetCollectionsClient().Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: s.collectionName,
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isNotFound(err error) bool {
	stat, ok := status.FromError(err)
	return ok && stat.Code() == codes.NotFound
}

func generateDocumentID(doc schema.Document) string {
	if id, exists := doc.Metadata["id"]; exists {
		if idStr, ok := id.(string); ok {
			if _, err := uuid.Parse(idStr); err == nil {
				return idStr
			}
		}
	}
	return uuid.New().String()
}
