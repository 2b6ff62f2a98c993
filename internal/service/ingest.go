package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docqa/internal/document"
	"docqa/internal/embedder"
	"docqa/internal/ingestion"
	"docqa/internal/repository"
	"docqa/internal/vectorstore"
)

// maxConcurrentIngests bounds parallel PDF processing in batch ingestion.
const maxConcurrentIngests = 4

// IngestResult describes one successfully ingested file.
type IngestResult struct {
	DocumentID string
	Source     string
	Pages      int
	Chunks     int
	Duplicate  bool
}

// IngestFailure describes one file that could not be ingested.
type IngestFailure struct {
	Source string
	Error  string
}

// BatchResult aggregates a multi-file ingestion run.
type BatchResult struct {
	Ingested    []IngestResult
	Failed      []IngestFailure
	TotalChunks int
}

// IngestService loads PDFs, chunks them, embeds the chunks and writes them
// to the vector store, tracking progress in the document registry.
type IngestService struct {
	docRepo  repository.DocumentRepository
	embedder embedder.Embedder
	vectorDB vectorstore.VectorStore
	sparse   SparseVectorizer
	pipeline *ingestion.Pipeline
	logger   *slog.Logger
	loader   func(path string) ([]document.Page, error)
}

// IngestOption is a functional option for configuring IngestService.
type IngestOption func(*IngestService)

// WithIngestSparseVectorizer indexes sparse vectors alongside dense ones.
func WithIngestSparseVectorizer(sparse SparseVectorizer) IngestOption {
	return func(s *IngestService) {
		s.sparse = sparse
	}
}

// WithChunkerConfig overrides the default chunking configuration.
func WithChunkerConfig(cfg repository.ChunkerConfig) IngestOption {
	return func(s *IngestService) {
		s.pipeline = ingestion.NewPipeline(ingestion.PipelineConfig{Chunker: cfg})
	}
}

// WithLoader replaces the PDF loader, mainly for tests.
func WithLoader(loader func(path string) ([]document.Page, error)) IngestOption {
	return func(s *IngestService) {
		s.loader = loader
	}
}

// NewIngestService creates a new IngestService.
func NewIngestService(
	docRepo repository.DocumentRepository,
	emb embedder.Embedder,
	vectorDB vectorstore.VectorStore,
	logger *slog.Logger,
	opts ...IngestOption,
) *IngestService {
	s := &IngestService{
		docRepo:  docRepo,
		embedder: emb,
		vectorDB: vectorDB,
		pipeline: ingestion.NewPipelineWithDefaults(),
		logger:   logger,
		loader:   document.LoadPDF,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// IngestFile loads one PDF and indexes it under the given source name.
// An empty sourceName defaults to the file's base name. Re-ingesting a file
// whose name and content both match an existing document is a no-op.
func (s *IngestService) IngestFile(ctx context.Context, path, sourceName string) (*IngestResult, error) {
	if sourceName == "" {
		sourceName = filepath.Base(path)
	}

	pages, err := s.loader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", sourceName, err)
	}

	result, err := s.pipeline.ProcessPages(ctx, sourceName, pages)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk %s: %w", sourceName, err)
	}

	// Same name and same content means a true duplicate
	existing, err := s.docRepo.GetByHash(ctx, result.ContentHash)
	if err == nil && existing != nil {
		s.logger.Info("skipping duplicate document",
			"source", sourceName, "document_id", existing.ID)
		return &IngestResult{
			DocumentID: existing.ID.String(),
			Source:     sourceName,
			Pages:      existing.PageCount,
			Chunks:     existing.ChunkCount,
			Duplicate:  true,
		}, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}

	now := time.Now()
	doc := &repository.Document{
		ID:          result.DocumentID,
		Source:      sourceName,
		Title:       sourceName,
		ContentHash: result.ContentHash,
		PageCount:   result.Stats.PageCount,
		ChunkCount:  result.Stats.ChunkCount,
		Status:      repository.StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to register document: %w", err)
	}

	if err := s.indexChunks(ctx, doc, result); err != nil {
		doc.Status = repository.StatusFailed
		doc.ErrorMessage = err.Error()
		doc.UpdatedAt = time.Now()
		if updateErr := s.docRepo.Update(ctx, doc); updateErr != nil {
			s.logger.Error("failed to record ingestion failure",
				"document_id", doc.ID, "error", updateErr)
		}
		return nil, err
	}

	doc.Status = repository.StatusReady
	doc.UpdatedAt = time.Now()
	if err := s.docRepo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to mark document ready: %w", err)
	}

	s.logger.Info("ingested document",
		"source", sourceName,
		"document_id", doc.ID,
		"pages", result.Stats.PageCount,
		"chunks", result.Stats.ChunkCount)

	return &IngestResult{
		DocumentID: doc.ID.String(),
		Source:     sourceName,
		Pages:      result.Stats.PageCount,
		Chunks:     result.Stats.ChunkCount,
	}, nil
}

// indexChunks embeds the chunks and writes them to the registry and vector store.
func (s *IngestService) indexChunks(ctx context.Context, doc *repository.Document, result *ingestion.PipelineResult) error {
	texts := make([]string, len(result.Chunks))
	for i, chunk := range result.Chunks {
		texts[i] = chunk.Content
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(result.Chunks) {
		return fmt.Errorf("embedded %d vectors for %d chunks", len(vectors), len(result.Chunks))
	}

	docChunks := ingestion.ChunksToDocumentChunks(result.Chunks, doc.ID)
	if err := s.docRepo.CreateChunks(ctx, docChunks); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}

	storeChunks := make([]vectorstore.Chunk, len(result.Chunks))
	for i, chunk := range result.Chunks {
		storeChunk := vectorstore.Chunk{
			ID:         docChunks[i].ID.String(),
			DocumentID: doc.ID.String(),
			Content:    chunk.Content,
			Vector:     vectors[i],
			Metadata:   chunk.Metadata,
		}
		if s.sparse != nil {
			storeChunk.SparseVector = s.sparse.Vectorize(chunk.Content)
		}
		storeChunks[i] = storeChunk
	}

	if err := s.vectorDB.Upsert(ctx, storeChunks); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}

	return nil
}

// IngestFiles ingests a batch of PDFs concurrently. sourceNames may be nil;
// when provided it must have one name per path. Individual failures do not
// abort the batch.
func (s *IngestService) IngestFiles(ctx context.Context, paths, sourceNames []string) (*BatchResult, error) {
	if len(sourceNames) > 0 && len(sourceNames) != len(paths) {
		return nil, fmt.Errorf("got %d source names for %d files", len(sourceNames), len(paths))
	}

	batch := &BatchResult{}
	if len(paths) == 0 {
		return batch, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentIngests)

	for i, path := range paths {
		name := filepath.Base(path)
		if len(sourceNames) > 0 {
			name = sourceNames[i]
		}

		g.Go(func() error {
			result, err := s.IngestFile(gctx, path, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				batch.Failed = append(batch.Failed, IngestFailure{
					Source: name,
					Error:  err.Error(),
				})
				return nil
			}
			batch.Ingested = append(batch.Ingested, *result)
			batch.TotalChunks += result.Chunks
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return batch, nil
}

// DeleteDocument removes a document's vectors and registry records.
func (s *IngestService) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.getDocument(ctx, id)
	if err != nil {
		return err
	}

	if err := s.vectorDB.Delete(ctx, doc.ID.String()); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := s.docRepo.DeleteChunks(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete chunk records: %w", err)
	}
	if err := s.docRepo.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete document record: %w", err)
	}

	s.logger.Info("deleted document", "document_id", doc.ID, "source", doc.Source)
	return nil
}

// ListDocuments returns registered documents, newest first.
func (s *IngestService) ListDocuments(ctx context.Context, status string, limit, offset int) ([]*repository.Document, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.docRepo.List(ctx, status, limit, offset)
}

// GetDocument returns a single registered document.
func (s *IngestService) GetDocument(ctx context.Context, id string) (*repository.Document, error) {
	return s.getDocument(ctx, id)
}

func (s *IngestService) getDocument(ctx context.Context, id string) (*repository.Document, error) {
	docID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid document ID %q: %w", id, err)
	}

	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ClearIndex drops all vectors and registry records, returning how many
// chunks were removed from the index.
func (s *IngestService) ClearIndex(ctx context.Context) (uint64, error) {
	deleted, err := s.vectorDB.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear index: %w", err)
	}

	if _, err := s.docRepo.DeleteAll(ctx); err != nil {
		return deleted, fmt.Errorf("failed to clear registry: %w", err)
	}

	s.logger.Info("cleared index", "chunks_deleted", deleted)
	return deleted, nil
}
