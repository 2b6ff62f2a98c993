package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"docqa/internal/document"
	"docqa/internal/repository"
)

// PipelineConfig holds configuration for the ingestion pipeline
type PipelineConfig struct {
	// Chunker configuration
	Chunker repository.ChunkerConfig

	// Additional metadata to include in all chunks
	DefaultMetadata map[string]string
}

// PipelineResult holds the result of processing a document through the pipeline
type PipelineResult struct {
	// DocumentID is a unique identifier for this ingestion
	DocumentID uuid.UUID

	// ContentHash is the SHA-256 hash of source name plus content
	ContentHash string

	// Chunks contains all generated chunks, numbered across pages
	Chunks []Chunk

	// Stats contains processing statistics
	Stats PipelineStats
}

// PipelineStats contains statistics about the pipeline execution
type PipelineStats struct {
	PageCount         int
	OriginalWordCount int
	ChunkCount        int
	TotalChunkWords   int
	AvgChunkWords     int
	ProcessingTime    time.Duration
}

// Pipeline turns extracted document pages into embeddable chunks
type Pipeline struct {
	config  PipelineConfig
	chunker *Chunker
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(config PipelineConfig) *Pipeline {
	return &Pipeline{
		config:  config,
		chunker: NewChunker(config.Chunker),
	}
}

// NewPipelineWithDefaults creates a pipeline with default configuration
func NewPipelineWithDefaults() *Pipeline {
	return NewPipeline(PipelineConfig{
		Chunker: DefaultChunkerConfig(),
	})
}

// ProcessPages chunks each page of a document, preserving the page number in
// chunk metadata so answers can cite "source.pdf, page 5". Chunk indexes are
// sequential across the whole document.
func (p *Pipeline) ProcessPages(ctx context.Context, source string, pages []document.Page) (*PipelineResult, error) {
	startTime := time.Now()

	if len(pages) == 0 {
		return nil, fmt.Errorf("document has no pages with text")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	documentID := uuid.New()

	// The source name participates in the hash so two files with identical
	// content are still tracked separately.
	var hashInput strings.Builder
	hashInput.WriteString(source)
	for _, page := range pages {
		hashInput.WriteString("\n")
		hashInput.WriteString(page.Text)
	}
	contentHash := hashContent(hashInput.String())

	var chunks []Chunk
	originalWords := 0

	for _, page := range pages {
		originalWords += len(strings.Fields(page.Text))

		for _, chunk := range p.chunker.Chunk(page.Text) {
			if chunk.Metadata == nil {
				chunk.Metadata = make(map[string]string)
			}
			for k, v := range p.config.DefaultMetadata {
				if _, exists := chunk.Metadata[k]; !exists {
					chunk.Metadata[k] = v
				}
			}
			chunk.Metadata["source"] = source
			chunk.Metadata["page"] = strconv.Itoa(page.Number)
			chunk.Metadata["document_id"] = documentID.String()
			chunk.Metadata["content_hash"] = contentHash

			chunk.Index = len(chunks)
			chunks = append(chunks, chunk)
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunking produced no chunks")
	}

	stats := calculateStats(len(pages), originalWords, chunks, time.Since(startTime))

	return &PipelineResult{
		DocumentID:  documentID,
		ContentHash: contentHash,
		Chunks:      chunks,
		Stats:       stats,
	}, nil
}

// calculateStats computes statistics for the pipeline result
func calculateStats(pageCount, originalWords int, chunks []Chunk, processingTime time.Duration) PipelineStats {
	totalChunkWords := 0
	for _, chunk := range chunks {
		totalChunkWords += len(strings.Fields(chunk.Content))
	}

	avgChunkWords := 0
	if len(chunks) > 0 {
		avgChunkWords = totalChunkWords / len(chunks)
	}

	return PipelineStats{
		PageCount:         pageCount,
		OriginalWordCount: originalWords,
		ChunkCount:        len(chunks),
		TotalChunkWords:   totalChunkWords,
		AvgChunkWords:     avgChunkWords,
		ProcessingTime:    processingTime,
	}
}

// hashContent generates a SHA-256 hash of the content
func hashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// ChunksToDocumentChunks converts pipeline chunks to registry rows
func ChunksToDocumentChunks(chunks []Chunk, documentID uuid.UUID) []*repository.DocumentChunk {
	docChunks := make([]*repository.DocumentChunk, len(chunks))
	now := time.Now()

	for i, chunk := range chunks {
		page := 0
		if p, err := strconv.Atoi(chunk.Metadata["page"]); err == nil {
			page = p
		}
		docChunks[i] = &repository.DocumentChunk{
			ID:         uuid.New(),
			DocumentID: documentID,
			ChunkIndex: chunk.Index,
			Page:       page,
			Content:    chunk.Content,
			Metadata:   chunk.Metadata,
			CreatedAt:  now,
		}
	}

	return docChunks
}

// ValidateChunkerConfig validates a chunker configuration
func ValidateChunkerConfig(config repository.ChunkerConfig) error {
	validMethods := map[string]bool{
		"fixed":    true,
		"semantic": true,
		"sentence": true,
	}

	if config.Method != "" && !validMethods[config.Method] {
		return fmt.Errorf("invalid chunking method: %s (valid: fixed, semantic, sentence)", config.Method)
	}

	if config.TargetSize < 0 {
		return fmt.Errorf("target_size cannot be negative")
	}

	if config.MaxSize < 0 {
		return fmt.Errorf("max_size cannot be negative")
	}

	if config.TargetSize > 0 && config.MaxSize > 0 && config.TargetSize > config.MaxSize {
		return fmt.Errorf("target_size (%d) cannot be greater than max_size (%d)", config.TargetSize, config.MaxSize)
	}

	if config.Overlap < 0 {
		return fmt.Errorf("overlap cannot be negative")
	}

	if config.Overlap > 0 && config.TargetSize > 0 && config.Overlap >= config.TargetSize {
		return fmt.Errorf("overlap (%d) must be less than target_size (%d)", config.Overlap, config.TargetSize)
	}

	return nil
}

// DefaultChunkerConfig returns the default chunker configuration
func DefaultChunkerConfig() repository.ChunkerConfig {
	return repository.ChunkerConfig{
		Method:     "semantic",
		TargetSize: 512,
		MaxSize:    1024,
		Overlap:    50,
	}
}
