// Package vectorstore provides interfaces and implementations for vector similarity search.
package vectorstore

import (
	"context"
)

// SparseVector represents a sparse vector with indices and values
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Chunk represents a document chunk with its embedding
type Chunk struct {
	ID           string
	DocumentID   string
	Content      string
	Vector       []float32     // Dense vector from embedding model
	SparseVector *SparseVector // Optional sparse vector for keyword search
	Metadata     map[string]string
}

// SearchResult represents a search result from the vector store
type SearchResult struct {
	ID         string
	DocumentID string
	Content    string
	Score      float32
	Metadata   map[string]string
}

// VectorStore defines the interface for vector storage operations
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist yet.
	// The collection supports both dense and sparse vectors.
	EnsureCollection(ctx context.Context, dimension int) error

	// DeleteCollection deletes the collection
	DeleteCollection(ctx context.Context) error

	// CollectionExists checks if the collection exists
	CollectionExists(ctx context.Context) (bool, error)

	// Count returns the number of stored chunks
	Count(ctx context.Context) (uint64, error)

	// Upsert inserts or updates chunks in the vector store
	Upsert(ctx context.Context, chunks []Chunk) error

	// Search performs similarity search using dense vectors only
	Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]SearchResult, error)

	// HybridSearch combines dense similarity with keyword matching.
	// The query text drives the keyword side for stores that score text
	// directly; stores that index sparse vectors use sparseVector instead.
	HybridSearch(ctx context.Context, query string, denseVector []float32, sparseVector *SparseVector, topK int, minScore float32) ([]SearchResult, error)

	// Delete removes chunks by document ID
	Delete(ctx context.Context, documentID string) error

	// DeleteByIDs removes specific chunks by their IDs
	DeleteByIDs(ctx context.Context, ids []string) error

	// Clear removes all chunks and returns how many were deleted
	Clear(ctx context.Context) (uint64, error)
}
