package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chriscorrea/bm25md"
)

// ErrCorruptIndex indicates the on-disk index file could not be decoded.
var ErrCorruptIndex = errors.New("index file is corrupt")

// LocalStore implements VectorStore with an in-process index persisted as a
// single JSON file. It serves development and single-node deployments where
// running Qdrant is overkill. Dense search uses cosine similarity; hybrid
// search fuses cosine ranking with BM25 keyword ranking.
type LocalStore struct {
	path string

	mu        sync.RWMutex
	dimension int
	chunks    map[string]*storedChunk

	// corpus is rebuilt lazily after mutations
	corpus      *bm25md.Corpus
	corpusIDs   []string
	corpusStale bool
}

// storedChunk is the JSON representation of one indexed chunk.
type storedChunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Vector     []float32         `json:"vector"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// indexFile is the JSON representation of the whole index.
type indexFile struct {
	Dimension int            `json:"dimension"`
	Chunks    []*storedChunk `json:"chunks"`
}

// NewLocalStore opens or creates a local index at path. A missing file yields
// an empty store. An unreadable file yields ErrCorruptIndex; callers can move
// it aside with RepairIndexFile and retry.
func NewLocalStore(path string) (*LocalStore, error) {
	s := &LocalStore{
		path:        path,
		chunks:      make(map[string]*storedChunk),
		corpusStale: true,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, path, err)
	}

	s.dimension = file.Dimension
	for _, chunk := range file.Chunks {
		s.chunks[chunk.ID] = chunk
	}

	return s, nil
}

// RepairIndexFile moves a corrupt index file aside so a fresh index can be
// built. Returns the backup path the file was moved to.
func RepairIndexFile(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("cannot repair index: %w", err)
	}

	backup := fmt.Sprintf("%s.corrupt_%s", path, time.Now().Format("20060102_150405"))
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("failed to move corrupt index aside: %w", err)
	}

	return backup, nil
}

// EnsureCollection initializes the index for the given embedding dimension.
func (s *LocalStore) EnsureCollection(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		s.dimension = dimension
		return s.saveLocked()
	}
	if s.dimension != dimension {
		return fmt.Errorf("index dimension %d does not match requested %d", s.dimension, dimension)
	}
	return nil
}

// DeleteCollection removes all chunks and deletes the index file.
func (s *LocalStore) DeleteCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks = make(map[string]*storedChunk)
	s.dimension = 0
	s.corpusStale = true

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove index file: %w", err)
	}
	return nil
}

// CollectionExists reports whether the index has been initialized.
func (s *LocalStore) CollectionExists(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension > 0, nil
}

// Count returns the number of stored chunks.
func (s *LocalStore) Count(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.chunks)), nil
}

// Upsert inserts or updates chunks. SparseVector is ignored: hybrid search
// scores keyword relevance from the chunk text directly.
func (s *LocalStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range chunks {
		if s.dimension > 0 && len(chunk.Vector) != s.dimension {
			return fmt.Errorf("chunk %s has dimension %d, index expects %d", chunk.ID, len(chunk.Vector), s.dimension)
		}
		s.chunks[chunk.ID] = &storedChunk{
			ID:         chunk.ID,
			DocumentID: chunk.DocumentID,
			Content:    chunk.Content,
			Vector:     chunk.Vector,
			Metadata:   chunk.Metadata,
		}
	}
	s.corpusStale = true

	return s.saveLocked()
}

// Search performs cosine similarity search over all stored chunks.
func (s *LocalStore) Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.denseSearchLocked(vector, topK, minScore), nil
}

func (s *LocalStore) denseSearchLocked(vector []float32, topK int, minScore float32) []SearchResult {
	results := make([]SearchResult, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		score := cosineSimilarity(vector, chunk.Vector)
		if score < minScore {
			continue
		}
		results = append(results, chunkToResult(chunk, score))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// HybridSearch interleaves cosine similarity results with BM25 keyword
// results, deduplicating by chunk ID. The dense leg honors minScore; the
// keyword leg can surface chunks below it when the query terms match.
func (s *LocalStore) HybridSearch(ctx context.Context, query string, denseVector []float32, sparseVector *SparseVector, topK int, minScore float32) ([]SearchResult, error) {
	s.mu.Lock()
	s.rebuildCorpusLocked()
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	dense := s.denseSearchLocked(denseVector, topK, minScore)
	keyword := s.keywordSearchLocked(query, denseVector, topK)

	merged := make([]SearchResult, 0, topK)
	seen := make(map[string]bool)

	// Alternate between the two rankings, dense first
	for i := 0; len(merged) < topK && (i < len(dense) || i < len(keyword)); i++ {
		if i < len(dense) && !seen[dense[i].ID] {
			seen[dense[i].ID] = true
			merged = append(merged, dense[i])
		}
		if len(merged) >= topK {
			break
		}
		if i < len(keyword) && !seen[keyword[i].ID] {
			seen[keyword[i].ID] = true
			merged = append(merged, keyword[i])
		}
	}

	return merged, nil
}

// keywordSearchLocked ranks chunks by BM25 and reports their cosine score so
// results from both legs are comparable downstream.
func (s *LocalStore) keywordSearchLocked(query string, denseVector []float32, topK int) []SearchResult {
	if s.corpus == nil || len(s.corpusIDs) == 0 {
		return nil
	}

	hits := s.corpus.Search(query, topK)
	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Score <= 0 {
			continue
		}
		if hit.Document.ID < 0 || hit.Document.ID >= len(s.corpusIDs) {
			continue
		}
		chunk, ok := s.chunks[s.corpusIDs[hit.Document.ID]]
		if !ok {
			continue
		}
		results = append(results, chunkToResult(chunk, cosineSimilarity(denseVector, chunk.Vector)))
	}
	return results
}

// rebuildCorpusLocked reindexes the BM25 corpus after mutations.
func (s *LocalStore) rebuildCorpusLocked() {
	if !s.corpusStale {
		return
	}

	ids := make([]string, 0, len(s.chunks))
	for id := range s.chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	corpus := bm25md.NewCorpus()
	parser := bm25md.NewMarkdownFieldParser()
	for i, id := range ids {
		chunk := s.chunks[id]
		corpus.AddDocument(bm25md.Document{
			ID:       i,
			Fields:   parser.ParseDocument(chunk.Content),
			Original: chunk.Content,
		})
	}

	s.corpus = corpus
	s.corpusIDs = ids
	s.corpusStale = false
}

// Delete removes chunks by document ID.
func (s *LocalStore) Delete(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}
	s.corpusStale = true

	return s.saveLocked()
}

// DeleteByIDs removes specific chunks by their IDs.
func (s *LocalStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.chunks, id)
	}
	s.corpusStale = true

	return s.saveLocked()
}

// Clear removes all chunks and returns how many were deleted.
func (s *LocalStore) Clear(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := uint64(len(s.chunks))
	s.chunks = make(map[string]*storedChunk)
	s.corpusStale = true

	if err := s.saveLocked(); err != nil {
		return 0, err
	}
	return count, nil
}

// saveLocked writes the index to disk atomically via a temp file rename.
func (s *LocalStore) saveLocked() error {
	chunks := make([]*storedChunk, 0, len(s.chunks))
	ids := make([]string, 0, len(s.chunks))
	for id := range s.chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		chunks = append(chunks, s.chunks[id])
	}

	data, err := json.Marshal(indexFile{
		Dimension: s.dimension,
		Chunks:    chunks,
	})
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace index: %w", err)
	}

	return nil
}

func chunkToResult(chunk *storedChunk, score float32) SearchResult {
	metadata := make(map[string]string, len(chunk.Metadata))
	for k, v := range chunk.Metadata {
		metadata[k] = v
	}
	return SearchResult{
		ID:         chunk.ID,
		DocumentID: chunk.DocumentID,
		Content:    chunk.Content,
		Score:      score,
		Metadata:   metadata,
	}
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for mismatched or zero-length vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Ensure LocalStore implements VectorStore
var _ VectorStore = (*LocalStore)(nil)
