package vectorstore

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

// sparseDimension bounds the hashed token space. Collisions are acceptable
// since the sparse vector only supplements dense similarity.
const sparseDimension = 1 << 20

// SparseVectorizer produces hashed term-frequency sparse vectors for keyword
// matching in Qdrant. Both documents and queries must pass through the same
// vectorizer so token hashes line up.
type SparseVectorizer struct{}

// NewSparseVectorizer creates a sparse vectorizer.
func NewSparseVectorizer() *SparseVectorizer {
	return &SparseVectorizer{}
}

// Vectorize tokenizes text and returns an L2-normalized term-frequency
// vector over hashed token indices. Returns nil for text with no tokens.
func (v *SparseVectorizer) Vectorize(text string) *SparseVector {
	counts := make(map[uint32]float32)
	for _, token := range tokenize(text) {
		counts[hashToken(token)]++
	}
	if len(counts) == 0 {
		return nil
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var norm float64
	for _, idx := range indices {
		norm += float64(counts[idx]) * float64(counts[idx])
	}
	norm = math.Sqrt(norm)

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(float64(counts[idx]) / norm)
	}

	return &SparseVector{Indices: indices, Values: values}
}

// tokenize lowercases and splits on any non-letter, non-digit rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(token))
	return h.Sum32() % sparseDimension
}
