// Package service implements the document question-answering operations.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docqa/internal/embedder"
	"docqa/internal/llm"
	"docqa/internal/memory"
	"docqa/internal/reranker"
	"docqa/internal/vectorstore"
)

const (
	// EmptyQuestionMessage is returned when the question contains no text.
	EmptyQuestionMessage = "Please enter a non-empty question."

	// NoContextMessage is returned when retrieval finds nothing relevant.
	NoContextMessage = "I couldn't find relevant information in the indexed documents."

	defaultSystemPrompt = "You are a careful assistant that answers questions about uploaded documents."
)

// SparseVectorizer converts text to sparse vectors for hybrid search
type SparseVectorizer interface {
	Vectorize(text string) *vectorstore.SparseVector
}

// AskRequest is a question against the indexed documents.
type AskRequest struct {
	Question string

	// SessionID enables multi-turn conversation memory when set.
	SessionID string

	// Sources restricts answering to chunks from the named source files.
	Sources []string

	// TopK overrides the configured retrieval depth when positive.
	TopK int

	// MinScore overrides the configured similarity threshold when positive.
	MinScore float32
}

// RetrievedChunk is one piece of evidence backing an answer.
type RetrievedChunk struct {
	ChunkID    string
	DocumentID string
	Content    string
	Score      float32
	Source     string
	Page       string
	Metadata   map[string]string
}

// Answer is the result of asking a question.
type Answer struct {
	Text    string
	Sources []RetrievedChunk

	RetrievalTime  time.Duration
	GenerationTime time.Duration
}

// AnswerConfig holds retrieval and generation settings.
type AnswerConfig struct {
	TopK            int     // Candidates fetched from the vector store
	RerankTopK      int     // Results kept after reranking
	MinScore        float32 // Similarity threshold for the dense search
	Model           string  // LLM model for generation
	RerankerEnabled bool
}

// AnswerService retrieves evidence and generates cited answers.
type AnswerService struct {
	embedder  embedder.Embedder
	vectorDB  vectorstore.VectorStore
	llmClient llm.LLM
	reranker  reranker.Reranker
	sparse    SparseVectorizer
	memory    *memory.Store
	config    AnswerConfig
}

// AnswerOption is a functional option for configuring AnswerService.
type AnswerOption func(*AnswerService)

// WithReranker sets a reranker for the answer service.
func WithReranker(r reranker.Reranker) AnswerOption {
	return func(s *AnswerService) {
		s.reranker = r
	}
}

// WithSparseVectorizer enables hybrid search with the given sparse vectorizer.
func WithSparseVectorizer(sparse SparseVectorizer) AnswerOption {
	return func(s *AnswerService) {
		s.sparse = sparse
	}
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(
	emb embedder.Embedder,
	vectorDB vectorstore.VectorStore,
	llmClient llm.LLM,
	config AnswerConfig,
	opts ...AnswerOption,
) *AnswerService {
	if config.TopK <= 0 {
		config.TopK = 10
	}
	if config.RerankTopK <= 0 {
		config.RerankTopK = 3
	}

	s := &AnswerService{
		embedder:  emb,
		vectorDB:  vectorDB,
		llmClient: llmClient,
		memory:    memory.DefaultStore(),
		config:    config,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Ask answers a question using retrieved document chunks as evidence.
func (s *AnswerService) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return &Answer{Text: EmptyQuestionMessage}, nil
	}

	retrievalStart := time.Now()
	chunks, err := s.retrieve(ctx, question, req)
	if err != nil {
		return nil, err
	}
	retrievalTime := time.Since(retrievalStart)

	if len(chunks) == 0 {
		return &Answer{
			Text:          NoContextMessage,
			RetrievalTime: retrievalTime,
		}, nil
	}

	var history []memory.Message
	if req.SessionID != "" {
		history = s.memory.GetRecentHistory(req.SessionID, 10)
		s.memory.AddUserMessage(req.SessionID, question)
	}

	generationStart := time.Now()
	prompt := buildAnswerPrompt(chunks, question, history)

	answer, err := s.llmClient.Generate(ctx, prompt, llm.GenerateOptions{
		Model:        s.config.Model,
		SystemPrompt: defaultSystemPrompt,
		Temperature:  0.1,
		MaxTokens:    512,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	generationTime := time.Since(generationStart)

	if req.SessionID != "" {
		s.memory.AddAssistantMessage(req.SessionID, answer)
	}

	return &Answer{
		Text:           strings.TrimSpace(answer),
		Sources:        chunks,
		RetrievalTime:  retrievalTime,
		GenerationTime: generationTime,
	}, nil
}

// AskStream answers a question, streaming generated tokens. The retrieved
// sources are returned immediately; tokens arrive on the returned channel.
func (s *AnswerService) AskStream(ctx context.Context, req AskRequest) ([]RetrievedChunk, <-chan llm.StreamChunk, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, staticStream(EmptyQuestionMessage), nil
	}

	chunks, err := s.retrieve(ctx, question, req)
	if err != nil {
		return nil, nil, err
	}

	if len(chunks) == 0 {
		return nil, staticStream(NoContextMessage), nil
	}

	var history []memory.Message
	if req.SessionID != "" {
		history = s.memory.GetRecentHistory(req.SessionID, 10)
		s.memory.AddUserMessage(req.SessionID, question)
	}

	prompt := buildAnswerPrompt(chunks, question, history)

	tokens, err := s.llmClient.GenerateStream(ctx, prompt, llm.GenerateOptions{
		Model:        s.config.Model,
		SystemPrompt: defaultSystemPrompt,
		Temperature:  0.1,
		MaxTokens:    512,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start streaming: %w", err)
	}

	if req.SessionID == "" {
		return chunks, tokens, nil
	}

	// Tee the stream so the full response lands in conversation memory
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		var full strings.Builder
		for chunk := range tokens {
			if chunk.Token != "" {
				full.WriteString(chunk.Token)
			}
			out <- chunk
		}
		s.memory.AddAssistantMessage(req.SessionID, full.String())
	}()

	return chunks, out, nil
}

// Retrieve returns relevant chunks without generating an answer.
func (s *AnswerService) Retrieve(ctx context.Context, req AskRequest) ([]RetrievedChunk, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}
	return s.retrieve(ctx, question, req)
}

// retrieve runs the search, deduplication, reranking and filtering stages.
func (s *AnswerService) retrieve(ctx context.Context, question string, req AskRequest) ([]RetrievedChunk, error) {
	topK := s.config.TopK
	if req.TopK > 0 {
		topK = req.TopK
	}
	minScore := s.config.MinScore
	if req.MinScore > 0 {
		minScore = req.MinScore
	}

	queryVector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	// Fetch extra candidates for deduplication and reranking
	var results []vectorstore.SearchResult
	if s.sparse != nil {
		sparseVector := s.sparse.Vectorize(question)
		results, err = s.vectorDB.HybridSearch(ctx, question, queryVector, sparseVector, topK*2, minScore)
	} else {
		results, err = s.vectorDB.Search(ctx, queryVector, topK*2, minScore)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	results = deduplicateResults(results, 0.7)

	finalK := topK
	if s.reranker != nil && s.config.RerankerEnabled && len(results) > 0 {
		finalK = s.config.RerankTopK
		reranked, err := s.reranker.Rerank(ctx, question, results, finalK)
		if err == nil && len(reranked) > 0 {
			results = make([]vectorstore.SearchResult, len(reranked))
			for i, r := range reranked {
				results[i] = r.SearchResult
				results[i].Score = r.RerankerScore
			}
		}
		// On error, continue with the vector ordering
	}

	if len(results) > finalK {
		results = results[:finalK]
	}

	chunks := make([]RetrievedChunk, 0, len(results))
	for _, result := range results {
		chunk := RetrievedChunk{
			ChunkID:    result.ID,
			DocumentID: result.DocumentID,
			Content:    result.Content,
			Score:      result.Score,
			Source:     result.Metadata["source"],
			Page:       result.Metadata["page"],
			Metadata:   result.Metadata,
		}
		if len(req.Sources) > 0 && !matchesSource(chunk.Source, req.Sources) {
			continue
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

func matchesSource(source string, allowed []string) bool {
	for _, name := range allowed {
		if source == name {
			return true
		}
	}
	return false
}

// staticStream returns a closed single-message stream for canned responses.
func staticStream(message string) <-chan llm.StreamChunk {
	out := make(chan llm.StreamChunk, 2)
	out <- llm.StreamChunk{Token: message}
	out <- llm.StreamChunk{Done: true}
	close(out)
	return out
}

// buildAnswerPrompt assembles the grounded prompt with citation instructions.
func buildAnswerPrompt(chunks []RetrievedChunk, question string, history []memory.Message) string {
	var sb strings.Builder

	sb.WriteString("Answer the question using ONLY the context below.\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- If the context does not contain the answer, say \"I don't know based on the provided documents.\"\n")
	sb.WriteString("- Cite the source file and page for every claim, like [Source: contract.pdf, Page: 5].\n")
	sb.WriteString("- Do not use outside knowledge.\n\n")

	if len(history) > 0 {
		sb.WriteString("## Conversation History\n")
		sb.WriteString(memory.FormatForPrompt(history))
		sb.WriteString("\n")
	}

	sb.WriteString("## Context\n\n")
	for _, chunk := range chunks {
		sb.WriteString(fmt.Sprintf("[Source: %s, Page: %s]\n", chunk.Source, chunk.Page))
		sb.WriteString(chunk.Content)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(question)
	sb.WriteString("\n\n## Answer\n")

	return sb.String()
}

// deduplicateResults removes chunks with highly similar content to reduce redundancy.
// It uses Jaccard similarity on word sets; results are assumed sorted by score
// descending, so the earlier (higher-scored) chunk of a similar pair survives.
func deduplicateResults(results []vectorstore.SearchResult, threshold float64) []vectorstore.SearchResult {
	if len(results) <= 1 {
		return results
	}

	wordSets := make([]map[string]struct{}, len(results))
	for i, result := range results {
		wordSets[i] = wordSet(result.Content)
	}

	keep := make([]bool, len(results))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(results); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(results); j++ {
			if !keep[j] {
				continue
			}
			if jaccardSimilarity(wordSets[i], wordSets[j]) >= threshold {
				keep[j] = false
			}
		}
	}

	deduplicated := make([]vectorstore.SearchResult, 0, len(results))
	for i, result := range results {
		if keep[i] {
			deduplicated = append(deduplicated, result)
		}
	}

	return deduplicated
}

// wordSet converts content into a set of lowercase words for similarity comparison.
func wordSet(content string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(content))
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'()[]{}=<>")
		if len(word) > 2 { // Skip very short tokens
			set[word] = struct{}{}
		}
	}
	return set
}

// jaccardSimilarity computes the Jaccard similarity between two word sets.
// Returns a value between 0 (no overlap) and 1 (identical).
func jaccardSimilarity(set1, set2 map[string]struct{}) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for word := range set1 {
		if _, exists := set2[word]; exists {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection

	return float64(intersection) / float64(union)
}
