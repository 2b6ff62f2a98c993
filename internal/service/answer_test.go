package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"docqa/internal/llm"
	"docqa/internal/reranker"
	"docqa/internal/vectorstore"
)

// fakeEmbedder returns a constant vector for any input.
type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedder down")
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedder down")
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return 3 }
func (f *fakeEmbedder) ModelName() string { return "fake" }

// fakeVectorStore serves canned results and records calls.
type fakeVectorStore struct {
	results     []vectorstore.SearchResult
	hybridCalls int
	denseCalls  int
	upserted    []vectorstore.Chunk
	cleared     uint64
	deletedDocs []string
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, dimension int) error { return nil }
func (f *fakeVectorStore) DeleteCollection(ctx context.Context) error                { return nil }
func (f *fakeVectorStore) CollectionExists(ctx context.Context) (bool, error)        { return true, nil }
func (f *fakeVectorStore) Count(ctx context.Context) (uint64, error) {
	return uint64(len(f.upserted)), nil
}

func (f *fakeVectorStore) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error {
	f.upserted = append(f.upserted, chunks...)
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	f.denseCalls++
	return f.results, nil
}

func (f *fakeVectorStore) HybridSearch(ctx context.Context, query string, denseVector []float32, sparseVector *vectorstore.SparseVector, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	f.hybridCalls++
	return f.results, nil
}

func (f *fakeVectorStore) Delete(ctx context.Context, documentID string) error {
	f.deletedDocs = append(f.deletedDocs, documentID)
	return nil
}

func (f *fakeVectorStore) DeleteByIDs(ctx context.Context, ids []string) error { return nil }

func (f *fakeVectorStore) Clear(ctx context.Context) (uint64, error) {
	f.cleared = uint64(len(f.upserted))
	f.upserted = nil
	return f.cleared, nil
}

// fakeLLM echoes a fixed answer and captures the prompt.
type fakeLLM struct {
	answer string
	prompt string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.prompt = prompt
	return f.answer, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	f.prompt = prompt
	out := make(chan llm.StreamChunk, 2)
	out <- llm.StreamChunk{Token: f.answer}
	out <- llm.StreamChunk{Done: true}
	close(out)
	return out, nil
}

// reverseReranker reverses result order so reranking is observable.
type reverseReranker struct{}

func (reverseReranker) Rerank(ctx context.Context, query string, results []vectorstore.SearchResult, topK int) ([]reranker.ScoredResult, error) {
	out := make([]reranker.ScoredResult, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		out = append(out, reranker.ScoredResult{
			SearchResult:  results[i],
			RerankerScore: float32(len(results) - i),
		})
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func storeResults() []vectorstore.SearchResult {
	return []vectorstore.SearchResult{
		{
			ID: "c1", DocumentID: "d1", Score: 0.9,
			Content:  "The warranty lasts two years.",
			Metadata: map[string]string{"source": "warranty.pdf", "page": "4"},
		},
		{
			ID: "c2", DocumentID: "d2", Score: 0.8,
			Content:  "Payment is due in thirty days.",
			Metadata: map[string]string{"source": "contract.pdf", "page": "2"},
		},
	}
}

func TestAnswerService_Ask(t *testing.T) {
	store := &fakeVectorStore{results: storeResults()}
	model := &fakeLLM{answer: "Two years. [Source: warranty.pdf, Page: 4]"}
	svc := NewAnswerService(&fakeEmbedder{}, store, model, AnswerConfig{TopK: 10, RerankTopK: 3})

	answer, err := svc.Ask(context.Background(), AskRequest{Question: "How long is the warranty?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(answer.Text, "Two years") {
		t.Errorf("unexpected answer: %q", answer.Text)
	}
	if len(answer.Sources) != 2 {
		t.Errorf("expected 2 sources, got %d", len(answer.Sources))
	}
	if answer.Sources[0].Source != "warranty.pdf" || answer.Sources[0].Page != "4" {
		t.Errorf("source metadata lost: %+v", answer.Sources[0])
	}

	// The prompt must contain the evidence and the citation rule
	if !strings.Contains(model.prompt, "warranty lasts two years") {
		t.Error("prompt missing retrieved context")
	}
	if !strings.Contains(model.prompt, "[Source: warranty.pdf, Page: 4]") {
		t.Error("prompt missing citation labels")
	}
	if !strings.Contains(model.prompt, "I don't know based on the provided documents.") {
		t.Error("prompt missing refusal instruction")
	}
}

func TestAnswerService_Ask_EmptyQuestion(t *testing.T) {
	svc := NewAnswerService(&fakeEmbedder{}, &fakeVectorStore{}, &fakeLLM{}, AnswerConfig{})

	answer, err := svc.Ask(context.Background(), AskRequest{Question: "   "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Text != EmptyQuestionMessage {
		t.Errorf("unexpected answer: %q", answer.Text)
	}
	if len(answer.Sources) != 0 {
		t.Error("empty question should not retrieve sources")
	}
}

func TestAnswerService_Ask_NoContext(t *testing.T) {
	svc := NewAnswerService(&fakeEmbedder{}, &fakeVectorStore{}, &fakeLLM{answer: "should not be called"}, AnswerConfig{})

	answer, err := svc.Ask(context.Background(), AskRequest{Question: "anything?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Text != NoContextMessage {
		t.Errorf("unexpected answer: %q", answer.Text)
	}
}

func TestAnswerService_Ask_SourceFilter(t *testing.T) {
	store := &fakeVectorStore{results: storeResults()}
	svc := NewAnswerService(&fakeEmbedder{}, store, &fakeLLM{answer: "ok"}, AnswerConfig{})

	answer, err := svc.Ask(context.Background(), AskRequest{
		Question: "When is payment due?",
		Sources:  []string{"contract.pdf"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answer.Sources) != 1 {
		t.Fatalf("expected 1 filtered source, got %d", len(answer.Sources))
	}
	if answer.Sources[0].Source != "contract.pdf" {
		t.Errorf("filter kept wrong source: %s", answer.Sources[0].Source)
	}
}

func TestAnswerService_Ask_RerankerReorders(t *testing.T) {
	store := &fakeVectorStore{results: storeResults()}
	svc := NewAnswerService(&fakeEmbedder{}, store, &fakeLLM{answer: "ok"}, AnswerConfig{
		TopK:            10,
		RerankTopK:      1,
		RerankerEnabled: true,
	}, WithReranker(reverseReranker{}))

	answer, err := svc.Ask(context.Background(), AskRequest{Question: "question"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answer.Sources) != 1 {
		t.Fatalf("expected rerank top 1, got %d sources", len(answer.Sources))
	}
	if answer.Sources[0].ChunkID != "c2" {
		t.Errorf("expected reranked order, got %s first", answer.Sources[0].ChunkID)
	}
}

func TestAnswerService_Ask_HybridWhenSparseSet(t *testing.T) {
	store := &fakeVectorStore{results: storeResults()}
	svc := NewAnswerService(&fakeEmbedder{}, store, &fakeLLM{answer: "ok"}, AnswerConfig{},
		WithSparseVectorizer(vectorstore.NewSparseVectorizer()))

	if _, err := svc.Ask(context.Background(), AskRequest{Question: "question"}); err != nil {
		t.Fatal(err)
	}
	if store.hybridCalls != 1 || store.denseCalls != 0 {
		t.Errorf("expected hybrid search, got hybrid=%d dense=%d", store.hybridCalls, store.denseCalls)
	}
}

func TestAnswerService_Ask_ConversationMemory(t *testing.T) {
	store := &fakeVectorStore{results: storeResults()}
	model := &fakeLLM{answer: "first answer"}
	svc := NewAnswerService(&fakeEmbedder{}, store, model, AnswerConfig{})

	if _, err := svc.Ask(context.Background(), AskRequest{Question: "first?", SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Ask(context.Background(), AskRequest{Question: "second?", SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(model.prompt, "Conversation History") {
		t.Error("second turn should include history")
	}
	if !strings.Contains(model.prompt, "first answer") {
		t.Error("history missing earlier assistant message")
	}
}

func TestAnswerService_AskStream(t *testing.T) {
	store := &fakeVectorStore{results: storeResults()}
	svc := NewAnswerService(&fakeEmbedder{}, store, &fakeLLM{answer: "streamed"}, AnswerConfig{})

	sources, tokens, err := svc.AskStream(context.Background(), AskRequest{Question: "question"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sources) != 2 {
		t.Errorf("expected 2 sources, got %d", len(sources))
	}

	var sb strings.Builder
	for chunk := range tokens {
		sb.WriteString(chunk.Token)
	}
	if sb.String() != "streamed" {
		t.Errorf("unexpected streamed text: %q", sb.String())
	}
}

func TestAnswerService_Retrieve_EmptyQuestion(t *testing.T) {
	svc := NewAnswerService(&fakeEmbedder{}, &fakeVectorStore{}, &fakeLLM{}, AnswerConfig{})

	if _, err := svc.Retrieve(context.Background(), AskRequest{Question: ""}); err == nil {
		t.Error("expected error for empty question")
	}
}

func TestDeduplicateResults(t *testing.T) {
	results := []vectorstore.SearchResult{
		{ID: "a", Score: 0.9, Content: "The quick brown fox jumps over the lazy dog near the river"},
		{ID: "b", Score: 0.8, Content: "The quick brown fox jumps over the lazy dog near the riverbank"},
		{ID: "c", Score: 0.7, Content: "Completely different content about warranty terms and payment schedules"},
	}

	deduped := deduplicateResults(results, 0.7)
	if len(deduped) != 2 {
		t.Fatalf("expected 2 results after dedup, got %d", len(deduped))
	}
	if deduped[0].ID != "a" {
		t.Error("higher scored duplicate should survive")
	}
	if deduped[1].ID != "c" {
		t.Error("distinct content should survive")
	}
}

func TestJaccardSimilarity(t *testing.T) {
	a := wordSet("alpha beta gamma")
	b := wordSet("alpha beta delta")

	sim := jaccardSimilarity(a, b)
	if sim <= 0.4 || sim >= 0.6 {
		t.Errorf("expected ~0.5, got %f", sim)
	}

	if jaccardSimilarity(map[string]struct{}{}, map[string]struct{}{}) != 1.0 {
		t.Error("two empty sets are identical")
	}
	if jaccardSimilarity(a, map[string]struct{}{}) != 0.0 {
		t.Error("empty vs non-empty should be 0")
	}
}
