package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"docqa/internal/document"
	"docqa/internal/llm"
	"docqa/internal/repository"
	"docqa/internal/service"
	"docqa/internal/vectorstore"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) Dimension() int    { return 2 }
func (stubEmbedder) ModelName() string { return "stub" }

type stubStore struct {
	mu      sync.Mutex
	results []vectorstore.SearchResult
	chunks  int
}

func (s *stubStore) EnsureCollection(ctx context.Context, dimension int) error { return nil }
func (s *stubStore) DeleteCollection(ctx context.Context) error                { return nil }
func (s *stubStore) CollectionExists(ctx context.Context) (bool, error)        { return true, nil }
func (s *stubStore) Count(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(s.chunks), nil
}
func (s *stubStore) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks += len(chunks)
	return nil
}
func (s *stubStore) Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	return s.results, nil
}
func (s *stubStore) HybridSearch(ctx context.Context, query string, denseVector []float32, sparseVector *vectorstore.SparseVector, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	return s.results, nil
}
func (s *stubStore) Delete(ctx context.Context, documentID string) error       { return nil }
func (s *stubStore) DeleteByIDs(ctx context.Context, ids []string) error       { return nil }
func (s *stubStore) Clear(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uint64(s.chunks)
	s.chunks = 0
	return n, nil
}

type stubLLM struct{ answer string }

func (l stubLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return l.answer, nil
}

func (l stubLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	out := make(chan llm.StreamChunk, 1)
	out <- llm.StreamChunk{Token: l.answer, Done: true}
	close(out)
	return out, nil
}

type stubRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*repository.Document
}

func newStubRepo() *stubRepo {
	return &stubRepo{docs: make(map[uuid.UUID]*repository.Document)}
}

func (r *stubRepo) Create(ctx context.Context, doc *repository.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *doc
	r.docs[doc.ID] = &copied
	return nil
}

func (r *stubRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (r *stubRepo) GetByHash(ctx context.Context, hash string) (*repository.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range r.docs {
		if doc.ContentHash == hash {
			copied := *doc
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubRepo) List(ctx context.Context, status string, limit, offset int) ([]*repository.Document, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.Document
	for _, doc := range r.docs {
		copied := *doc
		out = append(out, &copied)
	}
	return out, len(out), nil
}

func (r *stubRepo) Update(ctx context.Context, doc *repository.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *doc
	r.docs[doc.ID] = &copied
	return nil
}

func (r *stubRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *stubRepo) DeleteAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.docs)
	r.docs = make(map[uuid.UUID]*repository.Document)
	return n, nil
}

func (r *stubRepo) CreateChunks(ctx context.Context, chunks []*repository.DocumentChunk) error {
	return nil
}

func (r *stubRepo) GetChunks(ctx context.Context, documentID uuid.UUID, limit, offset int) ([]*repository.DocumentChunk, error) {
	return nil, nil
}

func (r *stubRepo) DeleteChunks(ctx context.Context, documentID uuid.UUID) error { return nil }

func newTestServer(t *testing.T, store *stubStore) *HTTPServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	answers := service.NewAnswerService(stubEmbedder{}, store, stubLLM{answer: "Two years. [Source: warranty.pdf, Page: 4]"}, service.AnswerConfig{})
	ingests := service.NewIngestService(newStubRepo(), stubEmbedder{}, store, logger,
		service.WithLoader(func(path string) ([]document.Page, error) {
			return []document.Page{{Number: 1, Text: "The warranty covers defects for two years after purchase."}}, nil
		}))

	return NewHTTPServer(HTTPServerConfig{
		Port:          0,
		Logger:        logger,
		AnswerService: answers,
		IngestService: ingests,
		UploadDir:     t.TempDir(),
	})
}

func evidenceResults() []vectorstore.SearchResult {
	return []vectorstore.SearchResult{
		{
			ID: "c1", DocumentID: "d1", Score: 0.9,
			Content:  "The warranty covers defects for two years.",
			Metadata: map[string]string{"source": "warranty.pdf", "page": "4"},
		},
	}
}

func TestHandleAsk(t *testing.T) {
	srv := newTestServer(t, &stubStore{results: evidenceResults()})

	body := `{"question":"How long is the warranty?"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if !strings.Contains(resp.Answer, "Two years") {
		t.Errorf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	if resp.Sources[0].Source != "warranty.pdf" || resp.Sources[0].Page != "4" {
		t.Errorf("source metadata lost: %+v", resp.Sources[0])
	}
}

func TestHandleAsk_BadJSON(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAsk_EmptyQuestion(t *testing.T) {
	srv := newTestServer(t, &stubStore{results: evidenceResults()})

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":""}`))
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp askResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Answer != service.EmptyQuestionMessage {
		t.Errorf("unexpected answer: %q", resp.Answer)
	}
}

func TestHandleRetrieve(t *testing.T) {
	srv := newTestServer(t, &stubStore{results: evidenceResults()})

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(`{"question":"warranty?"}`))
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Chunks []chunkResponse `json:"chunks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(resp.Chunks))
	}
}

func TestHandleRetrieve_EmptyQuestion(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(`{"question":" "}`))
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestHandleUpload(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(t, store)

	body, contentType := multipartBody(t, "warranty.pdf", []byte("%PDF-1.4 fake"))
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp batchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Ingested) != 1 {
		t.Fatalf("expected 1 ingested file, got %d", len(resp.Ingested))
	}
	if resp.Ingested[0].Source != "warranty.pdf" {
		t.Errorf("unexpected source: %s", resp.Ingested[0].Source)
	}
	if resp.TotalChunks == 0 {
		t.Error("expected chunks to be indexed")
	}
}

func TestHandleUpload_RejectsNonPDF(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	body, contentType := multipartBody(t, "notes.txt", []byte("plain text"))
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleUpload_NoFiles(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleListDocuments(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(t, store)

	// Upload one document first
	body, contentType := multipartBody(t, "warranty.pdf", []byte("%PDF-1.4 fake"))
	upload := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	upload.Header.Set("Content-Type", contentType)
	srv.GetRouter().ServeHTTP(httptest.NewRecorder(), upload)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Documents []documentResponse `json:"documents"`
		Total     int                `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || len(resp.Documents) != 1 {
		t.Fatalf("expected 1 document, got total=%d len=%d", resp.Total, len(resp.Documents))
	}
	if resp.Documents[0].Status != repository.StatusReady {
		t.Errorf("expected READY status, got %s", resp.Documents[0].Status)
	}
}

func TestHandleDeleteDocument_NotFound(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/documents/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleClearIndex(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(t, store)

	body, contentType := multipartBody(t, "warranty.pdf", []byte("%PDF-1.4 fake"))
	upload := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	upload.Header.Set("Content-Type", contentType)
	srv.GetRouter().ServeHTTP(httptest.NewRecorder(), upload)

	req := httptest.NewRequest(http.MethodPost, "/v1/index/clear", nil)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Deleted uint64 `json:"deleted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Deleted == 0 {
		t.Error("expected deleted count above zero")
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &stubStore{}
	answers := service.NewAnswerService(stubEmbedder{}, store, stubLLM{}, service.AnswerConfig{})
	ingests := service.NewIngestService(newStubRepo(), stubEmbedder{}, store, logger)

	srv := NewHTTPServer(HTTPServerConfig{
		Logger:        logger,
		AnswerService: answers,
		IngestService: ingests,
		Readiness: []ReadinessChecker{
			func(ctx context.Context) error { return context.DeadlineExceeded },
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestIndexServesUI(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<title>Document Q&amp;A</title>") {
		t.Error("expected the UI page")
	}
}
