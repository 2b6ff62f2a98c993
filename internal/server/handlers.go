package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"docqa/internal/document"
	"docqa/internal/repository"
	"docqa/internal/service"
)

// maxUploadSize caps one multipart upload request (100 MB).
const maxUploadSize = 100 << 20

// askRequest is the JSON body for POST /v1/ask and /v1/retrieve.
type askRequest struct {
	Question  string   `json:"question"`
	SessionID string   `json:"session_id,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
	MinScore  float32  `json:"min_score,omitempty"`
}

// chunkResponse is one retrieved chunk in API responses.
type chunkResponse struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
	Source     string  `json:"source"`
	Page       string  `json:"page"`
}

// askResponse is the JSON body for POST /v1/ask.
type askResponse struct {
	Answer           string          `json:"answer"`
	Sources          []chunkResponse `json:"sources"`
	RetrievalTimeMs  int64           `json:"retrieval_time_ms"`
	GenerationTimeMs int64           `json:"generation_time_ms"`
}

// documentResponse is one registry document in API responses.
type documentResponse struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Title        string    `json:"title"`
	PageCount    int       `json:"page_count"`
	ChunkCount   int       `json:"chunk_count"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *HTTPServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	answer, err := s.answers.Ask(r.Context(), service.AskRequest{
		Question:  req.Question,
		SessionID: req.SessionID,
		Sources:   req.Sources,
		TopK:      req.TopK,
		MinScore:  req.MinScore,
	})
	if err != nil {
		s.logger.Error("ask failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to answer question")
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:           answer.Text,
		Sources:          toChunkResponses(answer.Sources),
		RetrievalTimeMs:  answer.RetrievalTime.Milliseconds(),
		GenerationTimeMs: answer.GenerationTime.Milliseconds(),
	})
}

func (s *HTTPServer) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	chunks, err := s.answers.Retrieve(r.Context(), service.AskRequest{
		Question: req.Question,
		Sources:  req.Sources,
		TopK:     req.TopK,
		MinScore: req.MinScore,
	})
	if err != nil {
		if strings.Contains(err.Error(), "required") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("retrieve failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve chunks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chunks": toChunkResponses(chunks),
	})
}

// handleUpload ingests PDFs from a multipart form. Multiple "file" parts are
// allowed; an optional "source_name" part per file overrides the filename.
func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	sourceNames := r.MultipartForm.Value["source_name"]
	if len(sourceNames) > 0 && len(sourceNames) != len(files) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("got %d source names for %d files", len(sourceNames), len(files)))
		return
	}

	var paths, names []string
	for i, header := range files {
		if !document.IsPDF(header.Filename) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is not a PDF", header.Filename))
			return
		}

		path, err := s.saveUpload(header.Filename, header)
		if err != nil {
			s.logger.Error("failed to save upload", "file", header.Filename, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save upload")
			return
		}
		defer os.Remove(path)

		paths = append(paths, path)
		name := header.Filename
		if len(sourceNames) > 0 {
			name = sourceNames[i]
		}
		names = append(names, name)
	}

	batch, err := s.ingests.IngestFiles(r.Context(), paths, names)
	if err != nil {
		s.logger.Error("batch ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	writeJSON(w, http.StatusOK, toBatchResponse(batch))
}

// saveUpload writes one multipart file to the upload directory and returns
// its path. The caller removes the file after ingestion.
func (s *HTTPServer) saveUpload(filename string, header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	dir := s.uploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	dst, err := os.CreateTemp(dir, "upload-*-"+filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to write upload: %w", err)
	}

	return dst.Name(), nil
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	docs, total, err := s.ingests.ListDocuments(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list documents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}

	out := make([]documentResponse, len(docs))
	for i, doc := range docs {
		out[i] = toDocumentResponse(doc)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"documents": out,
		"total":     total,
	})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, err := s.ingests.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.ingests.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("delete document failed", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *HTTPServer) handleClearIndex(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.ingests.ClearIndex(r.Context())
	if err != nil {
		s.logger.Error("clear index failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear index")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func toChunkResponses(chunks []service.RetrievedChunk) []chunkResponse {
	out := make([]chunkResponse, len(chunks))
	for i, chunk := range chunks {
		out[i] = chunkResponse{
			ChunkID:    chunk.ChunkID,
			DocumentID: chunk.DocumentID,
			Content:    chunk.Content,
			Score:      chunk.Score,
			Source:     chunk.Source,
			Page:       chunk.Page,
		}
	}
	return out
}

func toDocumentResponse(doc *repository.Document) documentResponse {
	return documentResponse{
		ID:           doc.ID.String(),
		Source:       doc.Source,
		Title:        doc.Title,
		PageCount:    doc.PageCount,
		ChunkCount:   doc.ChunkCount,
		Status:       doc.Status,
		ErrorMessage: doc.ErrorMessage,
		CreatedAt:    doc.CreatedAt,
	}
}

// batchResponse mirrors service.BatchResult with JSON field names.
type batchResponse struct {
	Ingested    []ingestedFile `json:"ingested"`
	Failed      []failedFile   `json:"failed"`
	TotalChunks int            `json:"total_chunks"`
}

type ingestedFile struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Pages      int    `json:"pages"`
	Chunks     int    `json:"chunks"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

type failedFile struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

func toBatchResponse(batch *service.BatchResult) batchResponse {
	out := batchResponse{
		Ingested:    make([]ingestedFile, len(batch.Ingested)),
		Failed:      make([]failedFile, len(batch.Failed)),
		TotalChunks: batch.TotalChunks,
	}
	for i, r := range batch.Ingested {
		out.Ingested[i] = ingestedFile{
			DocumentID: r.DocumentID,
			Source:     r.Source,
			Pages:      r.Pages,
			Chunks:     r.Chunks,
			Duplicate:  r.Duplicate,
		}
	}
	for i, f := range batch.Failed {
		out.Failed[i] = failedFile{Source: f.Source, Error: f.Error}
	}
	return out
}

