package server

import (
	_ "embed"
	"net/http"
)

//go:embed ui.html
var indexHTML []byte

// handleIndex serves the single-page web UI.
func (s *HTTPServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(indexHTML)
}
