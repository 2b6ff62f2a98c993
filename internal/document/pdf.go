// Package document extracts text from uploaded files, currently PDF only.
package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat is returned for files that are not PDFs.
var ErrUnsupportedFormat = errors.New("unsupported file format (only .pdf is supported)")

// ErrNoText is returned when a PDF yields no extractable text,
// e.g. scanned documents without an OCR layer.
var ErrNoText = errors.New("no extractable text in document")

// Page holds the extracted text of a single PDF page.
type Page struct {
	Number int // 1-based page number
	Text   string
}

// LoadPDF extracts text from a PDF file page by page. Pages without
// extractable text are skipped; page numbers are preserved.
func LoadPDF(path string) ([]Page, error) {
	if !IsPDF(path) {
		return nil, ErrUnsupportedFormat
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var pages []Page
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not fail the whole document.
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		pages = append(pages, Page{Number: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, ErrNoText
	}

	return pages, nil
}

// IsPDF reports whether the file path has a .pdf extension.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
