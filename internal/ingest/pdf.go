package ingest

import (
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// pdfPageCount is the readability gate: a document pdfcpu cannot open (or
// one with no pages) goes straight to manual handling without spending an
// extraction call on it.
func pdfPageCount(path string) (int, error) {
	return api.PageCountFile(path)
}
