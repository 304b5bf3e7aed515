package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Document is one PDF queued for ingestion.
type Document struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// ListPDFs returns the PDF documents in dir, sorted by filename so batch
// logs stay readable. Completion order within a batch is still undefined.
func ListPDFs(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list pdf folder %s: %w", dir, err)
	}

	var docs []Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		docs = append(docs, Document{
			Path: filepath.Join(dir, entry.Name()),
			Name: entry.Name(),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}
