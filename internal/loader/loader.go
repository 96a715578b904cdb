// Package loader turns files into domain records. Formats are pluggable:
// each file extension maps to a Loader in a Registry.
package loader

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"kb/internal/domain"
)

// Loader reads one file and returns its records in document order.
type Loader interface {
	Load(path string) ([]domain.Record, error)
}

// Func adapts a plain function to the Loader interface.
type Func func(path string) ([]domain.Record, error)

// Load calls f(path).
func (f Func) Load(path string) ([]domain.Record, error) { return f(path) }

// Registry dispatches files to loaders by lower-cased extension.
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// Default returns a registry with the built-in text, markdown, docx and pdf
// loaders.
func Default() *Registry {
	r := NewRegistry()
	r.Register(".txt", TextLoader{})
	r.Register(".md", TextLoader{})
	r.Register(".docx", DocxLoader{})
	r.Register(".pdf", PDFLoader{})
	return r
}

// Register binds ext (with or without the leading dot) to l, replacing any
// previous binding.
func (r *Registry) Register(ext string, l Loader) {
	r.loaders[normalizeExt(ext)] = l
}

// Supports reports whether a loader is registered for ext.
func (r *Registry) Supports(ext string) bool {
	_, ok := r.loaders[normalizeExt(ext)]
	return ok
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Load reads path with the loader registered for its extension, cleans every
// record's text and stamps source and file_path metadata. All failures wrap
// domain.ErrLoader.
func (r *Registry) Load(path string) ([]domain.Record, error) {
	ext := normalizeExt(filepath.Ext(path))
	l, ok := r.loaders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file type %q", domain.ErrLoader, ext)
	}
	records, err := l.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrLoader, filepath.Base(path), err)
	}
	for i := range records {
		records[i].Text = CleanText(records[i].Text)
		md := records[i].Metadata.Clone()
		md[domain.MetaSource] = filepath.Base(path)
		md[domain.MetaFilePath] = path
		records[i].Metadata = md
	}
	return records, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
