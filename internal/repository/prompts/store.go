// Package prompts serves the instruction templates sent to the vision model.
package prompts

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	"github.com/kailas-cloud/guestid/internal/domain/extraction"
)

//go:embed templates/*.txt
var templateFS embed.FS

const (
	genericKey     = "generic"
	detectionKey   = "detection"
	handwritingKey = "handwriting"
	refinementKey  = "refinement"
	formatKey      = "format"
)

// Store looks up extraction prompts by document type.
type Store struct {
	templates map[string]string
}

// New loads the embedded templates.
func New() (*Store, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	s := &Store{templates: make(map[string]string, len(entries))}
	for _, e := range entries {
		data, err := templateFS.ReadFile(path.Join("templates", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		s.templates[strings.TrimSuffix(e.Name(), ".txt")] = strings.TrimSpace(string(data))
	}
	for _, required := range []string{genericKey, detectionKey, handwritingKey, refinementKey, formatKey} {
		if _, ok := s.templates[required]; !ok {
			return nil, fmt.Errorf("template %q is missing", required)
		}
	}
	return s, nil
}

// WithTemplate overrides or adds a template. Used for per-deployment tuning and tests.
func (s *Store) WithTemplate(key, text string) *Store {
	s.templates[key] = strings.TrimSpace(text)
	return s
}

// Has reports whether a dedicated template exists for the document type.
func (s *Store) Has(dt doctype.Type) bool {
	_, ok := s.templates[dt.TemplateKey()]
	return ok && !isReserved(dt.TemplateKey())
}

// Extraction returns the full field-extraction prompt. Front and back share a
// template; types without one get the generic OCR instruction.
func (s *Store) Extraction(dt doctype.Type) string {
	body, ok := s.templates[dt.TemplateKey()]
	if !ok || isReserved(dt.TemplateKey()) {
		body = s.templates[genericKey]
	}
	return body + "\n\n" + s.templates[formatKey]
}

// Refinement returns a prompt scoped to the named fields, showing their current values.
func (s *Store) Refinement(dt doctype.Type, current extraction.Fields, names []string) string {
	var b strings.Builder
	b.WriteString(s.templates[refinementKey])
	fmt.Fprintf(&b, "\nDocument type: %s\nFields:\n", dt)
	for _, n := range names {
		f := current[n]
		fmt.Fprintf(&b, "- %s (current value %q, confidence %d)\n", n, f.Value, f.Confidence)
	}
	b.WriteString("\n")
	b.WriteString(s.templates[formatKey])
	return b.String()
}

// Handwriting returns the handwriting and stamps prompt.
func (s *Store) Handwriting() string {
	return s.templates[handwritingKey] + "\n\n" + s.templates[formatKey]
}

// Detection returns the document classification prompt.
func (s *Store) Detection() string {
	return s.templates[detectionKey]
}

func isReserved(key string) bool {
	switch key {
	case detectionKey, handwritingKey, refinementKey, formatKey:
		return true
	}
	return false
}
