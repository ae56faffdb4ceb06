package parser

import (
	"context"
	"sync"

	"docintake/internal/models"
)

// FormatParser turns the raw bytes of one file into text. Warnings are
// non-fatal problems; a non-nil error means no content could be recovered.
type FormatParser interface {
	Parse(ctx context.Context, data []byte) (content string, warnings []string, err error)
}

// FormatParserFunc adapts a function to FormatParser.
type FormatParserFunc func(ctx context.Context, data []byte) (string, []string, error)

func (f FormatParserFunc) Parse(ctx context.Context, data []byte) (string, []string, error) {
	return f(ctx, data)
}

// Registry maps each format to its parser.
type Registry struct {
	mu      sync.RWMutex
	parsers map[models.Format]FormatParser
}

func NewRegistry() *Registry {
	return &Registry{parsers: make(map[models.Format]FormatParser)}
}

// DefaultRegistry has a parser for every entry of KnownFormats.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(models.FormatText, newTextParser())
	r.Register(models.FormatMarkdown, newMarkdownParser())
	r.Register(models.FormatCSV, csvParser{})
	r.Register(models.FormatJSON, jsonParser{})
	r.Register(models.FormatYAML, yamlParser{})
	r.Register(models.FormatHTML, htmlParser{})
	r.Register(models.FormatPDF, newPDFParser())
	r.Register(models.FormatDocx, docxParser{})
	return r
}

func (r *Registry) Register(format models.Format, p FormatParser) {
	r.mu.Lock()
	r.parsers[format] = p
	r.mu.Unlock()
}

func (r *Registry) Lookup(format models.Format) (FormatParser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[format]
	return p, ok
}
