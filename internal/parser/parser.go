package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"docintake/internal/models"
)

const (
	msgTimedOut = "parse timed out"
	msgCanceled = "parse canceled"
)

// Parser turns batches of uploaded files into ParsedDocuments. Files are
// parsed concurrently on a bounded worker pool and a failure in one file
// never affects the others.
type Parser struct {
	registry *Registry
	pool     *ants.Pool
	workers  int
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser) error

// WithWorkers caps how many files are parsed at once.
// Default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(p *Parser) error {
		if n < 1 {
			n = 1
		}
		p.workers = n
		return nil
	}
}

// WithTimeout bounds the wall time of a whole batch. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(p *Parser) error {
		if d < 0 {
			return fmt.Errorf("negative parse timeout %s", d)
		}
		p.timeout = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithRegistry replaces the default format registry.
func WithRegistry(r *Registry) Option {
	return func(p *Parser) error {
		if r == nil {
			return errors.New("nil registry")
		}
		p.registry = r
		return nil
	}
}

// New creates a Parser. Call Release when it is no longer needed.
func New(opts ...Option) (*Parser, error) {
	p := &Parser{
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.registry == nil {
		p.registry = DefaultRegistry()
	}
	pool, err := ants.NewPool(p.workers)
	if err != nil {
		return nil, fmt.Errorf("create parse pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// Release stops the worker pool. The parser should not be used afterwards.
func (p *Parser) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// BatchResult holds one document per input file, in input order, plus one
// error entry for every file that reported parse problems.
type BatchResult struct {
	Documents []models.ParsedDocument `json:"documents"`
	Errors    []models.ParseError     `json:"errors"`
}

// ParseDocuments parses every file independently. It always returns a
// document for each file; files that could not be parsed have empty content
// and a non-empty ParseErrors.
func (p *Parser) ParseDocuments(ctx context.Context, files []models.UploadedFile) BatchResult {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	results := make([]chan models.ParsedDocument, len(files))
	for i := range results {
		results[i] = make(chan models.ParsedDocument, 1)
	}

	go func() {
		for i := range files {
			if ctx.Err() != nil {
				return
			}
			file := files[i]
			task := func() { results[i] <- p.parseOne(ctx, i, file) }
			if err := p.pool.Submit(task); err != nil {
				p.logger.Warn("parse pool unavailable, running inline", "file", file.Name, "err", err)
				go task()
			}
		}
	}()

	res := BatchResult{
		Documents: make([]models.ParsedDocument, len(files)),
		Errors:    []models.ParseError{},
	}
	for i, file := range files {
		var doc models.ParsedDocument
		select {
		case doc = <-results[i]:
		case <-ctx.Done():
			select {
			case doc = <-results[i]:
			default:
				doc = abandoned(ctx.Err(), i, file)
			}
		}
		res.Documents[i] = doc
		if len(doc.ParseErrors) > 0 {
			res.Errors = append(res.Errors, models.ParseError{
				Filename: doc.Filename,
				Message:  strings.Join(doc.ParseErrors, "; "),
			})
		}
	}

	p.logger.Debug("batch parsed",
		"files", len(files),
		"failed", len(res.Errors),
		"elapsed", time.Since(start))
	return res
}

// ParseDocument parses a single file, as used when appending to an existing
// collection.
func (p *Parser) ParseDocument(ctx context.Context, file models.UploadedFile) models.ParsedDocument {
	return p.ParseDocuments(ctx, []models.UploadedFile{file}).Documents[0]
}

func (p *Parser) parseOne(ctx context.Context, index int, file models.UploadedFile) (doc models.ParsedDocument) {
	format := Detect(file.Name, file.ContentType)
	doc = models.ParsedDocument{
		Index:       index,
		Filename:    file.Name,
		Format:      format,
		ParseErrors: []string{},
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("parser panic", "file", file.Name, "format", format, "panic", r)
			doc.Content = ""
			doc.WordCount = 0
			doc.ParseErrors = append(doc.ParseErrors, fmt.Sprintf("parser panic: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		doc.ParseErrors = append(doc.ParseErrors, contextMessage(err))
		return doc
	}

	fp, ok := p.registry.Lookup(format)
	if !ok {
		doc.ParseErrors = append(doc.ParseErrors, unsupportedMessage(file.Name, file.ContentType))
		return doc
	}

	content, warnings, err := fp.Parse(ctx, file.Content)
	doc.ParseErrors = append(doc.ParseErrors, warnings...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			doc.ParseErrors = append(doc.ParseErrors, contextMessage(err))
		} else {
			doc.ParseErrors = append(doc.ParseErrors, err.Error())
		}
		p.logger.Debug("parse failed", "file", file.Name, "format", format, "err", err)
		return doc
	}
	doc.Content = content
	doc.WordCount = models.CountWords(content)
	return doc
}

func abandoned(err error, index int, file models.UploadedFile) models.ParsedDocument {
	return models.ParsedDocument{
		Index:       index,
		Filename:    file.Name,
		Format:      Detect(file.Name, file.ContentType),
		ParseErrors: []string{contextMessage(err)},
	}
}

func contextMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return msgTimedOut
	}
	return msgCanceled
}
