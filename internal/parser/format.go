package parser

import (
	"mime"
	"path/filepath"
	"strings"

	"docintake/internal/models"
)

var extFormats = map[string]models.Format{
	".txt":      models.FormatText,
	".text":     models.FormatText,
	".log":      models.FormatText,
	".md":       models.FormatMarkdown,
	".markdown": models.FormatMarkdown,
	".csv":      models.FormatCSV,
	".json":     models.FormatJSON,
	".yaml":     models.FormatYAML,
	".yml":      models.FormatYAML,
	".html":     models.FormatHTML,
	".htm":      models.FormatHTML,
	".pdf":      models.FormatPDF,
	".docx":     models.FormatDocx,
}

var contentTypeFormats = map[string]models.Format{
	"text/plain":         models.FormatText,
	"text/markdown":      models.FormatMarkdown,
	"text/x-markdown":    models.FormatMarkdown,
	"text/csv":           models.FormatCSV,
	"application/json":   models.FormatJSON,
	"application/yaml":   models.FormatYAML,
	"application/x-yaml": models.FormatYAML,
	"text/yaml":          models.FormatYAML,
	"text/html":          models.FormatHTML,
	"application/pdf":    models.FormatPDF,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": models.FormatDocx,
}

// KnownFormats lists every format a default registry can parse.
func KnownFormats() []models.Format {
	return []models.Format{
		models.FormatText,
		models.FormatMarkdown,
		models.FormatCSV,
		models.FormatJSON,
		models.FormatYAML,
		models.FormatHTML,
		models.FormatPDF,
		models.FormatDocx,
	}
}

// Detect picks the format from the file extension. The content type is only
// consulted when the name has no extension at all.
func Detect(filename, contentType string) models.Format {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != "" {
		if f, ok := extFormats[ext]; ok {
			return f
		}
		return models.FormatUnknown
	}
	if f, ok := contentTypeFormats[mediaType(contentType)]; ok {
		return f
	}
	return models.FormatUnknown
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func unsupportedMessage(filename, contentType string) string {
	what := strings.ToLower(filepath.Ext(filename))
	if what == "" {
		what = mediaType(contentType)
	}
	if what == "" {
		what = "unknown"
	}
	return "unsupported format: " + what
}
