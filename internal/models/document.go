package models

import "strings"

// Format identifies how an uploaded file is turned into text.
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
	FormatDocx     Format = "docx"
	FormatUnknown  Format = "unknown"
)

// ParsedDocument is the normalized text of one uploaded file.
// Index is the position of the file in its batch.
type ParsedDocument struct {
	Index       int      `json:"index"`
	Filename    string   `json:"filename"`
	Format      Format   `json:"format"`
	Content     string   `json:"content"`
	WordCount   int      `json:"wordCount"`
	ParseErrors []string `json:"parseErrors"`
}

// Failed reports whether nothing could be recovered from the file.
func (d *ParsedDocument) Failed() bool {
	return d.Content == "" && len(d.ParseErrors) > 0
}

// ParseError is the batch-level record of a file that had parse problems.
type ParseError struct {
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

// CountWords returns the number of whitespace-delimited tokens in content.
func CountWords(content string) int {
	return len(strings.Fields(content))
}
