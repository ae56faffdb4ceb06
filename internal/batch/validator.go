// Package batch enforces batch-level upload limits before any parsing starts.
package batch

import (
	"errors"
	"fmt"
	"strconv"

	"docintake/internal/models"
)

const bytesPerMB = 1024 * 1024

var (
	ErrEmptyBatch    = errors.New("empty batch")
	ErrTooManyFiles  = errors.New("too many files")
	ErrBatchTooLarge = errors.New("batch too large")
)

// Error is a rejected batch. Message is meant for the client as is.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// Limits bounds a single batch.
type Limits struct {
	MaxCount  int
	MaxSizeMB float64
}

// MaxSizeBytes converts the size limit to bytes.
func (l Limits) MaxSizeBytes() int64 {
	return int64(l.MaxSizeMB * bytesPerMB)
}

// Validate checks emptiness, then file count, then total size. Only metadata
// is inspected.
func Validate(files []models.UploadedFile, limits Limits) error {
	sizes := make([]int64, len(files))
	for i, f := range files {
		sizes[i] = f.Size
	}
	return ValidateSizes(sizes, limits)
}

// ValidateSizes is Validate over bare file sizes, for callers that have not
// read the files yet.
func ValidateSizes(sizes []int64, limits Limits) error {
	if len(sizes) == 0 {
		return &Error{Kind: ErrEmptyBatch, Message: "No files provided"}
	}
	if len(sizes) > limits.MaxCount {
		return &Error{
			Kind:    ErrTooManyFiles,
			Message: fmt.Sprintf("Batch contains %d files, exceeding the limit of %d", len(sizes), limits.MaxCount),
		}
	}
	var total int64
	for _, s := range sizes {
		total += s
	}
	if total > limits.MaxSizeBytes() {
		return TooLarge(total, limits)
	}
	return nil
}

// TooLarge is the rejection for a batch of total bytes. Callers that cut the
// upload short pass the best size they know.
func TooLarge(total int64, limits Limits) *Error {
	mb := float64(total) / bytesPerMB
	return &Error{
		Kind: ErrBatchTooLarge,
		Message: fmt.Sprintf("Batch total size %.1f MB exceeds the limit of %s MB",
			mb, strconv.FormatFloat(limits.MaxSizeMB, 'f', -1, 64)),
	}
}
