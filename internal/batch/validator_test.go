package batch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintake/internal/models"
)

func filesOfSize(n int, size int64) []models.UploadedFile {
	files := make([]models.UploadedFile, n)
	for i := range files {
		files[i] = models.UploadedFile{Name: "f.txt", Size: size}
	}
	return files
}

func TestValidateEmpty(t *testing.T) {
	err := Validate(nil, Limits{MaxCount: 5, MaxSizeMB: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyBatch))
	assert.Contains(t, err.Error(), "No files provided")
}

func TestValidateCountBoundary(t *testing.T) {
	limits := Limits{MaxCount: 3, MaxSizeMB: 10}
	require.NoError(t, Validate(filesOfSize(3, 0), limits))

	err := Validate(filesOfSize(4, 0), limits)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooManyFiles))
	assert.Equal(t, "Batch contains 4 files, exceeding the limit of 3", err.Error())
}

func TestValidateSizeBoundary(t *testing.T) {
	limits := Limits{MaxCount: 10, MaxSizeMB: 2}
	half := limits.MaxSizeBytes() / 2
	require.NoError(t, Validate(filesOfSize(2, half), limits))

	files := filesOfSize(2, half)
	files[1].Size++
	err := Validate(files, limits)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBatchTooLarge))
	assert.Equal(t, "Batch total size 2.0 MB exceeds the limit of 2 MB", err.Error())
}

func TestValidateFractionalLimit(t *testing.T) {
	limits := Limits{MaxCount: 10, MaxSizeMB: 0.5}
	err := Validate(filesOfSize(1, 3*bytesPerMB), limits)
	require.Error(t, err)
	assert.Equal(t, "Batch total size 3.0 MB exceeds the limit of 0.5 MB", err.Error())
}

func TestValidateCheckOrder(t *testing.T) {
	// too many and too large at once: count wins.
	err := Validate(filesOfSize(5, 10*bytesPerMB), Limits{MaxCount: 2, MaxSizeMB: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooManyFiles))

	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, ErrTooManyFiles, be.Kind)
}

func TestTooLarge(t *testing.T) {
	err := TooLarge(3<<20, Limits{MaxCount: 1, MaxSizeMB: 2.5})
	require.ErrorIs(t, err, ErrBatchTooLarge)
	assert.Equal(t, "Batch total size 3.0 MB exceeds the limit of 2.5 MB", err.Error())
}
