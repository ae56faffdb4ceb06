package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"docintake/internal/batch"
	"docintake/internal/models"
)

// multipartOverhead is the body allowance on top of the batch size limit for
// part headers and boundaries.
const multipartOverhead = 1 << 20

// multipartFiles returns the file headers under field. A request that is not
// multipart at all is treated as carrying no files. Bodies far past the batch
// size limit are cut off before they are spooled.
func (h *Handler) multipartFiles(c *gin.Context, field string) ([]*multipart.FileHeader, bool) {
	if limit := h.limits.Batch.MaxSizeBytes(); limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}
	err := c.Request.ParseMultipartForm(h.limits.MaxMemory)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
	case errors.As(err, &tooLarge):
		total := c.Request.ContentLength
		if total <= 0 {
			total = tooLarge.Limit
		}
		h.writeBatchError(c, batch.TooLarge(total, h.limits.Batch))
		return nil, false
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		return nil, true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return nil, false
	}
	if c.Request.MultipartForm == nil {
		return nil, true
	}
	return c.Request.MultipartForm.File[field], true
}

func readUploads(headers []*multipart.FileHeader) ([]models.UploadedFile, error) {
	files := make([]models.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s failed", fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s failed", fh.Filename)
		}
		files = append(files, models.UploadedFile{
			Name:        filepath.Base(fh.Filename),
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Content:     data,
		})
	}
	return files, nil
}
