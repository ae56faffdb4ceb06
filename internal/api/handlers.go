package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"docintake/internal/batch"
	"docintake/internal/models"
	"docintake/internal/parser"
	"docintake/internal/session"
)

const (
	msgSessionNotFound = "Session not found"
	msgInternal        = "internal server error"
	msgParseFailed     = "Parse failed: "
)

// DocumentParser is the parsing side of the handler.
type DocumentParser interface {
	ParseDocuments(ctx context.Context, files []models.UploadedFile) parser.BatchResult
	ParseDocument(ctx context.Context, file models.UploadedFile) models.ParsedDocument
}

// CommitPublisher receives sessions once they reach committed.
type CommitPublisher interface {
	PublishCommitted(ctx context.Context, view *session.View) error
}

// Limits bounds what a single request may upload.
type Limits struct {
	Batch batch.Limits
	// MaxMemory is the multipart in-memory threshold in bytes.
	MaxMemory int64
}

// Handler wires HTTP routes to the parser and the session store.
type Handler struct {
	store     *session.Store
	parser    DocumentParser
	limits    Limits
	publisher CommitPublisher
	logger    *slog.Logger
	validate  *validator.Validate
}

// NewHandler constructs a Handler instance. A nil publisher only logs commits.
func NewHandler(store *session.Store, p DocumentParser, limits Limits, publisher CommitPublisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = logPublisher{logger: logger}
	}
	if limits.MaxMemory <= 0 {
		limits.MaxMemory = 32 << 20
	}
	return &Handler{
		store:     store,
		parser:    p,
		limits:    limits,
		publisher: publisher,
		logger:    logger,
		validate:  validator.New(),
	}
}

// NewRouter returns a gin engine with recovery and every route registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.CustomRecovery(h.recover))
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	api := router.Group("/api")
	api.POST("/batches", h.createBatch)
	api.POST("/documents/parse", h.parseDocument)
	sessions := api.Group("/sessions/:id")
	sessions.GET("", h.getSession)
	sessions.POST("/status", h.updateStatus)
	sessions.POST("/classifications", h.appendClassification)
	sessions.POST("/edits", h.appendUserEdit)
}

func (h *Handler) recover(c *gin.Context, recovered any) {
	h.logger.Error("handler panic", "method", c.Request.Method, "path", c.FullPath(), "panic", recovered)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"result": "ok"})
}

type batchDocument struct {
	Index       int           `json:"index"`
	Filename    string        `json:"filename"`
	Format      models.Format `json:"format"`
	WordCount   int           `json:"wordCount"`
	ParseErrors []string      `json:"parseErrors"`
}

func (h *Handler) createBatch(c *gin.Context) {
	headers, ok := h.multipartFiles(c, "files")
	if !ok {
		return
	}
	sizes := make([]int64, len(headers))
	for i, fh := range headers {
		sizes[i] = fh.Size
	}
	if err := batch.ValidateSizes(sizes, h.limits.Batch); err != nil {
		h.writeBatchError(c, err)
		return
	}
	files, err := readUploads(headers)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := h.parser.ParseDocuments(c.Request.Context(), files)
	se := h.store.Create(res.Documents)
	if _, err := h.store.UpdateStatus(se.ID, models.StatusReviewing); err != nil {
		h.internalError(c, "move new session to reviewing", err)
		return
	}

	docs := make([]batchDocument, len(res.Documents))
	for i, d := range res.Documents {
		docs[i] = batchDocument{
			Index:       d.Index,
			Filename:    d.Filename,
			Format:      d.Format,
			WordCount:   d.WordCount,
			ParseErrors: d.ParseErrors,
		}
	}
	h.logger.Info("batch ingested", "session", se.ID, "files", len(files), "failed", len(res.Errors))
	c.JSON(http.StatusOK, gin.H{
		"sessionId": se.ID,
		"documents": docs,
		"errors":    res.Errors,
	})
}

func (h *Handler) parseDocument(c *gin.Context) {
	headers, ok := h.multipartFiles(c, "file")
	if !ok {
		return
	}
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	fh := headers[0]
	if err := batch.ValidateSizes([]int64{fh.Size}, h.limits.Batch); err != nil {
		h.writeBatchError(c, err)
		return
	}
	files, err := readUploads(headers[:1])
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc := h.parser.ParseDocument(c.Request.Context(), files[0])
	if doc.Failed() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": msgParseFailed + strings.Join(doc.ParseErrors, "; ")})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"filename":  doc.Filename,
		"format":    doc.Format,
		"content":   doc.Content,
		"wordCount": doc.WordCount,
		"errors":    doc.ParseErrors,
	})
}

func (h *Handler) getSession(c *gin.Context) {
	se, err := h.store.Get(c.Param("id"))
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Serialize(se))
}

type statusRequest struct {
	Status models.Status `json:"status" validate:"required"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	var req statusRequest
	if !h.bind(c, &req) {
		return
	}
	se, err := h.store.UpdateStatus(c.Param("id"), req.Status)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	view := session.Serialize(se)
	if se.Status == models.StatusCommitted {
		if err := h.publisher.PublishCommitted(c.Request.Context(), view); err != nil {
			h.logger.Error("publish committed session", "session", se.ID, "err", err)
		}
	}
	c.JSON(http.StatusOK, view)
}

type classificationRequest struct {
	Index      *int            `json:"index" validate:"required,min=0"`
	Suggestion json.RawMessage `json:"suggestion" validate:"required"`
}

func (h *Handler) appendClassification(c *gin.Context) {
	var req classificationRequest
	if !h.bind(c, &req) {
		return
	}
	se, err := h.store.AppendClassification(c.Param("id"), models.ClassificationSuggestion{
		Index:      *req.Index,
		Suggestion: req.Suggestion,
	})
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Serialize(se))
}

type userEditRequest struct {
	Index *int            `json:"index" validate:"required,min=0"`
	Edit  json.RawMessage `json:"edit" validate:"required"`
}

func (h *Handler) appendUserEdit(c *gin.Context) {
	var req userEditRequest
	if !h.bind(c, &req) {
		return
	}
	se, err := h.store.AppendUserEdit(c.Param("id"), models.UserEdit{
		Index: *req.Index,
		Edit:  req.Edit,
	})
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Serialize(se))
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": strings.ToLower(verrs[0].Field()) + " is invalid"})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

func (h *Handler) writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": msgSessionNotFound})
	case errors.Is(err, session.ErrInvalidStatus), errors.Is(err, session.ErrUnknownDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.internalError(c, "session store", err)
	}
}

func (h *Handler) writeBatchError(c *gin.Context, err error) {
	var be *batch.Error
	if errors.As(err, &be) {
		c.JSON(http.StatusBadRequest, gin.H{"error": be.Message})
		return
	}
	h.internalError(c, "validate batch", err)
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error(op, "path", c.FullPath(), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
}

type logPublisher struct {
	logger *slog.Logger
}

func (p logPublisher) PublishCommitted(_ context.Context, view *session.View) error {
	p.logger.Info("session committed", "session", view.ID, "documents", len(view.Documents))
	return nil
}
