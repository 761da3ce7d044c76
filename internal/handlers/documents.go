package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/aobridge/internal/documents"
)

type DocumentsHandler struct {
	store  *documents.Store
	logger *slog.Logger
}

type DocumentRequest struct {
	FileName    string  `json:"fileName"`
	FileSize    *int64  `json:"fileSize"`
	ContentType string  `json:"contentType"`
	Content     *string `json:"content"`
	UploadedBy  string  `json:"uploadedBy"`
	Department  string  `json:"department"`
}

type DocumentResponse struct {
	Success  bool               `json:"success"`
	Message  string             `json:"message,omitempty"`
	Document documents.Document `json:"document"`
}

type DocumentListResponse struct {
	Success   bool                 `json:"success"`
	Documents []documents.Document `json:"documents"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewDocumentsHandler(log *slog.Logger, store *documents.Store) *DocumentsHandler {
	return &DocumentsHandler{store: store, logger: log.With(slog.String("handler", "documents"))}
}

func (h *DocumentsHandler) Register(e *echo.Echo) {
	group := e.Group("/api/documents")
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.PUT("/:id", h.Update)
	group.DELETE("/:id", h.Delete)
}

// Create godoc
// @Summary Create a document
// @Tags documents
// @Accept json
// @Produce json
// @Param request body DocumentRequest true "Document"
// @Success 201 {object} DocumentResponse
// @Failure 400 {object} server.ErrorResponse
// @Router /api/documents [post]
func (h *DocumentsHandler) Create(c echo.Context) error {
	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doc := documents.Document{
		FileName:    req.FileName,
		ContentType: req.ContentType,
		UploadedBy:  req.UploadedBy,
		Department:  req.Department,
	}
	if req.FileSize != nil {
		doc.FileSize = *req.FileSize
	}
	if req.Content != nil {
		doc.Content = *req.Content
	}
	created, err := h.store.Create(doc)
	if err != nil {
		if errors.Is(err, documents.ErrInvalid) {
			return echo.NewHTTPError(http.StatusBadRequest, "File name is required")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create document")
	}
	return c.JSON(http.StatusCreated, DocumentResponse{
		Success:  true,
		Message:  "Document created successfully",
		Document: created.Preview(),
	})
}

// List godoc
// @Summary List documents, newest first
// @Tags documents
// @Produce json
// @Success 200 {object} DocumentListResponse
// @Router /api/documents [get]
func (h *DocumentsHandler) List(c echo.Context) error {
	docs := h.store.List()
	for i := range docs {
		docs[i] = docs[i].Preview()
	}
	return c.JSON(http.StatusOK, DocumentListResponse{Success: true, Documents: docs})
}

// Get godoc
// @Summary Get a document
// @Tags documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} DocumentResponse
// @Failure 404 {object} server.ErrorResponse
// @Router /api/documents/{id} [get]
func (h *DocumentsHandler) Get(c echo.Context) error {
	doc, err := h.store.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Document not found")
	}
	return c.JSON(http.StatusOK, DocumentResponse{Success: true, Document: doc.Preview()})
}

// Update godoc
// @Summary Update a document
// @Description Empty text fields keep their current value.
// @Tags documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param request body DocumentRequest true "Fields to change"
// @Success 200 {object} DocumentResponse
// @Failure 404 {object} server.ErrorResponse
// @Router /api/documents/{id} [put]
func (h *DocumentsHandler) Update(c echo.Context) error {
	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patch := documents.Patch{
		FileSize:    req.FileSize,
		Content:     req.Content,
		ContentType: nonEmpty(req.ContentType),
		UploadedBy:  nonEmpty(req.UploadedBy),
		Department:  nonEmpty(req.Department),
		FileName:    nonEmpty(req.FileName),
	}
	doc, err := h.store.Update(c.Param("id"), patch)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Document not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.logger.Info("document updated", slog.String("id", doc.ID))
	return c.JSON(http.StatusOK, DocumentResponse{
		Success:  true,
		Message:  "Document updated successfully",
		Document: doc.Preview(),
	})
}

// Delete godoc
// @Summary Delete a document
// @Tags documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} MessageResponse
// @Failure 404 {object} server.ErrorResponse
// @Router /api/documents/{id} [delete]
func (h *DocumentsHandler) Delete(c echo.Context) error {
	if _, err := h.store.Delete(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Document not found")
	}
	return c.JSON(http.StatusOK, MessageResponse{Success: true, Message: "Document deleted successfully"})
}

func nonEmpty(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}
