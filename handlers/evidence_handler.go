package handlers

import (
	"errors"
	"io"
	"net/http"

	"axio-backend/repository"
	"axio-backend/service"
	"axio-backend/storage"

	"github.com/gin-gonic/gin"
)

// EvidenceHandler handles HTTP requests for citation resolution and
// raw document access
type EvidenceHandler struct {
	evidenceService *service.EvidenceService
	documentRepo    *repository.DocumentRepository
	storage         storage.Storage
}

// NewEvidenceHandler creates a new evidence handler
func NewEvidenceHandler(evidenceService *service.EvidenceService, documentRepo *repository.DocumentRepository, store storage.Storage) *EvidenceHandler {
	return &EvidenceHandler{
		evidenceService: evidenceService,
		documentRepo:    documentRepo,
		storage:         store,
	}
}

// ResolveChunk handles GET /api/evidence/:doc_id/chunk/:chunk_id.
// The optional snippet query parameter is the snippet captured when the
// citation was issued; it backs the response when the chunk is gone.
func (h *EvidenceHandler) ResolveChunk(c *gin.Context) {
	chunkCtx, err := h.evidenceService.ResolveCitation(
		c.Request.Context(),
		c.Param("doc_id"),
		c.Param("chunk_id"),
		c.Query("snippet"),
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RESOLVE_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    chunkCtx,
	})
}

// DownloadDocument handles GET /api/evidence/:doc_id/file
func (h *EvidenceHandler) DownloadDocument(c *gin.Context) {
	doc, err := h.documentRepo.GetByID(c.Request.Context(), c.Param("doc_id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Document not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FETCH_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	reader, err := h.storage.Download(c.Request.Context(), doc.StoragePath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FILE_NOT_FOUND",
				"message": "Stored file not found",
			},
		})
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	io.Copy(c.Writer, reader)
}
