package handlers

import (
	"errors"
	"io"
	"net/http"

	"axio-backend/models"
	"axio-backend/repository"
	"axio-backend/service"

	"github.com/gin-gonic/gin"
)

const maxUploadSize = 10 * 1024 * 1024 // 10MB

// IntakeHandler handles HTTP requests for evidence intake
type IntakeHandler struct {
	ingestService *service.IngestService
	documentRepo  *repository.DocumentRepository
}

// NewIntakeHandler creates a new intake handler
func NewIntakeHandler(ingestService *service.IngestService, documentRepo *repository.DocumentRepository) *IntakeHandler {
	return &IntakeHandler{
		ingestService: ingestService,
		documentRepo:  documentRepo,
	}
}

// UploadDocument handles POST /api/intake/upload
func (h *IntakeHandler) UploadDocument(c *gin.Context) {
	caseID := c.PostForm("case_id")
	if caseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MISSING_CASE_ID",
				"message": "case_id is required",
			},
		})
		return
	}

	party := models.Party(c.PostForm("party"))
	if !party.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_PARTY",
				"message": "party must be A or B",
			},
		})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MISSING_FILE",
				"message": "File is required",
			},
		})
		return
	}
	if fileHeader.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FILE_TOO_LARGE",
				"message": "File exceeds the 10MB limit",
			},
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "READ_FAILED",
				"message": err.Error(),
			},
		})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "READ_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	doc, err := h.ingestService.Ingest(c.Request.Context(), caseID, party, fileHeader.Filename, content)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFile),
			errors.Is(err, service.ErrEmptyDocument),
			errors.Is(err, service.ErrNoText):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_DOCUMENT",
					"message": err.Error(),
				},
			})
		case errors.Is(err, service.ErrUpstreamUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "UPSTREAM_UNAVAILABLE",
					"message": err.Error(),
				},
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INGEST_FAILED",
					"message": err.Error(),
				},
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    doc,
	})
}

// ListDocuments handles GET /api/intake/:case_id/documents
func (h *IntakeHandler) ListDocuments(c *gin.Context) {
	docs, err := h.documentRepo.ListForCase(c.Request.Context(), c.Param("case_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "FETCH_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    docs,
	})
}

// DeleteDocument handles DELETE /api/documents/:id
func (h *IntakeHandler) DeleteDocument(c *gin.Context) {
	err := h.ingestService.DeleteDocument(c.Request.Context(), c.Param("id"))
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
				"code":    "DELETE_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"deleted": true},
	})
}
