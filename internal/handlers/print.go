// print.go handles documents uploaded for print and delivery.
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/database"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/middleware"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
	pdfservice "github.com/Shimizu-Technology/pdf-desk-api/internal/services/pdf"
)

// downloadURLTTL is how long a presigned print document link stays valid.
const downloadURLTTL = 15 * time.Minute

type printDocumentResponse struct {
	models.PrintDocument
	DownloadURL string `json:"download_url,omitempty"`
}

// UploadPrintDocument stores a PDF for printing and returns its quote.
// POST /api/v1/print/documents (multipart: file, copies, color)
//
// The quote is what a payment item referencing this document must charge.
func (h *Handler) UploadPrintDocument(c *gin.Context) {
	if h.Storage == nil {
		respondError(c, http.StatusServiceUnavailable, "storage_unavailable",
			"Print uploads are not available: object storage is not configured")
		return
	}
	user := middleware.GetUser(c)

	data, name, ok := readPDFUpload(c)
	if !ok {
		return
	}

	copies := 1
	if raw := c.PostForm("copies"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_copies", "copies must be a whole number")
			return
		}
		copies = n
	}
	color, _ := strconv.ParseBool(c.PostForm("color"))

	pages, err := pdfservice.PageCount(data)
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "invalid_pdf", err.Error())
		return
	}
	quote, err := h.Pricing.Quote(pages, copies, color)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_quote", err.Error())
		return
	}

	key, err := h.Storage.Put(c.Request.Context(), user.ID, name, "application/pdf", data)
	if err != nil {
		log.Printf("❌ Failed to store print document: %v", err)
		respondError(c, http.StatusBadGateway, "storage_error", "Failed to store document")
		return
	}

	doc := &models.PrintDocument{
		UserID:       user.ID,
		OriginalName: name,
		StorageKey:   key,
		PageCount:    pages,
		Copies:       copies,
		Color:        color,
		Quote:        quote,
	}
	if err := h.DB.CreatePrintDocument(c.Request.Context(), doc); err != nil {
		log.Printf("❌ Failed to save print document: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to save print document")
		return
	}

	log.Printf("🖨️  Print document %s stored (%d pages × %d, quote %s)", doc.ID, pages, copies, quote.StringFixed(2))
	c.JSON(http.StatusCreated, doc)
}

// GetPrintDocument returns a print document with a short-lived download link.
// GET /api/v1/print/documents/:id
func (h *Handler) GetPrintDocument(c *gin.Context) {
	user := middleware.GetUser(c)

	doc, err := h.DB.GetPrintDocument(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(c, http.StatusNotFound, "not_found", "Print document not found")
			return
		}
		log.Printf("❌ Failed to load print document: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to load print document")
		return
	}

	resp := printDocumentResponse{PrintDocument: *doc}
	if h.Storage != nil {
		url, err := h.Storage.PresignGet(c.Request.Context(), doc.StorageKey, downloadURLTTL)
		if err != nil {
			log.Printf("⚠️  Failed to presign %s: %v", doc.StorageKey, err)
		} else {
			resp.DownloadURL = url
		}
	}

	c.JSON(http.StatusOK, resp)
}
