// pdf.go handles the PDF tool endpoints.
//
// POST /api/v1/pdf/render          : rasterize every page to an image
// POST /api/v1/pdf/merge           : concatenate several PDFs
// POST /api/v1/pdf/compress        : optimize a PDF
// POST /api/v1/pdf/extract         : extract and store text
// GET  /api/v1/pdf/extractions     : list stored extractions
// GET  /api/v1/pdf/extractions/:id : get one extraction
package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/database"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/middleware"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
	pdfservice "github.com/Shimizu-Technology/pdf-desk-api/internal/services/pdf"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/render"
)

// maxPDFSize is the max upload size for a single PDF (50MB).
const maxPDFSize = 50 << 20

// maxMergeSize bounds the whole multipart body of a merge request.
const maxMergeSize = 200 << 20

// readPDFUpload reads the "file" field and checks it is a PDF. It writes
// the error response itself and reports false on failure.
func readPDFUpload(c *gin.Context) ([]byte, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPDFSize)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request",
			"No PDF file provided. Upload a file with the field name 'file'. Max size: 50MB.")
		return nil, "", false
	}
	defer file.Close()

	data, ok := readPDF(c, file, header)
	return data, header.Filename, ok
}

func readPDF(c *gin.Context, file multipart.File, header *multipart.FileHeader) ([]byte, bool) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".pdf" {
		respondError(c, http.StatusBadRequest, "invalid_file_type",
			fmt.Sprintf("Unsupported file format '%s'. Only .pdf files are accepted.", ext))
		return nil, false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(c, http.StatusBadRequest, "read_error", "Failed to read uploaded file")
		return nil, false
	}

	if !pdfservice.ValidatePDF(data) {
		respondError(c, http.StatusBadRequest, "invalid_pdf",
			fmt.Sprintf("'%s' does not appear to be a valid PDF", header.Filename))
		return nil, false
	}
	return data, true
}

// RenderPDF rasterizes every page of an uploaded PDF.
// POST /api/v1/pdf/render
//
// Optional form fields: scale (0 < scale <= 4), format (png, jpeg, tiff).
// Pages are returned base64-encoded in page order. Pages that could not get
// a drawing surface are listed in skipped_pages.
func (h *Handler) RenderPDF(c *gin.Context) {
	data, _, ok := readPDFUpload(c)
	if !ok {
		return
	}

	opts := render.Options{}
	if raw := c.PostForm("scale"); raw != "" {
		scale, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(scale > 0 && scale <= render.MaxScale) {
			respondError(c, http.StatusBadRequest, "invalid_scale",
				fmt.Sprintf("scale must be a number in (0, %g]", render.MaxScale))
			return
		}
		opts.Scale = scale
	}
	format, ok := render.ParseFormat(c.PostForm("format"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid_format", "format must be png, jpeg or tiff")
		return
	}
	opts.Format = format

	result, err := h.Rasterizer.Rasterize(c.Request.Context(), data, opts)
	if err != nil {
		if errors.Is(err, render.ErrInvalidDocument) || errors.Is(err, render.ErrInvalidScale) {
			respondError(c, http.StatusBadRequest, "invalid_pdf", err.Error())
			return
		}
		log.Printf("❌ Render failed: %v", err)
		respondError(c, http.StatusInternalServerError, "render_failed", "Failed to render PDF")
		return
	}

	resp := models.RenderResponse{
		PageCount:    result.PageCount,
		SkippedPages: result.Skipped,
		Scale:        result.Scale,
		Pages:        make([]models.RenderedPageResponse, 0, len(result.Pages)),
	}
	if resp.SkippedPages == nil {
		resp.SkippedPages = []int{}
	}
	for _, p := range result.Pages {
		resp.Pages = append(resp.Pages, models.RenderedPageResponse{
			Page:        p.Number,
			Width:       p.Width,
			Height:      p.Height,
			ContentType: p.ContentType,
			Data:        base64.StdEncoding.EncodeToString(p.Data),
		})
	}

	c.JSON(http.StatusOK, resp)
}

// MergePDF concatenates the uploaded files in the order given.
// POST /api/v1/pdf/merge (multipart field "files", repeated)
func (h *Handler) MergePDF(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxMergeSize)

	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Upload PDFs with the repeated field name 'files'")
		return
	}
	headers := form.File["files"]
	if len(headers) < 2 || len(headers) > pdfservice.MaxMergeInputs {
		respondError(c, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("Merge needs between 2 and %d files, got %d", pdfservice.MaxMergeInputs, len(headers)))
		return
	}

	docs := make([][]byte, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			respondError(c, http.StatusBadRequest, "read_error", "Failed to read uploaded file")
			return
		}
		data, ok := readPDF(c, f, fh)
		f.Close()
		if !ok {
			return
		}
		docs = append(docs, data)
	}

	merged, err := pdfservice.Merge(docs)
	if err != nil {
		log.Printf("⚠️  Merge failed: %v", err)
		respondError(c, http.StatusUnprocessableEntity, "merge_failed", err.Error())
		return
	}

	if pages, err := pdfservice.PageCount(merged); err == nil {
		c.Header("X-Page-Count", strconv.Itoa(pages))
	}
	c.Header("Content-Disposition", `attachment; filename="merged.pdf"`)
	c.Data(http.StatusOK, "application/pdf", merged)
}

// CompressPDF optimizes an uploaded PDF.
// POST /api/v1/pdf/compress
func (h *Handler) CompressPDF(c *gin.Context) {
	data, name, ok := readPDFUpload(c)
	if !ok {
		return
	}

	result, err := pdfservice.Compress(data)
	if err != nil {
		log.Printf("⚠️  Compress failed for %s: %v", name, err)
		respondError(c, http.StatusUnprocessableEntity, "compress_failed", err.Error())
		return
	}

	c.Header("X-Original-Size", strconv.Itoa(result.OriginalSize))
	c.Header("X-Compressed-Size", strconv.Itoa(result.Size))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, compressedName(name)))
	c.Data(http.StatusOK, "application/pdf", result.Data)
}

func compressedName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, base)
	if base == "" {
		base = "document"
	}
	return base + "-compressed.pdf"
}

// ExtractPDF extracts text from an uploaded PDF and stores the result.
// POST /api/v1/pdf/extract
func (h *Handler) ExtractPDF(c *gin.Context) {
	user := middleware.GetUser(c)
	data, name, ok := readPDFUpload(c)
	if !ok {
		return
	}

	result, err := pdfservice.Extract(data)
	if err != nil {
		log.Printf("⚠️  PDF extraction failed for %s: %v", name, err)

		pe := &models.PDFExtraction{
			UserID:       user.ID,
			OriginalName: name,
			Status:       models.StatusFailed,
			ErrorMessage: err.Error(),
		}
		if saveErr := h.DB.CreatePDFExtraction(c.Request.Context(), pe); saveErr != nil {
			log.Printf("⚠️  Failed to save failed extraction record: %v", saveErr)
		}

		respondError(c, http.StatusUnprocessableEntity, "extraction_failed", "PDF text extraction failed: "+err.Error())
		return
	}

	pe := &models.PDFExtraction{
		UserID:       user.ID,
		OriginalName: name,
		PageCount:    result.PageCount,
		TextContent:  result.Text,
		WordCount:    result.WordCount,
		Status:       models.StatusCompleted,
	}
	if err := h.DB.CreatePDFExtraction(c.Request.Context(), pe); err != nil {
		// Still return the result even if the save fails.
		log.Printf("⚠️  Failed to save PDF extraction record: %v", err)
	}

	c.JSON(http.StatusOK, pe)
}

// GetPDFExtraction retrieves one of the user's extractions.
// GET /api/v1/pdf/extractions/:id
func (h *Handler) GetPDFExtraction(c *gin.Context) {
	user := middleware.GetUser(c)

	pe, err := h.DB.GetPDFExtraction(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(c, http.StatusNotFound, "not_found", "PDF extraction not found")
			return
		}
		log.Printf("❌ Failed to load extraction: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to load PDF extraction")
		return
	}

	c.JSON(http.StatusOK, pe)
}

// ListPDFExtractions returns the user's recent extractions.
// GET /api/v1/pdf/extractions
func (h *Handler) ListPDFExtractions(c *gin.Context) {
	user := middleware.GetUser(c)

	extractions, err := h.DB.ListPDFExtractions(c.Request.Context(), user.ID, 50)
	if err != nil {
		log.Printf("❌ Failed to list PDF extractions: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to list PDF extractions")
		return
	}
	if extractions == nil {
		extractions = []models.PDFExtraction{}
	}

	c.JSON(http.StatusOK, extractions)
}
