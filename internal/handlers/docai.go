// docai.go handles document AI jobs: table extraction and OCR cleanup.
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/database"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/middleware"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
	pdfservice "github.com/Shimizu-Technology/pdf-desk-api/internal/services/pdf"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/worker"
)

// CreateDocAIJob extracts the text of an uploaded PDF and queues an AI job.
// POST /api/v1/ai/jobs (multipart: file, task=tables|ocr)
//
// Returns 202 with the pending job; poll GET /api/v1/ai/jobs/:id.
func (h *Handler) CreateDocAIJob(c *gin.Context) {
	user := middleware.GetUser(c)

	task := models.DocAITask(strings.ToLower(strings.TrimSpace(c.PostForm("task"))))
	if task != models.TaskExtractTables && task != models.TaskOCRCleanup {
		respondError(c, http.StatusBadRequest, "invalid_task", "task must be 'tables' or 'ocr'")
		return
	}

	data, name, ok := readPDFUpload(c)
	if !ok {
		return
	}

	extracted, err := pdfservice.Extract(data)
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "extraction_failed", "PDF text extraction failed: "+err.Error())
		return
	}
	if strings.TrimSpace(extracted.Text) == "" {
		respondError(c, http.StatusUnprocessableEntity, "no_text",
			"The PDF has no extractable text layer")
		return
	}

	job := &models.DocAIJob{
		UserID:       user.ID,
		Task:         task,
		OriginalName: name,
		SourceText:   extracted.Text,
		Status:       models.StatusPending,
	}
	if err := h.DB.CreateDocAIJob(c.Request.Context(), job); err != nil {
		log.Printf("❌ Failed to create AI job: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to create AI job")
		return
	}

	err = h.Worker.Submit(worker.Job{ID: job.ID, Type: worker.JobDocAI, CreatedAt: time.Now()})
	if err != nil {
		job.Status = models.StatusFailed
		job.ErrorMessage = err.Error()
		if saveErr := h.DB.UpdateDocAIJob(c.Request.Context(), job); saveErr != nil {
			log.Printf("⚠️  Failed to mark job %s failed: %v", job.ID, saveErr)
		}
		if errors.Is(err, worker.ErrQueueFull) {
			respondError(c, http.StatusServiceUnavailable, "queue_full", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "queue_error", "Failed to queue AI job")
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// GetDocAIJob returns one of the user's AI jobs.
// GET /api/v1/ai/jobs/:id
func (h *Handler) GetDocAIJob(c *gin.Context) {
	user := middleware.GetUser(c)

	job, err := h.DB.GetDocAIJob(c.Request.Context(), c.Param("id"))
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		log.Printf("❌ Failed to load AI job: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to load AI job")
		return
	}
	if job == nil || job.UserID != user.ID {
		respondError(c, http.StatusNotFound, "not_found", "AI job not found")
		return
	}

	c.JSON(http.StatusOK, job)
}
