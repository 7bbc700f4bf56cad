// documents.go handles PDF extraction, AI job and print document records.
package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
)

// --- PDF Extraction Operations ---

// CreatePDFExtraction inserts a new PDF extraction record.
func (db *DB) CreatePDFExtraction(ctx context.Context, pe *models.PDFExtraction) error {
	query := `
		INSERT INTO pdf_extractions (user_id, original_name, page_count, text_content, word_count, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return db.QueryRowContext(ctx, query,
		pe.UserID, pe.OriginalName, pe.PageCount, pe.TextContent,
		pe.WordCount, pe.Status, pe.ErrorMessage,
	).Scan(&pe.ID, &pe.CreatedAt)
}

// GetPDFExtraction retrieves a single PDF extraction owned by a user.
func (db *DB) GetPDFExtraction(ctx context.Context, id, userID string) (*models.PDFExtraction, error) {
	var pe models.PDFExtraction
	err := db.GetContext(ctx, &pe, `SELECT * FROM pdf_extractions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return nil, notFound("pdf extraction", err)
	}
	return &pe, nil
}

// ListPDFExtractions returns a user's recent PDF extractions.
func (db *DB) ListPDFExtractions(ctx context.Context, userID string, limit int) ([]models.PDFExtraction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var extractions []models.PDFExtraction
	err := db.SelectContext(ctx, &extractions,
		`SELECT * FROM pdf_extractions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pdf extractions: %w", err)
	}
	return extractions, nil
}

// --- Document AI Job Operations ---

// CreateDocAIJob inserts a pending AI job.
func (db *DB) CreateDocAIJob(ctx context.Context, j *models.DocAIJob) error {
	query := `
		INSERT INTO doc_ai_jobs (user_id, task, original_name, source_text, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	if j.Status == "" {
		j.Status = models.StatusPending
	}
	return db.QueryRowContext(ctx, query,
		j.UserID, j.Task, j.OriginalName, j.SourceText, j.Status,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
}

// GetDocAIJob retrieves an AI job by ID.
func (db *DB) GetDocAIJob(ctx context.Context, id string) (*models.DocAIJob, error) {
	var j models.DocAIJob
	err := db.GetContext(ctx, &j, `SELECT * FROM doc_ai_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, notFound("doc ai job", err)
	}
	return &j, nil
}

// UpdateDocAIJob saves an AI job's status and result.
func (db *DB) UpdateDocAIJob(ctx context.Context, j *models.DocAIJob) error {
	result := []byte("null")
	if len(j.Result) > 0 && json.Valid(j.Result) {
		result = j.Result
	}
	query := `
		UPDATE doc_ai_jobs
		SET status = $2, result = $3, model_used = $4, error_message = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	return db.QueryRowContext(ctx, query,
		j.ID, j.Status, result, j.ModelUsed, j.ErrorMessage,
	).Scan(&j.UpdatedAt)
}

// --- Print Document Operations ---

// CreatePrintDocument inserts an uploaded print document.
func (db *DB) CreatePrintDocument(ctx context.Context, d *models.PrintDocument) error {
	query := `
		INSERT INTO print_documents (user_id, original_name, storage_key, page_count, copies, color, quote)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return db.QueryRowContext(ctx, query,
		d.UserID, d.OriginalName, d.StorageKey, d.PageCount, d.Copies, d.Color, d.Quote,
	).Scan(&d.ID, &d.CreatedAt)
}

// GetPrintDocument retrieves a print document owned by a user.
func (db *DB) GetPrintDocument(ctx context.Context, id, userID string) (*models.PrintDocument, error) {
	var d models.PrintDocument
	err := db.GetContext(ctx, &d, `SELECT * FROM print_documents WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return nil, notFound("print document", err)
	}
	return &d, nil
}
