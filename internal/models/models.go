// Package models defines the data structures used throughout the application.
//
// Go Pattern: Models are plain structs with JSON tags for serialization.
// The `db` tags work with sqlx for database column mapping; the database
// package handles persistence.
package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus represents the processing state of an asynchronous job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// User is an account that can use the tools and place orders.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Name         string    `json:"name" db:"name"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// PDFExtraction is a stored text extraction result.
type PDFExtraction struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	OriginalName string    `json:"original_name" db:"original_name"`
	PageCount    int       `json:"page_count" db:"page_count"`
	TextContent  string    `json:"text_content" db:"text_content"`
	WordCount    int       `json:"word_count" db:"word_count"`
	Status       JobStatus `json:"status" db:"status"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// DocAITask selects what the AI job does with a document.
type DocAITask string

const (
	TaskExtractTables DocAITask = "tables"
	TaskOCRCleanup    DocAITask = "ocr"
)

// DocAIJob is an asynchronous AI job over a document's text.
type DocAIJob struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Task         DocAITask       `json:"task" db:"task"`
	OriginalName string          `json:"original_name" db:"original_name"`
	SourceText   string          `json:"-" db:"source_text"`
	Status       JobStatus       `json:"status" db:"status"`
	Result       json.RawMessage `json:"result,omitempty" db:"result"` // JSONB
	ModelUsed    string          `json:"model_used,omitempty" db:"model_used"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// PrintDocument is a PDF uploaded for print & delivery.
type PrintDocument struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	OriginalName string          `json:"original_name" db:"original_name"`
	StorageKey   string          `json:"storage_key" db:"storage_key"`
	PageCount    int             `json:"page_count" db:"page_count"`
	Copies       int             `json:"copies" db:"copies"`
	Color        bool            `json:"color" db:"color"`
	Quote        decimal.Decimal `json:"quote" db:"quote"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// --- Webhooks ---

// Webhook event names.
const (
	EventOrderCompleted = "order.completed"
	EventPaymentFailed  = "payment.failed"
	EventDocAICompleted = "docai.completed"
	EventDocAIFailed    = "docai.failed"
)

// ValidWebhookEvents lists the events a webhook may subscribe to.
var ValidWebhookEvents = map[string]bool{
	EventOrderCompleted: true,
	EventPaymentFailed:  true,
	EventDocAICompleted: true,
	EventDocAIFailed:    true,
}

// Webhook is a user-registered notification endpoint.
type Webhook struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	URL       string    `json:"url" db:"url"`
	Events    []string  `json:"events" db:"events"`
	Secret    string    `json:"secret,omitempty" db:"secret"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WebhookDelivery records one notification and its delivery attempts.
type WebhookDelivery struct {
	ID           string     `json:"id" db:"id"`
	WebhookID    string     `json:"webhook_id" db:"webhook_id"`
	Event        string     `json:"event" db:"event"`
	Payload      string     `json:"payload" db:"payload"`
	Status       string     `json:"status" db:"status"` // pending, success, failed
	Attempts     int        `json:"attempts" db:"attempts"`
	LastError    string     `json:"last_error,omitempty" db:"last_error"`
	ResponseCode int        `json:"response_code,omitempty" db:"response_code"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// WebhookPayload is the JSON body sent to webhook endpoints.
type WebhookPayload struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// --- Request/Response DTOs ---

// RegisterRequest is the JSON body for POST /api/v1/auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

// LoginRequest is the JSON body for POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse carries a fresh token and the user it belongs to.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// RenderedPageResponse is one rasterized page in the render response.
type RenderedPageResponse struct {
	Page        int    `json:"page"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"` // base64
}

// RenderResponse is returned by POST /api/v1/pdf/render.
type RenderResponse struct {
	PageCount    int                    `json:"page_count"`
	SkippedPages []int                  `json:"skipped_pages"`
	Scale        float64                `json:"scale"`
	Pages        []RenderedPageResponse `json:"pages"`
}

// CreateWebhookRequest is the JSON body for POST /api/v1/webhooks.
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required,url"`
	Events []string `json:"events" binding:"required,min=1"`
}

// UpdateWebhookRequest is the JSON body for PATCH /api/v1/webhooks/:id.
type UpdateWebhookRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// ErrorResponse is a standard error format for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	Workers  int    `json:"workers"`
	Queue    int    `json:"queue"`
}
