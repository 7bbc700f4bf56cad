// Package handlers contains HTTP handler functions for the API.
//
// Go Pattern: Handlers in Gin receive a *gin.Context which provides request
// data (params, query, body, headers) and response methods. Related
// handlers hang off one Handler struct that holds shared dependencies, so
// tests can build a Handler with only the pieces a route touches.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/database"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/payment"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/printing"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/render"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/storage"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/worker"
)

// Version is reported by the health check.
const Version = "1.0.0"

// Handler holds shared dependencies for all HTTP handlers.
type Handler struct {
	DB          *database.DB
	Worker      *worker.Pool
	Rasterizer  *render.Rasterizer
	Payments    *payment.Service
	Storage     *storage.S3 // nil when object storage is not configured
	Pricing     printing.Pricing
	JWTSecret   string
	FrontendURL string
}

// HealthCheck returns the API health status.
// GET /api/v1/health
func (h *Handler) HealthCheck(c *gin.Context) {
	dbStatus := "healthy"
	if err := h.DB.HealthCheck(c.Request.Context()); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	c.JSON(http.StatusOK, models.HealthResponse{
		Status:   "ok",
		Version:  Version,
		Database: dbStatus,
		Workers:  h.Worker.WorkerCount(),
		Queue:    h.Worker.QueueSize(),
	})
}

// respondError writes the standard error body.
func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Error:   code,
		Message: message,
		Code:    status,
	})
}
