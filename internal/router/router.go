// Package router sets up all HTTP routes for the API.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/handlers"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/middleware"
)

// Setup creates and configures the Gin router with all routes.
func Setup(h *handlers.Handler, limiter *middleware.RateLimiter, allowedOrigins []string) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.CORS(allowedOrigins))

	// --- Public routes ---
	r.GET("/api/v1/health", h.HealthCheck)

	auth := r.Group("/api/v1/auth")
	auth.Use(limiter.RateLimit())
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
	}

	// Called by the payment gateway and the user's browser; the callback
	// authenticates itself with X-VERIFY.
	r.POST("/api/v1/payments/callback", h.PaymentCallback)
	r.GET("/api/v1/payments/:txn/return", h.PaymentReturn)
	r.POST("/api/v1/payments/:txn/return", h.PaymentReturn)

	// --- JWT-protected routes ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth(h.DB, h.JWTSecret))
	protected.Use(limiter.RateLimit())
	{
		protected.GET("/auth/me", h.GetMe)
		protected.POST("/auth/refresh", h.RefreshToken)

		// PDF tools
		protected.POST("/pdf/render", h.RenderPDF)
		protected.POST("/pdf/merge", h.MergePDF)
		protected.POST("/pdf/compress", h.CompressPDF)
		protected.POST("/pdf/extract", h.ExtractPDF)
		protected.GET("/pdf/extractions", h.ListPDFExtractions)
		protected.GET("/pdf/extractions/:id", h.GetPDFExtraction)

		// Document AI
		protected.POST("/ai/jobs", h.CreateDocAIJob)
		protected.GET("/ai/jobs/:id", h.GetDocAIJob)

		// Print & delivery
		protected.POST("/print/documents", h.UploadPrintDocument)
		protected.GET("/print/documents/:id", h.GetPrintDocument)

		// Payments and orders
		protected.POST("/payments", h.CreatePayment)
		protected.GET("/payments/:txn", h.GetPayment)
		protected.POST("/payments/:txn/refresh", h.RefreshPayment)
		protected.GET("/orders", h.ListOrders)

		// Webhooks
		protected.POST("/webhooks", h.CreateWebhook)
		protected.GET("/webhooks", h.ListWebhooks)
		protected.GET("/webhooks/deliveries", h.ListWebhookDeliveries)
		protected.PATCH("/webhooks/:id", h.UpdateWebhook)
		protected.DELETE("/webhooks/:id", h.DeleteWebhook)
	}

	return r
}
