// webhooks.go handles webhook registration for the signed-in user.
package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/database"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/middleware"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
	webhookservice "github.com/Shimizu-Technology/pdf-desk-api/internal/services/webhook"
)

// CreateWebhook registers a new webhook endpoint.
// POST /api/v1/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	user := middleware.GetUser(c)

	var req models.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "URL and at least one event are required")
		return
	}

	for _, event := range req.Events {
		if !models.ValidWebhookEvents[event] {
			respondError(c, http.StatusBadRequest, "invalid_event", "Invalid event type: "+event)
			return
		}
	}

	secret, err := webhookservice.GenerateSecret()
	if err != nil {
		log.Printf("❌ Failed to generate webhook secret: %v", err)
		respondError(c, http.StatusInternalServerError, "generation_error", "Failed to generate webhook secret")
		return
	}

	wh := &models.Webhook{
		UserID: user.ID,
		URL:    req.URL,
		Events: req.Events,
		Secret: secret,
		Active: true,
	}
	if err := h.DB.CreateWebhook(c.Request.Context(), wh); err != nil {
		log.Printf("❌ Failed to create webhook: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to create webhook")
		return
	}

	// The secret is only returned here.
	c.JSON(http.StatusCreated, wh)
}

// ListWebhooks returns the user's webhooks without their secrets.
// GET /api/v1/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	user := middleware.GetUser(c)

	webhooks, err := h.DB.ListWebhooksByUser(c.Request.Context(), user.ID)
	if err != nil {
		log.Printf("❌ Failed to list webhooks: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to list webhooks")
		return
	}
	if webhooks == nil {
		webhooks = []models.Webhook{}
	}
	for i := range webhooks {
		webhooks[i].Secret = ""
	}

	c.JSON(http.StatusOK, webhooks)
}

// UpdateWebhook toggles a webhook's active state.
// PATCH /api/v1/webhooks/:id
func (h *Handler) UpdateWebhook(c *gin.Context) {
	user := middleware.GetUser(c)

	var req models.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "active field is required (true/false)")
		return
	}

	err := h.DB.UpdateWebhookActive(c.Request.Context(), c.Param("id"), user.ID, *req.Active)
	if err != nil {
		respondWebhookError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Webhook updated", "active": *req.Active})
}

// DeleteWebhook removes a webhook.
// DELETE /api/v1/webhooks/:id
func (h *Handler) DeleteWebhook(c *gin.Context) {
	user := middleware.GetUser(c)

	if err := h.DB.DeleteWebhook(c.Request.Context(), c.Param("id"), user.ID); err != nil {
		respondWebhookError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Webhook deleted"})
}

// ListWebhookDeliveries returns recent delivery attempts across the user's webhooks.
// GET /api/v1/webhooks/deliveries
func (h *Handler) ListWebhookDeliveries(c *gin.Context) {
	user := middleware.GetUser(c)

	deliveries, err := h.DB.ListDeliveriesByUser(c.Request.Context(), user.ID, 50)
	if err != nil {
		log.Printf("❌ Failed to list deliveries: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []models.WebhookDelivery{}
	}

	c.JSON(http.StatusOK, deliveries)
}

func respondWebhookError(c *gin.Context, err error) {
	if errors.Is(err, database.ErrNotFound) {
		respondError(c, http.StatusNotFound, "not_found", "Webhook not found")
		return
	}
	log.Printf("❌ Webhook update failed: %v", err)
	respondError(c, http.StatusInternalServerError, "database_error", "Failed to update webhook")
}
