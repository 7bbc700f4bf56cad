// payments.go handles checkout, the gateway callback and order history.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/database"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/middleware"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/payment"
)

// maxCallbackBody bounds the gateway callback body.
const maxCallbackBody = 64 << 10

// CreatePayment validates a checkout and starts a gateway payment.
// POST /api/v1/payments
//
// Items referencing an uploaded print document must carry that document's
// quoted price; the client cannot set its own print price.
func (h *Handler) CreatePayment(c *gin.Context) {
	user := middleware.GetUser(c)

	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request",
			"Items, a delivery address and an amount are required: "+err.Error())
		return
	}
	if !payment.PositiveAmount(req.Amount) {
		respondError(c, http.StatusBadRequest, "invalid_amount", payment.ErrInvalidAmount.Error())
		return
	}

	for _, item := range req.Items {
		if item.PrintDocumentID == nil {
			continue
		}
		doc, err := h.DB.GetPrintDocument(c.Request.Context(), *item.PrintDocumentID, user.ID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				respondError(c, http.StatusBadRequest, "invalid_order",
					fmt.Sprintf("Print document %s not found", *item.PrintDocumentID))
				return
			}
			log.Printf("❌ Failed to load print document: %v", err)
			respondError(c, http.StatusInternalServerError, "database_error", "Failed to load print document")
			return
		}
		if !priceMatches(item.UnitPrice, doc.Quote) {
			respondError(c, http.StatusBadRequest, "invalid_order",
				fmt.Sprintf("Price for print document %s must be %s", doc.ID, doc.Quote.StringFixed(2)))
			return
		}
	}

	resp, err := h.Payments.CreateIntent(c.Request.Context(), user.ID, req)
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func priceMatches(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}

// PaymentCallback receives the gateway's server-to-server notification.
// POST /api/v1/payments/callback
//
// The body is verified against X-VERIFY before anything is read from it.
// Redeliveries of an already reconciled payment answer 200 without writing.
func (h *Handler) PaymentCallback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Failed to read callback body")
		return
	}

	outcome, err := h.Payments.HandleCallback(c.Request.Context(), body, c.GetHeader("X-VERIFY"))
	if err != nil {
		log.Printf("⚠️  Payment callback rejected: %v", err)
		respondPaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// GetPayment returns one of the user's payments and its order once paid.
// GET /api/v1/payments/:txn
func (h *Handler) GetPayment(c *gin.Context) {
	user := middleware.GetUser(c)

	resp, err := h.Payments.Get(c.Request.Context(), user.ID, c.Param("txn"))
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RefreshPayment asks the gateway for the status of a payment whose
// callback has not arrived.
// POST /api/v1/payments/:txn/refresh
func (h *Handler) RefreshPayment(c *gin.Context) {
	user := middleware.GetUser(c)

	outcome, err := h.Payments.Refresh(c.Request.Context(), user.ID, c.Param("txn"))
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// PaymentReturn is where the gateway sends the user's browser after the pay
// page. It only redirects; state changes happen in the callback.
// GET|POST /api/v1/payments/:txn/return
func (h *Handler) PaymentReturn(c *gin.Context) {
	target := strings.TrimRight(h.FrontendURL, "/") + "/payment/status?txn=" + url.QueryEscape(c.Param("txn"))
	c.Redirect(http.StatusFound, target)
}

// ListOrders returns the user's completed orders, newest first.
// GET /api/v1/orders
func (h *Handler) ListOrders(c *gin.Context) {
	user := middleware.GetUser(c)

	orders, err := h.DB.ListOrdersByUser(c.Request.Context(), user.ID, 50)
	if err != nil {
		log.Printf("❌ Failed to list orders: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to list orders")
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	c.JSON(http.StatusOK, orders)
}

func respondPaymentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidAmount):
		respondError(c, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, payment.ErrInvalidOrder):
		respondError(c, http.StatusBadRequest, "invalid_order", err.Error())
	case errors.Is(err, payment.ErrInvalidChecksum):
		respondError(c, http.StatusBadRequest, "invalid_checksum", "Callback verification failed")
	case errors.Is(err, payment.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", "Payment not found")
	case errors.Is(err, payment.ErrGateway):
		log.Printf("❌ Payment gateway error: %v", err)
		respondError(c, http.StatusBadGateway, "gateway_error", "The payment gateway could not be reached")
	default:
		log.Printf("❌ Payment error: %v", err)
		respondError(c, http.StatusInternalServerError, "internal_error", "Payment processing failed")
	}
}
