package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the state of a pending payment. Transitions are
// monotonic: Created moves to Success or Failed exactly once.
type PaymentStatus string

const (
	PaymentCreated PaymentStatus = "Created"
	PaymentSuccess PaymentStatus = "Success"
	PaymentFailed  PaymentStatus = "Failed"
)

// ProviderPhonePe tags orders paid through PhonePe.
const ProviderPhonePe = "phonepe"

// OrderItem is one line of an order.
type OrderItem struct {
	Name            string          `json:"name" binding:"required"`
	Quantity        int             `json:"quantity" binding:"required,min=1"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	PrintDocumentID *string         `json:"print_document_id,omitempty"`
}

// OrderItems is stored as JSONB.
type OrderItems []OrderItem

// Value implements driver.Valuer.
func (o OrderItems) Value() (driver.Value, error) {
	if o == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(o)
}

// Scan implements sql.Scanner.
func (o *OrderItems) Scan(src interface{}) error {
	return scanJSON(src, o)
}

// Address is a delivery address, stored as JSONB.
type Address struct {
	Name       string `json:"name" binding:"required"`
	Phone      string `json:"phone" binding:"required"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state" binding:"required"`
	PostalCode string `json:"postal_code" binding:"required"`
}

// Value implements driver.Valuer.
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Address) Scan(src interface{}) error {
	return scanJSON(src, a)
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("unsupported JSON column type")
	}
}

// PendingPayment is created before redirecting the user to the gateway
// and reconciled when the gateway calls back.
type PendingPayment struct {
	ID            string          `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Items         OrderItems      `json:"items" db:"items"`
	Address       Address         `json:"address" db:"address"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Status        PaymentStatus   `json:"status" db:"status"`
	FailureReason string          `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Order is the finalized record written on a successful callback.
type Order struct {
	ID                    string          `json:"id" db:"id"`
	TransactionID         string          `json:"transaction_id" db:"transaction_id"`
	ProviderTransactionID string          `json:"provider_transaction_id" db:"provider_transaction_id"`
	Provider              string          `json:"provider" db:"provider"`
	UserID                string          `json:"user_id" db:"user_id"`
	Items                 OrderItems      `json:"items" db:"items"`
	Address               Address         `json:"address" db:"address"`
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
}

// NewOrderFromPending copies a pending payment into an order.
func NewOrderFromPending(p *PendingPayment, provider, providerTxnID string) *Order {
	return &Order{
		TransactionID:         p.TransactionID,
		ProviderTransactionID: providerTxnID,
		Provider:              provider,
		UserID:                p.UserID,
		Items:                 p.Items,
		Address:               p.Address,
		Amount:                p.Amount,
	}
}

// CreatePaymentRequest is the JSON body for POST /api/v1/payments.
type CreatePaymentRequest struct {
	Items   []OrderItem     `json:"items" binding:"required,min=1,dive"`
	Address Address         `json:"address" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

// CreatePaymentResponse tells the client where to send the user.
type CreatePaymentResponse struct {
	TransactionID string          `json:"transaction_id"`
	RedirectURL   string          `json:"redirect_url"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PaymentStatus   `json:"status"`
}

// PaymentStatusResponse is returned by GET /api/v1/payments/:txnId.
type PaymentStatusResponse struct {
	Payment PendingPayment `json:"payment"`
	Order   *Order         `json:"order,omitempty"`
}
