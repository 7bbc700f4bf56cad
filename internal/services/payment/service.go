// Package payment reconciles orders with the payment gateway.
//
// The flow is: CreateIntent persists a pending payment and asks the gateway
// for a pay page; the gateway later calls back (HandleCallback) or is polled
// (Refresh); both end in reconcile, which moves the pending payment out of
// Created at most once and writes at most one order.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/database"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
	"github.com/Shimizu-Technology/pdf-desk-api/internal/services/phonepe"
)

var (
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrInvalidOrder    = errors.New("invalid order")
	ErrInvalidChecksum = errors.New("callback checksum verification failed")
	ErrNotFound        = errors.New("payment not found")
	ErrGateway         = errors.New("payment gateway error")
)

// Store persists pending payments and orders. *database.DB satisfies it.
type Store interface {
	CreatePendingPayment(ctx context.Context, p *models.PendingPayment) error
	GetPendingPayment(ctx context.Context, transactionID string) (*models.PendingPayment, error)
	FinalizePayment(ctx context.Context, order *models.Order) (bool, error)
	FailPayment(ctx context.Context, transactionID, reason string) (bool, error)
	GetOrderByTransaction(ctx context.Context, transactionID string) (*models.Order, error)
}

// Gateway is the payment provider. *phonepe.Client satisfies it.
type Gateway interface {
	Pay(ctx context.Context, in phonepe.PayRequest) (*phonepe.PayResponse, error)
	Status(ctx context.Context, merchantTransactionID string) (*phonepe.TransactionStatus, error)
	VerifyCallback(body []byte, xVerify string) (*phonepe.TransactionStatus, error)
}

// Notifier receives order and payment events. *webhook.Service satisfies it.
type Notifier interface {
	NotifyEvent(ctx context.Context, userID, event string, data interface{})
}

// Service runs payment intents and reconciliation.
type Service struct {
	store         Store
	gateway       Gateway
	notifier      Notifier
	publicBaseURL string
}

// New creates a payment service. notifier may be nil.
func New(store Store, gateway Gateway, notifier Notifier, publicBaseURL string) *Service {
	return &Service{
		store:         store,
		gateway:       gateway,
		notifier:      notifier,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Outcome is the result of reconciling one gateway status.
type Outcome struct {
	TransactionID string               `json:"transaction_id"`
	Code          string               `json:"code"`
	Status        models.PaymentStatus `json:"status"`
	Order         *models.Order        `json:"order,omitempty"`
	// Duplicate is set when the payment had already been reconciled and
	// nothing was written.
	Duplicate bool `json:"duplicate"`
}

// NewTransactionID returns a merchant transaction id: "T" followed by a
// compact UUID, 33 characters in all.
func NewTransactionID() string {
	return "T" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// PositiveAmount reports whether amount is at least one paisa once rounded
// to the gateway's minor units.
func PositiveAmount(amount decimal.Decimal) bool {
	return phonepe.ToPaise(amount) > 0
}

// CreateIntent validates an order, records it as a pending payment and
// returns the gateway page the user must be redirected to.
func (s *Service) CreateIntent(ctx context.Context, userID string, req models.CreatePaymentRequest) (*models.CreatePaymentResponse, error) {
	if !PositiveAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}
	if err := validateOrder(req); err != nil {
		return nil, err
	}

	pending := &models.PendingPayment{
		TransactionID: NewTransactionID(),
		UserID:        userID,
		Items:         req.Items,
		Address:       req.Address,
		Amount:        req.Amount.Round(2),
		Status:        models.PaymentCreated,
	}
	if err := s.store.CreatePendingPayment(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to save pending payment: %w", err)
	}

	resp, err := s.gateway.Pay(ctx, phonepe.PayRequest{
		MerchantTransactionID: pending.TransactionID,
		MerchantUserID:        strings.ReplaceAll(userID, "-", ""),
		Amount:                phonepe.ToPaise(pending.Amount),
		RedirectURL:           s.publicBaseURL + "/api/v1/payments/" + pending.TransactionID + "/return",
		CallbackURL:           s.publicBaseURL + "/api/v1/payments/callback",
		MobileNumber:          req.Address.Phone,
	})
	if err != nil {
		if _, failErr := s.store.FailPayment(ctx, pending.TransactionID, err.Error()); failErr != nil {
			log.Printf("⚠️  Failed to mark payment %s failed: %v", pending.TransactionID, failErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	log.Printf("💳 Payment %s created for user %s (%s)", pending.TransactionID, userID, pending.Amount.StringFixed(2))
	return &models.CreatePaymentResponse{
		TransactionID: pending.TransactionID,
		RedirectURL:   resp.RedirectURL,
		Amount:        pending.Amount,
		Status:        pending.Status,
	}, nil
}

// validateOrder checks the items and address and that the amount equals
// the sum of the line totals.
func validateOrder(req models.CreatePaymentRequest) error {
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(req.Address.Line1) == "" || strings.TrimSpace(req.Address.PostalCode) == "" {
		return fmt.Errorf("%w: delivery address is incomplete", ErrInvalidOrder)
	}

	total := decimal.Zero
	for _, item := range req.Items {
		if item.Quantity < 1 || item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item %q has an invalid quantity or price", ErrInvalidOrder, item.Name)
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if !total.Round(2).Equal(req.Amount.Round(2)) {
		return fmt.Errorf("%w: amount %s does not match item total %s",
			ErrInvalidOrder, req.Amount.StringFixed(2), total.StringFixed(2))
	}
	return nil
}

// HandleCallback verifies a gateway callback and reconciles the payment it
// reports. A callback that fails verification changes nothing.
func (s *Service) HandleCallback(ctx context.Context, body []byte, xVerify string) (*Outcome, error) {
	status, err := s.gateway.VerifyCallback(body, xVerify)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
	}
	return s.reconcile(ctx, status)
}

// Refresh polls the gateway for a payment that is still Created, for when
// the callback never arrived. Payments already reconciled are returned
// without contacting the gateway.
func (s *Service) Refresh(ctx context.Context, userID, transactionID string) (*Outcome, error) {
	pending, err := s.lookup(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if pending.UserID != userID {
		return nil, ErrNotFound
	}
	if pending.Status != models.PaymentCreated {
		return s.settled(ctx, pending, "")
	}

	status, err := s.gateway.Status(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if status.Data.MerchantTransactionID == "" {
		status.Data.MerchantTransactionID = transactionID
	}
	if status.Data.MerchantTransactionID != transactionID {
		return nil, fmt.Errorf("%w: status returned for %s", ErrGateway, status.Data.MerchantTransactionID)
	}
	return s.reconcile(ctx, status)
}

// Get returns a user's pending payment and, once paid, its order.
func (s *Service) Get(ctx context.Context, userID, transactionID string) (*models.PaymentStatusResponse, error) {
	pending, err := s.lookup(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if pending.UserID != userID {
		return nil, ErrNotFound
	}

	resp := &models.PaymentStatusResponse{Payment: *pending}
	if pending.Status == models.PaymentSuccess {
		order, err := s.store.GetOrderByTransaction(ctx, transactionID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		resp.Order = order
	}
	return resp, nil
}

func (s *Service) reconcile(ctx context.Context, status *phonepe.TransactionStatus) (*Outcome, error) {
	txnID := status.Data.MerchantTransactionID
	pending, err := s.lookup(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if pending.Status != models.PaymentCreated {
		return s.settled(ctx, pending, status.Code)
	}

	switch status.Code {
	case phonepe.CodeSuccess:
		if status.Data.Amount != 0 && status.Data.Amount != phonepe.ToPaise(pending.Amount) {
			reason := fmt.Sprintf("amount mismatch: gateway reported %d paise, expected %d",
				status.Data.Amount, phonepe.ToPaise(pending.Amount))
			return s.fail(ctx, pending, status.Code, reason)
		}

		order := models.NewOrderFromPending(pending, models.ProviderPhonePe, status.Data.TransactionID)
		created, err := s.store.FinalizePayment(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("failed to finalize payment %s: %w", txnID, err)
		}
		if !created {
			return s.reload(ctx, txnID, status.Code)
		}

		log.Printf("✅ Payment %s succeeded; order %s created", txnID, order.ID)
		s.notify(ctx, pending.UserID, models.EventOrderCompleted, order)
		return &Outcome{TransactionID: txnID, Code: status.Code, Status: models.PaymentSuccess, Order: order}, nil

	case phonepe.CodePending:
		return &Outcome{TransactionID: txnID, Code: status.Code, Status: models.PaymentCreated}, nil

	default:
		reason := status.Message
		if reason == "" {
			reason = status.Code
		}
		return s.fail(ctx, pending, status.Code, reason)
	}
}

func (s *Service) fail(ctx context.Context, pending *models.PendingPayment, code, reason string) (*Outcome, error) {
	changed, err := s.store.FailPayment(ctx, pending.TransactionID, reason)
	if err != nil {
		return nil, err
	}
	if !changed {
		return s.reload(ctx, pending.TransactionID, code)
	}

	log.Printf("❌ Payment %s failed: %s", pending.TransactionID, reason)
	s.notify(ctx, pending.UserID, models.EventPaymentFailed, map[string]string{
		"transaction_id": pending.TransactionID,
		"code":           code,
		"reason":         reason,
	})
	return &Outcome{TransactionID: pending.TransactionID, Code: code, Status: models.PaymentFailed}, nil
}

// reload re-reads a payment another request reconciled first.
func (s *Service) reload(ctx context.Context, txnID, code string) (*Outcome, error) {
	pending, err := s.lookup(ctx, txnID)
	if err != nil {
		return nil, err
	}
	return s.settled(ctx, pending, code)
}

// settled describes a payment that was already out of Created.
func (s *Service) settled(ctx context.Context, pending *models.PendingPayment, code string) (*Outcome, error) {
	out := &Outcome{
		TransactionID: pending.TransactionID,
		Code:          code,
		Status:        pending.Status,
		Duplicate:     true,
	}
	if pending.Status == models.PaymentSuccess {
		order, err := s.store.GetOrderByTransaction(ctx, pending.TransactionID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		out.Order = order
	}
	log.Printf("ℹ️  Payment %s already %s; ignoring redelivery", pending.TransactionID, pending.Status)
	return out, nil
}

func (s *Service) lookup(ctx context.Context, txnID string) (*models.PendingPayment, error) {
	pending, err := s.store.GetPendingPayment(ctx, txnID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, txnID)
	}
	if err != nil {
		return nil, err
	}
	return pending, nil
}

func (s *Service) notify(ctx context.Context, userID, event string, data interface{}) {
	if s.notifier != nil {
		s.notifier.NotifyEvent(ctx, userID, event, data)
	}
}
