// payments.go holds pending payment and order persistence.
//
// Reconciliation writes go through conditional updates so that a gateway
// callback delivered twice cannot move a payment out of a terminal state
// or create a second order.
package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/models"
)

// CreatePendingPayment inserts a new pending payment in the Created state.
func (db *DB) CreatePendingPayment(ctx context.Context, p *models.PendingPayment) error {
	query := `
		INSERT INTO pending_payments (transaction_id, user_id, items, address, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	if p.Status == "" {
		p.Status = models.PaymentCreated
	}
	return db.QueryRowContext(ctx, query,
		p.TransactionID, p.UserID, p.Items, p.Address, p.Amount, p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// GetPendingPayment retrieves a pending payment by its merchant transaction id.
func (db *DB) GetPendingPayment(ctx context.Context, transactionID string) (*models.PendingPayment, error) {
	var p models.PendingPayment
	err := db.GetContext(ctx, &p, `SELECT * FROM pending_payments WHERE transaction_id = $1`, transactionID)
	if err != nil {
		return nil, notFound("pending payment", err)
	}
	return &p, nil
}

// FinalizePayment moves a Created payment to Success and writes its order
// in one transaction. It reports false when the payment had already left
// the Created state or the order already existed; neither is an error.
func (db *DB) FinalizePayment(ctx context.Context, order *models.Order) (bool, error) {
	created := false
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE pending_payments SET status = $2, updated_at = NOW()
			 WHERE transaction_id = $1 AND status = $3`,
			order.TransactionID, models.PaymentSuccess, models.PaymentCreated)
		if err != nil {
			return fmt.Errorf("failed to update pending payment: %w", err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return nil
		}

		rows, err := tx.QueryxContext(ctx, `
			INSERT INTO orders (transaction_id, provider_transaction_id, provider, user_id, items, address, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (transaction_id) DO NOTHING
			RETURNING id, created_at`,
			order.TransactionID, order.ProviderTransactionID, order.Provider,
			order.UserID, order.Items, order.Address, order.Amount)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		defer rows.Close()

		if rows.Next() {
			if err := rows.Scan(&order.ID, &order.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan order: %w", err)
			}
			created = true
		}
		return rows.Err()
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// FailPayment moves a Created payment to Failed. It reports false when the
// payment was no longer Created.
func (db *DB) FailPayment(ctx context.Context, transactionID, reason string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE pending_payments SET status = $2, failure_reason = $3, updated_at = NOW()
		 WHERE transaction_id = $1 AND status = $4`,
		transactionID, models.PaymentFailed, reason, models.PaymentCreated)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// GetOrderByTransaction returns the order written for a transaction.
func (db *DB) GetOrderByTransaction(ctx context.Context, transactionID string) (*models.Order, error) {
	var o models.Order
	err := db.GetContext(ctx, &o, `SELECT * FROM orders WHERE transaction_id = $1`, transactionID)
	if err != nil {
		return nil, notFound("order", err)
	}
	return &o, nil
}

// ListOrdersByUser returns a user's most recent orders.
func (db *DB) ListOrdersByUser(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var orders []models.Order
	err := db.SelectContext(ctx, &orders,
		`SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}
