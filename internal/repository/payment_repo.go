package repository

import (
	"context"
	"database/sql"
	"fmt"

	"dropaccess/internal/model"

	"github.com/google/uuid"
)

// PaymentRepository is the append-only payment ledger.
type PaymentRepository interface {
	// Append records a payment attempt. Redelivery of a billing payment ID is
	// absorbed by the unique key and reported as inserted == false.
	Append(ctx context.Context, tx *model.PaymentTransaction) (bool, error)
	ListByUserID(ctx context.Context, userID string, limit int) ([]model.PaymentTransaction, error)
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepository {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) Append(ctx context.Context, tx *model.PaymentTransaction) (bool, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO payment_transactions (id, user_id, subscription_id, billing_payment_id, amount_cents,
			currency, status, transaction_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (billing_payment_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, q, tx.ID, tx.UserID, tx.SubscriptionID, tx.BillingPaymentID,
		tx.AmountCents, tx.Currency, tx.Status, tx.TransactionType)
	if err != nil {
		return false, fmt.Errorf("append payment %s: %w", tx.BillingPaymentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append payment %s: %w", tx.BillingPaymentID, err)
	}
	return n == 1, nil
}

func (r *paymentRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]model.PaymentTransaction, error) {
	const q = `
		SELECT id, user_id, subscription_id, billing_payment_id, amount_cents, currency, status, transaction_type, created_at
		FROM payment_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []model.PaymentTransaction
	for rows.Next() {
		var p model.PaymentTransaction
		var subID sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &subID, &p.BillingPaymentID, &p.AmountCents,
			&p.Currency, &p.Status, &p.TransactionType, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment for user %s: %w", userID, err)
		}
		if subID.Valid {
			p.SubscriptionID = &subID.String
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list payments for user %s: %w", userID, err)
	}
	return out, nil
}
