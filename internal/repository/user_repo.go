package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dropaccess/internal/model"
)

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByBillingCustomerID(ctx context.Context, customerID string) (*model.User, error)
	// SetBillingCustomerID links a customer only when none is stored yet and
	// reports whether this call made the link.
	SetBillingCustomerID(ctx context.Context, userID, customerID string) (bool, error)
	UpdateBillingProjection(ctx context.Context, userID string, p model.BillingProjection) error
}

type userRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `user_id, email, billing_customer_id, is_paid, subscription_status, subscription_tier, subscription_ends_at, created_at, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var customerID sql.NullString
	var endsAt sql.NullTime
	err := row.Scan(&u.UserID, &u.Email, &customerID, &u.IsPaid, &u.SubscriptionStatus,
		&u.SubscriptionTier, &endsAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if customerID.Valid {
		u.BillingCustomerID = &customerID.String
	}
	if endsAt.Valid {
		u.SubscriptionEndsAt = &endsAt.Time
	}
	return &u, nil
}

func (r *userRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM user_profiles WHERE user_id = $1`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return u, nil
}

func (r *userRepo) GetUserByBillingCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM user_profiles WHERE billing_customer_id = $1`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, customerID))
	if err != nil {
		return nil, fmt.Errorf("fetch user by billing customer %s: %w", customerID, err)
	}
	return u, nil
}

func (r *userRepo) SetBillingCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	const q = `
		UPDATE user_profiles
		SET billing_customer_id = $2, updated_at = NOW()
		WHERE user_id = $1 AND billing_customer_id IS NULL
	`
	res, err := r.db.ExecContext(ctx, q, userID, customerID)
	if err != nil {
		return false, fmt.Errorf("store billing customer id for user %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store billing customer id for user %s: %w", userID, err)
	}
	return n == 1, nil
}

func (r *userRepo) UpdateBillingProjection(ctx context.Context, userID string, p model.BillingProjection) error {
	const q = `
		UPDATE user_profiles
		SET subscription_status = $2,
			subscription_tier = $3,
			is_paid = $4,
			subscription_ends_at = $5,
			updated_at = NOW()
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, q, userID, p.Status, p.Tier, p.IsPaid(), p.EndsAt)
	if err != nil {
		return fmt.Errorf("update billing projection for user %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update billing projection for user %s: %w", userID, ErrNotFound)
	}
	return nil
}
