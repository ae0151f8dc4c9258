package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dropaccess/internal/model"

	"github.com/google/uuid"
)

// SubscriptionRepository defines methods for accessing subscription data.
type SubscriptionRepository interface {
	GetActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error)
	GetLatestByUserID(ctx context.Context, userID string) (*model.Subscription, error)
	GetByBillingSubscriptionID(ctx context.Context, billingSubscriptionID string) (*model.Subscription, error)
	// InsertIfAbsent stores a freshly created subscription. An existing row
	// with the same billing subscription ID always wins.
	InsertIfAbsent(ctx context.Context, sub *model.Subscription) (bool, error)
	// Upsert writes provider state keyed by billing subscription ID, unless the
	// stored row is newer: a later provider_updated_at, or the same one with a
	// higher provider_event_rank. It reports whether the row was written and
	// fills sub.ID on success.
	Upsert(ctx context.Context, sub *model.Subscription) (bool, error)
	// UpdateStatus writes back a provider response without advancing
	// provider_updated_at, so later webhooks still apply.
	UpdateStatus(ctx context.Context, sub *model.Subscription) error
}

type subscriptionRepo struct {
	db *sql.DB
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(db *sql.DB) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, plan, status, billing_customer_id, billing_subscription_id,
	current_period_start, current_period_end, cancel_at_period_end, provider_updated_at, created_at, updated_at`

func scanSubscription(row *sql.Row) (*model.Subscription, error) {
	var s model.Subscription
	var start, end sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.Plan, &s.Status, &s.BillingCustomerID, &s.BillingSubscriptionID,
		&start, &end, &s.CancelAtPeriodEnd, &s.ProviderUpdatedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if start.Valid {
		s.CurrentPeriodStart = &start.Time
	}
	if end.Valid {
		s.CurrentPeriodEnd = &end.Time
	}
	return &s, nil
}

// GetActiveByUserID returns the user's live (active or trialing) subscription, or nil.
func (r *subscriptionRepo) GetActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'trialing')
		ORDER BY provider_updated_at DESC
		LIMIT 1`
	s, err := scanSubscription(r.db.QueryRowContext(ctx, q, userID))
	if err != nil {
		return nil, fmt.Errorf("fetch active subscription for user %s: %w", userID, err)
	}
	return s, nil
}

// GetLatestByUserID returns the most recently updated subscription regardless of status.
func (r *subscriptionRepo) GetLatestByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY provider_updated_at DESC
		LIMIT 1`
	s, err := scanSubscription(r.db.QueryRowContext(ctx, q, userID))
	if err != nil {
		return nil, fmt.Errorf("fetch subscription for user %s: %w", userID, err)
	}
	return s, nil
}

func (r *subscriptionRepo) GetByBillingSubscriptionID(ctx context.Context, billingSubscriptionID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE billing_subscription_id = $1`
	s, err := scanSubscription(r.db.QueryRowContext(ctx, q, billingSubscriptionID))
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", billingSubscriptionID, err)
	}
	return s, nil
}

func (r *subscriptionRepo) InsertIfAbsent(ctx context.Context, sub *model.Subscription) (bool, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO subscriptions (id, user_id, plan, status, billing_customer_id, billing_subscription_id,
			current_period_start, current_period_end, cancel_at_period_end, provider_updated_at, provider_event_rank,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (billing_subscription_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, q, sub.ID, sub.UserID, sub.Plan, sub.Status, sub.BillingCustomerID,
		sub.BillingSubscriptionID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.ProviderUpdatedAt, sub.ProviderEventRank)
	if err != nil {
		return false, fmt.Errorf("insert subscription %s: %w", sub.BillingSubscriptionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert subscription %s: %w", sub.BillingSubscriptionID, err)
	}
	return n == 1, nil
}

func (r *subscriptionRepo) Upsert(ctx context.Context, sub *model.Subscription) (bool, error) {
	id := sub.ID
	if id == "" {
		id = uuid.NewString()
	}
	const q = `
		INSERT INTO subscriptions (id, user_id, plan, status, billing_customer_id, billing_subscription_id,
			current_period_start, current_period_end, cancel_at_period_end, provider_updated_at, provider_event_rank,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (billing_subscription_id) DO UPDATE
		SET plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			billing_customer_id = EXCLUDED.billing_customer_id,
			current_period_start = COALESCE(EXCLUDED.current_period_start, subscriptions.current_period_start),
			current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			provider_updated_at = EXCLUDED.provider_updated_at,
			provider_event_rank = EXCLUDED.provider_event_rank,
			updated_at = NOW()
		WHERE (subscriptions.provider_updated_at, subscriptions.provider_event_rank)
			<= (EXCLUDED.provider_updated_at, EXCLUDED.provider_event_rank)
		RETURNING id
	`
	var storedID string
	err := r.db.QueryRowContext(ctx, q, id, sub.UserID, sub.Plan, sub.Status, sub.BillingCustomerID,
		sub.BillingSubscriptionID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.ProviderUpdatedAt, sub.ProviderEventRank).
		Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// the stored row is newer than this write
			return false, nil
		}
		return false, fmt.Errorf("upsert subscription %s: %w", sub.BillingSubscriptionID, err)
	}
	sub.ID = storedID
	return true, nil
}

func (r *subscriptionRepo) UpdateStatus(ctx context.Context, sub *model.Subscription) error {
	const q = `
		UPDATE subscriptions
		SET status = $2,
			cancel_at_period_end = $3,
			current_period_end = COALESCE($4, current_period_end),
			updated_at = NOW()
		WHERE billing_subscription_id = $1
	`
	res, err := r.db.ExecContext(ctx, q, sub.BillingSubscriptionID, sub.Status, sub.CancelAtPeriodEnd, sub.CurrentPeriodEnd)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", sub.BillingSubscriptionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update subscription %s: %w", sub.BillingSubscriptionID, ErrNotFound)
	}
	return nil
}
