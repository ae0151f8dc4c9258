package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dropaccess/internal/analytics"
	"dropaccess/internal/billing"
	"dropaccess/internal/metrics"
	"dropaccess/internal/model"
	"dropaccess/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// BillingService handles user initiated billing operations.
type BillingService interface {
	RequestPaymentLink(ctx context.Context, req PaymentLinkRequest) (*PaymentLink, error)
	RequestBillingPortal(ctx context.Context, userID, returnURL string) (string, error)
	CancelSubscription(ctx context.Context, userID string, atPeriodEnd bool) (*model.Subscription, error)
	GetSubscription(ctx context.Context, userID string) (*SubscriptionView, error)
}

type PaymentLinkRequest struct {
	Plan      string `validate:"required"`
	UserID    string `validate:"required"`
	UserEmail string `validate:"required,email"`
}

type PaymentLink struct {
	URL            string
	SubscriptionID string
	Plan           model.Tier
	AmountCents    int64
	Currency       string
}

// SubscriptionView is the billing state of one user.
type SubscriptionView struct {
	User           *model.User
	Subscription   *model.Subscription
	RecentPayments []model.PaymentTransaction
}

const recentPaymentsLimit = 10

type billingService struct {
	users           repository.UserRepository
	subs            repository.SubscriptionRepository
	payments        repository.PaymentRepository
	provider        billing.Provider
	plans           *PlanCatalog
	events          analytics.Client
	metrics         *metrics.Metrics
	validate        *validator.Validate
	portalReturnURL string
	logger          zerolog.Logger
}

// NewBillingService creates a new BillingService with a scoped logger.
func NewBillingService(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	payments repository.PaymentRepository,
	provider billing.Provider,
	plans *PlanCatalog,
	events analytics.Client,
	m *metrics.Metrics,
	portalReturnURL string,
	logger zerolog.Logger,
) BillingService {
	if events == nil {
		events = analytics.NoopClient{}
	}
	return &billingService{
		users:           users,
		subs:            subs,
		payments:        payments,
		provider:        provider,
		plans:           plans,
		events:          events,
		metrics:         m,
		validate:        validator.New(),
		portalReturnURL: portalReturnURL,
		logger:          logger.With().Str("service", "BillingService").Logger(),
	}
}

// RequestPaymentLink opens a subscription for the chosen plan and returns the
// hosted invoice the user pays through. It never grants access itself; that
// happens when the provider confirms payment over the webhook.
func (s *billingService) RequestPaymentLink(ctx context.Context, req PaymentLinkRequest) (link *PaymentLink, err error) {
	const op = "request payment link"
	defer func() { s.metrics.BillingOperation("payment_link", outcomeOf(err)) }()

	if err := s.validate.Struct(req); err != nil {
		return nil, newError(KindValidation, op, err)
	}
	plan, err := s.plans.Lookup(req.Plan)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, req.UserID)
	if err != nil {
		return nil, newError(KindInternal, op, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, req.UserID)
	}

	active, err := s.subs.GetActiveByUserID(ctx, user.UserID)
	if err != nil {
		return nil, newError(KindInternal, op, err)
	}
	if active != nil || user.SubscriptionStatus == model.StatusActive {
		return nil, ErrAlreadySubscribed
	}

	customerID, err := s.ensureCustomer(ctx, user, req.UserEmail)
	if err != nil {
		return nil, err
	}

	sub, err := s.provider.CreateSubscription(ctx, billing.CreateSubscriptionParams{
		CustomerID: customerID,
		UserID:     user.UserID,
		Plan:       plan.Tier,
		PriceID:    plan.PriceID,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Str("plan", string(plan.Tier)).Msg("Failed to create subscription")
		return nil, upstream(op, err)
	}

	row := &model.Subscription{
		UserID:                user.UserID,
		Plan:                  plan.Tier,
		Status:                sub.Status,
		BillingCustomerID:     customerID,
		BillingSubscriptionID: sub.ID,
		CurrentPeriodStart:    sub.PeriodStart,
		CurrentPeriodEnd:      sub.PeriodEnd,
		ProviderUpdatedAt:     sub.CreatedAt,
		ProviderEventRank:     model.RankPaymentLink,
	}
	if row.Status == "" {
		row.Status = model.ProviderStatusIncomplete
	}
	if _, err := s.subs.InsertIfAbsent(ctx, row); err != nil {
		s.logger.Error().Err(err).Str("billing_subscription_id", sub.ID).Msg("Failed to store new subscription")
		return nil, newError(KindInternal, op, err)
	}

	amount := sub.AmountCents
	if amount == 0 {
		amount = plan.AmountCents
	}
	s.logger.Info().
		Str("user_id", user.UserID).
		Str("billing_subscription_id", sub.ID).
		Str("plan", string(plan.Tier)).
		Msg("Payment link created")
	s.track(ctx, user.UserID, analytics.EventPaymentLinkCreated, map[string]any{
		"plan":                    string(plan.Tier),
		"billing_subscription_id": sub.ID,
		"amount_cents":            amount,
	})

	return &PaymentLink{
		URL:            sub.PaymentLink,
		SubscriptionID: sub.ID,
		Plan:           plan.Tier,
		AmountCents:    amount,
		Currency:       sub.Currency,
	}, nil
}

// ensureCustomer returns the user's billing customer, creating one if needed.
// A customer created earlier whose ID was never stored is found again by
// email, or returned again by the provider through the idempotency key.
func (s *billingService) ensureCustomer(ctx context.Context, user *model.User, email string) (string, error) {
	const op = "ensure billing customer"
	if user.HasBillingAccount() {
		return *user.BillingCustomerID, nil
	}

	cust, err := s.provider.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", upstream(op, err)
	}
	if cust != nil && cust.UserID != "" && cust.UserID != user.UserID {
		s.logger.Warn().Str("user_id", user.UserID).Str("billing_customer_id", cust.ID).Msg("Customer with this email belongs to another user, creating a new one")
		cust = nil
	}
	if cust != nil {
		s.logger.Info().Str("user_id", user.UserID).Str("billing_customer_id", cust.ID).Msg("Adopting existing billing customer")
	} else {
		cust, err = s.provider.CreateCustomer(ctx, billing.CreateCustomerParams{UserID: user.UserID, Email: email})
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to create billing customer")
			return "", upstream(op, err)
		}
	}

	linked, err := s.users.SetBillingCustomerID(ctx, user.UserID, cust.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Str("billing_customer_id", cust.ID).Msg("Failed to store billing customer id")
		return "", newError(KindInternal, op, err)
	}
	if linked {
		return cust.ID, nil
	}

	// A concurrent request linked a customer first; use the stored one.
	fresh, err := s.users.GetUserByID(ctx, user.UserID)
	if err != nil {
		return "", newError(KindInternal, op, err)
	}
	if fresh == nil {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, user.UserID)
	}
	if !fresh.HasBillingAccount() {
		return "", newError(KindInternal, op, errors.New("billing customer id was not stored"))
	}
	return *fresh.BillingCustomerID, nil
}

func (s *billingService) RequestBillingPortal(ctx context.Context, userID, returnURL string) (url string, err error) {
	const op = "request billing portal"
	defer func() { s.metrics.BillingOperation("billing_portal", outcomeOf(err)) }()

	if userID == "" {
		return "", newError(KindValidation, op, errors.New("user id is required"))
	}
	if returnURL == "" {
		returnURL = s.portalReturnURL
	} else if err := s.validate.Var(returnURL, "url"); err != nil {
		return "", newError(KindValidation, op, fmt.Errorf("invalid return url: %w", err))
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", newError(KindInternal, op, err)
	}
	if user == nil {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if !user.HasBillingAccount() {
		return "", ErrNoBillingAccount
	}

	url, err = s.provider.CreatePortalSession(ctx, *user.BillingCustomerID, returnURL)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create billing portal session")
		return "", upstream(op, err)
	}
	s.track(ctx, userID, analytics.EventBillingPortalOpened, nil)
	return url, nil
}

// CancelSubscription cancels the user's active subscription and stores
// whatever state the provider reports back.
func (s *billingService) CancelSubscription(ctx context.Context, userID string, atPeriodEnd bool) (sub *model.Subscription, err error) {
	const op = "cancel subscription"
	defer func() { s.metrics.BillingOperation("cancel", outcomeOf(err)) }()

	if userID == "" {
		return nil, newError(KindValidation, op, errors.New("user id is required"))
	}
	active, err := s.subs.GetActiveByUserID(ctx, userID)
	if err != nil {
		return nil, newError(KindInternal, op, err)
	}
	if active == nil {
		return nil, ErrNoActiveSubscription
	}

	result, err := s.provider.CancelSubscription(ctx, active.BillingSubscriptionID, atPeriodEnd)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("billing_subscription_id", active.BillingSubscriptionID).Msg("Failed to cancel subscription")
		return nil, upstream(op, err)
	}

	active.Status = result.Status
	active.CancelAtPeriodEnd = result.CancelAtPeriodEnd
	if result.PeriodEnd != nil {
		active.CurrentPeriodEnd = result.PeriodEnd
	}
	if err := s.subs.UpdateStatus(ctx, active); err != nil {
		s.logger.Error().Err(err).Str("billing_subscription_id", active.BillingSubscriptionID).Msg("Failed to store canceled subscription")
		return nil, newError(KindInternal, op, err)
	}

	var projection model.BillingProjection
	if !atPeriodEnd {
		projection = model.FreeProjection(model.StatusCanceled)
	} else {
		// Access lasts until the period ends; the terminal webhook demotes.
		projection = model.BillingProjection{Status: model.StatusActive, Tier: active.Plan, EndsAt: active.CurrentPeriodEnd}
	}
	if err := s.users.UpdateBillingProjection(ctx, userID, projection); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to update billing projection after cancel")
		return nil, newError(KindInternal, op, err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("billing_subscription_id", active.BillingSubscriptionID).
		Bool("cancel_at_period_end", atPeriodEnd).
		Str("status", active.Status).
		Msg("Subscription cancel requested")
	s.track(ctx, userID, analytics.EventSubscriptionCancelRequested, map[string]any{
		"billing_subscription_id": active.BillingSubscriptionID,
		"cancel_at_period_end":    atPeriodEnd,
		"status":                  active.Status,
	})
	return active, nil
}

func (s *billingService) GetSubscription(ctx context.Context, userID string) (*SubscriptionView, error) {
	const op = "get subscription"
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, newError(KindInternal, op, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	sub, err := s.subs.GetLatestByUserID(ctx, userID)
	if err != nil {
		return nil, newError(KindInternal, op, err)
	}
	payments, err := s.payments.ListByUserID(ctx, userID, recentPaymentsLimit)
	if err != nil {
		return nil, newError(KindInternal, op, err)
	}
	return &SubscriptionView{User: user, Subscription: sub, RecentPayments: payments}, nil
}

func (s *billingService) track(ctx context.Context, userID, event string, props map[string]any) {
	capture(ctx, s.events, s.logger, userID, event, props)
}

// capture sends an analytics event. Failures are logged and dropped.
func capture(ctx context.Context, events analytics.Client, logger zerolog.Logger, userID, event string, props map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := events.Capture(ctx, userID, event, props); err != nil {
		logger.Warn().Err(err).Str("event", event).Str("user_id", userID).Msg("Failed to capture analytics event")
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}
