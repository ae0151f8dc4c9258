package service

import (
	"context"
	"errors"
	"fmt"

	"dropaccess/internal/analytics"
	"dropaccess/internal/billing"
	"dropaccess/internal/metrics"
	"dropaccess/internal/model"
	"dropaccess/internal/replay"
	"dropaccess/internal/repository"

	"github.com/rs/zerolog"
)

// WebhookOutcome is how an authenticated delivery was handled.
type WebhookOutcome string

const (
	OutcomeProcessed WebhookOutcome = "processed"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeIgnored   WebhookOutcome = "ignored"
)

// WebhookService applies billing provider webhook deliveries to the store.
type WebhookService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error)
}

type webhookService struct {
	users    repository.UserRepository
	subs     repository.SubscriptionRepository
	payments repository.PaymentRepository
	failures repository.WebhookFailureRepository
	provider billing.Provider
	guard    replay.Guard
	events   analytics.Client
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewWebhookService creates a new WebhookService with a scoped logger.
func NewWebhookService(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	payments repository.PaymentRepository,
	failures repository.WebhookFailureRepository,
	provider billing.Provider,
	guard replay.Guard,
	events analytics.Client,
	m *metrics.Metrics,
	logger zerolog.Logger,
) WebhookService {
	if guard == nil {
		guard = replay.NopGuard{}
	}
	if events == nil {
		events = analytics.NoopClient{}
	}
	return &webhookService{
		users:    users,
		subs:     subs,
		payments: payments,
		failures: failures,
		provider: provider,
		guard:    guard,
		events:   events,
		metrics:  m,
		logger:   logger.With().Str("service", "WebhookService").Logger(),
	}
}

// HandleWebhook authenticates, decodes and applies one delivery. Each
// delivery is handled on its own; a failure is recorded and returned so the
// provider retries it, without affecting any other event.
func (s *webhookService) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error) {
	const op = "handle webhook"

	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			s.logger.Warn().Err(err).Msg("Rejected webhook with invalid signature")
			s.metrics.WebhookEvent("unknown", "invalid_signature")
			return "", newError(KindAuthentication, op, fmt.Errorf("%w: %v", ErrUnauthorized, err))
		case errors.Is(err, billing.ErrMalformedEvent):
			s.logger.Error().Err(err).Msg("Malformed webhook payload")
			s.recordFailure(ctx, ev, payload, err)
			s.metrics.WebhookEvent(eventType(ev), "malformed")
			return "", newError(KindValidation, op, err)
		default:
			s.metrics.WebhookEvent("unknown", "failed")
			return "", newError(KindInternal, op, err)
		}
	}

	log := s.logger.With().Str("event_id", ev.EventID()).Str("event_type", ev.ProviderType()).Logger()

	seen, err := s.guard.Seen(ctx, ev.EventID())
	if err != nil {
		log.Warn().Err(err).Msg("Replay guard unavailable, processing event")
	}
	if seen {
		log.Info().Msg("Webhook event already processed")
		s.metrics.WebhookEvent(ev.ProviderType(), string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}

	outcome, err := s.dispatch(ctx, ev, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to apply webhook event")
		s.recordFailure(ctx, ev, payload, err)
		s.metrics.WebhookEvent(ev.ProviderType(), "failed")
		if KindOf(err) == KindInternal {
			return "", newError(KindInternal, op, err)
		}
		return "", err
	}

	if err := s.guard.Mark(ctx, ev.EventID()); err != nil {
		log.Warn().Err(err).Msg("Failed to mark webhook event as processed")
	}
	log.Info().Str("outcome", string(outcome)).Msg("Webhook event handled")
	s.metrics.WebhookEvent(ev.ProviderType(), string(outcome))
	return outcome, nil
}

func (s *webhookService) dispatch(ctx context.Context, ev billing.Event, log zerolog.Logger) (WebhookOutcome, error) {
	switch e := ev.(type) {
	case billing.SubscriptionCreated:
		return s.applySubscription(ctx, e, e.SubscriptionPayload, log)
	case billing.SubscriptionUpdated:
		return s.applySubscription(ctx, e, e.SubscriptionPayload, log)
	case billing.SubscriptionCanceled:
		return s.applySubscription(ctx, e, e.SubscriptionPayload, log)
	case billing.PaymentSucceeded:
		return s.applyPayment(ctx, e, e.PaymentPayload, model.PaymentSucceeded, log)
	case billing.PaymentFailed:
		return s.applyPayment(ctx, e, e.PaymentPayload, model.PaymentFailed, log)
	default:
		log.Debug().Msg("Ignoring unhandled webhook event type")
		return OutcomeIgnored, nil
	}
}

// resolveUser finds the owner of a billing customer. When the customer ID was
// never stored (the link request failed after creating the customer), the
// user_id stamped in subscription metadata is used and the link is repaired.
func (s *webhookService) resolveUser(ctx context.Context, customerID, metadataUserID string, log zerolog.Logger) (*model.User, error) {
	user, err := s.users.GetUserByBillingCustomerID(ctx, customerID)
	if err != nil || user != nil || metadataUserID == "" {
		return user, err
	}

	user, err = s.users.GetUserByID(ctx, metadataUserID)
	if err != nil || user == nil {
		return nil, err
	}
	if user.HasBillingAccount() {
		log.Warn().Str("user_id", user.UserID).Str("billing_customer_id", customerID).Msg("Metadata user is linked to a different customer")
		return nil, nil
	}
	linked, err := s.users.SetBillingCustomerID(ctx, user.UserID, customerID)
	if err != nil {
		return nil, err
	}
	if !linked {
		// linked concurrently; trust only the stored customer
		return s.users.GetUserByBillingCustomerID(ctx, customerID)
	}
	log.Info().Str("user_id", user.UserID).Str("billing_customer_id", customerID).Msg("Linked billing customer from subscription metadata")
	return user, nil
}

func (s *webhookService) applySubscription(ctx context.Context, ev billing.Event, p billing.SubscriptionPayload, log zerolog.Logger) (WebhookOutcome, error) {
	log = log.With().Str("billing_customer_id", p.CustomerID).Str("billing_subscription_id", p.SubscriptionID).Logger()

	user, err := s.resolveUser(ctx, p.CustomerID, p.UserID, log)
	if err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}
	if user == nil {
		log.Warn().Msg("No user for billing customer, dropping event")
		return OutcomeIgnored, nil
	}

	plan := p.Plan
	if plan == "" {
		existing, err := s.subs.GetByBillingSubscriptionID(ctx, p.SubscriptionID)
		if err != nil {
			return "", fmt.Errorf("load subscription: %w", err)
		}
		if existing != nil {
			plan = existing.Plan
		}
	}
	if plan == "" {
		return "", newError(KindValidation, "apply subscription", fmt.Errorf("%w: cannot resolve plan for price %q", billing.ErrMalformedEvent, p.PriceID))
	}

	status := p.Status
	if ev.Kind() == billing.KindSubscriptionCanceled {
		status = model.ProviderStatusCanceled
	}
	row := &model.Subscription{
		UserID:                user.UserID,
		Plan:                  plan,
		Status:                status,
		BillingCustomerID:     p.CustomerID,
		BillingSubscriptionID: p.SubscriptionID,
		CurrentPeriodStart:    p.PeriodStart,
		CurrentPeriodEnd:      p.PeriodEnd,
		CancelAtPeriodEnd:     p.CancelAtPeriodEnd,
		ProviderUpdatedAt:     ev.OccurredAt(),
		ProviderEventRank:     eventRank(ev.Kind()),
	}
	applied, err := s.subs.Upsert(ctx, row)
	if err != nil {
		return "", fmt.Errorf("upsert subscription: %w", err)
	}
	if !applied {
		log.Info().Time("occurred_at", ev.OccurredAt()).Msg("Stale subscription event, newer state already stored")
		return OutcomeProcessed, nil
	}

	projection, ok := projectionFor(ev.Kind(), status, plan, p)
	if !ok {
		log.Debug().Str("status", status).Msg("Subscription status does not change user access")
		return OutcomeProcessed, nil
	}

	if projection.Status != model.StatusActive {
		// A different live subscription keeps the user's access.
		current, err := s.subs.GetActiveByUserID(ctx, user.UserID)
		if err != nil {
			return "", fmt.Errorf("load active subscription: %w", err)
		}
		if current != nil && current.BillingSubscriptionID != p.SubscriptionID {
			log.Info().Str("active_subscription_id", current.BillingSubscriptionID).Msg("User has another active subscription, keeping access")
			return OutcomeProcessed, nil
		}
	}

	if err := s.users.UpdateBillingProjection(ctx, user.UserID, projection); err != nil {
		return "", fmt.Errorf("update billing projection: %w", err)
	}
	log.Info().
		Str("user_id", user.UserID).
		Str("subscription_status", string(projection.Status)).
		Str("subscription_tier", string(projection.Tier)).
		Msg("User billing state updated")

	capture(ctx, s.events, s.logger, user.UserID, subscriptionAnalyticsEvent(ev.Kind(), projection), map[string]any{
		"billing_subscription_id": p.SubscriptionID,
		"plan":                    string(plan),
		"status":                  status,
	})
	return OutcomeProcessed, nil
}

func eventRank(kind billing.EventKind) int {
	switch kind {
	case billing.KindSubscriptionCreated:
		return model.RankSubscriptionCreated
	case billing.KindSubscriptionCanceled:
		return model.RankSubscriptionDeleted
	default:
		return model.RankSubscriptionUpdated
	}
}

// projectionFor maps a provider subscription status onto the user's
// collapsed billing state. It returns false when access is unaffected.
func projectionFor(kind billing.EventKind, status string, plan model.Tier, p billing.SubscriptionPayload) (model.BillingProjection, bool) {
	if kind == billing.KindSubscriptionCanceled {
		return model.FreeProjection(model.StatusCanceled), true
	}
	switch status {
	case model.ProviderStatusActive, model.ProviderStatusTrialing:
		pr := model.BillingProjection{Status: model.StatusActive, Tier: plan}
		if p.CancelAtPeriodEnd {
			pr.EndsAt = p.PeriodEnd
		}
		return pr, true
	case model.ProviderStatusPastDue, model.ProviderStatusUnpaid, model.ProviderStatusPaused:
		return model.BillingProjection{Status: model.StatusPastDue, Tier: plan, EndsAt: p.PeriodEnd}, true
	case model.ProviderStatusCanceled:
		return model.FreeProjection(model.StatusCanceled), true
	default:
		// incomplete and incomplete_expired never granted access
		return model.BillingProjection{}, false
	}
}

func subscriptionAnalyticsEvent(kind billing.EventKind, p model.BillingProjection) string {
	switch {
	case kind == billing.KindSubscriptionCanceled || p.Status == model.StatusCanceled:
		return analytics.EventSubscriptionCanceled
	case p.Status == model.StatusActive && kind == billing.KindSubscriptionCreated:
		return analytics.EventSubscriptionActivated
	default:
		return analytics.EventSubscriptionUpdated
	}
}

func (s *webhookService) applyPayment(ctx context.Context, ev billing.Event, p billing.PaymentPayload, status model.PaymentStatus, log zerolog.Logger) (WebhookOutcome, error) {
	log = log.With().Str("billing_customer_id", p.CustomerID).Str("billing_payment_id", p.PaymentID).Logger()

	var sub *model.Subscription
	if p.SubscriptionID != "" {
		var err error
		sub, err = s.subs.GetByBillingSubscriptionID(ctx, p.SubscriptionID)
		if err != nil {
			return "", fmt.Errorf("load subscription: %w", err)
		}
	}

	user, err := s.users.GetUserByBillingCustomerID(ctx, p.CustomerID)
	if err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}
	var userID string
	switch {
	case user != nil:
		userID = user.UserID
	case sub != nil:
		userID = sub.UserID
		log.Info().Str("user_id", userID).Str("billing_subscription_id", p.SubscriptionID).Msg("Resolved payment owner from subscription")
	default:
		log.Warn().Msg("No user for billing customer or subscription, dropping payment event")
		return OutcomeIgnored, nil
	}

	tx := &model.PaymentTransaction{
		UserID:           userID,
		BillingPaymentID: p.PaymentID,
		AmountCents:      p.AmountCents,
		Currency:         p.Currency,
		Status:           status,
		TransactionType:  model.TransactionOneTime,
	}
	if tx.Currency == "" {
		tx.Currency = "usd"
	}
	if p.SubscriptionID != "" {
		tx.TransactionType = model.TransactionSubscription
		if sub != nil {
			tx.SubscriptionID = &sub.ID
		} else {
			log.Info().Str("billing_subscription_id", p.SubscriptionID).Msg("Payment arrived before its subscription, storing without link")
		}
	}

	inserted, err := s.payments.Append(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("append payment: %w", err)
	}
	if !inserted {
		log.Info().Msg("Payment already recorded")
		return OutcomeDuplicate, nil
	}

	event := analytics.EventPaymentSucceeded
	if status == model.PaymentFailed {
		event = analytics.EventPaymentFailed
	}
	log.Info().Str("user_id", userID).Int64("amount_cents", p.AmountCents).Str("status", string(status)).Msg("Payment recorded")
	capture(ctx, s.events, s.logger, userID, event, map[string]any{
		"billing_payment_id": p.PaymentID,
		"amount_cents":       p.AmountCents,
		"currency":           tx.Currency,
	})
	return OutcomeProcessed, nil
}

// recordFailure stores a delivery that could not be applied. It never fails
// the caller; the delivery is retried by the provider either way.
func (s *webhookService) recordFailure(ctx context.Context, ev billing.Event, payload []byte, cause error) {
	f := &model.WebhookFailure{
		EventType: eventType(ev),
		Error:     cause.Error(),
		Payload:   string(payload),
	}
	if ev != nil {
		f.EventID = ev.EventID()
	}
	if err := s.failures.Create(context.WithoutCancel(ctx), f); err != nil {
		s.logger.Error().Err(err).Str("event_id", f.EventID).Msg("Failed to record webhook failure")
	}
}

func eventType(ev billing.Event) string {
	if ev == nil {
		return "unknown"
	}
	return ev.ProviderType()
}
