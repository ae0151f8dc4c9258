package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dropaccess/internal/model"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeConfig configures StripeProvider.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// Prices maps each paid tier to its Stripe price ID.
	Prices  map[model.Tier]string
	Timeout time.Duration
	// APIURL overrides the Stripe API base URL. Empty means api.stripe.com.
	APIURL string
	// Observe, when set, is called after every API call.
	Observe func(op string, elapsed time.Duration, err error)
}

// StripeProvider implements Provider on top of the Stripe API.
type StripeProvider struct {
	sc            *client.API
	webhookSecret string
	tierByPrice   map[string]model.Tier
	timeout       time.Duration
	observe       func(op string, elapsed time.Duration, err error)
	logger        zerolog.Logger
}

// NewStripeProvider builds a per-process Stripe client. The global stripe.Key
// is never touched.
func NewStripeProvider(cfg StripeConfig, logger zerolog.Logger) *StripeProvider {
	var backends *stripe.Backends
	if cfg.APIURL != "" {
		b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.APIURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)

	tierByPrice := make(map[string]model.Tier, len(cfg.Prices))
	for tier, price := range cfg.Prices {
		tierByPrice[price] = tier
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StripeProvider{
		sc:            sc,
		webhookSecret: cfg.WebhookSecret,
		tierByPrice:   tierByPrice,
		timeout:       timeout,
		observe:       cfg.Observe,
		logger:        logger.With().Str("service", "StripeProvider").Logger(),
	}
}

// call runs fn under the request timeout and converts its error.
func (p *StripeProvider) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if p.observe != nil {
		p.observe(op, time.Since(start), err)
	}
	if err == nil {
		return nil
	}
	pe := &ProviderError{Op: op, Err: err}
	var se *stripe.Error
	if errors.As(err, &se) {
		pe.StatusCode = se.HTTPStatusCode
		pe.Code = string(se.Code)
		pe.Msg = se.Msg
	}
	if ctx.Err() != nil && pe.Msg == "" {
		pe.Err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	p.logger.Warn().Err(err).Str("op", op).Int("status", pe.StatusCode).Msg("Stripe call failed")
	return pe
}

func (p *StripeProvider) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var found *Customer
	err := p.call(ctx, "list customers", func(ctx context.Context) error {
		params := &stripe.CustomerListParams{Email: stripe.String(email)}
		params.Limit = stripe.Int64(1)
		params.Context = ctx
		it := p.sc.Customers.List(params)
		if it.Next() {
			c := it.Customer()
			found = &Customer{ID: c.ID, Email: c.Email, UserID: c.Metadata["user_id"]}
			return nil
		}
		return it.Err()
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, in CreateCustomerParams) (*Customer, error) {
	var cust *stripe.Customer
	err := p.call(ctx, "create customer", func(ctx context.Context) error {
		params := &stripe.CustomerParams{
			Email:    stripe.String(in.Email),
			Metadata: map[string]string{"user_id": in.UserID},
		}
		params.Context = ctx
		// A retried request after a lost response returns the same customer.
		params.SetIdempotencyKey("customer-" + in.UserID)
		var err error
		cust, err = p.sc.Customers.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Customer{ID: cust.ID, Email: cust.Email, UserID: in.UserID}, nil
}

// CreateSubscription opens an incomplete subscription whose first invoice
// doubles as the payment link.
func (p *StripeProvider) CreateSubscription(ctx context.Context, in CreateSubscriptionParams) (*Subscription, error) {
	var sub *stripe.Subscription
	err := p.call(ctx, "create subscription", func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{
			Customer: stripe.String(in.CustomerID),
			Items: []*stripe.SubscriptionItemsParams{
				{Price: stripe.String(in.PriceID)},
			},
			PaymentBehavior: stripe.String("default_incomplete"),
			PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
				SaveDefaultPaymentMethod: stripe.String("on_subscription"),
			},
			Metadata: map[string]string{
				"user_id": in.UserID,
				"plan":    string(in.Plan),
			},
		}
		params.Context = ctx
		params.AddExpand("latest_invoice")
		var err error
		sub, err = p.sc.Subscriptions.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := p.toSubscription(sub)
	if out.PaymentLink == "" {
		return nil, &ProviderError{Op: "create subscription", Msg: "subscription " + sub.ID + " has no hosted invoice"}
	}
	return out, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	var url string
	err := p.call(ctx, "create portal session", func(ctx context.Context) error {
		params := &stripe.BillingPortalSessionParams{Customer: stripe.String(customerID)}
		if returnURL != "" {
			params.ReturnURL = stripe.String(returnURL)
		}
		params.Context = ctx
		sess, err := p.sc.BillingPortalSessions.New(params)
		if err != nil {
			return err
		}
		url = sess.URL
		return nil
	})
	return url, err
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*Subscription, error) {
	var sub *stripe.Subscription
	err := p.call(ctx, "cancel subscription", func(ctx context.Context) error {
		var err error
		if atPeriodEnd {
			params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
			params.Context = ctx
			sub, err = p.sc.Subscriptions.Update(subscriptionID, params)
			return err
		}
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		sub, err = p.sc.Subscriptions.Cancel(subscriptionID, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p.toSubscription(sub), nil
}

// planFor resolves a tier from subscription metadata, then from the price.
func (p *StripeProvider) planFor(metadata map[string]string, priceID string) model.Tier {
	if t, ok := model.ParseTier(metadata["plan"]); ok {
		return t
	}
	return p.tierByPrice[priceID]
}

func (p *StripeProvider) toSubscription(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CreatedAt:         time.Unix(s.Created, 0).UTC(),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	var priceID string
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if item.Price != nil {
			priceID = item.Price.ID
		}
		out.PeriodStart = unixTime(item.CurrentPeriodStart)
		out.PeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	out.Plan = p.planFor(s.Metadata, priceID)
	if inv := s.LatestInvoice; inv != nil {
		out.PaymentLink = inv.HostedInvoiceURL
		out.AmountCents = inv.AmountDue
		out.Currency = string(inv.Currency)
	}
	return out
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
