package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dropaccess/internal/model"

	"github.com/kelseyhightower/envconfig"
)

// Secret sources
const (
	SecretSourceEnv = "env"
	SecretSourceGCP = "gcp"
)

// Analytics sinks
const (
	AnalyticsSinkNone    = "none"
	AnalyticsSinkPostHog = "posthog"
	AnalyticsSinkPubSub  = "pubsub"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"production"`
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	JWTSecret          string `envconfig:"SUPABASE_JWT_SECRET" required:"true"`
	MigrateOnStart     bool   `envconfig:"MIGRATE_ON_START" default:"false"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Stripe settings
	StripeSecretKey           string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret       string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceIndividual     string `envconfig:"STRIPE_PRICE_INDIVIDUAL"`
	StripePriceBusiness       string `envconfig:"STRIPE_PRICE_BUSINESS"`
	PlanIndividualAmountCents int64  `envconfig:"PLAN_INDIVIDUAL_AMOUNT_CENTS" default:"900"`
	PlanBusinessAmountCents   int64  `envconfig:"PLAN_BUSINESS_AMOUNT_CENTS" default:"2900"`
	BillingPortalReturnURL    string `envconfig:"BILLING_PORTAL_RETURN_URL"`
	BillingRequestTimeoutSec  int    `envconfig:"BILLING_REQUEST_TIMEOUT_SEC" default:"15"`
	WebhookMaxBodyBytes       int64  `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"1048576"`

	// Secret Manager settings
	SecretSource            string `envconfig:"SECRET_SOURCE" default:"env"`
	GCPProjectID            string `envconfig:"GCP_PROJECT_ID"`
	SecretStripeKeyName     string `envconfig:"SECRET_STRIPE_KEY_NAME"`
	SecretStripeWebhookName string `envconfig:"SECRET_STRIPE_WEBHOOK_NAME"`

	// Analytics settings
	AnalyticsSink      string `envconfig:"ANALYTICS_SINK" default:"none"`
	PostHogAPIKey      string `envconfig:"POSTHOG_API_KEY"`
	PostHogHost        string `envconfig:"POSTHOG_HOST"`
	PubSubBillingTopic string `envconfig:"PUBSUB_BILLING_TOPIC"`

	// Webhook replay guard
	RedisURL            string `envconfig:"REDIS_URL"`
	WebhookReplayTTLMin int    `envconfig:"WEBHOOK_REPLAY_TTL_MIN" default:"1440"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks rules envconfig cannot express. It must run after secrets
// have been resolved, since the Stripe keys may come from Secret Manager.
func (c *Config) Validate() error {
	var errs []error
	if c.StripeSecretKey == "" {
		errs = append(errs, errors.New("stripe secret key is not set"))
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("stripe webhook secret is not set"))
	}
	if c.StripePriceIndividual == "" || c.StripePriceBusiness == "" {
		errs = append(errs, errors.New("STRIPE_PRICE_INDIVIDUAL and STRIPE_PRICE_BUSINESS are required"))
	}
	if c.BillingRequestTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("BILLING_REQUEST_TIMEOUT_SEC must be positive, got %d", c.BillingRequestTimeoutSec))
	}

	switch c.SecretSource {
	case SecretSourceEnv:
	case SecretSourceGCP:
		if c.GCPProjectID == "" || c.SecretStripeKeyName == "" || c.SecretStripeWebhookName == "" {
			errs = append(errs, errors.New("gcp secret source requires GCP_PROJECT_ID, SECRET_STRIPE_KEY_NAME and SECRET_STRIPE_WEBHOOK_NAME"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SECRET_SOURCE %q", c.SecretSource))
	}

	switch c.AnalyticsSink {
	case AnalyticsSinkNone:
	case AnalyticsSinkPostHog:
		if c.PostHogAPIKey == "" {
			errs = append(errs, errors.New("posthog analytics sink requires POSTHOG_API_KEY"))
		}
	case AnalyticsSinkPubSub:
		if c.GCPProjectID == "" || c.PubSubBillingTopic == "" {
			errs = append(errs, errors.New("pubsub analytics sink requires GCP_PROJECT_ID and PUBSUB_BILLING_TOPIC"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ANALYTICS_SINK %q", c.AnalyticsSink))
	}

	return errors.Join(errs...)
}

// BillingRequestTimeout is the per-call deadline for Stripe requests.
func (c *Config) BillingRequestTimeout() time.Duration {
	return time.Duration(c.BillingRequestTimeoutSec) * time.Second
}

// WebhookReplayTTL is how long a processed webhook event ID is remembered.
func (c *Config) WebhookReplayTTL() time.Duration {
	return time.Duration(c.WebhookReplayTTLMin) * time.Minute
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Plan is one purchasable tier.
type Plan struct {
	Tier        model.Tier
	PriceID     string
	AmountCents int64
}

// Plans lists the paid tiers with their Stripe prices.
func (c *Config) Plans() []Plan {
	return []Plan{
		{Tier: model.TierIndividual, PriceID: c.StripePriceIndividual, AmountCents: c.PlanIndividualAmountCents},
		{Tier: model.TierBusiness, PriceID: c.StripePriceBusiness, AmountCents: c.PlanBusinessAmountCents},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
