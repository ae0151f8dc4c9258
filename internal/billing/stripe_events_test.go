package billing

import (
	"fmt"
	"testing"
	"time"

	"dropaccess/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestProvider(t *testing.T) *StripeProvider {
	t.Helper()
	return NewStripeProvider(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Prices: map[model.Tier]string{
			model.TierIndividual: "price_ind",
			model.TierBusiness:   "price_biz",
		},
	}, zerolog.Nop())
}

func sign(t *testing.T, payload string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

func eventJSON(id, typ, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":1759320000,"data":{"object":%s}}`, id, typ, object)
}

const subscriptionObject = `{
	"id": "sub_1",
	"object": "subscription",
	"customer": "cus_1",
	"status": "active",
	"cancel_at_period_end": false,
	"metadata": {"user_id": "u1"},
	"items": {"data": [{"price": {"id": "price_ind"}, "current_period_start": 1759320000, "current_period_end": 1761998400}]}
}`

func TestParseWebhook_SubscriptionCreated(t *testing.T) {
	p := newTestProvider(t)
	payload := eventJSON("evt_1", "customer.subscription.created", subscriptionObject)

	ev, err := p.ParseWebhook([]byte(payload), sign(t, payload))
	require.NoError(t, err)

	created, ok := ev.(SubscriptionCreated)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "evt_1", created.EventID())
	assert.Equal(t, KindSubscriptionCreated, created.Kind())
	assert.Equal(t, "cus_1", created.CustomerID)
	assert.Equal(t, "sub_1", created.SubscriptionID)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, model.TierIndividual, created.Plan)
	assert.Equal(t, "active", created.Status)
	require.NotNil(t, created.PeriodEnd)
	assert.Equal(t, int64(1761998400), created.PeriodEnd.Unix())
	assert.Equal(t, time.Unix(1759320000, 0).UTC(), created.OccurredAt())
}

func TestParseWebhook_PlanFromMetadataWins(t *testing.T) {
	p := newTestProvider(t)
	obj := `{"id":"sub_2","customer":{"id":"cus_2","object":"customer"},"status":"trialing","metadata":{"plan":"business"},
		"items":{"data":[{"price":{"id":"price_unknown"}}]}}`
	payload := eventJSON("evt_2", "customer.subscription.updated", obj)

	ev, err := p.ParseWebhook([]byte(payload), sign(t, payload))
	require.NoError(t, err)

	updated, ok := ev.(SubscriptionUpdated)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "cus_2", updated.CustomerID)
	assert.Equal(t, model.TierBusiness, updated.Plan)
	assert.Nil(t, updated.PeriodStart)
}

func TestParseWebhook_SubscriptionDeleted(t *testing.T) {
	p := newTestProvider(t)
	obj := `{"id":"sub_1","customer":"cus_1","status":"canceled","items":{"data":[]}}`
	payload := eventJSON("evt_3", "customer.subscription.deleted", obj)

	ev, err := p.ParseWebhook([]byte(payload), sign(t, payload))
	require.NoError(t, err)
	assert.IsType(t, SubscriptionCanceled{}, ev)
	assert.Equal(t, KindSubscriptionCanceled, ev.Kind())
}

func TestParseWebhook_Invoices(t *testing.T) {
	p := newTestProvider(t)

	tests := []struct {
		name      string
		typ       string
		invoice   string
		wantKind  EventKind
		wantID    string
		wantSub   string
		wantCents int64
	}{
		{
			name:      "succeeded with parent subscription details",
			typ:       "invoice.payment_succeeded",
			invoice:   `{"id":"in_1","customer":"cus_1","amount_paid":900,"amount_due":900,"currency":"usd","parent":{"subscription_details":{"subscription":"sub_1"}}}`,
			wantKind:  KindPaymentSucceeded,
			wantID:    "in_1",
			wantSub:   "sub_1",
			wantCents: 900,
		},
		{
			name:      "paid with top level subscription",
			typ:       "invoice.paid",
			invoice:   `{"id":"in_2","customer":"cus_1","subscription":"sub_2","amount_paid":2900,"currency":"usd"}`,
			wantKind:  KindPaymentSucceeded,
			wantID:    "in_2",
			wantSub:   "sub_2",
			wantCents: 2900,
		},
		{
			name:      "failed attempt keyed by attempt count",
			typ:       "invoice.payment_failed",
			invoice:   `{"id":"in_3","customer":"cus_1","amount_paid":0,"amount_due":900,"currency":"usd","attempt_count":2,"lines":{"data":[{"subscription":"sub_3"}]}}`,
			wantKind:  KindPaymentFailed,
			wantID:    "in_3:attempt-2",
			wantSub:   "sub_3",
			wantCents: 900,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := eventJSON("evt_"+tt.wantID, tt.typ, tt.invoice)
			ev, err := p.ParseWebhook([]byte(payload), sign(t, payload))
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, ev.Kind())

			var pp PaymentPayload
			switch e := ev.(type) {
			case PaymentSucceeded:
				pp = e.PaymentPayload
			case PaymentFailed:
				pp = e.PaymentPayload
			default:
				t.Fatalf("unexpected event %T", ev)
			}
			assert.Equal(t, tt.wantID, pp.PaymentID)
			assert.Equal(t, tt.wantSub, pp.SubscriptionID)
			assert.Equal(t, tt.wantCents, pp.AmountCents)
			assert.Equal(t, "usd", pp.Currency)
		})
	}
}

func TestParseWebhook_UnknownType(t *testing.T) {
	p := newTestProvider(t)
	payload := eventJSON("evt_9", "charge.refunded", `{"id":"ch_1"}`)

	ev, err := p.ParseWebhook([]byte(payload), sign(t, payload))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, ev.Kind())
	assert.Equal(t, "charge.refunded", ev.ProviderType())
}

func TestParseWebhook_InvalidSignature(t *testing.T) {
	p := newTestProvider(t)
	payload := eventJSON("evt_1", "customer.subscription.created", subscriptionObject)

	tests := []struct {
		name      string
		signature string
	}{
		{name: "missing", signature: ""},
		{name: "garbage", signature: "not-a-signature"},
		{name: "wrong secret", signature: webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   []byte(payload),
			Secret:    "whsec_other",
			Timestamp: time.Now(),
			Scheme:    "v1",
		}).Header},
		{name: "expired", signature: webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   []byte(payload),
			Secret:    testWebhookSecret,
			Timestamp: time.Now().Add(-time.Hour),
			Scheme:    "v1",
		}).Header},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := p.ParseWebhook([]byte(payload), tt.signature)
			assert.ErrorIs(t, err, ErrInvalidSignature)
			assert.Nil(t, ev)
		})
	}
}

func TestParseWebhook_TamperedBody(t *testing.T) {
	p := newTestProvider(t)
	payload := eventJSON("evt_1", "customer.subscription.created", subscriptionObject)
	sig := sign(t, payload)

	tampered := eventJSON("evt_1", "customer.subscription.created", `{"id":"sub_1","customer":"cus_evil","status":"active"}`)
	_, err := p.ParseWebhook([]byte(tampered), sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseWebhook_Malformed(t *testing.T) {
	p := newTestProvider(t)

	t.Run("not json", func(t *testing.T) {
		payload := `{"id": "evt_1", "type":`
		ev, err := p.ParseWebhook([]byte(payload), sign(t, payload))
		assert.ErrorIs(t, err, ErrMalformedEvent)
		assert.Nil(t, ev)
	})

	t.Run("missing customer", func(t *testing.T) {
		payload := eventJSON("evt_4", "customer.subscription.updated", `{"id":"sub_1","status":"active"}`)
		ev, err := p.ParseWebhook([]byte(payload), sign(t, payload))
		assert.ErrorIs(t, err, ErrMalformedEvent)
		require.NotNil(t, ev)
		assert.Equal(t, "evt_4", ev.EventID())
	})

	t.Run("created with unresolvable plan", func(t *testing.T) {
		obj := `{"id":"sub_1","customer":"cus_1","status":"active","items":{"data":[{"price":{"id":"price_other"}}]}}`
		payload := eventJSON("evt_5", "customer.subscription.created", obj)
		_, err := p.ParseWebhook([]byte(payload), sign(t, payload))
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("invoice without payment id", func(t *testing.T) {
		payload := eventJSON("evt_6", "invoice.payment_succeeded", `{"customer":"cus_1","amount_paid":900}`)
		_, err := p.ParseWebhook([]byte(payload), sign(t, payload))
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}
