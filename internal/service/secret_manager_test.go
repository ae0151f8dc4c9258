package service

import (
	"context"
	"errors"
	"testing"

	"dropaccess/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSecrets(values map[string]string, accessed *[]string) *secretManagerService {
	return newSecretManagerService("proj-1", func(_ context.Context, resource string) ([]byte, error) {
		*accessed = append(*accessed, resource)
		v, ok := values[resource]
		if !ok {
			return nil, errors.New("rpc error: code = NotFound")
		}
		return []byte(v), nil
	}, nil)
}

func TestSecretManagerService_GetSecret(t *testing.T) {
	var accessed []string
	sm := fakeSecrets(map[string]string{
		"projects/proj-1/secrets/stripe-key/versions/latest": "sk_live_abc\n",
		"projects/proj-1/secrets/blank/versions/latest":      "  ",
	}, &accessed)

	v, err := sm.GetSecret(context.Background(), "stripe-key")
	require.NoError(t, err)
	assert.Equal(t, "sk_live_abc", v)

	_, err = sm.GetSecret(context.Background(), "blank")
	assert.ErrorContains(t, err, "is empty")

	_, err = sm.GetSecret(context.Background(), "missing")
	assert.ErrorContains(t, err, "NotFound")

	assert.NoError(t, sm.Close())
}

func TestLoadStripeSecrets(t *testing.T) {
	t.Run("env source is untouched", func(t *testing.T) {
		cfg := &config.Config{SecretSource: config.SecretSourceEnv, StripeSecretKey: "sk_env"}
		require.NoError(t, LoadStripeSecrets(context.Background(), cfg, nil))
		assert.Equal(t, "sk_env", cfg.StripeSecretKey)
	})

	t.Run("gcp source overrides both values", func(t *testing.T) {
		var accessed []string
		sm := fakeSecrets(map[string]string{
			"projects/proj-1/secrets/stripe-key/versions/latest":     "sk_live_abc",
			"projects/proj-1/secrets/stripe-webhook/versions/latest": "whsec_live",
		}, &accessed)
		cfg := &config.Config{
			SecretSource:            config.SecretSourceGCP,
			SecretStripeKeyName:     "stripe-key",
			SecretStripeWebhookName: "stripe-webhook",
		}

		require.NoError(t, LoadStripeSecrets(context.Background(), cfg, sm))
		assert.Equal(t, "sk_live_abc", cfg.StripeSecretKey)
		assert.Equal(t, "whsec_live", cfg.StripeWebhookSecret)
		assert.Len(t, accessed, 2)
	})

	t.Run("missing secret fails", func(t *testing.T) {
		var accessed []string
		sm := fakeSecrets(map[string]string{}, &accessed)
		cfg := &config.Config{SecretSource: config.SecretSourceGCP, SecretStripeKeyName: "stripe-key", SecretStripeWebhookName: "stripe-webhook"}

		err := LoadStripeSecrets(context.Background(), cfg, sm)
		assert.ErrorContains(t, err, "load stripe secret key")
		assert.Empty(t, cfg.StripeSecretKey)
	})

	t.Run("gcp source without client", func(t *testing.T) {
		cfg := &config.Config{SecretSource: config.SecretSourceGCP}
		assert.Error(t, LoadStripeSecrets(context.Background(), cfg, nil))
	})
}
