package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dropaccess/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// SecretManagerService reads the latest version of named secrets.
type SecretManagerService interface {
	GetSecret(ctx context.Context, name string) (string, error)
	Close() error
}

type accessFunc func(ctx context.Context, resource string) ([]byte, error)

type secretManagerService struct {
	access    accessFunc
	close     func() error
	projectID string
}

func NewSecretManagerService(ctx context.Context, projectID string, opts ...option.ClientOption) (SecretManagerService, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GCP Project ID is not set for the current environment")
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}

	access := func(ctx context.Context, resource string) ([]byte, error) {
		result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		if err != nil {
			return nil, err
		}
		return result.GetPayload().GetData(), nil
	}
	return newSecretManagerService(projectID, access, client.Close), nil
}

func newSecretManagerService(projectID string, access accessFunc, closeFn func() error) *secretManagerService {
	return &secretManagerService{access: access, close: closeFn, projectID: projectID}
}

func (s *secretManagerService) GetSecret(ctx context.Context, name string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name)
	data, err := s.access(ctx, resourceName)
	if err != nil {
		return "", fmt.Errorf("failed to access secret version %s: %w", name, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("secret %s is empty", name)
	}
	return value, nil
}

func (s *secretManagerService) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// LoadStripeSecrets fills the Stripe API key and webhook secret from Secret
// Manager when the config asks for it. Values already set in the
// environment are left alone for the env source.
func LoadStripeSecrets(ctx context.Context, cfg *config.Config, sm SecretManagerService) error {
	if cfg.SecretSource != config.SecretSourceGCP {
		return nil
	}
	if sm == nil {
		return errors.New("secret manager is required for the gcp secret source")
	}

	key, err := sm.GetSecret(ctx, cfg.SecretStripeKeyName)
	if err != nil {
		return fmt.Errorf("load stripe secret key: %w", err)
	}
	webhookSecret, err := sm.GetSecret(ctx, cfg.SecretStripeWebhookName)
	if err != nil {
		return fmt.Errorf("load stripe webhook secret: %w", err)
	}
	cfg.StripeSecretKey = key
	cfg.StripeWebhookSecret = webhookSecret
	return nil
}
