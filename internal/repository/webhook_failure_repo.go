package repository

import (
	"context"
	"database/sql"
	"fmt"

	"dropaccess/internal/model"

	"github.com/google/uuid"
)

type WebhookFailureRepository interface {
	Create(ctx context.Context, f *model.WebhookFailure) error
}

type webhookFailureRepository struct {
	db *sql.DB
}

func NewWebhookFailureRepository(db *sql.DB) WebhookFailureRepository {
	return &webhookFailureRepository{db: db}
}

func (r *webhookFailureRepository) Create(ctx context.Context, f *model.WebhookFailure) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = "unprocessed"
	}
	query := `
        INSERT INTO webhook_failures (id, event_id, event_type, error, payload, status)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err := r.db.ExecContext(ctx, query, f.ID, f.EventID, f.EventType, f.Error, f.Payload, f.Status)
	if err != nil {
		return fmt.Errorf("record webhook failure for event %s: %w", f.EventID, err)
	}
	return nil
}
