package model

import "time"

// WebhookFailure records a verified webhook delivery that could not be applied.
type WebhookFailure struct {
	ID        string    `db:"id"`
	EventID   string    `db:"event_id"`
	EventType string    `db:"event_type"`
	Error     string    `db:"error"`
	Payload   string    `db:"payload"` // raw JSON body as delivered
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}
