package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domain "github.com/schooleats/orderflow/internal/domain/webhook"
)

var _ domain.Ledger = (*WebhookLedger)(nil)

type WebhookLedger struct {
	db *sql.DB
}

func NewWebhookLedger(db *sql.DB) *WebhookLedger {
	return &WebhookLedger{db: db}
}

func (l *WebhookLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("webhook ledger: lookup: %w", err)
	}
	return exists, nil
}

func (l *WebhookLedger) MarkProcessed(ctx context.Context, eventID string, eventType domain.EventType) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("webhook ledger: mark processed: %w", err)
	}
	return nil
}
