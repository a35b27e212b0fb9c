package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/schooleats/orderflow/internal/domain/webhook"
)

type ledgerEntry struct {
	eventType   domain.EventType
	processedAt time.Time
}

type WebhookLedger struct {
	mu        sync.RWMutex
	processed map[string]ledgerEntry
}

func NewWebhookLedger() *WebhookLedger {
	return &WebhookLedger{processed: make(map[string]ledgerEntry)}
}

func (l *WebhookLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.processed[eventID]
	return ok, nil
}

func (l *WebhookLedger) MarkProcessed(ctx context.Context, eventID string, eventType domain.EventType) error {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()

	l.processed[eventID] = ledgerEntry{eventType: eventType, processedAt: time.Now().UTC()}
	return nil
}
