package postgres

import (
	"context"
	"errors"
	"fmt"

	"vendor-payouts/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// WebhookEventRepo implements ports.WebhookEventRepository.
type WebhookEventRepo struct{}

// NewWebhookEventRepo creates a new WebhookEventRepo.
func NewWebhookEventRepo() *WebhookEventRepo {
	return &WebhookEventRepo{}
}

// Insert stores an event before any side effect is applied. It returns
// false if the (processor_kind, event_id) pair is already stored.
func (r *WebhookEventRepo) Insert(ctx context.Context, tx pgx.Tx, e *domain.WebhookEvent) (bool, error) {
	query := `INSERT INTO webhook_events
		(id, processor_kind, event_id, event_type, signature, payload, outcome, reason, payout_id, delivery_count, received_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (processor_kind, event_id) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		e.ID, e.ProcessorKind, e.EventID, e.EventType, e.Signature, e.Payload,
		e.Outcome, e.Reason, e.PayoutID, e.DeliveryCount, e.ReceivedAt, e.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordRedelivery increments delivery_count of a stored event and returns it.
func (r *WebhookEventRepo) RecordRedelivery(ctx context.Context, tx pgx.Tx, kind domain.ProcessorKind, eventID string) (*domain.WebhookEvent, error) {
	query := `UPDATE webhook_events SET delivery_count = delivery_count + 1
		WHERE processor_kind = $1 AND event_id = $2
		RETURNING id, processor_kind, event_id, event_type, outcome, reason, payout_id, delivery_count, received_at, processed_at`

	e := &domain.WebhookEvent{}
	err := tx.QueryRow(ctx, query, kind, eventID).Scan(
		&e.ID, &e.ProcessorKind, &e.EventID, &e.EventType, &e.Outcome, &e.Reason,
		&e.PayoutID, &e.DeliveryCount, &e.ReceivedAt, &e.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("record webhook redelivery: %w", err)
	}
	return e, nil
}

// MarkProcessed stores the processing outcome of an event.
func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, e *domain.WebhookEvent) error {
	query := `UPDATE webhook_events SET outcome = $1, reason = $2, payout_id = $3, processed_at = $4 WHERE id = $5`

	tag, err := tx.Exec(ctx, query, e.Outcome, e.Reason, e.PayoutID, e.ProcessedAt, e.ID)
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook event not found: %s", e.ID)
	}
	return nil
}
