package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"
	"vendor-payouts/pkg/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// WebhookReconcilerImpl implements ports.WebhookReconciler.
//
// The webhook_events unique key (processor_kind, event_id) is the only
// dedup boundary. Event insert, payout transition and outcome are written in
// one transaction, so a crash part way through is retried from the insert.
type WebhookReconcilerImpl struct {
	eventRepo  ports.WebhookEventRepository
	payoutRepo ports.PayoutRepository
	payouts    ports.PayoutService
	processors map[domain.ProcessorKind]ports.ProcessorAdapter
	secrets    map[domain.ProcessorKind]string
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewWebhookReconciler creates a new WebhookReconcilerImpl. secrets holds
// the shared webhook secret of each processor kind.
func NewWebhookReconciler(
	eventRepo ports.WebhookEventRepository,
	payoutRepo ports.PayoutRepository,
	payouts ports.PayoutService,
	processors map[domain.ProcessorKind]ports.ProcessorAdapter,
	secrets map[domain.ProcessorKind]string,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *WebhookReconcilerImpl {
	return &WebhookReconcilerImpl{
		eventRepo:  eventRepo,
		payoutRepo: payoutRepo,
		payouts:    payouts,
		processors: processors,
		secrets:    secrets,
		transactor: transactor,
		log:        log,
	}
}

// Handle verifies, stores and applies one inbound notification.
//
// It returns an error only for an unknown processor, a bad signature or an
// infrastructure failure. Unparseable payloads, unknown transfers and
// non-terminal events are accepted and dropped, so processors do not
// redeliver them.
func (r *WebhookReconcilerImpl) Handle(ctx context.Context, kind domain.ProcessorKind, rawPayload []byte, headers http.Header) (*domain.WebhookEvent, error) {
	adapter, ok := r.processors[kind]
	if !ok {
		return nil, apperror.ErrUnsupportedProcessor(string(kind))
	}

	signature := adapter.WebhookSignature(headers)
	secret := r.secrets[kind]
	if secret == "" || !adapter.VerifyWebhookSignature(rawPayload, signature, secret) {
		metrics.WebhookEvents.WithLabelValues(string(kind), "invalid_signature").Inc()
		r.log.Warn().Str("processor", string(kind)).Msg("webhook signature rejected")
		return nil, apperror.ErrInvalidSignature()
	}

	parsed, err := adapter.ParseWebhook(rawPayload)
	if err != nil || parsed.EventID == "" {
		metrics.WebhookEvents.WithLabelValues(string(kind), "malformed").Inc()
		r.log.Warn().Err(err).Str("processor", string(kind)).Msg("dropping unparseable webhook")
		return nil, nil
	}

	event := &domain.WebhookEvent{
		ID:            uuid.New(),
		ProcessorKind: kind,
		EventID:       parsed.EventID,
		EventType:     parsed.EventType,
		Signature:     signature,
		Payload:       rawPayload,
		Outcome:       domain.WebhookOutcomeUnprocessed,
		DeliveryCount: 1,
		ReceivedAt:    time.Now().UTC(),
	}

	dbTx, err := r.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	inserted, err := r.eventRepo.Insert(ctx, dbTx, event)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("store webhook event: %w", err))
	}
	if !inserted {
		return r.redelivered(ctx, dbTx, kind, parsed.EventID)
	}

	p, err := r.findPayout(ctx, dbTx, kind, parsed)
	if err != nil {
		return nil, err
	}

	switch {
	case p == nil:
		reject(event, domain.WebhookReasonUnknownTransfer)
	case !parsed.Status.IsTerminal():
		event.PayoutID = &p.ID
		reject(event, domain.WebhookReasonNonTerminalEvent)
	default:
		event.PayoutID = &p.ID
		applied, err := r.payouts.ApplyOutcome(ctx, dbTx, p, parsed.Status, parsed.FailureReason, domain.ActorWebhook)
		if err != nil {
			return nil, err
		}
		if applied {
			event.Outcome = domain.WebhookOutcomeApplied
		} else {
			reject(event, domain.WebhookReasonAlreadyResolved)
		}
	}

	now := time.Now().UTC()
	event.ProcessedAt = &now
	if err := r.eventRepo.MarkProcessed(ctx, dbTx, event); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("mark webhook event: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	metrics.WebhookEvents.WithLabelValues(string(kind), string(event.Outcome)).Inc()
	logEvent := r.log.Info()
	if event.Outcome == domain.WebhookOutcomeRejected {
		logEvent = r.log.Warn().Str("reason", *event.Reason)
	}
	logEvent.
		Str("processor", string(kind)).
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Str("transfer_id", parsed.TransferID).
		Str("outcome", string(event.Outcome)).
		Msg("webhook processed")
	return event, nil
}

// redelivered counts another delivery of a stored event. The stored outcome
// is left untouched; the returned copy reports the duplicate.
func (r *WebhookReconcilerImpl) redelivered(ctx context.Context, tx pgx.Tx, kind domain.ProcessorKind, eventID string) (*domain.WebhookEvent, error) {
	stored, err := r.eventRepo.RecordRedelivery(ctx, tx, kind, eventID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("record redelivery: %w", err))
	}
	if stored == nil {
		return nil, apperror.InternalError(fmt.Errorf("webhook event %s/%s conflicted but not found", kind, eventID))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	metrics.WebhookEvents.WithLabelValues(string(kind), string(domain.WebhookOutcomeIgnoredDuplicate)).Inc()
	r.log.Info().
		Str("processor", string(kind)).
		Str("event_id", eventID).
		Int("delivery_count", stored.DeliveryCount).
		Str("outcome", string(domain.WebhookOutcomeIgnoredDuplicate)).
		Msg("webhook redelivery ignored")

	dup := *stored
	dup.Outcome = domain.WebhookOutcomeIgnoredDuplicate
	return &dup, nil
}

// findPayout locks the payout an event refers to: by transfer id, else by
// the payout reference echoed back by the processor. A payout found by
// reference learns the transfer id if its submit timed out.
func (r *WebhookReconcilerImpl) findPayout(ctx context.Context, tx pgx.Tx, kind domain.ProcessorKind, parsed *domain.ParsedWebhook) (*domain.PayoutRequest, error) {
	if parsed.TransferID != "" {
		p, err := r.payoutRepo.GetByTransferIDForUpdate(ctx, tx, kind, parsed.TransferID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("find payout by transfer: %w", err))
		}
		if p != nil {
			return p, nil
		}
	}
	if parsed.Reference == "" {
		return nil, nil
	}

	p, err := r.payoutRepo.GetByReferenceForUpdate(ctx, tx, parsed.Reference)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("find payout by reference: %w", err))
	}
	if p == nil || p.ProcessorKind != kind {
		return nil, nil
	}
	if p.HasTransferID() && parsed.TransferID != "" && *p.TransferID != parsed.TransferID {
		// Same reference, different transfer: not ours.
		return nil, nil
	}
	if !p.HasTransferID() && parsed.TransferID != "" && p.State == domain.PayoutStateSubmitted {
		id := parsed.TransferID
		p.TransferID = &id
		p.UpdatedAt = time.Now().UTC()
		if err := r.payoutRepo.Update(ctx, tx, p); err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("record transfer id: %w", err))
		}
	}
	return p, nil
}

func reject(e *domain.WebhookEvent, reason string) {
	e.Outcome = domain.WebhookOutcomeRejected
	e.Reason = &reason
}
