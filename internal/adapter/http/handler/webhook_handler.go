package handler

import (
	"errors"
	"strings"

	"vendor-payouts/internal/adapter/http/dto"
	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"
	"vendor-payouts/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// WebhookHandler receives processor notifications.
type WebhookHandler struct {
	reconciler ports.WebhookReconciler
	log        zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconciler ports.WebhookReconciler, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, log: log}
}

// Receive handles POST /webhooks/:processor. Any verified event, including
// duplicates and events that could not be matched, is acknowledged with 200
// so the processor stops redelivering it. Only transient database failures
// answer 5xx; a deterministic failure would fail the same way on every
// redelivery, so it is logged and acknowledged and the scheduler's status
// reconciliation settles the payout instead.
func (h *WebhookHandler) Receive(c *gin.Context) {
	kind := domain.ProcessorKind(c.Param("processor"))

	raw, err := c.GetRawData()
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	event, err := h.reconciler.Handle(c.Request.Context(), kind, raw, c.Request.Header)
	if err != nil {
		switch {
		case apperror.HasCode(err, apperror.ErrInvalidSignature().Code), apperror.HasCode(err, apperror.CodeUnsupportedProcessor):
			response.Error(c, err)
		case isTransient(err):
			h.log.Error().Err(err).Str("processor", string(kind)).Msg("webhook handling failed, awaiting redelivery")
			response.Error(c, err)
		default:
			h.log.Error().Err(err).Str("processor", string(kind)).Msg("webhook dropped after verification")
			response.OK(c, dto.WebhookAckResponse{Received: true})
		}
		return
	}

	ack := dto.WebhookAckResponse{Received: true}
	if event != nil {
		ack.EventID = event.EventID
		ack.Outcome = string(event.Outcome)
		ack.Reason = event.Reason
	}
	response.OK(c, ack)
}

// isTransient reports whether a redelivery of the same event could succeed.
func isTransient(err error) bool {
	if !apperror.IsRetryable(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Data exceptions (22) and integrity violations (23) repeat.
		return !strings.HasPrefix(pgErr.Code, "22") && !strings.HasPrefix(pgErr.Code, "23")
	}
	return true
}
