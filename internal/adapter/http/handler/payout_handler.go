package handler

import (
	"errors"
	"math"
	"strconv"
	"time"

	"vendor-payouts/internal/adapter/http/dto"
	"vendor-payouts/internal/adapter/http/middleware"
	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"
	"vendor-payouts/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey may carry the idempotency key instead of the body.
const HeaderIdempotencyKey = "Idempotency-Key"

// PayoutHandler handles payout request endpoints.
type PayoutHandler struct {
	payoutSvc ports.PayoutService
}

// NewPayoutHandler creates a new PayoutHandler.
func NewPayoutHandler(payoutSvc ports.PayoutService) *PayoutHandler {
	return &PayoutHandler{payoutSvc: payoutSvc}
}

// Create handles POST /api/v1/payouts.
func (h *PayoutHandler) Create(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreatePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader(HeaderIdempotencyKey)
		if key == "" || len(key) > 128 || !dto.IsSafeID(key) {
			response.Error(c, apperror.Validation("idempotency_key is required"))
			return
		}
	}
	accountID, err := uuid.Parse(req.PayoutAccountID)
	if err != nil {
		response.Error(c, apperror.Validation("payout_account_id must be a uuid"))
		return
	}

	p, err := h.payoutSvc.Create(c.Request.Context(), ports.CreatePayoutRequest{
		Identity:        identity,
		VendorID:        identity.VendorID,
		PayoutAccountID: accountID,
		Amount:          req.Amount,
		IdempotencyKey:  key,
	})
	if err != nil {
		payoutError(c, err)
		return
	}
	response.Created(c, toPayoutResponse(p))
}

// List handles GET /api/v1/payouts.
func (h *PayoutHandler) List(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	vendorID := identity.VendorID
	params := ports.PayoutListParams{
		VendorID: &vendorID,
		Page:     page,
		PageSize: pageSize,
	}
	if s := c.Query("state"); s != "" {
		state := domain.PayoutState(s)
		if !state.Valid() {
			response.Error(c, apperror.Validation("unknown state "+strconv.Quote(s)))
			return
		}
		params.State = &state
	}

	payouts, total, err := h.payoutSvc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.PayoutResponse, 0, len(payouts))
	for i := range payouts {
		items = append(items, toPayoutResponse(&payouts[i]))
	}

	response.OK(c, dto.PayoutListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	})
}

// Get handles GET /api/v1/payouts/:id.
func (h *PayoutHandler) Get(c *gin.Context) {
	identity, id, ok := payoutParams(c)
	if !ok {
		return
	}

	p, err := h.payoutSvc.Get(c.Request.Context(), id, identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	history, err := h.payoutSvc.History(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	detail := dto.PayoutDetailResponse{
		PayoutResponse: toPayoutResponse(p),
		History:        make([]dto.TransitionResponse, 0, len(history)),
	}
	for _, t := range history {
		detail.History = append(detail.History, dto.TransitionResponse{
			FromState: string(t.FromState),
			ToState:   string(t.ToState),
			Actor:     t.Actor,
			Reason:    t.Reason,
			CreatedAt: formatTime(t.CreatedAt),
		})
	}
	response.OK(c, detail)
}

// Cancel handles POST /api/v1/payouts/:id/cancel.
func (h *PayoutHandler) Cancel(c *gin.Context) {
	identity, id, ok := payoutParams(c)
	if !ok {
		return
	}

	p, err := h.payoutSvc.Cancel(c.Request.Context(), id, identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toPayoutResponse(p))
}

func payoutParams(c *gin.Context) (domain.Identity, uuid.UUID, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return domain.Identity{}, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("Payout"))
		return domain.Identity{}, uuid.Nil, false
	}
	return identity, id, true
}

// payoutError renders err, converting an attached payout (the prior request
// of a duplicate, or a request that failed on submit) to its response form.
func payoutError(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		if p, ok := appErr.Data.(*domain.PayoutRequest); ok && p != nil {
			err = appErr.WithData(toPayoutResponse(p))
		}
	}
	response.Error(c, err)
}

func toPayoutResponse(p *domain.PayoutRequest) dto.PayoutResponse {
	return dto.PayoutResponse{
		ID:              p.ID.String(),
		Reference:       p.Reference,
		VendorID:        p.VendorID.String(),
		PayoutAccountID: p.PayoutAccountID.String(),
		ProcessorKind:   string(p.ProcessorKind),
		Amount:          p.Amount,
		FeeAmount:       p.FeeAmount,
		NetAmount:       p.NetAmount,
		Currency:        p.Currency,
		State:           string(p.State),
		TransferID:      p.TransferID,
		FailureReason:   p.FailureReason,
		SubmitAttempts:  p.SubmitAttempts,
		Source:          string(p.Source),
		CreatedAt:       formatTime(p.CreatedAt),
		UpdatedAt:       formatTime(p.UpdatedAt),
		SubmittedAt:     formatTimePtr(p.SubmittedAt),
		CompletedAt:     formatTimePtr(p.CompletedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
