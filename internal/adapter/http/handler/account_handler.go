package handler

import (
	"vendor-payouts/internal/adapter/http/dto"
	"vendor-payouts/internal/adapter/http/middleware"
	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"
	"vendor-payouts/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccountHandler handles payout account endpoints.
type AccountHandler struct {
	accountSvc ports.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc ports.AccountService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc}
}

// Verify handles POST /api/v1/payout-accounts/:id/verify. A failed check is
// reported through verification_status with 200.
func (h *AccountHandler) Verify(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("Payout account"))
		return
	}

	acc, err := h.accountSvc.Verify(c.Request.Context(), id, identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toAccountResponse(acc))
}

func toAccountResponse(a *domain.PayoutAccount) dto.PayoutAccountResponse {
	return dto.PayoutAccountResponse{
		ID:                 a.ID.String(),
		ProcessorKind:      string(a.ProcessorKind),
		IsPrimary:          a.IsPrimary,
		VerificationStatus: string(a.VerificationStatus),
		VerificationReason: a.VerificationReason,
		VerifiedAt:         formatTimePtr(a.VerifiedAt),
	}
}
