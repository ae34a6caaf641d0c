package handler

import (
	"vendor-payouts/internal/adapter/http/dto"
	"vendor-payouts/internal/adapter/http/middleware"
	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"
	"vendor-payouts/pkg/response"

	"github.com/gin-gonic/gin"
)

// BalanceHandler handles the vendor balance and payout schedule endpoints.
type BalanceHandler struct {
	balanceSvc  ports.BalanceService
	scheduleSvc ports.ScheduleService
}

// NewBalanceHandler creates a new BalanceHandler.
func NewBalanceHandler(balanceSvc ports.BalanceService, scheduleSvc ports.ScheduleService) *BalanceHandler {
	return &BalanceHandler{balanceSvc: balanceSvc, scheduleSvc: scheduleSvc}
}

// GetBalance handles GET /api/v1/balance.
func (h *BalanceHandler) GetBalance(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	bal, err := h.balanceSvc.GetBalance(c.Request.Context(), identity.VendorID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{
		Available:    bal.Available,
		Pending:      bal.Pending,
		Reserved:     bal.Reserved,
		TotalEarned:  bal.TotalEarned,
		TotalPaidOut: bal.TotalPaidOut,
		Currency:     bal.Currency,
	})
}

// GetSchedule handles GET /api/v1/payout-schedule.
func (h *BalanceHandler) GetSchedule(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	sched, err := h.scheduleSvc.Get(c.Request.Context(), identity.VendorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toScheduleResponse(sched))
}

// UpdateSchedule handles PUT /api/v1/payout-schedule.
func (h *BalanceHandler) UpdateSchedule(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	sched, err := h.scheduleSvc.Update(c.Request.Context(), ports.UpdateScheduleRequest{
		VendorID:      identity.VendorID,
		ScheduleType:  domain.ScheduleType(req.ScheduleType),
		IsActive:      active,
		AutoProcess:   req.AutoProcess,
		MinimumAmount: req.MinimumAmount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toScheduleResponse(sched))
}

func toScheduleResponse(s *domain.PayoutSchedule) dto.ScheduleResponse {
	return dto.ScheduleResponse{
		ScheduleType:    string(s.ScheduleType),
		IsActive:        s.IsActive,
		AutoProcess:     s.AutoProcess,
		MinimumAmount:   s.MinimumAmount,
		NextPayoutDate:  formatTimePtr(s.NextPayoutDate),
		LastProcessedAt: formatTimePtr(s.LastProcessedAt),
	}
}
