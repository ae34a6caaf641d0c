package service

import (
	"context"
	"fmt"
	"time"

	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ScheduleServiceImpl implements ports.ScheduleService.
type ScheduleServiceImpl struct {
	repo ports.ScheduleRepository
	log  zerolog.Logger
	now  func() time.Time
}

// NewScheduleService creates a new ScheduleServiceImpl.
func NewScheduleService(repo ports.ScheduleRepository, log zerolog.Logger) *ScheduleServiceImpl {
	return &ScheduleServiceImpl{repo: repo, log: log, now: time.Now}
}

// Get returns the vendor's schedule, or the manual default.
func (s *ScheduleServiceImpl) Get(ctx context.Context, vendorID uuid.UUID) (*domain.PayoutSchedule, error) {
	sched, err := s.repo.Get(ctx, vendorID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get schedule: %w", err))
	}
	if sched == nil {
		return domain.DefaultPayoutSchedule(vendorID), nil
	}
	return sched, nil
}

// Update replaces the vendor's schedule. Changing the schedule type restarts
// the cycle from the next midnight UTC; manual schedules have no payout date.
func (s *ScheduleServiceImpl) Update(ctx context.Context, req ports.UpdateScheduleRequest) (*domain.PayoutSchedule, error) {
	if !req.ScheduleType.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown schedule_type %q", req.ScheduleType))
	}
	if req.MinimumAmount < 0 {
		return nil, apperror.Validation("minimum_amount must not be negative")
	}

	current, err := s.Get(ctx, req.VendorID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	next := current.NextPayoutDate
	if req.ScheduleType != current.ScheduleType || next == nil {
		tomorrow := now.Truncate(24*time.Hour).AddDate(0, 0, 1)
		next = nil
		if req.ScheduleType != domain.ScheduleManual {
			next = &tomorrow
		}
	}

	sched := &domain.PayoutSchedule{
		VendorID:        req.VendorID,
		ScheduleType:    req.ScheduleType,
		IsActive:        req.IsActive,
		AutoProcess:     req.AutoProcess,
		MinimumAmount:   req.MinimumAmount,
		NextPayoutDate:  next,
		LastProcessedAt: current.LastProcessedAt,
		UpdatedAt:       now,
	}
	if err := s.repo.Upsert(ctx, sched); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("save schedule: %w", err))
	}

	s.log.Info().
		Str("vendor_id", req.VendorID.String()).
		Str("schedule_type", string(sched.ScheduleType)).
		Bool("auto_process", sched.AutoProcess).
		Msg("payout schedule updated")
	return sched, nil
}
