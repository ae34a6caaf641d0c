package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vendor-payouts/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const scheduleColumns = `vendor_id, schedule_type, is_active, auto_process, minimum_amount, next_payout_date, last_processed_at, updated_at`

// ScheduleRepo implements ports.ScheduleRepository.
type ScheduleRepo struct {
	pool Pool
}

// NewScheduleRepo creates a new ScheduleRepo.
func NewScheduleRepo(pool Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

// Get fetches a vendor's payout schedule.
func (r *ScheduleRepo) Get(ctx context.Context, vendorID uuid.UUID) (*domain.PayoutSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM payout_schedules WHERE vendor_id = $1`

	s := &domain.PayoutSchedule{}
	err := r.pool.QueryRow(ctx, query, vendorID).Scan(scheduleDest(s)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payout schedule: %w", err)
	}
	return s, nil
}

// Upsert creates or replaces a vendor's payout schedule.
func (r *ScheduleRepo) Upsert(ctx context.Context, s *domain.PayoutSchedule) error {
	query := `INSERT INTO payout_schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (vendor_id) DO UPDATE SET
			schedule_type = EXCLUDED.schedule_type,
			is_active = EXCLUDED.is_active,
			auto_process = EXCLUDED.auto_process,
			minimum_amount = EXCLUDED.minimum_amount,
			next_payout_date = EXCLUDED.next_payout_date,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		s.VendorID, s.ScheduleType, s.IsActive, s.AutoProcess, s.MinimumAmount,
		s.NextPayoutDate, s.LastProcessedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert payout schedule: %w", err)
	}
	return nil
}

// ListDue returns active auto-processing schedules whose payout date has come.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.PayoutSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM payout_schedules
		WHERE is_active AND auto_process AND schedule_type <> 'manual'
			AND next_payout_date IS NOT NULL AND next_payout_date <= $1
		ORDER BY next_payout_date ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.PayoutSchedule
	for rows.Next() {
		var s domain.PayoutSchedule
		if err := rows.Scan(scheduleDest(&s)...); err != nil {
			return nil, fmt.Errorf("scan payout schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// Advance moves the schedule to its next payout date, only if no other run
// has moved it since it was read.
func (r *ScheduleRepo) Advance(ctx context.Context, vendorID uuid.UUID, expected time.Time, next *time.Time, processedAt time.Time) (bool, error) {
	query := `UPDATE payout_schedules
		SET next_payout_date = $1, last_processed_at = $2, updated_at = NOW()
		WHERE vendor_id = $3 AND next_payout_date = $4`

	tag, err := r.pool.Exec(ctx, query, next, processedAt, vendorID, expected)
	if err != nil {
		return false, fmt.Errorf("advance payout schedule: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scheduleDest(s *domain.PayoutSchedule) []any {
	return []any{
		&s.VendorID, &s.ScheduleType, &s.IsActive, &s.AutoProcess, &s.MinimumAmount,
		&s.NextPayoutDate, &s.LastProcessedAt, &s.UpdatedAt,
	}
}
