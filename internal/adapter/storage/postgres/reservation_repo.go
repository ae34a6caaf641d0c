package postgres

import (
	"context"
	"errors"
	"fmt"

	"vendor-payouts/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrReservationExists is returned when a payout already holds a reservation.
var ErrReservationExists = errors.New("payout already has a reservation")

// ReservationRepo implements ports.ReservationRepository.
type ReservationRepo struct{}

// NewReservationRepo creates a new ReservationRepo. Every operation runs in
// the caller's transaction, so it holds no pool.
func NewReservationRepo() *ReservationRepo {
	return &ReservationRepo{}
}

// Create inserts an ACTIVE reservation.
func (r *ReservationRepo) Create(ctx context.Context, tx pgx.Tx, res *domain.Reservation) error {
	query := `INSERT INTO balance_reservations (id, vendor_id, payout_id, amount, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		res.ID, res.VendorID, res.PayoutID, res.Amount, res.State, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrReservationExists
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// GetForUpdate fetches a reservation with pessimistic locking.
func (r *ReservationRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Reservation, error) {
	query := `SELECT id, vendor_id, payout_id, amount, state, created_at, updated_at
		FROM balance_reservations WHERE id = $1 FOR UPDATE`

	res := &domain.Reservation{}
	err := tx.QueryRow(ctx, query, id).Scan(
		&res.ID, &res.VendorID, &res.PayoutID, &res.Amount, &res.State, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation for update: %w", err)
	}
	return res, nil
}

// UpdateState moves a reservation to RELEASED or SETTLED.
func (r *ReservationRepo) UpdateState(ctx context.Context, tx pgx.Tx, id uuid.UUID, state domain.ReservationState) error {
	query := `UPDATE balance_reservations SET state = $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, state, id)
	if err != nil {
		return fmt.Errorf("update reservation state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reservation not found: %s", id)
	}
	return nil
}
