package postgres

import (
	"context"
	"errors"
	"fmt"

	"vendor-payouts/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const balanceColumns = `vendor_id, currency, available, pending, reserved, total_earned, total_paid_out, updated_at`

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	pool Pool
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// Get fetches a vendor's balance (non-locking read).
func (r *BalanceRepo) Get(ctx context.Context, vendorID uuid.UUID) (*domain.VendorBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM vendor_balances WHERE vendor_id = $1`

	b, err := scanBalance(r.pool.QueryRow(ctx, query, vendorID))
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// EnsureExists inserts a zero balance for the vendor unless one exists.
func (r *BalanceRepo) EnsureExists(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, currency string) error {
	query := `INSERT INTO vendor_balances (vendor_id, currency) VALUES ($1, $2)
		ON CONFLICT (vendor_id) DO NOTHING`

	if _, err := tx.Exec(ctx, query, vendorID, currency); err != nil {
		return fmt.Errorf("ensure balance: %w", err)
	}
	return nil
}

// GetForUpdate fetches a vendor's balance with pessimistic locking.
// This MUST be called within a transaction.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.VendorBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM vendor_balances WHERE vendor_id = $1 FOR UPDATE`

	b, err := scanBalance(tx.QueryRow(ctx, query, vendorID))
	if err != nil {
		return nil, fmt.Errorf("get balance for update: %w", err)
	}
	return b, nil
}

// Update writes all balance counters within a transaction.
func (r *BalanceRepo) Update(ctx context.Context, tx pgx.Tx, b *domain.VendorBalance) error {
	query := `UPDATE vendor_balances
		SET available = $1, pending = $2, reserved = $3, total_earned = $4, total_paid_out = $5, updated_at = NOW()
		WHERE vendor_id = $6`

	tag, err := tx.Exec(ctx, query, b.Available, b.Pending, b.Reserved, b.TotalEarned, b.TotalPaidOut, b.VendorID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("balance not found: %s", b.VendorID)
	}
	return nil
}

func scanBalance(row pgx.Row) (*domain.VendorBalance, error) {
	b := &domain.VendorBalance{}
	err := row.Scan(
		&b.VendorID, &b.Currency, &b.Available, &b.Pending, &b.Reserved,
		&b.TotalEarned, &b.TotalPaidOut, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}
