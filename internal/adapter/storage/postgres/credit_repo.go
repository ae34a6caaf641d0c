package postgres

import (
	"context"
	"errors"
	"fmt"

	"vendor-payouts/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// CreditRepo implements ports.CreditRepository.
type CreditRepo struct{}

// NewCreditRepo creates a new CreditRepo.
func NewCreditRepo() *CreditRepo {
	return &CreditRepo{}
}

// Insert records a credit. A concurrent insert of the same source reference
// waits on the primary key and then reports false.
func (r *CreditRepo) Insert(ctx context.Context, tx pgx.Tx, c *domain.BalanceCredit) (bool, error) {
	query := `INSERT INTO balance_credits (source_ref, vendor_id, gross, fee, net, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_ref) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		c.SourceRef, c.VendorID, c.Gross, c.Fee, c.Net, c.State, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert credit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetForUpdate fetches a credit record with pessimistic locking.
func (r *CreditRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, sourceRef string) (*domain.BalanceCredit, error) {
	query := `SELECT source_ref, vendor_id, gross, fee, net, state, created_at, updated_at
		FROM balance_credits WHERE source_ref = $1 FOR UPDATE`

	c := &domain.BalanceCredit{}
	err := tx.QueryRow(ctx, query, sourceRef).Scan(
		&c.SourceRef, &c.VendorID, &c.Gross, &c.Fee, &c.Net, &c.State, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credit for update: %w", err)
	}
	return c, nil
}

// UpdateState promotes a pending credit to settled.
func (r *CreditRepo) UpdateState(ctx context.Context, tx pgx.Tx, sourceRef string, state domain.CreditState) error {
	query := `UPDATE balance_credits SET state = $1, updated_at = NOW() WHERE source_ref = $2`

	tag, err := tx.Exec(ctx, query, state, sourceRef)
	if err != nil {
		return fmt.Errorf("update credit state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credit not found: %s", sourceRef)
	}
	return nil
}
