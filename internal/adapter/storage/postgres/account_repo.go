package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vendor-payouts/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, vendor_id, processor_kind, account_token, display_name,
	verification_status, verification_reason, verified_at, is_primary, created_at`

// PayoutAccountRepo implements ports.PayoutAccountRepository over the
// vendor profile service's payout_accounts table.
type PayoutAccountRepo struct {
	pool Pool
}

// NewPayoutAccountRepo creates a new PayoutAccountRepo.
func NewPayoutAccountRepo(pool Pool) *PayoutAccountRepo {
	return &PayoutAccountRepo{pool: pool}
}

// GetByID fetches a payout account by UUID.
func (r *PayoutAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM payout_accounts WHERE id = $1`

	a, err := scanAccount(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get payout account: %w", err)
	}
	return a, nil
}

// GetPrimary fetches the vendor's primary payout account.
func (r *PayoutAccountRepo) GetPrimary(ctx context.Context, vendorID uuid.UUID) (*domain.PayoutAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM payout_accounts WHERE vendor_id = $1 AND is_primary`

	a, err := scanAccount(r.pool.QueryRow(ctx, query, vendorID))
	if err != nil {
		return nil, fmt.Errorf("get primary payout account: %w", err)
	}
	return a, nil
}

// ListUnverified returns the oldest accounts no check has run on yet.
func (r *PayoutAccountRepo) ListUnverified(ctx context.Context, limit int) ([]domain.PayoutAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM payout_accounts
		WHERE verification_status = 'unverified'
		ORDER BY created_at ASC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unverified payout accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.PayoutAccount
	for rows.Next() {
		var a domain.PayoutAccount
		if err := rows.Scan(accountDest(&a)...); err != nil {
			return nil, fmt.Errorf("scan payout account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateVerification records a verdict if the status is still expected.
func (r *PayoutAccountRepo) UpdateVerification(ctx context.Context, id uuid.UUID, expected domain.VerificationStatus, v domain.AccountVerification, at time.Time) (bool, error) {
	next := domain.PayoutAccount{VerificationStatus: expected}
	next.ApplyVerification(v, at)

	query := `UPDATE payout_accounts
		SET verification_status = $1, verification_reason = $2, verified_at = $3
		WHERE id = $4 AND verification_status = $5`

	tag, err := r.pool.Exec(ctx, query, next.VerificationStatus, next.VerificationReason, next.VerifiedAt, id, expected)
	if err != nil {
		return false, fmt.Errorf("update payout account verification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func accountDest(a *domain.PayoutAccount) []any {
	return []any{
		&a.ID, &a.VendorID, &a.ProcessorKind, &a.AccountToken, &a.DisplayName,
		&a.VerificationStatus, &a.VerificationReason, &a.VerifiedAt, &a.IsPrimary, &a.CreatedAt,
	}
}

func scanAccount(row pgx.Row) (*domain.PayoutAccount, error) {
	a := &domain.PayoutAccount{}
	err := row.Scan(accountDest(a)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// VendorProfileRepo implements ports.VendorProfileRepository.
type VendorProfileRepo struct {
	pool Pool
}

// NewVendorProfileRepo creates a new VendorProfileRepo.
func NewVendorProfileRepo(pool Pool) *VendorProfileRepo {
	return &VendorProfileRepo{pool: pool}
}

// Get fetches the payout-relevant vendor settings. The commission rate is
// read as text so that it round-trips through decimal without float loss.
func (r *VendorProfileRepo) Get(ctx context.Context, vendorID uuid.UUID) (*domain.VendorProfile, error) {
	query := `SELECT vendor_id, currency, commission_rate::text FROM vendor_profiles WHERE vendor_id = $1`

	p := &domain.VendorProfile{}
	var rate *string
	err := r.pool.QueryRow(ctx, query, vendorID).Scan(&p.VendorID, &p.Currency, &rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get vendor profile: %w", err)
	}
	if rate != nil {
		d, err := decimal.NewFromString(*rate)
		if err != nil {
			return nil, fmt.Errorf("parse commission rate %q: %w", *rate, err)
		}
		p.CommissionRate = &d
	}
	return p, nil
}
