package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const payoutColumns = `id, reference, vendor_id, payout_account_id, processor_kind, amount, fee_amount, net_amount,
		currency, state, transfer_id, idempotency_key, reservation_id, failure_reason, submit_attempts, source,
		created_at, updated_at, submitted_at, completed_at`

// PayoutRepo implements ports.PayoutRepository.
type PayoutRepo struct {
	pool Pool
}

// NewPayoutRepo creates a new PayoutRepo.
func NewPayoutRepo(pool Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

// Create inserts a new payout request. It returns false, without error, if
// another request already owns the idempotency key; a concurrent insert of
// the same key blocks until the first transaction finishes.
func (r *PayoutRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) (bool, error) {
	query := `INSERT INTO payout_requests (` + payoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (idempotency_key) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		p.ID, p.Reference, p.VendorID, p.PayoutAccountID, p.ProcessorKind,
		p.Amount, p.FeeAmount, p.NetAmount, p.Currency, p.State,
		p.TransferID, p.IdempotencyKey, p.ReservationID, p.FailureReason, p.SubmitAttempts, p.Source,
		p.CreatedAt, p.UpdatedAt, p.SubmittedAt, p.CompletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert payout request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID fetches a payout request by UUID.
func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE id = $1`

	return r.scanPayout(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a payout request with pessimistic locking.
// This MUST be called within a transaction.
func (r *PayoutRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE id = $1 FOR UPDATE`

	return r.scanPayout(tx.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey fetches a payout request by its idempotency key.
func (r *PayoutRepo) GetByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE idempotency_key = $1`

	return r.scanPayout(tx.QueryRow(ctx, query, key))
}

// GetByTransferIDForUpdate locks the payout a processor transfer belongs to.
func (r *PayoutRepo) GetByTransferIDForUpdate(ctx context.Context, tx pgx.Tx, kind domain.ProcessorKind, transferID string) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests
		WHERE processor_kind = $1 AND transfer_id = $2 FOR UPDATE`

	return r.scanPayout(tx.QueryRow(ctx, query, kind, transferID))
}

// GetByReferenceForUpdate locks a payout by its reference number.
func (r *PayoutRepo) GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE reference = $1 FOR UPDATE`

	return r.scanPayout(tx.QueryRow(ctx, query, reference))
}

// Update writes the mutable fields of a payout request.
func (r *PayoutRepo) Update(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) error {
	query := `UPDATE payout_requests
		SET state = $1, transfer_id = $2, reservation_id = $3, failure_reason = $4, submit_attempts = $5,
			updated_at = $6, submitted_at = $7, completed_at = $8
		WHERE id = $9`

	tag, err := tx.Exec(ctx, query,
		p.State, p.TransferID, p.ReservationID, p.FailureReason, p.SubmitAttempts,
		p.UpdatedAt, p.SubmittedAt, p.CompletedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update payout request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout request not found: %s", p.ID)
	}
	return nil
}

// List fetches payout requests with filtering and pagination.
func (r *PayoutRepo) List(ctx context.Context, params ports.PayoutListParams) ([]domain.PayoutRequest, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.VendorID != nil {
		conditions = append(conditions, fmt.Sprintf("vendor_id = $%d", argIdx))
		args = append(args, *params.VendorID)
		argIdx++
	}
	if params.State != nil {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, *params.State)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM payout_requests %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payout requests: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM payout_requests %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		payoutColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	payouts, err := r.queryPayouts(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return payouts, total, nil
}

// ListStale returns requests stuck in state since before olderThan.
func (r *PayoutRepo) ListStale(ctx context.Context, state domain.PayoutState, olderThan time.Time, limit int) ([]domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests
		WHERE state = $1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`

	return r.queryPayouts(ctx, query, state, olderThan, limit)
}

func (r *PayoutRepo) queryPayouts(ctx context.Context, query string, args ...any) ([]domain.PayoutRequest, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payout requests: %w", err)
	}
	defer rows.Close()

	var payouts []domain.PayoutRequest
	for rows.Next() {
		var p domain.PayoutRequest
		if err := rows.Scan(payoutDest(&p)...); err != nil {
			return nil, fmt.Errorf("scan payout row: %w", err)
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payout rows: %w", err)
	}
	return payouts, nil
}

// scanPayout is a helper to scan a single row into a PayoutRequest.
func (r *PayoutRepo) scanPayout(row pgx.Row) (*domain.PayoutRequest, error) {
	p := &domain.PayoutRequest{}
	if err := row.Scan(payoutDest(p)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payout request: %w", err)
	}
	return p, nil
}

func payoutDest(p *domain.PayoutRequest) []any {
	return []any{
		&p.ID, &p.Reference, &p.VendorID, &p.PayoutAccountID, &p.ProcessorKind,
		&p.Amount, &p.FeeAmount, &p.NetAmount, &p.Currency, &p.State,
		&p.TransferID, &p.IdempotencyKey, &p.ReservationID, &p.FailureReason, &p.SubmitAttempts, &p.Source,
		&p.CreatedAt, &p.UpdatedAt, &p.SubmittedAt, &p.CompletedAt,
	}
}
