package postgres

import (
	"context"
	"fmt"

	"vendor-payouts/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransitionRepo implements ports.TransitionRepository.
type TransitionRepo struct {
	pool Pool
}

// NewTransitionRepo creates a new TransitionRepo.
func NewTransitionRepo(pool Pool) *TransitionRepo {
	return &TransitionRepo{pool: pool}
}

// Create appends a history entry in the same transaction as the state change.
func (r *TransitionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.PayoutTransition) error {
	query := `INSERT INTO payout_transitions (id, payout_id, from_state, to_state, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var from *domain.PayoutState
	if t.FromState != "" {
		from = &t.FromState
	}

	_, err := tx.Exec(ctx, query, t.ID, t.PayoutID, from, t.ToState, t.Actor, t.Reason, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payout transition: %w", err)
	}
	return nil
}

// ListByPayout returns the history of a payout, oldest first.
func (r *TransitionRepo) ListByPayout(ctx context.Context, payoutID uuid.UUID) ([]domain.PayoutTransition, error) {
	query := `SELECT id, payout_id, COALESCE(from_state, ''), to_state, actor, reason, created_at
		FROM payout_transitions WHERE payout_id = $1 ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, payoutID)
	if err != nil {
		return nil, fmt.Errorf("list payout transitions: %w", err)
	}
	defer rows.Close()

	var history []domain.PayoutTransition
	for rows.Next() {
		var t domain.PayoutTransition
		if err := rows.Scan(&t.ID, &t.PayoutID, &t.FromState, &t.ToState, &t.Actor, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payout transition: %w", err)
		}
		history = append(history, t)
	}
	return history, rows.Err()
}
