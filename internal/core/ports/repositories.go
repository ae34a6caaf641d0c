package ports

import (
	"context"
	"time"

	"vendor-payouts/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Lookups return (nil, nil) when the row does not exist.
// Methods accepting pgx.Tx run inside the caller's transaction; *ForUpdate
// variants take a row lock held until the transaction ends.

// BalanceRepository persists vendor balances.
type BalanceRepository interface {
	Get(ctx context.Context, vendorID uuid.UUID) (*domain.VendorBalance, error)
	// EnsureExists creates a zero balance row if none exists.
	EnsureExists(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, currency string) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.VendorBalance, error)
	Update(ctx context.Context, tx pgx.Tx, balance *domain.VendorBalance) error
}

// ReservationRepository persists holds on available funds.
type ReservationRepository interface {
	Create(ctx context.Context, tx pgx.Tx, r *domain.Reservation) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Reservation, error)
	UpdateState(ctx context.Context, tx pgx.Tx, id uuid.UUID, state domain.ReservationState) error
}

// CreditRepository persists the per-source-reference credit records.
type CreditRepository interface {
	// Insert returns false if a credit with the same source reference exists.
	Insert(ctx context.Context, tx pgx.Tx, c *domain.BalanceCredit) (bool, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, sourceRef string) (*domain.BalanceCredit, error)
	UpdateState(ctx context.Context, tx pgx.Tx, sourceRef string, state domain.CreditState) error
}

// PayoutRepository persists payout requests.
type PayoutRepository interface {
	// Create returns false if the idempotency key is already taken.
	Create(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PayoutRequest, error)
	GetByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (*domain.PayoutRequest, error)
	GetByTransferIDForUpdate(ctx context.Context, tx pgx.Tx, kind domain.ProcessorKind, transferID string) (*domain.PayoutRequest, error)
	GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.PayoutRequest, error)
	// Update writes the mutable fields: state, transfer id, reservation,
	// failure reason, submit attempts and the lifecycle timestamps.
	Update(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) error
	List(ctx context.Context, params PayoutListParams) ([]domain.PayoutRequest, int64, error)
	// ListStale returns requests in state whose updated_at is before olderThan, oldest first.
	ListStale(ctx context.Context, state domain.PayoutState, olderThan time.Time, limit int) ([]domain.PayoutRequest, error)
}

// PayoutListParams holds filter + pagination for listing payouts.
type PayoutListParams struct {
	VendorID *uuid.UUID
	State    *domain.PayoutState
	Page     int
	PageSize int
}

// TransitionRepository persists the payout state history.
type TransitionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, t *domain.PayoutTransition) error
	ListByPayout(ctx context.Context, payoutID uuid.UUID) ([]domain.PayoutTransition, error)
}

// WebhookEventRepository persists inbound processor events.
type WebhookEventRepository interface {
	// Insert returns false if (processor kind, event id) already exists.
	Insert(ctx context.Context, tx pgx.Tx, e *domain.WebhookEvent) (bool, error)
	// RecordRedelivery bumps delivery_count of an existing event and returns it.
	RecordRedelivery(ctx context.Context, tx pgx.Tx, kind domain.ProcessorKind, eventID string) (*domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, e *domain.WebhookEvent) error
}

// PayoutAccountRepository reads payout accounts owned by the vendor profile
// service. The payout core only writes their verification outcome.
type PayoutAccountRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutAccount, error)
	GetPrimary(ctx context.Context, vendorID uuid.UUID) (*domain.PayoutAccount, error)
	// ListUnverified returns accounts never checked with their processor, oldest first.
	ListUnverified(ctx context.Context, limit int) ([]domain.PayoutAccount, error)
	// UpdateVerification records v if the account is still in expected.
	// Returns false if it changed concurrently.
	UpdateVerification(ctx context.Context, id uuid.UUID, expected domain.VerificationStatus, v domain.AccountVerification, at time.Time) (bool, error)
}

// VendorProfileRepository reads vendor settings owned by the vendor profile service.
type VendorProfileRepository interface {
	Get(ctx context.Context, vendorID uuid.UUID) (*domain.VendorProfile, error)
}

// ScheduleRepository persists payout schedules.
type ScheduleRepository interface {
	Get(ctx context.Context, vendorID uuid.UUID) (*domain.PayoutSchedule, error)
	Upsert(ctx context.Context, s *domain.PayoutSchedule) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.PayoutSchedule, error)
	// Advance moves next_payout_date from expected to next. Returns false if
	// another run already advanced it.
	Advance(ctx context.Context, vendorID uuid.UUID, expected time.Time, next *time.Time, processedAt time.Time) (bool, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
