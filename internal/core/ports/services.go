package ports

import (
	"context"
	"net/http"
	"time"

	"vendor-payouts/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- Infrastructure Ports ---

// ProcessorAdapter is the uniform capability set of one payment processor.
// Implementations make a single bounded attempt per call and never retry.
type ProcessorAdapter interface {
	Kind() domain.ProcessorKind
	InitiateTransfer(ctx context.Context, req domain.TransferRequest) (string, error)
	QueryStatus(ctx context.Context, transferID string) (domain.TransferStatus, error)
	// VerifyAccount asks whether accountToken can receive payouts. A
	// definitive "no" is a verdict, not an error; errors are transient.
	VerifyAccount(ctx context.Context, accountToken string) (domain.AccountVerification, error)
	// WebhookSignature extracts the signature material from inbound headers.
	WebhookSignature(h http.Header) string
	VerifyWebhookSignature(rawPayload []byte, signatureHeader, secret string) bool
	ParseWebhook(rawPayload []byte) (*domain.ParsedWebhook, error)
}

// TokenService validates tokens minted by the identity service.
type TokenService interface {
	Validate(tokenString string) (*domain.Identity, error)
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached payout JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// JobLock is a cross-instance mutual exclusion for periodic jobs.
type JobLock interface {
	// Acquire returns true if this caller now holds the lock for ttl.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// --- Service Ports (Business Logic) ---

// BalanceService is the Balance Store. Mutations run in the caller's transaction.
type BalanceService interface {
	Reserve(ctx context.Context, tx pgx.Tx, vendorID, payoutID uuid.UUID, amount int64) (uuid.UUID, error)
	Release(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error
	Settle(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error
	Credit(ctx context.Context, tx pgx.Tx, req CreditRequest) (bool, error)
	CreditSale(ctx context.Context, ev domain.SaleEvent) (bool, error)
	GetBalance(ctx context.Context, vendorID uuid.UUID) (*domain.VendorBalance, error)
}

// CreditRequest is a net amount to credit for one sale.
type CreditRequest struct {
	VendorID  uuid.UUID
	SourceRef string
	Currency  string
	Gross     int64
	Fee       int64
	Net       int64
	Settled   bool
}

// PayoutService is the Payout State Machine.
type PayoutService interface {
	Create(ctx context.Context, req CreatePayoutRequest) (*domain.PayoutRequest, error)
	CreateScheduled(ctx context.Context, req ScheduledPayoutRequest) (*domain.PayoutRequest, bool, error)
	ReserveCreated(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error)
	Submit(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error)
	ApplyOutcome(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest, status domain.TransferStatus, reason, actor string) (bool, error)
	Resolve(ctx context.Context, id uuid.UUID, status domain.TransferStatus, reason, actor string) (*domain.PayoutRequest, error)
	RecoverTransfer(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error)
	Cancel(ctx context.Context, id uuid.UUID, who domain.Identity) (*domain.PayoutRequest, error)
	Get(ctx context.Context, id uuid.UUID, who domain.Identity) (*domain.PayoutRequest, error)
	List(ctx context.Context, params PayoutListParams) ([]domain.PayoutRequest, int64, error)
	History(ctx context.Context, id uuid.UUID) ([]domain.PayoutTransition, error)
}

// CreatePayoutRequest holds validated input for a vendor payout request.
type CreatePayoutRequest struct {
	Identity        domain.Identity
	VendorID        uuid.UUID
	PayoutAccountID uuid.UUID
	Amount          int64
	IdempotencyKey  string // client-supplied, scoped to the vendor by the service
}

// ScheduledPayoutRequest holds input for a scheduler-created payout.
type ScheduledPayoutRequest struct {
	VendorID       uuid.UUID
	Account        *domain.PayoutAccount
	Amount         int64
	IdempotencyKey string // deterministic, see domain.BuildAutoPayoutKey
}

// WebhookReconciler applies processor notifications exactly once.
type WebhookReconciler interface {
	Handle(ctx context.Context, kind domain.ProcessorKind, rawPayload []byte, headers http.Header) (*domain.WebhookEvent, error)
}

// AccountService checks payout accounts with their processor.
type AccountService interface {
	Verify(ctx context.Context, accountID uuid.UUID, who domain.Identity) (*domain.PayoutAccount, error)
	// VerifyPending checks up to limit unverified accounts and returns how
	// many got a verdict.
	VerifyPending(ctx context.Context, limit int) (int, error)
}

// ScheduleService manages vendor payout schedules.
type ScheduleService interface {
	Get(ctx context.Context, vendorID uuid.UUID) (*domain.PayoutSchedule, error)
	Update(ctx context.Context, req UpdateScheduleRequest) (*domain.PayoutSchedule, error)
}

// UpdateScheduleRequest holds validated input for a schedule change.
type UpdateScheduleRequest struct {
	VendorID      uuid.UUID
	ScheduleType  domain.ScheduleType
	IsActive      bool
	AutoProcess   bool
	MinimumAmount int64
}
