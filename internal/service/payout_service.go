package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"
	"vendor-payouts/pkg/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const idempotencyTTL = 24 * time.Hour

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PayoutSettings configure the payout state machine.
type PayoutSettings struct {
	Currency      string
	MinAmount     int64
	FeeSchedules  map[domain.ProcessorKind]domain.FeeSchedule
	SubmitTimeout time.Duration
}

// PayoutServiceImpl implements ports.PayoutService.
//
// Every transition locks the payout_requests row FOR UPDATE and re-reads the
// state before acting, so concurrent drivers of the same request serialize
// and a transition that already happened is a no-op.
type PayoutServiceImpl struct {
	payoutRepo     ports.PayoutRepository
	transitionRepo ports.TransitionRepository
	accountRepo    ports.PayoutAccountRepository
	balances       ports.BalanceService
	processors     map[domain.ProcessorKind]ports.ProcessorAdapter
	idempCache     ports.IdempotencyCache
	transactor     ports.DBTransactor
	settings       PayoutSettings
	log            zerolog.Logger
}

// NewPayoutService creates a new PayoutServiceImpl.
func NewPayoutService(
	payoutRepo ports.PayoutRepository,
	transitionRepo ports.TransitionRepository,
	accountRepo ports.PayoutAccountRepository,
	balances ports.BalanceService,
	processors map[domain.ProcessorKind]ports.ProcessorAdapter,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	settings PayoutSettings,
	log zerolog.Logger,
) *PayoutServiceImpl {
	if settings.SubmitTimeout <= 0 {
		settings.SubmitTimeout = 15 * time.Second
	}
	return &PayoutServiceImpl{
		payoutRepo:     payoutRepo,
		transitionRepo: transitionRepo,
		accountRepo:    accountRepo,
		balances:       balances,
		processors:     processors,
		idempCache:     idempCache,
		transactor:     transactor,
		settings:       settings,
		log:            log,
	}
}

// Create handles a vendor payout request: validate, reserve the amount and
// persist the request as RESERVED in one transaction, then submit it.
//
// A reused idempotency key returns the prior request together with a
// DuplicateRequest error carrying it. A rejected reservation persists nothing.
func (s *PayoutServiceImpl) Create(ctx context.Context, req ports.CreatePayoutRequest) (*domain.PayoutRequest, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.Amount < s.settings.MinAmount {
		return nil, apperror.ErrBelowMinimumPayout(s.settings.MinAmount)
	}
	if req.IdempotencyKey == "" {
		return nil, apperror.Validation("idempotency_key is required")
	}
	if !req.Identity.CanAccessVendor(req.VendorID) {
		return nil, apperror.ErrForbidden()
	}

	idempKey := domain.BuildIdempotencyKey(req.VendorID, req.IdempotencyKey)

	// Layer 1: Redis idempotency check
	if prior := s.cachedPayout(ctx, idempKey); prior != nil {
		return prior, apperror.ErrDuplicateRequest().WithData(prior)
	}

	account, err := s.accountRepo.GetByID(ctx, req.PayoutAccountID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payout account: %w", err))
	}
	if account == nil || account.VendorID != req.VendorID {
		return nil, apperror.ErrNotFound("Payout account")
	}
	if !account.IsVerified() {
		return nil, apperror.ErrAccountUnverified()
	}

	p, err := s.newPayout(req.VendorID, account, req.Amount, idempKey, domain.PayoutSourceAPI)
	if err != nil {
		return nil, err
	}

	// Layer 2: the unique idempotency index, inside the reserving transaction
	prior, err := s.createReserved(ctx, p, req.Identity.Actor())
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return prior, apperror.ErrDuplicateRequest().WithData(prior)
	}

	s.cachePayout(ctx, p)

	submitted, err := s.Submit(ctx, p.ID)
	if err != nil {
		if submitted != nil && submitted.State == domain.PayoutStateFailed {
			return nil, withPayout(err, submitted)
		}
		// Transient: the request stays RESERVED and the scheduler retries it.
		s.log.Warn().Err(err).Str("payout_id", p.ID.String()).Msg("payout submit deferred")
		if submitted != nil {
			return submitted, nil
		}
		return p, nil
	}
	return submitted, nil
}

// CreateScheduled persists a CREATED request under a deterministic key.
// It returns false with the existing request if the key was already used.
func (s *PayoutServiceImpl) CreateScheduled(ctx context.Context, req ports.ScheduledPayoutRequest) (*domain.PayoutRequest, bool, error) {
	if req.Amount <= 0 {
		return nil, false, apperror.ErrInvalidAmount()
	}
	if req.Account == nil || req.Account.VendorID != req.VendorID {
		return nil, false, apperror.ErrNotFound("Payout account")
	}
	if !req.Account.IsVerified() {
		return nil, false, apperror.ErrAccountUnverified()
	}

	p, err := s.newPayout(req.VendorID, req.Account, req.Amount, req.IdempotencyKey, domain.PayoutSourceScheduler)
	if err != nil {
		return nil, false, err
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, false, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	inserted, err := s.payoutRepo.Create(ctx, dbTx, p)
	if err != nil {
		return nil, false, apperror.ErrDatabaseError(fmt.Errorf("create payout: %w", err))
	}
	if !inserted {
		existing, err := s.existingByKey(ctx, dbTx, p.IdempotencyKey)
		return existing, false, err
	}
	if err := s.recordInitial(ctx, dbTx, p, domain.ActorScheduler); err != nil {
		return nil, false, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, false, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return p, true, nil
}

// ReserveCreated drives CREATED → RESERVED, or CREATED → FAILED when the
// balance cannot cover the request.
func (s *PayoutServiceImpl) ReserveCreated(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	p, err := s.lockPayout(ctx, dbTx, id)
	if err != nil {
		return nil, err
	}
	if p.State != domain.PayoutStateCreated {
		return p, nil
	}

	resID, err := s.balances.Reserve(ctx, dbTx, p.VendorID, p.ID, p.Amount)
	switch {
	case apperror.HasCode(err, apperror.CodeInsufficientFunds):
		reason := domain.FailureInsufficientBalance
		p.FailureReason = &reason
		if err := s.transition(ctx, dbTx, p, domain.PayoutStateFailed, domain.ActorScheduler, &reason); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		p.ReservationID = &resID
		if err := s.transition(ctx, dbTx, p, domain.PayoutStateReserved, domain.ActorScheduler, nil); err != nil {
			return nil, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return p, nil
}

// Submit hands a RESERVED request to its processor with a single bounded
// attempt. The row lock is held across the call, so a request is never
// submitted twice concurrently.
//
//   - accepted: SUBMITTED with the transfer id
//   - timed out: SUBMITTED without a transfer id, resolved later by webhook
//     or polling
//   - unavailable: stays RESERVED; the returned error is transient
//   - permanently rejected: FAILED and the reservation is released
func (s *PayoutServiceImpl) Submit(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	// Once the processor has been called the outcome must be recorded even
	// if the caller goes away.
	dbCtx := context.WithoutCancel(ctx)

	dbTx, err := s.transactor.Begin(dbCtx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(dbCtx) //nolint:errcheck

	p, err := s.lockPayout(dbCtx, dbTx, id)
	if err != nil {
		return nil, err
	}
	if p.State != domain.PayoutStateReserved {
		return p, nil
	}

	adapter, err := s.adapter(p.ProcessorKind)
	if err != nil {
		return nil, err
	}

	account, err := s.accountRepo.GetByID(dbCtx, p.PayoutAccountID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payout account: %w", err))
	}
	if account == nil {
		callErr := apperror.ErrAccountInvalid("payout account no longer exists")
		if err := s.fail(dbCtx, dbTx, p, domain.FailureAccountInvalid, domain.ActorScheduler); err != nil {
			return nil, err
		}
		if err := dbTx.Commit(dbCtx); err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
		}
		return p, callErr
	}

	p.SubmitAttempts++
	callCtx, cancel := context.WithTimeout(ctx, s.settings.SubmitTimeout)
	transferID, callErr := adapter.InitiateTransfer(callCtx, domain.TransferRequest{
		Destination:    account.AccountToken,
		Amount:         p.NetAmount,
		Currency:       p.Currency,
		IdempotencyKey: p.IdempotencyKey,
		Reference:      p.Reference,
	})
	cancel()

	now := time.Now().UTC()
	var result error

	switch code := apperror.CodeOf(callErr); {
	case callErr == nil:
		p.TransferID = &transferID
		p.SubmittedAt = &now
		if err := s.transition(dbCtx, dbTx, p, domain.PayoutStateSubmitted, domain.ActorScheduler, nil); err != nil {
			return nil, err
		}
	case code == apperror.CodeProcessorTimeout:
		reason := domain.FailureProcessorTimeout
		p.SubmittedAt = &now
		if err := s.transition(dbCtx, dbTx, p, domain.PayoutStateSubmitted, domain.ActorScheduler, &reason); err != nil {
			return nil, err
		}
		s.log.Warn().Err(callErr).Str("payout_id", p.ID.String()).Msg("transfer outcome unknown, awaiting reconciliation")
	case code == apperror.CodeAccountInvalid || code == apperror.CodeAmountRejected:
		reason := domain.FailureAccountInvalid
		if code == apperror.CodeAmountRejected {
			reason = domain.FailureAmountRejected
		}
		if err := s.fail(dbCtx, dbTx, p, reason, domain.ActorScheduler); err != nil {
			return nil, err
		}
		result = callErr
	default:
		p.UpdatedAt = now
		if err := s.payoutRepo.Update(dbCtx, dbTx, p); err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("update payout: %w", err))
		}
		result = callErr
		if code == "" {
			result = apperror.ErrProcessorUnavailable(callErr)
		}
	}

	if err := dbTx.Commit(dbCtx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("payout_id", p.ID.String()).
		Str("processor", string(p.ProcessorKind)).
		Str("state", string(p.State)).
		Int("attempt", p.SubmitAttempts).
		AnErr("processor_error", callErr).
		Msg("payout submit attempted")
	return p, result
}

// ApplyOutcome applies a terminal processor outcome to a locked SUBMITTED
// request inside tx. It returns false when there is nothing to apply: the
// request is not SUBMITTED or the status is not terminal.
func (s *PayoutServiceImpl) ApplyOutcome(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest, status domain.TransferStatus, reason, actor string) (bool, error) {
	if p.State != domain.PayoutStateSubmitted {
		return false, nil
	}

	switch status {
	case domain.TransferSucceeded:
		if p.ReservationID == nil {
			return false, apperror.InternalError(fmt.Errorf("submitted payout %s has no reservation", p.ID))
		}
		if err := s.balances.Settle(ctx, tx, *p.ReservationID); err != nil {
			return false, err
		}
		if err := s.transition(ctx, tx, p, domain.PayoutStateSucceeded, actor, nil); err != nil {
			return false, err
		}
	case domain.TransferFailed:
		if reason == "" {
			reason = domain.FailureProcessorReported
		}
		if err := s.fail(ctx, tx, p, reason, actor); err != nil {
			return false, err
		}
	default:
		return false, nil
	}
	return true, nil
}

// Resolve applies a processor outcome in its own transaction.
func (s *PayoutServiceImpl) Resolve(ctx context.Context, id uuid.UUID, status domain.TransferStatus, reason, actor string) (*domain.PayoutRequest, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	p, err := s.lockPayout(ctx, dbTx, id)
	if err != nil {
		return nil, err
	}
	applied, err := s.ApplyOutcome(ctx, dbTx, p, status, reason, actor)
	if err != nil {
		return nil, err
	}
	if !applied {
		return p, nil
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return p, nil
}

// RecoverTransfer learns the transfer id of a SUBMITTED request whose
// submit timed out, by repeating the transfer under the same idempotency
// key. The processor returns the original transfer rather than a new one.
func (s *PayoutServiceImpl) RecoverTransfer(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	dbCtx := context.WithoutCancel(ctx)

	dbTx, err := s.transactor.Begin(dbCtx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(dbCtx) //nolint:errcheck

	p, err := s.lockPayout(dbCtx, dbTx, id)
	if err != nil {
		return nil, err
	}
	if p.State != domain.PayoutStateSubmitted || p.HasTransferID() {
		return p, nil
	}

	adapter, err := s.adapter(p.ProcessorKind)
	if err != nil {
		return nil, err
	}
	account, err := s.accountRepo.GetByID(dbCtx, p.PayoutAccountID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payout account: %w", err))
	}
	if account == nil {
		return p, apperror.ErrAccountInvalid("payout account no longer exists")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.settings.SubmitTimeout)
	transferID, err := adapter.InitiateTransfer(callCtx, domain.TransferRequest{
		Destination:    account.AccountToken,
		Amount:         p.NetAmount,
		Currency:       p.Currency,
		IdempotencyKey: p.IdempotencyKey,
		Reference:      p.Reference,
	})
	cancel()
	if err != nil {
		return p, err
	}

	p.TransferID = &transferID
	p.UpdatedAt = time.Now().UTC()
	if err := s.payoutRepo.Update(dbCtx, dbTx, p); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update payout: %w", err))
	}
	if err := dbTx.Commit(dbCtx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("payout_id", p.ID.String()).
		Str("transfer_id", transferID).
		Msg("transfer id recovered")
	return p, nil
}

// Cancel moves a CREATED or RESERVED request to CANCELLED, releasing its
// reservation. Vendors may only cancel their own requests.
func (s *PayoutServiceImpl) Cancel(ctx context.Context, id uuid.UUID, who domain.Identity) (*domain.PayoutRequest, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	p, err := s.lockPayout(ctx, dbTx, id)
	if err != nil {
		return nil, err
	}
	if !who.CanAccessVendor(p.VendorID) {
		return nil, apperror.ErrNotFound("Payout")
	}
	if p.State == domain.PayoutStateCancelled {
		return p, nil
	}
	if !p.IsCancellable() {
		return nil, apperror.ErrInvalidStateTransition(string(p.State), string(domain.PayoutStateCancelled))
	}

	if p.ReservationID != nil {
		if err := s.balances.Release(ctx, dbTx, *p.ReservationID); err != nil {
			return nil, err
		}
	}
	if err := s.transition(ctx, dbTx, p, domain.PayoutStateCancelled, who.Actor(), nil); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return p, nil
}

// Get fetches a payout request visible to who.
func (s *PayoutServiceImpl) Get(ctx context.Context, id uuid.UUID, who domain.Identity) (*domain.PayoutRequest, error) {
	p, err := s.payoutRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payout: %w", err))
	}
	if p == nil || !who.CanAccessVendor(p.VendorID) {
		return nil, apperror.ErrNotFound("Payout")
	}
	return p, nil
}

// List returns a page of payout requests, newest first.
func (s *PayoutServiceImpl) List(ctx context.Context, params ports.PayoutListParams) ([]domain.PayoutRequest, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}
	payouts, total, err := s.payoutRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(fmt.Errorf("list payouts: %w", err))
	}
	return payouts, total, nil
}

// History returns the state transitions of a payout, oldest first.
func (s *PayoutServiceImpl) History(ctx context.Context, id uuid.UUID) ([]domain.PayoutTransition, error) {
	history, err := s.transitionRepo.ListByPayout(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list transitions: %w", err))
	}
	return history, nil
}

// createReserved inserts p, reserves its amount and moves it to RESERVED in
// one transaction. It returns the existing request if p's idempotency key
// is taken.
func (s *PayoutServiceImpl) createReserved(ctx context.Context, p *domain.PayoutRequest, actor string) (*domain.PayoutRequest, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	inserted, err := s.payoutRepo.Create(ctx, dbTx, p)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create payout: %w", err))
	}
	if !inserted {
		return s.existingByKey(ctx, dbTx, p.IdempotencyKey)
	}
	if err := s.recordInitial(ctx, dbTx, p, actor); err != nil {
		return nil, err
	}

	resID, err := s.balances.Reserve(ctx, dbTx, p.VendorID, p.ID, p.Amount)
	if err != nil {
		return nil, err
	}
	p.ReservationID = &resID
	if err := s.transition(ctx, dbTx, p, domain.PayoutStateReserved, actor, nil); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return nil, nil
}

func (s *PayoutServiceImpl) newPayout(vendorID uuid.UUID, account *domain.PayoutAccount, amount int64, idempKey string, source domain.PayoutSource) (*domain.PayoutRequest, error) {
	if _, err := s.adapter(account.ProcessorKind); err != nil {
		return nil, err
	}
	fee, net := domain.ComputeFee(amount, decimal.Zero, s.settings.FeeSchedules[account.ProcessorKind])
	if net <= 0 {
		return nil, apperror.ErrAmountRejected("amount does not cover the processor fee")
	}

	now := time.Now().UTC()
	return &domain.PayoutRequest{
		ID:              uuid.New(),
		Reference:       domain.NewPayoutReference(),
		VendorID:        vendorID,
		PayoutAccountID: account.ID,
		ProcessorKind:   account.ProcessorKind,
		Amount:          amount,
		FeeAmount:       fee,
		NetAmount:       net,
		Currency:        s.settings.Currency,
		State:           domain.PayoutStateCreated,
		IdempotencyKey:  idempKey,
		Source:          source,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (s *PayoutServiceImpl) adapter(kind domain.ProcessorKind) (ports.ProcessorAdapter, error) {
	adapter, ok := s.processors[kind]
	if !ok {
		return nil, apperror.ErrUnsupportedProcessor(string(kind))
	}
	return adapter, nil
}

func (s *PayoutServiceImpl) lockPayout(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PayoutRequest, error) {
	p, err := s.payoutRepo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock payout: %w", err))
	}
	if p == nil {
		return nil, apperror.ErrNotFound("Payout")
	}
	return p, nil
}

func (s *PayoutServiceImpl) existingByKey(ctx context.Context, tx pgx.Tx, key string) (*domain.PayoutRequest, error) {
	existing, err := s.payoutRepo.GetByIdempotencyKey(ctx, tx, key)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payout by idempotency key: %w", err))
	}
	if existing == nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency key %q conflicted but no payout found", key))
	}
	return existing, nil
}

// fail releases p's reservation, if any, and moves it to FAILED.
func (s *PayoutServiceImpl) fail(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest, reason, actor string) error {
	if p.ReservationID != nil {
		if err := s.balances.Release(ctx, tx, *p.ReservationID); err != nil {
			return err
		}
	}
	p.FailureReason = &reason
	return s.transition(ctx, tx, p, domain.PayoutStateFailed, actor, &reason)
}

// transition moves p to state `to`, persists it and appends the history row.
func (s *PayoutServiceImpl) transition(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest, to domain.PayoutState, actor string, reason *string) error {
	from := p.State
	if !from.CanTransitionTo(to) {
		return apperror.ErrInvalidStateTransition(string(from), string(to))
	}

	now := time.Now().UTC()
	p.State = to
	p.UpdatedAt = now
	if to.IsTerminal() {
		p.CompletedAt = &now
	}

	if err := s.payoutRepo.Update(ctx, tx, p); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("update payout: %w", err))
	}
	if err := s.transitionRepo.Create(ctx, tx, &domain.PayoutTransition{
		ID:        uuid.New(),
		PayoutID:  p.ID,
		FromState: from,
		ToState:   to,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: now,
	}); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("record transition: %w", err))
	}

	metrics.PayoutTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.log.Info().
		Str("payout_id", p.ID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor).
		Msg("payout transition")
	return nil
}

func (s *PayoutServiceImpl) recordInitial(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest, actor string) error {
	err := s.transitionRepo.Create(ctx, tx, &domain.PayoutTransition{
		ID:        uuid.New(),
		PayoutID:  p.ID,
		ToState:   p.State,
		Actor:     actor,
		CreatedAt: p.CreatedAt,
	})
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("record transition: %w", err))
	}
	return nil
}

// cachedPayout resolves a cached idempotency key to the current request.
func (s *PayoutServiceImpl) cachedPayout(ctx context.Context, key string) *domain.PayoutRequest {
	cached, err := s.idempCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
		return nil
	}
	if cached == nil {
		return nil
	}

	var ref struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(cached, &ref); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("corrupt idempotency cache entry")
		return nil
	}
	p, err := s.payoutRepo.GetByID(ctx, ref.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cached payout lookup failed, falling through to DB")
		return nil
	}
	return p
}

func (s *PayoutServiceImpl) cachePayout(ctx context.Context, p *domain.PayoutRequest) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.idempCache.Set(ctx, p.IdempotencyKey, raw, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", p.IdempotencyKey).Msg("failed to cache idempotency in redis")
	}
}

// withPayout attaches p to an AppError so the caller sees the failed request.
func withPayout(err error, p *domain.PayoutRequest) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.WithData(p)
	}
	return err
}
