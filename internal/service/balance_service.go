package service

import (
	"context"
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

// BalanceSettings are the defaults applied when a vendor profile is silent.
type BalanceSettings struct {
	Currency              string
	DefaultCommissionRate decimal.Decimal
}

// BalanceServiceImpl implements ports.BalanceService.
//
// Every mutation locks the vendor_balances row FOR UPDATE inside the
// caller's transaction, so Reserve, Release, Settle and Credit on one vendor
// serialize while different vendors proceed in parallel. Row locks are taken
// in the order reservation/credit, then balance.
type BalanceServiceImpl struct {
	balanceRepo     ports.BalanceRepository
	reservationRepo ports.ReservationRepository
	creditRepo      ports.CreditRepository
	profileRepo     ports.VendorProfileRepository
	transactor      ports.DBTransactor
	settings        BalanceSettings
	log             zerolog.Logger
}

// NewBalanceService creates a new BalanceServiceImpl.
func NewBalanceService(
	balanceRepo ports.BalanceRepository,
	reservationRepo ports.ReservationRepository,
	creditRepo ports.CreditRepository,
	profileRepo ports.VendorProfileRepository,
	transactor ports.DBTransactor,
	settings BalanceSettings,
	log zerolog.Logger,
) *BalanceServiceImpl {
	return &BalanceServiceImpl{
		balanceRepo:     balanceRepo,
		reservationRepo: reservationRepo,
		creditRepo:      creditRepo,
		profileRepo:     profileRepo,
		transactor:      transactor,
		settings:        settings,
		log:             log,
	}
}

// Reserve moves amount from available to reserved and records the hold.
// A vendor without a balance row has nothing to reserve.
func (s *BalanceServiceImpl) Reserve(ctx context.Context, tx pgx.Tx, vendorID, payoutID uuid.UUID, amount int64) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, apperror.ErrInvalidAmount()
	}

	bal, err := s.balanceRepo.GetForUpdate(ctx, tx, vendorID)
	if err != nil {
		observeBalanceOp("reserve", "error")
		return uuid.Nil, apperror.ErrDatabaseError(fmt.Errorf("lock balance: %w", err))
	}
	if bal == nil || bal.Available < amount {
		observeBalanceOp("reserve", "insufficient_funds")
		return uuid.Nil, apperror.ErrInsufficientFunds()
	}

	now := time.Now().UTC()
	res := &domain.Reservation{
		ID:        uuid.New(),
		VendorID:  vendorID,
		PayoutID:  payoutID,
		Amount:    amount,
		State:     domain.ReservationActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.reservationRepo.Create(ctx, tx, res); err != nil {
		observeBalanceOp("reserve", "error")
		return uuid.Nil, apperror.ErrDatabaseError(fmt.Errorf("create reservation: %w", err))
	}

	bal.Available -= amount
	bal.Reserved += amount
	bal.UpdatedAt = now
	if err := s.balanceRepo.Update(ctx, tx, bal); err != nil {
		observeBalanceOp("reserve", "error")
		return uuid.Nil, apperror.ErrDatabaseError(fmt.Errorf("update balance: %w", err))
	}

	observeBalanceOp("reserve", "ok")
	s.log.Debug().
		Str("vendor_id", vendorID.String()).
		Str("reservation_id", res.ID.String()).
		Int64("amount", amount).
		Msg("funds reserved")
	return res.ID, nil
}

// Release returns a reservation's amount to available.
func (s *BalanceServiceImpl) Release(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error {
	return s.finishReservation(ctx, tx, reservationID, domain.ReservationReleased)
}

// Settle turns a reservation into a permanent debit.
func (s *BalanceServiceImpl) Settle(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) error {
	return s.finishReservation(ctx, tx, reservationID, domain.ReservationSettled)
}

func (s *BalanceServiceImpl) finishReservation(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID, to domain.ReservationState) error {
	op := "release"
	if to == domain.ReservationSettled {
		op = "settle"
	}

	res, err := s.reservationRepo.GetForUpdate(ctx, tx, reservationID)
	if err != nil {
		observeBalanceOp(op, "error")
		return apperror.ErrDatabaseError(fmt.Errorf("lock reservation: %w", err))
	}
	if res == nil {
		return apperror.ErrNotFound("Reservation")
	}
	if !res.IsActive() {
		observeBalanceOp(op, "noop")
		return nil
	}

	bal, err := s.balanceRepo.GetForUpdate(ctx, tx, res.VendorID)
	if err != nil {
		observeBalanceOp(op, "error")
		return apperror.ErrDatabaseError(fmt.Errorf("lock balance: %w", err))
	}
	if bal == nil {
		return apperror.InternalError(fmt.Errorf("balance missing for vendor %s with active reservation %s", res.VendorID, res.ID))
	}
	if bal.Reserved < res.Amount {
		return apperror.InternalError(fmt.Errorf("reserved %d below reservation %s amount %d", bal.Reserved, res.ID, res.Amount))
	}

	bal.Reserved -= res.Amount
	if to == domain.ReservationReleased {
		bal.Available += res.Amount
	} else {
		bal.TotalPaidOut += res.Amount
	}
	bal.UpdatedAt = time.Now().UTC()

	if err := s.balanceRepo.Update(ctx, tx, bal); err != nil {
		observeBalanceOp(op, "error")
		return apperror.ErrDatabaseError(fmt.Errorf("update balance: %w", err))
	}
	if err := s.reservationRepo.UpdateState(ctx, tx, res.ID, to); err != nil {
		observeBalanceOp(op, "error")
		return apperror.ErrDatabaseError(fmt.Errorf("update reservation: %w", err))
	}

	observeBalanceOp(op, "ok")
	s.log.Debug().
		Str("vendor_id", res.VendorID.String()).
		Str("reservation_id", res.ID.String()).
		Str("state", string(to)).
		Int64("amount", res.Amount).
		Msg("reservation finished")
	return nil
}

// Credit adds a sale's net amount to the vendor, once per source reference.
// Settled credits land in available, others in pending. A pending credit
// redelivered as settled is promoted exactly once. Returns true if the
// balance changed.
func (s *BalanceServiceImpl) Credit(ctx context.Context, tx pgx.Tx, req ports.CreditRequest) (bool, error) {
	if req.SourceRef == "" {
		return false, apperror.Validation("source_ref is required")
	}
	if req.Net < 0 || req.Fee < 0 || req.Gross != req.Fee+req.Net {
		return false, apperror.Validation("credit amounts must satisfy gross = fee + net")
	}
	currency := req.Currency
	if currency == "" {
		currency = s.settings.Currency
	}

	if err := s.balanceRepo.EnsureExists(ctx, tx, req.VendorID, currency); err != nil {
		observeBalanceOp("credit", "error")
		return false, apperror.ErrDatabaseError(fmt.Errorf("ensure balance: %w", err))
	}

	now := time.Now().UTC()
	state := domain.CreditPending
	if req.Settled {
		state = domain.CreditSettled
	}
	inserted, err := s.creditRepo.Insert(ctx, tx, &domain.BalanceCredit{
		SourceRef: req.SourceRef,
		VendorID:  req.VendorID,
		Gross:     req.Gross,
		Fee:       req.Fee,
		Net:       req.Net,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		observeBalanceOp("credit", "error")
		return false, apperror.ErrDatabaseError(fmt.Errorf("insert credit: %w", err))
	}

	if !inserted {
		return s.promoteCredit(ctx, tx, req)
	}

	bal, err := s.lockCreditBalance(ctx, tx, req.VendorID)
	if err != nil {
		return false, err
	}
	if req.Settled {
		bal.Available += req.Net
		bal.TotalEarned += req.Net
	} else {
		bal.Pending += req.Net
	}
	bal.UpdatedAt = now
	if err := s.balanceRepo.Update(ctx, tx, bal); err != nil {
		observeBalanceOp("credit", "error")
		return false, apperror.ErrDatabaseError(fmt.Errorf("update balance: %w", err))
	}

	observeBalanceOp("credit", "ok")
	return true, nil
}

// promoteCredit handles a redelivered source reference.
func (s *BalanceServiceImpl) promoteCredit(ctx context.Context, tx pgx.Tx, req ports.CreditRequest) (bool, error) {
	existing, err := s.creditRepo.GetForUpdate(ctx, tx, req.SourceRef)
	if err != nil {
		observeBalanceOp("credit", "error")
		return false, apperror.ErrDatabaseError(fmt.Errorf("lock credit: %w", err))
	}
	if existing == nil {
		return false, apperror.InternalError(fmt.Errorf("credit %s vanished after conflict", req.SourceRef))
	}
	if existing.VendorID != req.VendorID {
		s.log.Warn().
			Str("source_ref", req.SourceRef).
			Str("vendor_id", req.VendorID.String()).
			Str("credited_vendor_id", existing.VendorID.String()).
			Msg("source reference already credited to another vendor")
		observeBalanceOp("credit", "duplicate")
		return false, nil
	}
	if !req.Settled || existing.State == domain.CreditSettled {
		observeBalanceOp("credit", "duplicate")
		return false, nil
	}

	bal, err := s.lockCreditBalance(ctx, tx, existing.VendorID)
	if err != nil {
		return false, err
	}
	if bal.Pending < existing.Net {
		return false, apperror.InternalError(fmt.Errorf("pending %d below credit %s net %d", bal.Pending, existing.SourceRef, existing.Net))
	}
	bal.Pending -= existing.Net
	bal.Available += existing.Net
	bal.TotalEarned += existing.Net
	bal.UpdatedAt = time.Now().UTC()
	if err := s.balanceRepo.Update(ctx, tx, bal); err != nil {
		observeBalanceOp("credit", "error")
		return false, apperror.ErrDatabaseError(fmt.Errorf("update balance: %w", err))
	}
	if err := s.creditRepo.UpdateState(ctx, tx, existing.SourceRef, domain.CreditSettled); err != nil {
		observeBalanceOp("credit", "error")
		return false, apperror.ErrDatabaseError(fmt.Errorf("settle credit: %w", err))
	}

	observeBalanceOp("credit", "promoted")
	return true, nil
}

func (s *BalanceServiceImpl) lockCreditBalance(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.VendorBalance, error) {
	bal, err := s.balanceRepo.GetForUpdate(ctx, tx, vendorID)
	if err != nil {
		observeBalanceOp("credit", "error")
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock balance: %w", err))
	}
	if bal == nil {
		return nil, apperror.InternalError(fmt.Errorf("balance missing for vendor %s", vendorID))
	}
	return bal, nil
}

// CreditSale applies the vendor's commission to a sale and credits the net
// amount in its own transaction.
func (s *BalanceServiceImpl) CreditSale(ctx context.Context, ev domain.SaleEvent) (bool, error) {
	if ev.SourceRef == "" || ev.VendorID == uuid.Nil {
		return false, apperror.Validation("sale event requires source_ref and vendor_id")
	}
	if ev.GrossAmount <= 0 {
		return false, apperror.ErrInvalidAmount()
	}

	profile, err := s.profileRepo.Get(ctx, ev.VendorID)
	if err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("get vendor profile: %w", err))
	}
	rate := s.settings.DefaultCommissionRate
	currency := ev.Currency
	if profile != nil {
		rate = profile.EffectiveCommissionRate(rate)
		if currency == "" {
			currency = profile.Currency
		}
	}
	fee, net := domain.ComputeFee(ev.GrossAmount, rate, domain.FeeSchedule{})

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	applied, err := s.Credit(ctx, dbTx, ports.CreditRequest{
		VendorID:  ev.VendorID,
		SourceRef: ev.SourceRef,
		Currency:  currency,
		Gross:     ev.GrossAmount,
		Fee:       fee,
		Net:       net,
		Settled:   ev.Settled,
	})
	if err != nil {
		return false, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("vendor_id", ev.VendorID.String()).
		Str("source_ref", ev.SourceRef).
		Int64("gross", ev.GrossAmount).
		Int64("commission", fee).
		Bool("settled", ev.Settled).
		Bool("applied", applied).
		Msg("sale credited")
	return applied, nil
}

// GetBalance reads a vendor's balance without locking. Unknown vendors
// have a zero balance.
func (s *BalanceServiceImpl) GetBalance(ctx context.Context, vendorID uuid.UUID) (*domain.VendorBalance, error) {
	bal, err := s.balanceRepo.Get(ctx, vendorID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get balance: %w", err))
	}
	if bal == nil {
		return &domain.VendorBalance{VendorID: vendorID, Currency: s.settings.Currency}, nil
	}
	return bal, nil
}

func observeBalanceOp(op, result string) {
	metrics.BalanceOperations.WithLabelValues(op, result).Inc()
}
