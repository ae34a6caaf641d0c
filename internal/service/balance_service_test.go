package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type balanceTestDeps struct {
	svc   *BalanceServiceImpl
	store *memStore
}

func setupBalanceService(t *testing.T) *balanceTestDeps {
	t.Helper()
	store := newMemStore()
	return &balanceTestDeps{
		store: store,
		svc: NewBalanceService(
			memBalanceRepo{store}, memReservationRepo{store}, memCreditRepo{store}, memProfileRepo{store},
			store,
			BalanceSettings{Currency: "USD", DefaultCommissionRate: decimal.RequireFromString("0.10")},
			zerolog.Nop(),
		),
	}
}

// inTx runs fn in a store transaction, committing only if fn succeeds.
func inTx(t *testing.T, store *memStore, fn func(tx pgx.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		require.NoError(t, tx.Rollback(ctx))
		return err
	}
	return tx.Commit(ctx)
}

func (d *balanceTestDeps) reserve(t *testing.T, vendorID uuid.UUID, amount int64) (uuid.UUID, error) {
	t.Helper()
	var resID uuid.UUID
	err := inTx(t, d.store, func(tx pgx.Tx) error {
		var err error
		resID, err = d.svc.Reserve(context.Background(), tx, vendorID, uuid.New(), amount)
		return err
	})
	return resID, err
}

func assertBalanceInvariants(t *testing.T, store *memStore, vendorID uuid.UUID) {
	t.Helper()
	bal := store.balance(vendorID)
	assert.GreaterOrEqual(t, bal.Available, int64(0))
	assert.GreaterOrEqual(t, bal.Pending, int64(0))
	assert.GreaterOrEqual(t, bal.Reserved, int64(0))
	assert.Equal(t, store.activeReservations(vendorID), bal.Reserved, "reserved must equal the sum of active reservations")
}

// ==================== Reserve Tests ====================

func TestBalanceService_Reserve_Success(t *testing.T) {
	d := setupBalanceService(t)
	vendorID := uuid.New()
	d.store.seedBalance(vendorID, 10000)

	resID, err := d.reserve(t, vendorID, 4000)
	require.NoError(t, err)

	bal := d.store.balance(vendorID)
	assert.Equal(t, int64(6000), bal.Available)
	assert.Equal(t, int64(4000), bal.Reserved)

	res := d.store.reservation(resID)
	assert.Equal(t, domain.ReservationActive, res.State)
	assert.Equal(t, int64(4000), res.Amount)
	assertBalanceInvariants(t, d.store, vendorID)
}

func TestBalanceService_Reserve_ExactBalance(t *testing.T) {
	d := setupBalanceService(t)
	vendorID := uuid.New()
	d.store.seedBalance(vendorID, 5000)

	_, err := d.reserve(t, vendorID, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.store.balance(vendorID).Available)
}

func TestBalanceService_Reserve_InsufficientFunds(t *testing.T) {
	d := setupBalanceService(t)
	vendorID := uuid.New()
	d.store.seedBalance(vendorID, 1000)

	_, err := d.reserve(t, vendorID, 1001)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientFunds))

	bal := d.store.balance(vendorID)
	assert.Equal(t, int64(1000), bal.Available)
	assert.Equal(t, int64(0), bal.Reserved)
}

func TestBalanceService_Reserve_UnknownVendor(t *testing.T) {
	d := setupBalanceService(t)

	_, err := d.reserve(t, uuid.New(), 100)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientFunds))
}

func TestBalanceService_Reserve_InvalidAmount(t *testing.T) {
	d := setupBalanceService(t)
	vendorID := uuid.New()
	d.store.seedBalance(vendorID, 1000)

	for _, amount := range []int64{0, -5} {
		_, err := d.reserve(t, vendorID, amount)
		assert.True(t, apperror.HasCode(err, apperror.CodeValidation), "amount %d", amount)
	}
}

func TestBalanceService_Reserve_Concurrent(t *testing.T) {
	d := setupBalanceService(t)
	vendorID := uuid.New()
	d.store.seedBalance(vendorID, 10000)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.reserve(t, vendorID, 1000)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if apperror.HasCode(err, apperror.CodeInsufficientFunds) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 15, rejected)
	bal := d.store.balance(vendorID)
	assert.Equal(t, int64(0), bal.Available)
	assert.Equal(t, int64(10000), bal.Reserved)
	assertBalanceInvariants(t, d.store, vendorID)
}

// Mixed Reserve/Release/Settle/Credit traffic on shared vendors must keep
// every balance consistent with its reservations and credits.
func TestBalanceService_ConcurrentMixedOperations(t *testing.T) {
	d := setupBalanceService(t)
	ctx := context.Background()
	vendors := []uuid.UUID{uuid.New(), uuid.New()}
	for _, v := range vendors {
		d.store.seedBalance(v, 20000)
	}

	var (
		wg      sync.WaitGroup
		poolMu  sync.Mutex
		active  = map[uuid.UUID][]uuid.UUID{}
		pending = map[uuid.UUID][]string{}
		errs    = make(chan error, 1024)
	)
	take := func(vendorID uuid.UUID) (uuid.UUID, bool) {
		poolMu.Lock()
		defer poolMu.Unlock()
		ids := active[vendorID]
		if len(ids) == 0 {
			return uuid.Nil, false
		}
		id := ids[len(ids)-1]
		active[vendorID] = ids[:len(ids)-1]
		return id, true
	}

	const workers, opsPerWorker = 8, 60
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), 42))
			for i := 0; i < opsPerWorker; i++ {
				vendorID := vendors[rng.IntN(len(vendors))]
				var err error
				switch op := rng.IntN(5); op {
				case 0, 1:
					var resID uuid.UUID
					err = inTx(t, d.store, func(tx pgx.Tx) error {
						var err error
						resID, err = d.svc.Reserve(ctx, tx, vendorID, uuid.New(), 1+rng.Int64N(3000))
						return err
					})
					if err == nil {
						poolMu.Lock()
						active[vendorID] = append(active[vendorID], resID)
						poolMu.Unlock()
					} else if apperror.HasCode(err, apperror.CodeInsufficientFunds) {
						err = nil
					}
				case 2:
					resID, ok := take(vendorID)
					if !ok {
						continue
					}
					err = inTx(t, d.store, func(tx pgx.Tx) error {
						if rng.IntN(2) == 0 {
							return d.svc.Release(ctx, tx, resID)
						}
						return d.svc.Settle(ctx, tx, resID)
					})
				case 3:
					ref := fmt.Sprintf("ord-%d-%d", w, i)
					settled := rng.IntN(2) == 0
					net := 1 + rng.Int64N(500)
					err = inTx(t, d.store, func(tx pgx.Tx) error {
						_, err := d.svc.Credit(ctx, tx, ports.CreditRequest{
							VendorID: vendorID, SourceRef: ref, Gross: net + 10, Fee: 10, Net: net, Settled: settled,
						})
						return err
					})
					if err == nil && !settled {
						poolMu.Lock()
						pending[vendorID] = append(pending[vendorID], ref)
						poolMu.Unlock()
					}
				case 4:
					// Promote an earlier pending credit; repeats are no-ops.
					poolMu.Lock()
					refs := pending[vendorID]
					var ref string
					if len(refs) > 0 {
						ref = refs[rng.IntN(len(refs))]
					}
					poolMu.Unlock()
					if ref == "" {
						continue
					}
					err = inTx(t, d.store, func(tx pgx.Tx) error {
						_, err := d.svc.Credit(ctx, tx, ports.CreditRequest{VendorID: vendorID, SourceRef: ref, Settled: true})
						return err
					})
				}
				if err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	for _, v := range vendors {
		bal := d.store.balance(v)
		assertBalanceInvariants(t, d.store, v)
		assert.Equal(t, d.store.pendingCredits(v), bal.Pending, "pending must equal unsettled credits")
		assert.Equal(t, bal.TotalEarned, bal.Available+bal.Reserved+bal.TotalPaidOut, "settled funds are conserved")
	}
}

// ==================== Release / Settle Tests ====================

func TestBalanceService_Release(t *testing.T) {
	d := setupBalanceService(t)
	ctx := context.Background()
	vendorID := uuid.New()
	d.store.seedBalance(vendorID, 10000)

	resID, err := d.reserve(t, vendorID, 4000)
	require.NoError(t, err)

	require.NoError(t, inTx(t, d.store, func(tx pgx.Tx) error { return d.svc.Release(ctx, tx, resID) }))

	bal := d.store.balance(vendorID)
	assert.Equal(t, int64(10000), bal.Available)
	assert.Equal(t, int64(0), bal.Reserved)
	assert.Equal(t, domain.ReservationReleased, d.store.reservation(resID).State)

	// Releasing twice is a no-op.
	require.NoError(t, inTx(t, d.store, func(tx pgx.Tx) error { return d.svc.Release(ctx, tx, resID) }))
	assert.Equal(t, int64(10000), d.store.balance(vendorID).Available)
	assertBalanceInvariants(t, d.store, vendorID)
}

func TestBalanceService_Settle(t *testing.T) {
	d := setupBalanceService(t)
	ctx := context.Background()
	vendorID := uuid.New()
	d.store.seedBalance(vendorID, 10000)

	resID, err := d.reserve(t, vendorID, 4000)
	require.NoError(t, err)

	require.NoError(t, inTx(t, d.store, func(tx pgx.Tx) error { return d.svc.Settle(ctx, tx, resID) }))

	bal := d.store.balance(vendorID)
	assert.Equal(t, int64(6000), bal.Available)
	assert.Equal(t, int64(0), bal.Reserved)
	assert.Equal(t, int64(4000), bal.TotalPaidOut)

	// A settled reservation can neither be released nor settled again.
	require.NoError(t, inTx(t, d.store, func(tx pgx.Tx) error { return d.svc.Release(ctx, tx, resID) }))
	require.NoError(t, inTx(t, d.store, func(tx pgx.Tx) error { return d.svc.Settle(ctx, tx, resID) }))
	bal = d.store.balance(vendorID)
	assert.Equal(t, int64(6000), bal.Available)
	assert.Equal(t, int64(4000), bal.TotalPaidOut)
	assert.Equal(t, domain.ReservationSettled, d.store.reservation(resID).State)
}

func TestBalanceService_Release_NotFound(t *testing.T) {
	d := setupBalanceService(t)

	err := inTx(t, d.store, func(tx pgx.Tx) error {
		return d.svc.Release(context.Background(), tx, uuid.New())
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

// ==================== Credit Tests ====================

func creditReq(vendorID uuid.UUID, ref string, settled bool) ports.CreditRequest {
	return ports.CreditRequest{
		VendorID:  vendorID,
		SourceRef: ref,
		Currency:  "USD",
		Gross:     1000,
		Fee:       100,
		Net:       900,
		Settled:   settled,
	}
}

func (d *balanceTestDeps) credit(t *testing.T, req ports.CreditRequest) (bool, error) {
	t.Helper()
	var applied bool
	err := inTx(t, d.store, func(tx pgx.Tx) error {
		var err error
		applied, err = d.svc.Credit(context.Background(), tx, req)
		return err
	})
	return applied, err
}

func TestBalanceService_Credit_SettledOnce(t *testing.T) {
	d := setupBalanceService(t)
	vendorID := uuid.New()

	applied, err := d.credit(t, creditReq(vendorID, "sale-1", true))
	require.NoError(t, err)
	assert.True(t, applied)

	for i := 0; i < 3; i++ {
		applied, err = d.credit(t, creditReq(vendorID, "sale-1", true))
		require.NoError(t, err)
		assert.False(t, applied)
	}

	bal := d.store.balance(vendorID)
	assert.Equal(t, int64(900), bal.Available)
	assert.Equal(t, int64(900), bal.TotalEarned)
	assert.Equal(t, int64(0), bal.Pending)
	assert.Equal(t, "USD", bal.Currency)
}

func TestBalanceService_Credit_PendingThenSettled(t *testing.T) {
	d := setupBalanceService(t)
	vendorID := uuid.New()

	applied, err := d.credit(t, creditReq(vendorID, "sale-2", false))
	require.NoError(t, err)
	assert.True(t, applied)

	bal := d.store.balance(vendorID)
	assert.Equal(t, int64(900), bal.Pending)
	assert.Equal(t, int64(0), bal.Available)

	// Pending redelivered as pending changes nothing.
	applied, err = d.credit(t, creditReq(vendorID, "sale-2", false))
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = d.credit(t, creditReq(vendorID, "sale-2", true))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = d.credit(t, creditReq(vendorID, "sale-2", true))
	require.NoError(t, err)
	assert.False(t, applied)

	bal = d.store.balance(vendorID)
	assert.Equal(t, int64(0), bal.Pending)
	assert.Equal(t, int64(900), bal.Available)
	assert.Equal(t, int64(900), bal.TotalEarned)
}

func TestBalanceService_Credit_SourceRefOfAnotherVendor(t *testing.T) {
	d := setupBalanceService(t)
	first, second := uuid.New(), uuid.New()

	_, err := d.credit(t, creditReq(first, "sale-3", true))
	require.NoError(t, err)

	applied, err := d.credit(t, creditReq(second, "sale-3", true))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(0), d.store.balance(second).Available)
	assert.Equal(t, int64(900), d.store.balance(first).Available)
}

func TestBalanceService_Credit_Validation(t *testing.T) {
	d := setupBalanceService(t)
	vendorID := uuid.New()

	noRef := creditReq(vendorID, "", true)
	_, err := d.credit(t, noRef)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	mismatch := creditReq(vendorID, "sale-4", true)
	mismatch.Net = 950
	_, err = d.credit(t, mismatch)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, ok := d.store.data.balances[vendorID]
	assert.False(t, ok, "rejected credit must not create a balance row")
}

// ==================== CreditSale Tests ====================

func TestBalanceService_CreditSale_Commission(t *testing.T) {
	d := setupBalanceService(t)
	ctx := context.Background()
	custom, standard := uuid.New(), uuid.New()
	rate := decimal.RequireFromString("0.08")
	d.store.profiles[custom] = domain.VendorProfile{VendorID: custom, Currency: "USD", CommissionRate: &rate}

	applied, err := d.svc.CreditSale(ctx, domain.SaleEvent{SourceRef: "ord-1", VendorID: custom, GrossAmount: 10000, Settled: true})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(9200), d.store.balance(custom).Available)

	applied, err = d.svc.CreditSale(ctx, domain.SaleEvent{SourceRef: "ord-2", VendorID: standard, GrossAmount: 10000, Currency: "USD", Settled: true})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(9000), d.store.balance(standard).Available)

	credit := d.store.data.credits["ord-2"]
	assert.Equal(t, int64(10000), credit.Gross)
	assert.Equal(t, int64(1000), credit.Fee)
	assert.Equal(t, int64(9000), credit.Net)
}

func TestBalanceService_CreditSale_RoundsHalfToEven(t *testing.T) {
	d := setupBalanceService(t)
	vendorID := uuid.New()

	// 125 * 0.10 = 12.5, rounded to 12
	_, err := d.svc.CreditSale(context.Background(), domain.SaleEvent{SourceRef: "ord-3", VendorID: vendorID, GrossAmount: 125, Settled: true})
	require.NoError(t, err)
	assert.Equal(t, int64(113), d.store.balance(vendorID).Available)
}

func TestBalanceService_CreditSale_Replay(t *testing.T) {
	d := setupBalanceService(t)
	vendorID := uuid.New()
	ev := domain.SaleEvent{SourceRef: "ord-4", VendorID: vendorID, GrossAmount: 2000, Settled: true}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.svc.CreditSale(context.Background(), ev)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1800), d.store.balance(vendorID).Available)
}

func TestBalanceService_CreditSale_Invalid(t *testing.T) {
	d := setupBalanceService(t)
	ctx := context.Background()

	_, err := d.svc.CreditSale(ctx, domain.SaleEvent{VendorID: uuid.New(), GrossAmount: 100})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = d.svc.CreditSale(ctx, domain.SaleEvent{SourceRef: "ord-5", VendorID: uuid.New(), GrossAmount: 0})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

// ==================== GetBalance Tests ====================

func TestBalanceService_GetBalance_UnknownVendor(t *testing.T) {
	d := setupBalanceService(t)
	vendorID := uuid.New()

	bal, err := d.svc.GetBalance(context.Background(), vendorID)
	require.NoError(t, err)
	assert.Equal(t, vendorID, bal.VendorID)
	assert.Equal(t, "USD", bal.Currency)
	assert.Zero(t, bal.Available)
}
