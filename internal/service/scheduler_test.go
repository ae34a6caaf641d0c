package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/internal/core/ports/mocks"
	"vendor-payouts/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type schedulerTestDeps struct {
	*payoutTestDeps
	scheduler *Scheduler
	lock      *mocks.MockJobLock
}

func setupScheduler(t *testing.T) *schedulerTestDeps {
	t.Helper()
	d := &schedulerTestDeps{payoutTestDeps: setupPayoutService(t)}
	d.lock = mocks.NewMockJobLock(d.ctrl)
	d.scheduler = NewScheduler(
		memScheduleRepo{d.store}, memAccountRepo{d.store}, memPayoutRepo{d.store},
		d.balances, d.svc,
		NewAccountService(memAccountRepo{d.store}, map[domain.ProcessorKind]ports.ProcessorAdapter{domain.ProcessorStripe: d.stripe}, zerolog.Nop()),
		map[domain.ProcessorKind]ports.ProcessorAdapter{domain.ProcessorStripe: d.stripe},
		d.lock,
		SchedulerSettings{
			AutoPayoutInterval: time.Minute,
			ReconcileInterval:  time.Minute,
			LockTTL:            time.Minute,
			MinAmount:          100,
			StaleAfter:         10 * time.Minute,
			ReservedRetryAfter: time.Minute,
			SubmitDeadline:     24 * time.Hour,
		},
		zerolog.Nop(),
	)
	return d
}

func (d *schedulerTestDeps) weeklySchedule(next time.Time, minimum int64) {
	d.store.seedSchedule(domain.PayoutSchedule{
		VendorID:       d.vendorID,
		ScheduleType:   domain.ScheduleWeekly,
		IsActive:       true,
		AutoProcess:    true,
		MinimumAmount:  minimum,
		NextPayoutDate: &next,
	})
}

func (d *schedulerTestDeps) schedule(t *testing.T) domain.PayoutSchedule {
	t.Helper()
	sched, err := memScheduleRepo{d.store}.Get(context.Background(), d.vendorID)
	require.NoError(t, err)
	require.NotNil(t, sched)
	return *sched
}

// ==================== Auto Payout Tests ====================

func TestScheduler_RunAutoPayouts_PaysAvailableBalance(t *testing.T) {
	d := setupScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 12, 0, 30, 0, 0, time.UTC)
	due := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	d.store.seedBalance(d.vendorID, 10000)
	d.weeklySchedule(due, 0)

	d.stripe.EXPECT().InitiateTransfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req domain.TransferRequest) (string, error) {
			assert.Equal(t, domain.BuildAutoPayoutKey(d.vendorID, "2026-W42"), req.IdempotencyKey)
			assert.Equal(t, int64(9975), req.Amount)
			return "tr_auto", nil
		})

	created, err := d.scheduler.RunAutoPayouts(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	bal := d.store.balance(d.vendorID)
	assert.Equal(t, int64(0), bal.Available)
	assert.Equal(t, int64(10000), bal.Reserved)

	sched := d.schedule(t)
	require.NotNil(t, sched.NextPayoutDate)
	assert.Equal(t, due.AddDate(0, 0, 7), *sched.NextPayoutDate)
	require.NotNil(t, sched.LastProcessedAt)

	// Not due again until next week.
	created, err = d.scheduler.RunAutoPayouts(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 1, d.store.payoutCount())
}

func TestScheduler_RunAutoPayouts_OncePerPeriod(t *testing.T) {
	d := setupScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 12, 0, 30, 0, 0, time.UTC)
	due := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	d.store.seedBalance(d.vendorID, 10000)
	d.weeklySchedule(due, 0)
	d.stripe.EXPECT().InitiateTransfer(gomock.Any(), gomock.Any()).Return("tr_auto", nil).Times(1)

	_, err := d.scheduler.RunAutoPayouts(ctx, now)
	require.NoError(t, err)

	// A crashed run that never advanced the schedule is run again.
	d.weeklySchedule(due, 0)
	d.store.seedBalance(d.vendorID, 10000)
	created, err := d.scheduler.RunAutoPayouts(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 1, d.store.payoutCount())
}

func TestScheduler_RunAutoPayouts_CatchesUpMissedPeriods(t *testing.T) {
	d := setupScheduler(t)
	now := time.Date(2026, 10, 12, 0, 30, 0, 0, time.UTC)
	due := time.Date(2026, 9, 21, 0, 0, 0, 0, time.UTC)
	d.store.seedBalance(d.vendorID, 10000)
	d.weeklySchedule(due, 0)
	d.stripe.EXPECT().InitiateTransfer(gomock.Any(), gomock.Any()).Return("tr_auto", nil)

	created, err := d.scheduler.RunAutoPayouts(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	sched := d.schedule(t)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), *sched.NextPayoutDate)
}

func TestScheduler_RunAutoPayouts_Skips(t *testing.T) {
	due := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	now := due.Add(time.Hour)

	tests := []struct {
		name    string
		prepare func(d *schedulerTestDeps)
	}{
		{"below vendor minimum", func(d *schedulerTestDeps) {
			d.store.seedBalance(d.vendorID, 4000)
			d.weeklySchedule(due, 5000)
		}},
		{"below platform minimum", func(d *schedulerTestDeps) {
			d.store.seedBalance(d.vendorID, 50)
			d.weeklySchedule(due, 0)
		}},
		{"unverified account", func(d *schedulerTestDeps) {
			d.store.seedBalance(d.vendorID, 10000)
			d.weeklySchedule(due, 0)
			acc := d.store.accounts[d.account.ID]
			acc.VerificationStatus = domain.VerificationFailed
			d.store.accounts[d.account.ID] = acc
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupScheduler(t)
			tt.prepare(d)

			created, err := d.scheduler.RunAutoPayouts(context.Background(), now)
			require.NoError(t, err)
			assert.Zero(t, created)
			assert.Zero(t, d.store.payoutCount())

			sched := d.schedule(t)
			assert.Equal(t, due.AddDate(0, 0, 7), *sched.NextPayoutDate, "skipped period still advances")
		})
	}
}

// ==================== Reconciliation Tests ====================

func TestScheduler_RetryReserved(t *testing.T) {
	d := setupScheduler(t)
	ctx := context.Background()
	d.store.seedBalance(d.vendorID, 10000)

	gomock.InOrder(
		d.stripe.EXPECT().InitiateTransfer(gomock.Any(), gomock.Any()).Return("", errors.New("connection reset")),
		d.stripe.EXPECT().InitiateTransfer(gomock.Any(), gomock.Any()).Return("tr_retry", nil),
	)
	p, err := d.svc.Create(ctx, d.createReq(5000, "key-1"))
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStateReserved, p.State)

	// Too recent to retry.
	n, err := d.scheduler.RetryReserved(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = d.scheduler.RetryReserved(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "tr_retry", *d.store.payout(p.ID).TransferID)
}

func TestScheduler_ReconcileSubmitted_PollsProcessor(t *testing.T) {
	d := setupScheduler(t)
	ctx := context.Background()
	d.store.seedBalance(d.vendorID, 10000)
	d.stripe.EXPECT().InitiateTransfer(gomock.Any(), gomock.Any()).Return("tr_1", nil)

	p, err := d.svc.Create(ctx, d.createReq(5000, "key-1"))
	require.NoError(t, err)

	gomock.InOrder(
		d.stripe.EXPECT().QueryStatus(gomock.Any(), "tr_1").Return(domain.TransferPending, nil),
		d.stripe.EXPECT().QueryStatus(gomock.Any(), "tr_1").Return(domain.TransferSucceeded, nil),
	)

	later := time.Now().Add(time.Hour)
	n, err := d.scheduler.ReconcileSubmitted(ctx, later)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.PayoutStateSubmitted, d.store.payout(p.ID).State)

	n, err = d.scheduler.ReconcileSubmitted(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.PayoutStateSucceeded, d.store.payout(p.ID).State)
	assert.Equal(t, int64(5000), d.store.balance(d.vendorID).TotalPaidOut)

	history := d.store.transitionsOf(p.ID)
	assert.Equal(t, domain.ActorScheduler, history[len(history)-1].Actor)
}

func TestScheduler_ReconcileSubmitted_DeadlineFails(t *testing.T) {
	d := setupScheduler(t)
	ctx := context.Background()
	d.store.seedBalance(d.vendorID, 10000)
	d.stripe.EXPECT().InitiateTransfer(gomock.Any(), gomock.Any()).Return("tr_1", nil)
	d.stripe.EXPECT().QueryStatus(gomock.Any(), "tr_1").Return(domain.TransferPending, nil)

	p, err := d.svc.Create(ctx, d.createReq(5000, "key-1"))
	require.NoError(t, err)

	n, err := d.scheduler.ReconcileSubmitted(ctx, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := d.store.payout(p.ID)
	assert.Equal(t, domain.PayoutStateFailed, stored.State)
	assert.Equal(t, domain.FailureProcessorTimeout, *stored.FailureReason)
	assert.Equal(t, int64(10000), d.store.balance(d.vendorID).Available)
}

func TestScheduler_ReconcileSubmitted_RecoversTransferID(t *testing.T) {
	d := setupScheduler(t)
	ctx := context.Background()
	d.store.seedBalance(d.vendorID, 10000)

	gomock.InOrder(
		d.stripe.EXPECT().InitiateTransfer(gomock.Any(), gomock.Any()).Return("", apperror.ErrProcessorTimeout(nil)),
		d.stripe.EXPECT().InitiateTransfer(gomock.Any(), gomock.Any()).Return("tr_found", nil),
	)
	d.stripe.EXPECT().QueryStatus(gomock.Any(), "tr_found").Return(domain.TransferSucceeded, nil)

	p, err := d.svc.Create(ctx, d.createReq(5000, "key-1"))
	require.NoError(t, err)

	n, err := d.scheduler.ReconcileSubmitted(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := d.store.payout(p.ID)
	assert.Equal(t, domain.PayoutStateSucceeded, stored.State)
	assert.Equal(t, "tr_found", *stored.TransferID)
}

// ==================== Job Lock Tests ====================

func TestScheduler_RunJob_SkipsWhenLockHeld(t *testing.T) {
	d := setupScheduler(t)
	ctx := context.Background()

	d.lock.EXPECT().Acquire(gomock.Any(), jobAutoPayouts, time.Minute).Return(false, nil)

	ran := false
	d.scheduler.runJob(ctx, jobAutoPayouts, func(context.Context) error {
		ran = true
		return nil
	})
	assert.False(t, ran)
}

func TestScheduler_RunJob_ReleasesLock(t *testing.T) {
	d := setupScheduler(t)
	ctx := context.Background()

	gomock.InOrder(
		d.lock.EXPECT().Acquire(gomock.Any(), jobReconcile, time.Minute).Return(true, nil),
		d.lock.EXPECT().Release(gomock.Any(), jobReconcile).Return(nil),
	)

	ran := false
	d.scheduler.runJob(ctx, jobReconcile, func(context.Context) error {
		ran = true
		return errors.New("boom")
	})
	assert.True(t, ran)
}

func TestScheduler_Start_StopsOnCancel(t *testing.T) {
	d := setupScheduler(t)
	d.lock.EXPECT().Acquire(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.scheduler.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

// ==================== Account Verification Tests ====================

func TestScheduler_VerifyAccounts(t *testing.T) {
	d := setupScheduler(t)
	ctx := context.Background()
	acc := d.store.seedAccount(d.vendorID, domain.ProcessorStripe, domain.VerificationUnverified)
	// A second account for another vendor the processor cannot pay.
	other := d.store.seedAccount(uuid.New(), domain.ProcessorStripe, domain.VerificationUnverified)

	d.stripe.EXPECT().VerifyAccount(gomock.Any(), acc.AccountToken).Return(domain.VerificationPassed(), nil)
	d.stripe.EXPECT().VerifyAccount(gomock.Any(), other.AccountToken).Return(domain.VerificationFailedWith("rejected.fraud"), nil)

	n, err := d.scheduler.VerifyAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	accStored := d.store.account(acc.ID)
	assert.True(t, accStored.IsVerified())
	assert.Equal(t, domain.VerificationFailed, d.store.account(other.ID).VerificationStatus)

	// Verdicts are final for the pass; nothing left to check.
	n, err = d.scheduler.VerifyAccounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
