package service

import (
	"context"
	"fmt"
	"time"

	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"

	"github.com/rs/zerolog"
)

// Job lock names, one per periodic job.
const (
	jobAutoPayouts = "auto-payouts"
	jobReconcile   = "reconcile"
	jobVerify      = "verify-accounts"
)

// SchedulerSettings configure the periodic jobs.
type SchedulerSettings struct {
	AutoPayoutInterval time.Duration
	ReconcileInterval  time.Duration
	BatchSize          int
	LockTTL            time.Duration
	MinAmount          int64
	StaleAfter         time.Duration
	ReservedRetryAfter time.Duration
	SubmitDeadline     time.Duration
}

// Scheduler runs automatic payouts and the polling safety net for missed
// webhooks. It holds no state between runs; every decision is re-read from
// storage so several instances can run it, one at a time per job.
type Scheduler struct {
	schedules  ports.ScheduleRepository
	accounts   ports.PayoutAccountRepository
	payoutRepo ports.PayoutRepository
	balances   ports.BalanceService
	payouts    ports.PayoutService
	verifier   ports.AccountService
	processors map[domain.ProcessorKind]ports.ProcessorAdapter
	lock       ports.JobLock
	settings   SchedulerSettings
	log        zerolog.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(
	schedules ports.ScheduleRepository,
	accounts ports.PayoutAccountRepository,
	payoutRepo ports.PayoutRepository,
	balances ports.BalanceService,
	payouts ports.PayoutService,
	verifier ports.AccountService,
	processors map[domain.ProcessorKind]ports.ProcessorAdapter,
	lock ports.JobLock,
	settings SchedulerSettings,
	log zerolog.Logger,
) *Scheduler {
	if settings.BatchSize <= 0 {
		settings.BatchSize = 100
	}
	return &Scheduler{
		schedules:  schedules,
		accounts:   accounts,
		payoutRepo: payoutRepo,
		balances:   balances,
		payouts:    payouts,
		verifier:   verifier,
		processors: processors,
		lock:       lock,
		settings:   settings,
		log:        log,
	}
}

// Start runs the jobs on their tickers until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().
		Dur("auto_payout_interval", s.settings.AutoPayoutInterval).
		Dur("reconcile_interval", s.settings.ReconcileInterval).
		Msg("Starting payout scheduler")

	auto := time.NewTicker(s.settings.AutoPayoutInterval)
	defer auto.Stop()
	reconcile := time.NewTicker(s.settings.ReconcileInterval)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Context cancelled, stopping payout scheduler")
			return
		case t := <-auto.C:
			s.runJob(ctx, jobAutoPayouts, func(ctx context.Context) error {
				_, err := s.RunAutoPayouts(ctx, t.UTC())
				return err
			})
		case t := <-reconcile.C:
			s.runJob(ctx, jobReconcile, func(ctx context.Context) error {
				if _, err := s.RetryReserved(ctx, t.UTC()); err != nil {
					return err
				}
				_, err := s.ReconcileSubmitted(ctx, t.UTC())
				return err
			})
			s.runJob(ctx, jobVerify, func(ctx context.Context) error {
				_, err := s.VerifyAccounts(ctx)
				return err
			})
		}
	}
}

// runJob runs fn if this instance wins the job lock.
func (s *Scheduler) runJob(ctx context.Context, name string, fn func(context.Context) error) {
	ok, err := s.lock.Acquire(ctx, name, s.settings.LockTTL)
	if err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("job lock unavailable")
		return
	}
	if !ok {
		s.log.Debug().Str("job", name).Msg("job running elsewhere, skipping")
		return
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), name); err != nil {
			s.log.Warn().Err(err).Str("job", name).Msg("job lock release failed")
		}
	}()

	started := time.Now()
	if err := fn(ctx); err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("job failed")
		return
	}
	s.log.Debug().Str("job", name).Dur("took", time.Since(started)).Msg("job finished")
}

// RunAutoPayouts creates payouts for every due schedule whose vendor has a
// verified primary account and enough available balance, then advances the
// schedule. Returns the number of payouts created.
func (s *Scheduler) RunAutoPayouts(ctx context.Context, now time.Time) (int, error) {
	due, err := s.schedules.ListDue(ctx, now, s.settings.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due schedules: %w", err)
	}

	created := 0
	for i := range due {
		sched := due[i]
		ok, err := s.processSchedule(ctx, &sched, now)
		if err != nil {
			s.log.Error().Err(err).Str("vendor_id", sched.VendorID.String()).Msg("auto payout failed")
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.PayoutSchedule, now time.Time) (bool, error) {
	if !sched.IsDue(now) {
		return false, nil
	}
	expected := *sched.NextPayoutDate
	log := s.log.With().Str("vendor_id", sched.VendorID.String()).Logger()

	created := false
	account, err := s.accounts.GetPrimary(ctx, sched.VendorID)
	if err != nil {
		return false, fmt.Errorf("get primary account: %w", err)
	}

	switch {
	case account == nil || !account.IsVerified():
		log.Info().Msg("no verified primary payout account, skipping period")
	default:
		bal, err := s.balances.GetBalance(ctx, sched.VendorID)
		if err != nil {
			return false, err
		}
		threshold := sched.MinimumAmount
		if s.settings.MinAmount > threshold {
			threshold = s.settings.MinAmount
		}
		if bal.Available < threshold || bal.Available <= 0 {
			log.Debug().Int64("available", bal.Available).Int64("threshold", threshold).Msg("below payout threshold")
			break
		}

		key := domain.BuildAutoPayoutKey(sched.VendorID, sched.ScheduleType.Period(expected))
		p, isNew, err := s.payouts.CreateScheduled(ctx, ports.ScheduledPayoutRequest{
			VendorID:       sched.VendorID,
			Account:        account,
			Amount:         bal.Available,
			IdempotencyKey: key,
		})
		if err != nil {
			return false, err
		}
		created = isNew
		s.drive(ctx, p)
	}

	next := sched.ScheduleType.Next(expected)
	for next != nil && !next.After(now) {
		next = sched.ScheduleType.Next(*next)
	}
	advanced, err := s.schedules.Advance(ctx, sched.VendorID, expected, next, now)
	if err != nil {
		return created, fmt.Errorf("advance schedule: %w", err)
	}
	if !advanced {
		log.Debug().Msg("schedule already advanced by another run")
	}
	return created, nil
}

// drive pushes a scheduler-created payout as far as it goes right now.
// Whatever is left is picked up by RetryReserved and ReconcileSubmitted.
func (s *Scheduler) drive(ctx context.Context, p *domain.PayoutRequest) {
	var err error
	if p.State == domain.PayoutStateCreated {
		if p, err = s.payouts.ReserveCreated(ctx, p.ID); err != nil {
			s.log.Error().Err(err).Msg("reserve scheduled payout")
			return
		}
	}
	if p.State == domain.PayoutStateReserved {
		if _, err = s.payouts.Submit(ctx, p.ID); err != nil {
			s.log.Warn().Err(err).Str("payout_id", p.ID.String()).Msg("submit scheduled payout")
		}
	}
}

// VerifyAccounts checks a batch of payout accounts that were never verified.
// Returns the number of verdicts recorded.
func (s *Scheduler) VerifyAccounts(ctx context.Context) (int, error) {
	n, err := s.verifier.VerifyPending(ctx, s.settings.BatchSize)
	if err != nil {
		return n, fmt.Errorf("verify accounts: %w", err)
	}
	return n, nil
}

// RetryReserved resubmits RESERVED requests left behind by a transient
// processor failure. The same idempotency key is sent again.
func (s *Scheduler) RetryReserved(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.payoutRepo.ListStale(ctx, domain.PayoutStateReserved, now.Add(-s.settings.ReservedRetryAfter), s.settings.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list reserved payouts: %w", err)
	}

	submitted := 0
	for _, p := range stale {
		res, err := s.payouts.Submit(ctx, p.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("payout_id", p.ID.String()).Msg("retry submit failed")
			continue
		}
		if res.State == domain.PayoutStateSubmitted {
			submitted++
		}
	}
	return submitted, nil
}

// ReconcileSubmitted polls processors for SUBMITTED requests that no
// webhook has resolved, and fails those pending past the submit deadline.
// Returns the number of requests resolved.
func (s *Scheduler) ReconcileSubmitted(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.payoutRepo.ListStale(ctx, domain.PayoutStateSubmitted, now.Add(-s.settings.StaleAfter), s.settings.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list submitted payouts: %w", err)
	}

	resolved := 0
	for i := range stale {
		ok, err := s.reconcile(ctx, &stale[i], now)
		if err != nil {
			s.log.Warn().Err(err).Str("payout_id", stale[i].ID.String()).Msg("reconcile payout failed")
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

func (s *Scheduler) reconcile(ctx context.Context, p *domain.PayoutRequest, now time.Time) (bool, error) {
	expired := p.SubmittedAt != nil && now.Sub(*p.SubmittedAt) > s.settings.SubmitDeadline

	if !p.HasTransferID() {
		recovered, err := s.payouts.RecoverTransfer(ctx, p.ID)
		if err != nil || recovered == nil || !recovered.HasTransferID() {
			if expired {
				return s.resolve(ctx, p, domain.TransferFailed, domain.FailureProcessorTimeout)
			}
			return false, err
		}
		p = recovered
	}

	adapter, ok := s.processors[p.ProcessorKind]
	if !ok {
		return false, apperror.ErrUnsupportedProcessor(string(p.ProcessorKind))
	}
	status, err := adapter.QueryStatus(ctx, *p.TransferID)
	if err != nil {
		if apperror.HasCode(err, apperror.CodeUnknownTransfer) && expired {
			return s.resolve(ctx, p, domain.TransferFailed, domain.FailureProcessorTimeout)
		}
		return false, err
	}

	switch {
	case status.IsTerminal():
		return s.resolve(ctx, p, status, "")
	case expired:
		return s.resolve(ctx, p, domain.TransferFailed, domain.FailureProcessorTimeout)
	default:
		return false, nil
	}
}

func (s *Scheduler) resolve(ctx context.Context, p *domain.PayoutRequest, status domain.TransferStatus, reason string) (bool, error) {
	res, err := s.payouts.Resolve(ctx, p.ID, status, reason, domain.ActorScheduler)
	if err != nil {
		return false, err
	}
	return res.IsTerminal(), nil
}
