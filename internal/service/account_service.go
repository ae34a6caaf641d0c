package service

import (
	"context"
	"fmt"
	"time"

	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AccountServiceImpl implements ports.AccountService.
type AccountServiceImpl struct {
	repo       ports.PayoutAccountRepository
	processors map[domain.ProcessorKind]ports.ProcessorAdapter
	log        zerolog.Logger
	now        func() time.Time
}

// NewAccountService creates a new AccountServiceImpl.
func NewAccountService(
	repo ports.PayoutAccountRepository,
	processors map[domain.ProcessorKind]ports.ProcessorAdapter,
	log zerolog.Logger,
) *AccountServiceImpl {
	return &AccountServiceImpl{repo: repo, processors: processors, log: log, now: time.Now}
}

// Verify asks the account's processor whether it can receive payouts and
// records the verdict. A failed verdict is returned as the account's new
// status, not as an error.
func (s *AccountServiceImpl) Verify(ctx context.Context, accountID uuid.UUID, who domain.Identity) (*domain.PayoutAccount, error) {
	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payout account: %w", err))
	}
	if acc == nil || !who.CanAccessVendor(acc.VendorID) {
		return nil, apperror.ErrNotFound("Payout account")
	}
	return s.verify(ctx, acc)
}

// VerifyPending is the scheduler's pass over accounts nobody verified yet.
// Processor faults skip the account until the next pass.
func (s *AccountServiceImpl) VerifyPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.repo.ListUnverified(ctx, limit)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("list unverified accounts: %w", err))
	}
	verified := 0
	for i := range pending {
		if ctx.Err() != nil {
			return verified, ctx.Err()
		}
		if _, err := s.verify(ctx, &pending[i]); err != nil {
			s.log.Warn().Err(err).Str("account_id", pending[i].ID.String()).Msg("account verification deferred")
			continue
		}
		verified++
	}
	return verified, nil
}

func (s *AccountServiceImpl) verify(ctx context.Context, acc *domain.PayoutAccount) (*domain.PayoutAccount, error) {
	adapter, ok := s.processors[acc.ProcessorKind]
	if !ok {
		return nil, apperror.ErrUnsupportedProcessor(string(acc.ProcessorKind))
	}

	verdict, err := adapter.VerifyAccount(ctx, acc.AccountToken)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updated, err := s.repo.UpdateVerification(ctx, acc.ID, acc.VerificationStatus, verdict, now)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("record verification: %w", err))
	}
	if !updated {
		// Someone else recorded a verdict first; theirs stands.
		current, err := s.repo.GetByID(ctx, acc.ID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("get payout account: %w", err))
		}
		if current == nil {
			return nil, apperror.ErrNotFound("Payout account")
		}
		return current, nil
	}

	result := *acc
	result.ApplyVerification(verdict, now)
	s.log.Info().
		Str("account_id", acc.ID.String()).
		Str("processor", string(acc.ProcessorKind)).
		Str("verification_status", string(verdict.Status)).
		Str("reason", verdict.Reason).
		Msg("payout account verified")
	return &result, nil
}
