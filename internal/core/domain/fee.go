package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeSchedule is a processor's fee: a fraction of the gross plus a fixed
// component in minor units.
type FeeSchedule struct {
	Percent decimal.Decimal
	Fixed   int64
}

// ParseFeeSchedule builds a FeeSchedule from a decimal fraction string.
func ParseFeeSchedule(percent string, fixed int64) (FeeSchedule, error) {
	if percent == "" {
		percent = "0"
	}
	p, err := decimal.NewFromString(percent)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("parse fee percent %q: %w", percent, err)
	}
	if p.IsNegative() || fixed < 0 {
		return FeeSchedule{}, fmt.Errorf("fee schedule must not be negative")
	}
	return FeeSchedule{Percent: p, Fixed: fixed}, nil
}

// ComputeFee splits gross into fee and net. The fee is rounded once,
// half to even, to the minor unit and clamped to [0, gross]; net is always
// gross minus fee.
func ComputeFee(gross int64, commissionRate decimal.Decimal, schedule FeeSchedule) (fee, net int64) {
	if gross <= 0 {
		return 0, gross
	}
	raw := decimal.NewFromInt(gross).
		Mul(commissionRate.Add(schedule.Percent)).
		Add(decimal.NewFromInt(schedule.Fixed))

	fee = raw.RoundBank(0).IntPart()
	if fee < 0 {
		fee = 0
	}
	if fee > gross {
		fee = gross
	}
	return fee, gross - fee
}
