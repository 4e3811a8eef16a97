// Package limit enforces house risk rules on stake placement: a cap on any
// single stake and a cap on one user's cumulative stake in one market.
package limit

import "errors"

var (
	// ErrStakeTooLarge is returned when a single stake exceeds the
	// per-stake maximum.
	ErrStakeTooLarge = errors.New("limit: stake exceeds per-stake maximum")

	// ErrMarketExposureExceeded is returned when a stake would push the
	// user's cumulative stake on one market beyond the per-market maximum.
	ErrMarketExposureExceeded = errors.New("limit: per-market exposure limit exceeded")
)

// StakeLimiter caps stake sizes. A limit of 0 disables that check.
type StakeLimiter struct {
	// MaxPerStake is the maximum amount for any single stake.
	MaxPerStake int64

	// MaxPerMarket is the maximum cumulative amount one user may stake
	// across all options of one market.
	MaxPerMarket int64
}

// NewStakeLimiter creates a limiter with the given caps.
func NewStakeLimiter(maxPerStake, maxPerMarket int64) *StakeLimiter {
	return &StakeLimiter{
		MaxPerStake:  maxPerStake,
		MaxPerMarket: maxPerMarket,
	}
}

// Check validates a stake of the given amount against the user's existing
// cumulative stake on the same market. Returns nil if within limits.
func (l *StakeLimiter) Check(amount, existingOnMarket int64) error {
	if l.MaxPerStake > 0 && amount > l.MaxPerStake {
		return ErrStakeTooLarge
	}
	if l.MaxPerMarket > 0 && existingOnMarket+amount > l.MaxPerMarket {
		return ErrMarketExposureExceeded
	}
	return nil
}
