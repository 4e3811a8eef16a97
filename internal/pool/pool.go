// Package pool implements the parimutuel pool accounting rules: odds,
// pool share percentages, and payout distribution.
//
// Winners split the entire pool in proportion to their stake. Payouts use
// floor division so the pool is never over-distributed; the per-market
// remainder (at most winningStakes-1 points) is retained by the house.
//
// Pools and payouts are integer points. Odds are shopspring/decimal with a
// single rounding site (OddsScale) shared by display and settlement.
package pool

import (
	"errors"

	"github.com/shopspring/decimal"
)

// OddsScale is the number of decimal places odds are rounded to.
// All odds displayed or settled against go through this one rounding rule.
const OddsScale int32 = 1

// ErrNegativePool is returned when a pool or stake amount is negative.
// Pools are sums of positive stakes and can never go below zero.
var ErrNegativePool = errors.New("pool: negative pool or stake amount")

// Odds returns the payout multiple per point staked on an option:
// totalPool / optionPool, rounded to OddsScale. An option nobody has
// backed has no meaningful multiple and reports 0.
func Odds(totalPool, optionPool int64) decimal.Decimal {
	if optionPool <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(totalPool).
		Div(decimal.NewFromInt(optionPool)).
		Round(OddsScale)
}

// SharePercent returns the option's share of the total pool as an integer
// percentage in [0, 100]. Each option rounds independently, so shares
// across a market need not sum to exactly 100; this is a display
// approximation, never a settlement quantity.
func SharePercent(totalPool, optionPool int64) int {
	if totalPool <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(optionPool).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(totalPool)).
		Round(0)
	return int(pct.IntPart())
}

// Payout returns the points credited to a winning stake:
// floor(stakeAmount * totalPool / winningOptionPool).
//
// A winning option with an empty pool has no backers to pay; the whole
// pool is retained rather than divided by zero.
func Payout(stakeAmount, winningOptionPool, totalPool int64) int64 {
	if winningOptionPool <= 0 || stakeAmount <= 0 {
		return 0
	}
	p := decimal.NewFromInt(stakeAmount).
		Mul(decimal.NewFromInt(totalPool)).
		Div(decimal.NewFromInt(winningOptionPool)).
		Floor()
	return p.IntPart()
}

// Distribute computes the payout for every winning stake amount and the
// remainder the house retains. It validates conservation: the payouts plus
// remainder always equal totalPool when winningPool equals the sum of
// stakes, and payouts never exceed totalPool.
func Distribute(stakes []int64, winningPool, totalPool int64) (payouts []int64, remainder int64, err error) {
	if winningPool < 0 || totalPool < 0 {
		return nil, 0, ErrNegativePool
	}

	payouts = make([]int64, len(stakes))
	var paid int64
	for i, amount := range stakes {
		if amount < 0 {
			return nil, 0, ErrNegativePool
		}
		payouts[i] = Payout(amount, winningPool, totalPool)
		paid += payouts[i]
	}
	return payouts, totalPool - paid, nil
}

// CheckPoolSum reports whether the option pools add up to the market total.
// Every observable state of a market must satisfy this.
func CheckPoolSum(totalPool int64, optionPools []int64) bool {
	var sum int64
	for _, p := range optionPools {
		sum += p
	}
	return sum == totalPool
}
