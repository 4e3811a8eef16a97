// Package model defines the core domain types shared across the settlement
// engine. Balances and pools are integer points, never floats.
package model

import "time"

// Market status values returned by Market.Status.
const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusResolved = "resolved"
)

// User holds a point balance. Balances are mutated only through stake
// debits, payout credits, and explicit admin adjustments.
type User struct {
	ID                string    `json:"id" db:"id"`
	Balance           int64     `json:"balance" db:"balance"`
	HiddenFromRanking bool      `json:"hidden_from_ranking" db:"hidden_from_ranking"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Market is a pooled-prediction market over mutually exclusive options.
// TotalPool is denormalized and must always equal the sum of option pools.
// Immutable after creation except pool totals and the resolution fields.
type Market struct {
	ID              string     `json:"id" db:"id"`
	Title           string     `json:"title" db:"title"`
	Category        string     `json:"category" db:"category"`
	Description     string     `json:"description" db:"description"`
	ImageRef        string     `json:"image_ref" db:"image_ref"`
	ClosesAt        time.Time  `json:"closes_at" db:"closes_at"`
	TotalPool       int64      `json:"total_pool" db:"total_pool"`
	Resolved        bool       `json:"resolved" db:"resolved"`
	WinningOptionID *string    `json:"winning_option_id,omitempty" db:"winning_option_id"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Status reports the lifecycle state at the given instant:
// open → closed (past ClosesAt) → resolved (terminal).
func (m *Market) Status(now time.Time) string {
	switch {
	case m.Resolved:
		return StatusResolved
	case !now.Before(m.ClosesAt):
		return StatusClosed
	default:
		return StatusOpen
	}
}

// AcceptsStakes reports whether a stake may be placed at the given instant.
func (m *Market) AcceptsStakes(now time.Time) bool {
	return !m.Resolved && now.Before(m.ClosesAt)
}

// Option is one outcome of a market. Pool is the sum of stakes placed on it.
type Option struct {
	ID       string `json:"id" db:"id"`
	MarketID string `json:"market_id" db:"market_id"`
	Name     string `json:"name" db:"name"`
	Pool     int64  `json:"pool" db:"pool"`
}

// Stake is an immutable ledger entry recording one bet.
// Once created, these are never modified or deleted.
type Stake struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	MarketID  string    `json:"market_id" db:"market_id"`
	OptionID  string    `json:"option_id" db:"option_id"`
	Amount    int64     `json:"amount" db:"amount"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ResolutionResult summarizes a completed market settlement.
// Remainder is the rounding loss retained by the house (at most
// winningStakes-1 points), not an accounting error.
type ResolutionResult struct {
	MarketID        string    `json:"market_id"`
	WinningOptionID string    `json:"winning_option_id"`
	WinningStakes   int       `json:"winning_stakes"`
	WinnersPaid     int       `json:"winners_paid"`
	TotalPaid       int64     `json:"total_paid"`
	Remainder       int64     `json:"remainder"`
	ResolvedAt      time.Time `json:"resolved_at"`
}
