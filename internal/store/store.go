// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/paripool/market-engine/internal/model"
)

// Storage-level failures. ExecuteStake and ExecuteResolution return these
// instead of committing anything that would violate the pool-sum or
// balance-non-negativity invariants.
var (
	// ErrNotFound is returned when a user, market, or option does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when creating a row whose id is taken.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrMarketClosed is returned when a stake targets a market that is
	// resolved or past its close time at commit time.
	ErrMarketClosed = errors.New("store: market closed")

	// ErrInvalidOption is returned when an option does not belong to the
	// market being staked on or resolved.
	ErrInvalidOption = errors.New("store: option does not belong to market")

	// ErrAlreadyResolved is returned on a second resolution attempt.
	// The first resolution's credits are never re-applied.
	ErrAlreadyResolved = errors.New("store: market already resolved")

	// ErrInsufficientBalance is returned when a debit would take a user
	// balance below zero.
	ErrInsufficientBalance = errors.New("store: insufficient balance")

	// ErrConflict signals transient contention; the operation is safe to
	// retry.
	ErrConflict = errors.New("store: transient conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// ExecuteStake and ExecuteResolution are all-or-nothing: a concurrent
// reader observes either none or all of their mutations.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// AdjustBalance applies an admin credit or debit (signed delta) and
	// returns the updated user. Rejects a result below zero.
	AdjustBalance(ctx context.Context, userID string, delta int64) (*model.User, error)

	// --- Markets ---

	// CreateMarket persists a market and its options in one atomic unit.
	// A reader never observes the market without its options.
	CreateMarket(ctx context.Context, m *model.Market, options []model.Option) error

	// GetMarket retrieves a market by id.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetOptions returns the options of a market in creation order.
	GetOptions(ctx context.Context, marketID string) ([]model.Option, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// --- Immutable stake ledger ---

	// GetStakesByMarket returns every stake on a market in placement order.
	GetStakesByMarket(ctx context.Context, marketID string) ([]model.Stake, error)

	// GetStakesByOption returns every stake on one option in placement order.
	GetStakesByOption(ctx context.Context, optionID string) ([]model.Stake, error)

	// GetStakesByUser returns every stake a user has placed.
	GetStakesByUser(ctx context.Context, userID string) ([]model.Stake, error)

	// UserMarketStake returns the user's cumulative stake amount across
	// all options of one market.
	UserMarketStake(ctx context.Context, userID, marketID string) (int64, error)

	// --- Settlement primitives ---

	// ExecuteStake atomically debits the user, increments the option and
	// market pools, and appends the stake record. Market state and user
	// balance are re-validated at commit time against the supplied clock.
	ExecuteStake(ctx context.Context, stake *model.Stake, now time.Time) error

	// ExecuteResolution atomically marks the market resolved with the
	// winning option and credits every entry in payouts (userID → points).
	// If any credit cannot be applied the whole resolution rolls back.
	ExecuteResolution(ctx context.Context, marketID, winningOptionID string, payouts map[string]int64, resolvedAt time.Time) error
}
