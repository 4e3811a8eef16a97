package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/paripool/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*model.User
	markets map[string]*model.Market
	options map[string]*model.Option // optionID → option
	stakes  []model.Stake
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*model.User),
		markets: make(map[string]*model.Market),
		options: make(map[string]*model.Option),
	}
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) AdjustBalance(_ context.Context, userID string, delta int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Balance+delta < 0 {
		return nil, ErrInsufficientBalance
	}
	u.Balance += delta
	cp := *u
	return &cp, nil
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market, options []model.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return ErrAlreadyExists
	}

	cp := *m
	s.markets[m.ID] = &cp
	for i := range options {
		oc := options[i]
		s.options[oc.ID] = &oc
	}
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetOptions(_ context.Context, marketID string) ([]model.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.optionsForMarket(marketID), nil
}

// optionsForMarket must be called with the lock held.
func (s *MemoryStore) optionsForMarket(marketID string) []model.Option {
	var out []model.Option
	for _, o := range s.options {
		if o.MarketID == marketID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

// --- Stake ledger ---

func (s *MemoryStore) GetStakesByMarket(_ context.Context, marketID string) ([]model.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Stake
	for _, st := range s.stakes {
		if st.MarketID == marketID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetStakesByOption(_ context.Context, optionID string) ([]model.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Stake
	for _, st := range s.stakes {
		if st.OptionID == optionID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetStakesByUser(_ context.Context, userID string) ([]model.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Stake
	for _, st := range s.stakes {
		if st.UserID == userID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *MemoryStore) UserMarketStake(_ context.Context, userID, marketID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, st := range s.stakes {
		if st.UserID == userID && st.MarketID == marketID {
			total += st.Amount
		}
	}
	return total, nil
}

// --- Settlement primitives ---

// ExecuteStake validates everything before mutating anything, so a failed
// call leaves the store untouched.
func (s *MemoryStore) ExecuteStake(_ context.Context, stake *model.Stake, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[stake.MarketID]
	if !ok {
		return ErrNotFound
	}
	if !m.AcceptsStakes(now) {
		return ErrMarketClosed
	}

	o, ok := s.options[stake.OptionID]
	if !ok || o.MarketID != stake.MarketID {
		return ErrInvalidOption
	}

	u, ok := s.users[stake.UserID]
	if !ok {
		return ErrNotFound
	}
	if u.Balance < stake.Amount {
		return ErrInsufficientBalance
	}

	u.Balance -= stake.Amount
	o.Pool += stake.Amount
	m.TotalPool += stake.Amount
	s.stakes = append(s.stakes, *stake)
	return nil
}

// ExecuteResolution validates the market state and every credit target
// before applying, mirroring the rollback behavior of the SQL store.
func (s *MemoryStore) ExecuteResolution(_ context.Context, marketID, winningOptionID string, payouts map[string]int64, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return ErrNotFound
	}
	if m.Resolved {
		return ErrAlreadyResolved
	}

	o, ok := s.options[winningOptionID]
	if !ok || o.MarketID != marketID {
		return ErrInvalidOption
	}

	for userID := range payouts {
		if _, ok := s.users[userID]; !ok {
			return ErrNotFound
		}
	}

	for userID, amount := range payouts {
		s.users[userID].Balance += amount
	}
	m.Resolved = true
	winner := winningOptionID
	m.WinningOptionID = &winner
	m.ResolvedAt = &resolvedAt
	return nil
}
