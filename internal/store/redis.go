package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paripool/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for market, option, and user reads. Writes go to the primary store
// and invalidate the affected keys; reads check Redis first then fall back
// to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Users ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.primary.CreateUser(ctx, u); err != nil {
		return err
	}
	s.cacheJSON(ctx, userKey(u.ID), u)
	return nil
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if s.readJSON(ctx, userKey(id), &u) {
		return &u, nil
	}

	user, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, userKey(id), user)
	return user, nil
}

func (s *CachedStore) AdjustBalance(ctx context.Context, userID string, delta int64) (*model.User, error) {
	u, err := s.primary.AdjustBalance(ctx, userID, delta)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, userKey(userID), u)
	return u, nil
}

// --- Markets ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market, options []model.Option) error {
	if err := s.primary.CreateMarket(ctx, m, options); err != nil {
		return err
	}
	s.cacheJSON(ctx, marketKey(m.ID), m)
	s.cacheJSON(ctx, optionsKey(m.ID), options)
	return nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.readJSON(ctx, marketKey(id), &m) {
		return &m, nil
	}

	market, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(id), market)
	return market, nil
}

func (s *CachedStore) GetOptions(ctx context.Context, marketID string) ([]model.Option, error) {
	var options []model.Option
	if s.readJSON(ctx, optionsKey(marketID), &options) {
		return options, nil
	}

	options, err := s.primary.GetOptions(ctx, marketID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, optionsKey(marketID), options)
	return options, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetStakesByMarket(ctx context.Context, marketID string) ([]model.Stake, error) {
	return s.primary.GetStakesByMarket(ctx, marketID)
}

func (s *CachedStore) GetStakesByOption(ctx context.Context, optionID string) ([]model.Stake, error) {
	return s.primary.GetStakesByOption(ctx, optionID)
}

func (s *CachedStore) GetStakesByUser(ctx context.Context, userID string) ([]model.Stake, error) {
	return s.primary.GetStakesByUser(ctx, userID)
}

func (s *CachedStore) UserMarketStake(ctx context.Context, userID, marketID string) (int64, error) {
	return s.primary.UserMarketStake(ctx, userID, marketID)
}

// --- Settlement primitives (write to primary, invalidate) ---

func (s *CachedStore) ExecuteStake(ctx context.Context, stake *model.Stake, now time.Time) error {
	if err := s.primary.ExecuteStake(ctx, stake, now); err != nil {
		return err
	}
	// Invalidate everything the stake touched; next read re-populates.
	s.rdb.Del(ctx,
		marketKey(stake.MarketID),
		optionsKey(stake.MarketID),
		userKey(stake.UserID),
	)
	return nil
}

func (s *CachedStore) ExecuteResolution(ctx context.Context, marketID, winningOptionID string, payouts map[string]int64, resolvedAt time.Time) error {
	if err := s.primary.ExecuteResolution(ctx, marketID, winningOptionID, payouts, resolvedAt); err != nil {
		return err
	}

	keys := []string{marketKey(marketID), optionsKey(marketID)}
	for userID := range payouts {
		keys = append(keys, userKey(userID))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// readJSON reports whether the key was present and unmarshaled into v.
func (s *CachedStore) readJSON(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func marketKey(id string) string  { return fmt.Sprintf("market:%s", id) }
func optionsKey(id string) string { return fmt.Sprintf("market:%s:options", id) }
func userKey(id string) string    { return fmt.Sprintf("user:%s", id) }
