// Package wager provides the HTTP handlers and business logic for creating
// parimutuel markets, placing stakes, and resolving markets.
//
// Concurrency discipline: pool mutation and the market state check share a
// per-market exclusive section; balance debit/credit shares a per-user one.
// Disjoint markets and users proceed in parallel. Both sections are bounded
// waits; contention surfaces as a retryable conflict, never an unbounded
// block.
package wager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paripool/market-engine/internal/limit"
	"github.com/paripool/market-engine/internal/metrics"
	"github.com/paripool/market-engine/internal/model"
	"github.com/paripool/market-engine/internal/pool"
	"github.com/paripool/market-engine/internal/store"
	"github.com/paripool/market-engine/internal/validate"
)

var (
	// ErrInvalidAmount is returned when a stake amount is not positive.
	ErrInvalidAmount = errors.New("wager: stake amount must be positive")

	// ErrStoreUnavailable is returned after bounded conflict retries are
	// exhausted. Fatal for the request, not for the process.
	ErrStoreUnavailable = errors.New("wager: store unavailable, retry later")
)

// Config holds the engine's tunables.
type Config struct {
	// StartingBalance is granted to every new user.
	StartingBalance int64

	// LockTimeout bounds the wait for a market or user exclusive section.
	LockTimeout time.Duration

	// RetryAttempts bounds internal retries on transient conflicts.
	RetryAttempts int

	// RetryBackoff is the pause between conflict retries.
	RetryBackoff time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		StartingBalance: 1000,
		LockTimeout:     2 * time.Second,
		RetryAttempts:   3,
		RetryBackoff:    25 * time.Millisecond,
	}
}

// Service handles market and stake operations.
type Service struct {
	store       store.Store
	limiter     *limit.StakeLimiter
	marketLocks *keyedMutex
	userLocks   *keyedMutex
	cfg         Config
	wsHub       *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new wager service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, limiter *limit.StakeLimiter, hub *WSHub, cfg Config) *Service {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultConfig().RetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	return &Service{
		store:       st,
		limiter:     limiter,
		marketLocks: newKeyedMutex(),
		userLocks:   newKeyedMutex(),
		cfg:         cfg,
		wsHub:       hub,
	}
}

// withRetry runs op, retrying transient conflicts with bounded attempts
// before surfacing ErrStoreUnavailable. Validation failures pass through
// on the first attempt since retrying cannot change their outcome.
func (s *Service) withRetry(op func() error) error {
	var err error
	for attempt := 0; attempt < s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(s.cfg.RetryBackoff)
		}
		err = op()
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// --- Core operations ---

// PlaceStake validates and executes one stake as a single atomic unit:
// debit the user, grow the option and market pools, append the ledger
// record. No partial application is observable.
func (s *Service) PlaceStake(ctx context.Context, userID, marketID, optionID string, amount int64) (*model.Stake, error) {
	if amount <= 0 {
		metrics.StakeRejections.WithLabelValues("invalid_amount").Inc()
		return nil, ErrInvalidAmount
	}

	var stake *model.Stake
	err := s.withRetry(func() error {
		// Market section first, then user section; resolution takes the
		// market section too, so no stake lands mid-resolution.
		releaseMarket, ok := s.marketLocks.acquire(marketID, s.cfg.LockTimeout)
		if !ok {
			metrics.LockTimeouts.Inc()
			return store.ErrConflict
		}
		defer releaseMarket()

		releaseUser, ok := s.userLocks.acquire(userID, s.cfg.LockTimeout)
		if !ok {
			metrics.LockTimeouts.Inc()
			return store.ErrConflict
		}
		defer releaseUser()

		if s.limiter != nil {
			existing, err := s.store.UserMarketStake(ctx, userID, marketID)
			if err != nil {
				return err
			}
			if err := s.limiter.Check(amount, existing); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		st := &model.Stake{
			ID:        uuid.New().String(),
			UserID:    userID,
			MarketID:  marketID,
			OptionID:  optionID,
			Amount:    amount,
			CreatedAt: now,
		}
		if err := s.store.ExecuteStake(ctx, st, now); err != nil {
			return err
		}
		stake = st
		return nil
	})
	if err != nil {
		metrics.StakeRejections.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	metrics.StakesTotal.Inc()
	metrics.StakePoints.Add(float64(amount))

	slog.Info("stake placed",
		"stake_id", stake.ID,
		"user", userID,
		"market", marketID,
		"option", optionID,
		"amount", amount,
	)

	s.broadcastPools(ctx, marketID, optionID)
	return stake, nil
}

// CreateMarket validates the input and atomically persists the market with
// all its options. A reader never observes a market with zero options.
func (s *Service) CreateMarket(ctx context.Context, in validate.MarketInput) (*model.Market, []model.Option, error) {
	now := time.Now().UTC()
	in, err := validate.Market(in, now)
	if err != nil {
		return nil, nil, err
	}

	m := &model.Market{
		ID:          uuid.New().String(),
		Title:       in.Title,
		Category:    in.Category,
		Description: in.Description,
		ImageRef:    in.ImageRef,
		ClosesAt:    in.ClosesAt.UTC(),
		CreatedAt:   now,
	}
	options := make([]model.Option, len(in.OptionNames))
	for i, name := range in.OptionNames {
		options[i] = model.Option{
			ID:       uuid.New().String(),
			MarketID: m.ID,
			Name:     name,
		}
	}

	if err := s.store.CreateMarket(ctx, m, options); err != nil {
		return nil, nil, err
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"id", m.ID,
		"title", m.Title,
		"category", m.Category,
		"options", len(options),
		"closes_at", m.ClosesAt,
	)
	return m, options, nil
}

// ResolveMarket settles a market exactly once: flips the resolved flag,
// computes every winning stake's payout, and credits all winners in one
// atomic commit. A duplicate attempt is rejected, never re-paid.
func (s *Service) ResolveMarket(ctx context.Context, marketID, winningOptionID string) (*model.ResolutionResult, error) {
	var result *model.ResolutionResult
	err := s.withRetry(func() error {
		// Exclusive on the market for the whole settlement: a concurrent
		// stake either commits first or fails the closed check.
		release, ok := s.marketLocks.acquire(marketID, s.cfg.LockTimeout)
		if !ok {
			metrics.LockTimeouts.Inc()
			return store.ErrConflict
		}
		defer release()

		m, err := s.store.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Resolved {
			return store.ErrAlreadyResolved
		}

		options, err := s.store.GetOptions(ctx, marketID)
		if err != nil {
			return err
		}
		var winning *model.Option
		for i := range options {
			if options[i].ID == winningOptionID {
				winning = &options[i]
				break
			}
		}
		if winning == nil {
			return store.ErrInvalidOption
		}

		stakes, err := s.store.GetStakesByOption(ctx, winningOptionID)
		if err != nil {
			return err
		}

		// Per-stake floor division; the remainder stays with the house.
		payouts := make(map[string]int64)
		var totalPaid int64
		for _, st := range stakes {
			p := pool.Payout(st.Amount, winning.Pool, m.TotalPool)
			if p > 0 {
				payouts[st.UserID] += p
				totalPaid += p
			}
		}

		resolvedAt := time.Now().UTC()
		if err := s.store.ExecuteResolution(ctx, marketID, winningOptionID, payouts, resolvedAt); err != nil {
			return err
		}

		result = &model.ResolutionResult{
			MarketID:        marketID,
			WinningOptionID: winningOptionID,
			WinningStakes:   len(stakes),
			WinnersPaid:     len(payouts),
			TotalPaid:       totalPaid,
			Remainder:       m.TotalPool - totalPaid,
			ResolvedAt:      resolvedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.MarketsResolved.Inc()
	metrics.ActiveMarkets.Dec()
	metrics.PayoutPoints.Add(float64(result.TotalPaid))
	metrics.RemainderPoints.Add(float64(result.Remainder))

	slog.Info("market resolved",
		"market", marketID,
		"winning_option", winningOptionID,
		"winning_stakes", result.WinningStakes,
		"winners_paid", result.WinnersPaid,
		"total_paid", result.TotalPaid,
		"remainder", result.Remainder,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:            "market_resolved",
			MarketID:        marketID,
			WinningOptionID: winningOptionID,
			TotalPaid:       result.TotalPaid,
		})
	}
	return result, nil
}

// CreateUser registers a user with the starting balance. An empty id gets
// a generated one (first sign-in flow).
func (s *Service) CreateUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		id = uuid.New().String()
	}
	u := &model.User{
		ID:        id,
		Balance:   s.cfg.StartingBalance,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	slog.Info("user created", "id", u.ID, "balance", u.Balance)
	return u, nil
}

// broadcastPools pushes the post-stake pools and odds to WS clients.
func (s *Service) broadcastPools(ctx context.Context, marketID, optionID string) {
	if s.wsHub == nil {
		return
	}
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return
	}
	options, err := s.store.GetOptions(ctx, marketID)
	if err != nil {
		return
	}
	for _, o := range options {
		if o.ID == optionID {
			s.wsHub.Broadcast(WSMessage{
				Type:       "stake_placed",
				MarketID:   marketID,
				OptionID:   optionID,
				OptionPool: o.Pool,
				TotalPool:  m.TotalPool,
				Odds:       pool.Odds(m.TotalPool, o.Pool).String(),
			})
			return
		}
	}
}

// rejectReason maps a placement failure to a low-cardinality metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, store.ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, store.ErrInvalidOption):
		return "invalid_option"
	case errors.Is(err, store.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, limit.ErrStakeTooLarge), errors.Is(err, limit.ErrMarketExposureExceeded):
		return "limit"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for POST /api/v1/markets.
type CreateMarketRequest struct {
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	ImageRef    string    `json:"image_ref"`
	ClosesAt    time.Time `json:"closes_at"`
	Options     []string  `json:"options"`
}

// StakeRequest is the JSON body for POST /api/v1/stakes.
type StakeRequest struct {
	UserID   string `json:"user_id"`
	MarketID string `json:"market_id"`
	OptionID string `json:"option_id"`
	Amount   int64  `json:"amount"`
}

// StakeResponse is returned from POST /api/v1/stakes.
type StakeResponse struct {
	Stake      model.Stake     `json:"stake"`
	Balance    int64           `json:"balance"`
	OptionPool int64           `json:"option_pool"`
	TotalPool  int64           `json:"total_pool"`
	Odds       decimal.Decimal `json:"odds"`
}

// ResolveRequest is the JSON body for POST /api/v1/markets/{id}/resolve.
type ResolveRequest struct {
	WinningOptionID string `json:"winning_option_id"`
}

// CreateUserRequest is the JSON body for POST /api/v1/users.
type CreateUserRequest struct {
	ID string `json:"id"`
}

// AdjustBalanceRequest is the JSON body for POST /api/v1/users/{id}/balance.
type AdjustBalanceRequest struct {
	Delta int64 `json:"delta"`
}

// OptionView decorates an option with its display odds and pool share.
type OptionView struct {
	model.Option
	Odds         decimal.Decimal `json:"odds"`
	SharePercent int             `json:"share_percent"`
}

// MarketResponse is a market with its lifecycle status and option views.
type MarketResponse struct {
	model.Market
	Status  string       `json:"status"`
	Options []OptionView `json:"options"`
}

// --- HTTP Handlers ---

// HandleCreateMarket handles POST /api/v1/markets.
func (s *Service) HandleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, options, err := s.CreateMarket(r.Context(), validate.MarketInput{
		Title:       req.Title,
		Category:    req.Category,
		Description: req.Description,
		ImageRef:    req.ImageRef,
		ClosesAt:    req.ClosesAt,
		OptionNames: req.Options,
	})
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, marketResponse(m, options))
}

// HandleListMarkets handles GET /api/v1/markets.
func (s *Service) HandleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	out := make([]map[string]any, 0, len(markets))
	for i := range markets {
		m := markets[i]
		out = append(out, map[string]any{
			"id":         m.ID,
			"title":      m.Title,
			"category":   m.Category,
			"closes_at":  m.ClosesAt,
			"total_pool": m.TotalPool,
			"status":     m.Status(now),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetMarket handles GET /api/v1/markets/{marketID}.
// Returns the market with per-option odds and pool shares.
func (s *Service) HandleGetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	options, err := s.store.GetOptions(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to load options", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, marketResponse(m, options))
}

// HandleMarketStakes handles GET /api/v1/markets/{marketID}/stakes.
func (s *Service) HandleMarketStakes(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	stakes, err := s.store.GetStakesByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to load stakes", http.StatusInternalServerError)
		return
	}
	if stakes == nil {
		stakes = []model.Stake{}
	}
	writeJSON(w, http.StatusOK, stakes)
}

// HandlePlaceStake handles POST /api/v1/stakes.
func (s *Service) HandlePlaceStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.MarketID == "" || req.OptionID == "" {
		writeError(w, "user_id, market_id and option_id are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	stake, err := s.PlaceStake(ctx, req.UserID, req.MarketID, req.OptionID, req.Amount)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	resp := StakeResponse{Stake: *stake}
	if u, err := s.store.GetUser(ctx, req.UserID); err == nil {
		resp.Balance = u.Balance
	}
	if m, err := s.store.GetMarket(ctx, req.MarketID); err == nil {
		resp.TotalPool = m.TotalPool
		if options, err := s.store.GetOptions(ctx, req.MarketID); err == nil {
			for _, o := range options {
				if o.ID == req.OptionID {
					resp.OptionPool = o.Pool
					resp.Odds = pool.Odds(m.TotalPool, o.Pool)
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleResolveMarket handles POST /api/v1/markets/{marketID}/resolve.
func (s *Service) HandleResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WinningOptionID == "" {
		writeError(w, "winning_option_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.ResolveMarket(r.Context(), marketID, req.WinningOptionID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleCreateUser handles POST /api/v1/users.
func (s *Service) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.CreateUser(r.Context(), req.ID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// HandleGetUser handles GET /api/v1/users/{userID}.
func (s *Service) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	u, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleAdjustBalance handles POST /api/v1/users/{userID}/balance.
// Operator-only in the outer layer; the engine re-validates invariants.
func (s *Service) HandleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.store.AdjustBalance(r.Context(), userID, req.Delta)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	slog.Info("balance adjusted", "user", userID, "delta", req.Delta, "balance", u.Balance)
	writeJSON(w, http.StatusOK, u)
}

// HandleUserStakes handles GET /api/v1/users/{userID}/stakes.
func (s *Service) HandleUserStakes(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	stakes, err := s.store.GetStakesByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load stakes", http.StatusInternalServerError)
		return
	}
	if stakes == nil {
		stakes = []model.Stake{}
	}
	writeJSON(w, http.StatusOK, stakes)
}

// --- helpers ---

func marketResponse(m *model.Market, options []model.Option) MarketResponse {
	views := make([]OptionView, len(options))
	for i, o := range options {
		views[i] = OptionView{
			Option:       o,
			Odds:         pool.Odds(m.TotalPool, o.Pool),
			SharePercent: pool.SharePercent(m.TotalPool, o.Pool),
		}
	}
	return MarketResponse{
		Market:  *m,
		Status:  m.Status(time.Now().UTC()),
		Options: views,
	}
}

// errStatus maps engine and store failures to HTTP statuses. Validation
// failures are terminal for the request and surfaced verbatim.
func errStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, validate.ErrInvalidTitle),
		errors.Is(err, validate.ErrInvalidCategory),
		errors.Is(err, validate.ErrInvalidCloseTime),
		errors.Is(err, validate.ErrInvalidOptions),
		errors.Is(err, validate.ErrDescriptionLen):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrMarketClosed),
		errors.Is(err, store.ErrAlreadyResolved),
		errors.Is(err, store.ErrInvalidOption),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, limit.ErrStakeTooLarge),
		errors.Is(err, limit.ErrMarketExposureExceeded):
		return http.StatusConflict
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
