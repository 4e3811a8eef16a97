package wager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paripool/market-engine/internal/model"
	"github.com/paripool/market-engine/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := NewService(st, nil, nil, Config{
		StartingBalance: 1000,
		LockTimeout:     2 * time.Second,
		RetryAttempts:   3,
		RetryBackoff:    5 * time.Millisecond,
	})
	return svc, st
}

func newTestRouter(svc *Service) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users", svc.HandleCreateUser)
		r.Get("/users/{userID}", svc.HandleGetUser)
		r.Post("/users/{userID}/balance", svc.HandleAdjustBalance)
		r.Get("/users/{userID}/stakes", svc.HandleUserStakes)
		r.Post("/markets", svc.HandleCreateMarket)
		r.Get("/markets", svc.HandleListMarkets)
		r.Get("/markets/{marketID}", svc.HandleGetMarket)
		r.Get("/markets/{marketID}/stakes", svc.HandleMarketStakes)
		r.Post("/markets/{marketID}/resolve", svc.HandleResolveMarket)
		r.Post("/stakes", svc.HandlePlaceStake)
	})
	return r
}

// seedMarket inserts a user and an open two-option market directly.
func seedMarket(t *testing.T, st *store.MemoryStore, closesAt time.Time) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"alice", "bob", "carol"} {
		if err := st.CreateUser(ctx, &model.User{ID: id, Balance: 1000, CreatedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
	m := &model.Market{
		ID:        "m1",
		Title:     "Will it rain tomorrow?",
		Category:  "weather",
		ClosesAt:  closesAt,
		CreatedAt: time.Now().UTC(),
	}
	opts := []model.Option{
		{ID: "opt-yes", MarketID: "m1", Name: "Yes"},
		{ID: "opt-no", MarketID: "m1", Name: "No"},
	}
	if err := st.CreateMarket(ctx, m, opts); err != nil {
		t.Fatalf("seed market: %v", err)
	}
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPlaceStakeFirstOnEmptyMarket(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(time.Hour))
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/api/v1/stakes", StakeRequest{
		UserID: "alice", MarketID: "m1", OptionID: "opt-yes", Amount: 100,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp StakeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Balance != 900 {
		t.Errorf("balance = %d, want 900", resp.Balance)
	}
	if resp.OptionPool != 100 || resp.TotalPool != 100 {
		t.Errorf("pools = %d/%d, want 100/100", resp.OptionPool, resp.TotalPool)
	}
	if resp.Odds.String() != "1" {
		t.Errorf("odds = %s, want 1", resp.Odds)
	}
}

func TestPlaceStakeRejections(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(time.Hour))
	r := newTestRouter(svc)

	tests := []struct {
		name string
		req  StakeRequest
		code int
	}{
		{"zero amount", StakeRequest{UserID: "alice", MarketID: "m1", OptionID: "opt-yes", Amount: 0}, http.StatusBadRequest},
		{"negative amount", StakeRequest{UserID: "alice", MarketID: "m1", OptionID: "opt-yes", Amount: -50}, http.StatusBadRequest},
		{"unknown market", StakeRequest{UserID: "alice", MarketID: "nope", OptionID: "opt-yes", Amount: 10}, http.StatusNotFound},
		{"foreign option", StakeRequest{UserID: "alice", MarketID: "m1", OptionID: "opt-elsewhere", Amount: 10}, http.StatusConflict},
		{"unknown user", StakeRequest{UserID: "mallory", MarketID: "m1", OptionID: "opt-yes", Amount: 10}, http.StatusNotFound},
		{"insufficient balance", StakeRequest{UserID: "alice", MarketID: "m1", OptionID: "opt-yes", Amount: 5000}, http.StatusPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/v1/stakes", tt.req)
			if w.Code != tt.code {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.code, w.Body.String())
			}
		})
	}

	// None of the rejected attempts may have touched the balance.
	u, err := st.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.Balance != 1000 {
		t.Errorf("alice balance = %d after rejections, want 1000", u.Balance)
	}
}

func TestPlaceStakeOnClosedMarket(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(-time.Minute))
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/api/v1/stakes", StakeRequest{
		UserID: "alice", MarketID: "m1", OptionID: "opt-yes", Amount: 100,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", w.Code, w.Body.String())
	}

	u, _ := st.GetUser(context.Background(), "alice")
	if u.Balance != 1000 {
		t.Errorf("balance = %d, want 1000", u.Balance)
	}
	m, _ := st.GetMarket(context.Background(), "m1")
	if m.TotalPool != 0 {
		t.Errorf("total pool = %d, want 0", m.TotalPool)
	}
}

func TestResolveMarketPaysWinners(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(time.Hour))
	ctx := context.Background()

	// alice 50 and bob 50 on yes, carol 200 on no: total 300, winning pool 100.
	for _, c := range []struct {
		user, option string
		amount       int64
	}{
		{"alice", "opt-yes", 50},
		{"bob", "opt-yes", 50},
		{"carol", "opt-no", 200},
	} {
		if _, err := svc.PlaceStake(ctx, c.user, "m1", c.option, c.amount); err != nil {
			t.Fatalf("stake %s: %v", c.user, err)
		}
	}

	res, err := svc.ResolveMarket(ctx, "m1", "opt-yes")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.WinningStakes != 2 || res.WinnersPaid != 2 {
		t.Errorf("winning stakes/paid = %d/%d, want 2/2", res.WinningStakes, res.WinnersPaid)
	}
	if res.TotalPaid != 300 || res.Remainder != 0 {
		t.Errorf("total paid = %d remainder = %d, want 300/0", res.TotalPaid, res.Remainder)
	}

	// floor(50 * 300 / 100) = 150 each.
	for _, user := range []string{"alice", "bob"} {
		u, _ := st.GetUser(ctx, user)
		if u.Balance != 1100 {
			t.Errorf("%s balance = %d, want 1100", user, u.Balance)
		}
	}
	carol, _ := st.GetUser(ctx, "carol")
	if carol.Balance != 800 {
		t.Errorf("carol balance = %d, want 800", carol.Balance)
	}
}

func TestResolveMarketRemainderRetained(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(time.Hour))
	ctx := context.Background()

	// 1+1+1 on yes, 1 on no: total 4, winning pool 3, floor(1*4/3)=1 each.
	for _, user := range []string{"alice", "bob", "carol"} {
		if _, err := svc.PlaceStake(ctx, user, "m1", "opt-yes", 1); err != nil {
			t.Fatalf("stake %s: %v", user, err)
		}
	}
	if _, err := svc.PlaceStake(ctx, "alice", "m1", "opt-no", 1); err != nil {
		t.Fatal(err)
	}

	res, err := svc.ResolveMarket(ctx, "m1", "opt-yes")
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalPaid != 3 {
		t.Errorf("total paid = %d, want 3", res.TotalPaid)
	}
	if res.Remainder != 1 {
		t.Errorf("remainder = %d, want 1", res.Remainder)
	}
	if res.Remainder >= int64(res.WinningStakes) {
		t.Errorf("remainder %d not below winning stake count %d", res.Remainder, res.WinningStakes)
	}

	bob, _ := st.GetUser(ctx, "bob")
	if bob.Balance != 1000 { // 999 after staking, +1 payout
		t.Errorf("bob balance = %d, want 1000", bob.Balance)
	}
}

func TestResolveMarketNoBackersRetainsPool(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(time.Hour))
	ctx := context.Background()

	if _, err := svc.PlaceStake(ctx, "alice", "m1", "opt-yes", 300); err != nil {
		t.Fatal(err)
	}

	res, err := svc.ResolveMarket(ctx, "m1", "opt-no")
	if err != nil {
		t.Fatal(err)
	}
	if res.WinnersPaid != 0 || res.TotalPaid != 0 {
		t.Errorf("winners/paid = %d/%d, want 0/0", res.WinnersPaid, res.TotalPaid)
	}
	if res.Remainder != 300 {
		t.Errorf("remainder = %d, want 300", res.Remainder)
	}

	u, _ := st.GetUser(ctx, "alice")
	if u.Balance != 700 {
		t.Errorf("alice balance = %d, want 700", u.Balance)
	}
}

func TestResolveMarketIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(time.Hour))
	r := newTestRouter(svc)
	ctx := context.Background()

	if _, err := svc.PlaceStake(ctx, "alice", "m1", "opt-yes", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveMarket(ctx, "m1", "opt-yes"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	alice, _ := st.GetUser(ctx, "alice")
	before := alice.Balance

	w := doJSON(t, r, http.MethodPost, "/api/v1/markets/m1/resolve", ResolveRequest{WinningOptionID: "opt-yes"})
	if w.Code != http.StatusConflict {
		t.Fatalf("second resolve status = %d, want 409 (body %s)", w.Code, w.Body.String())
	}

	alice, _ = st.GetUser(ctx, "alice")
	if alice.Balance != before {
		t.Errorf("balance moved on duplicate resolution: %d -> %d", before, alice.Balance)
	}
}

func TestResolveMarketUnknownOption(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(time.Hour))
	ctx := context.Background()

	if _, err := svc.ResolveMarket(ctx, "m1", "opt-elsewhere"); !errors.Is(err, store.ErrInvalidOption) {
		t.Errorf("err = %v, want ErrInvalidOption", err)
	}
	m, _ := st.GetMarket(ctx, "m1")
	if m.Resolved {
		t.Error("market resolved after rejected resolution")
	}
}

func TestStakeAfterResolutionRejected(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(time.Hour))
	ctx := context.Background()

	if _, err := svc.PlaceStake(ctx, "alice", "m1", "opt-yes", 10); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResolveMarket(ctx, "m1", "opt-yes"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PlaceStake(ctx, "bob", "m1", "opt-no", 10); !errors.Is(err, store.ErrMarketClosed) {
		t.Errorf("err = %v, want ErrMarketClosed", err)
	}

	bob, _ := st.GetUser(ctx, "bob")
	if bob.Balance != 1000 {
		t.Errorf("bob balance = %d, want 1000", bob.Balance)
	}
}

func TestCreateMarketValidation(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(svc)

	valid := CreateMarketRequest{
		Title:    "Will it rain tomorrow?",
		Category: "weather",
		ClosesAt: time.Now().Add(24 * time.Hour),
		Options:  []string{"Yes", "No"},
	}

	w := doJSON(t, r, http.MethodPost, "/api/v1/markets", valid)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp MarketResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Options) != 2 {
		t.Errorf("options = %d, want 2", len(resp.Options))
	}
	if resp.Status != model.StatusOpen {
		t.Errorf("status = %q, want open", resp.Status)
	}

	tests := []struct {
		name   string
		mutate func(*CreateMarketRequest)
	}{
		{"empty title", func(r *CreateMarketRequest) { r.Title = "" }},
		{"bad category", func(r *CreateMarketRequest) { r.Category = "astrology" }},
		{"past close", func(r *CreateMarketRequest) { r.ClosesAt = time.Now().Add(-time.Hour) }},
		{"one option", func(r *CreateMarketRequest) { r.Options = []string{"Yes"} }},
		{"duplicate options", func(r *CreateMarketRequest) { r.Options = []string{"Yes", "yes"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			req.Options = append([]string(nil), valid.Options...)
			tt.mutate(&req)
			w := doJSON(t, r, http.MethodPost, "/api/v1/markets", req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestConcurrentStakesPoolSum(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(time.Hour))
	ctx := context.Background()

	const perUser = 20
	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob", "carol"} {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			option := "opt-yes"
			if i%2 == 0 {
				option = "opt-no"
			}
			go func(user, option string) {
				defer wg.Done()
				if _, err := svc.PlaceStake(ctx, user, "m1", option, 5); err != nil {
					t.Errorf("stake: %v", err)
				}
			}(user, option)
		}
	}
	wg.Wait()

	m, _ := st.GetMarket(ctx, "m1")
	options, _ := st.GetOptions(ctx, "m1")
	var optSum int64
	for _, o := range options {
		optSum += o.Pool
	}
	want := int64(3 * perUser * 5)
	if m.TotalPool != want || optSum != want {
		t.Errorf("total pool = %d, option sum = %d, want %d", m.TotalPool, optSum, want)
	}
	for _, user := range []string{"alice", "bob", "carol"} {
		u, _ := st.GetUser(ctx, user)
		if u.Balance != 1000-perUser*5 {
			t.Errorf("%s balance = %d, want %d", user, u.Balance, 1000-perUser*5)
		}
	}
}

func TestConcurrentFullBalanceStakesSingleWinner(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(time.Hour))
	ctx := context.Background()

	// Five racing attempts to spend the entire balance: exactly one lands.
	const attempts = 5
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.PlaceStake(ctx, "alice", "m1", "opt-yes", 1000)
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrInsufficientBalance):
			insufficient++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != attempts-1 {
		t.Errorf("successes = %d, insufficient = %d, want 1 and %d", ok, insufficient, attempts-1)
	}

	u, _ := st.GetUser(ctx, "alice")
	if u.Balance != 0 {
		t.Errorf("balance = %d, want 0", u.Balance)
	}
	m, _ := st.GetMarket(ctx, "m1")
	if m.TotalPool != 1000 {
		t.Errorf("total pool = %d, want 1000", m.TotalPool)
	}
}

func TestGetMarketOddsAndShares(t *testing.T) {
	svc, st := newTestService(t)
	seedMarket(t, st, time.Now().Add(time.Hour))
	r := newTestRouter(svc)
	ctx := context.Background()

	if _, err := svc.PlaceStake(ctx, "alice", "m1", "opt-yes", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PlaceStake(ctx, "bob", "m1", "opt-no", 200); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/markets/m1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp MarketResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	byID := map[string]OptionView{}
	for _, o := range resp.Options {
		byID[o.ID] = o
	}
	if got := byID["opt-yes"].Odds.String(); got != "3" {
		t.Errorf("yes odds = %s, want 3", got)
	}
	if got := byID["opt-no"].Odds.String(); got != "1.5" {
		t.Errorf("no odds = %s, want 1.5", got)
	}
	if byID["opt-yes"].SharePercent != 33 || byID["opt-no"].SharePercent != 67 {
		t.Errorf("shares = %d/%d, want 33/67",
			byID["opt-yes"].SharePercent, byID["opt-no"].SharePercent)
	}
}

func TestUserLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/api/v1/users", CreateUserRequest{ID: "dave"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var u model.User
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatal(err)
	}
	if u.Balance != 1000 {
		t.Errorf("starting balance = %d, want 1000", u.Balance)
	}

	// Duplicate registration is rejected.
	w = doJSON(t, r, http.MethodPost, "/api/v1/users", CreateUserRequest{ID: "dave"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/users/dave/balance", AdjustBalanceRequest{Delta: -500})
	if w.Code != http.StatusOK {
		t.Fatalf("adjust status = %d", w.Code)
	}

	// Adjusting below zero violates the balance invariant.
	w = doJSON(t, r, http.MethodPost, "/api/v1/users/dave/balance", AdjustBalanceRequest{Delta: -600})
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("overdraft status = %d, want 402 (body %s)", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/users/dave", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatal(err)
	}
	if u.Balance != 500 {
		t.Errorf("balance = %d, want 500", u.Balance)
	}
}

func TestListMarketsStatus(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	r := newTestRouter(svc)

	now := time.Now().UTC()
	markets := []struct {
		id       string
		closesAt time.Time
		resolved bool
	}{
		{"open-1", now.Add(time.Hour), false},
		{"closed-1", now.Add(-time.Hour), false},
		{"resolved-1", now.Add(-time.Hour), true},
	}
	for _, mk := range markets {
		m := &model.Market{ID: mk.id, Title: mk.id, Category: "other", ClosesAt: mk.closesAt, CreatedAt: now}
		opts := []model.Option{
			{ID: mk.id + "-a", MarketID: mk.id, Name: "A"},
			{ID: mk.id + "-b", MarketID: mk.id, Name: "B"},
		}
		if err := st.CreateMarket(ctx, m, opts); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.ExecuteResolution(ctx, "resolved-1", "resolved-1-a", nil, now); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/markets", nil)
	var out []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, m := range out {
		got[fmt.Sprint(m["id"])] = fmt.Sprint(m["status"])
	}
	want := map[string]string{"open-1": model.StatusOpen, "closed-1": model.StatusClosed, "resolved-1": model.StatusResolved}
	for id, status := range want {
		if got[id] != status {
			t.Errorf("market %s status = %q, want %q", id, got[id], status)
		}
	}
}
