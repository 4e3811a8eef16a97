package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paripool/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Settlement primitives run in a single transaction with the market row
// locked first and the user row second, so concurrent writers on the same
// market or user serialize without deadlocking.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// schema is applied by Migrate. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id                  TEXT PRIMARY KEY,
    balance             BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    hidden_from_ranking BOOLEAN NOT NULL DEFAULT FALSE,
    created_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
    id                TEXT PRIMARY KEY,
    title             TEXT NOT NULL,
    category          TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    image_ref         TEXT NOT NULL DEFAULT '',
    closes_at         TIMESTAMPTZ NOT NULL,
    total_pool        BIGINT NOT NULL DEFAULT 0 CHECK (total_pool >= 0),
    resolved          BOOLEAN NOT NULL DEFAULT FALSE,
    winning_option_id TEXT,
    resolved_at       TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS options (
    id        TEXT PRIMARY KEY,
    market_id TEXT NOT NULL REFERENCES markets(id),
    name      TEXT NOT NULL,
    pool      BIGINT NOT NULL DEFAULT 0 CHECK (pool >= 0)
);

CREATE INDEX IF NOT EXISTS idx_options_market ON options(market_id);

CREATE TABLE IF NOT EXISTS stakes (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL REFERENCES users(id),
    market_id  TEXT NOT NULL REFERENCES markets(id),
    option_id  TEXT NOT NULL REFERENCES options(id),
    amount     BIGINT NOT NULL CHECK (amount > 0),
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stakes_market ON stakes(market_id);
CREATE INDEX IF NOT EXISTS idx_stakes_option ON stakes(option_id);
CREATE INDEX IF NOT EXISTS idx_stakes_user ON stakes(user_id);
`

// Migrate applies the schema. Safe to call on every startup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// mapPgErr translates driver failures into store sentinels.
func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrAlreadyExists
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ErrConflict
		}
	}
	return err
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, balance, hidden_from_ranking, created_at)
		 VALUES ($1, $2, $3, $4)`,
		u.ID, u.Balance, u.HiddenFromRanking, u.CreatedAt,
	)
	return mapPgErr(err)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, balance, hidden_from_ranking, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Balance, &u.HiddenFromRanking, &u.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return &u, nil
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, userID string, delta int64) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2
		 WHERE id = $1 AND balance + $2 >= 0
		 RETURNING id, balance, hidden_from_ranking, created_at`,
		userID, delta).
		Scan(&u.ID, &u.Balance, &u.HiddenFromRanking, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing user from a rejected debit.
		if _, gerr := s.GetUser(ctx, userID); gerr != nil {
			return nil, gerr
		}
		return nil, ErrInsufficientBalance
	}
	if err != nil {
		return nil, mapPgErr(err)
	}
	return &u, nil
}

// --- Markets ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market, options []model.Option) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgErr(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO markets (id, title, category, description, image_ref, closes_at, total_pool, resolved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, FALSE, $7)`,
		m.ID, m.Title, m.Category, m.Description, m.ImageRef, m.ClosesAt, m.CreatedAt,
	)
	if err != nil {
		return mapPgErr(err)
	}

	for _, o := range options {
		_, err = tx.Exec(ctx,
			`INSERT INTO options (id, market_id, name, pool) VALUES ($1, $2, $3, 0)`,
			o.ID, o.MarketID, o.Name,
		)
		if err != nil {
			return mapPgErr(err)
		}
	}

	return mapPgErr(tx.Commit(ctx))
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, category, description, image_ref, closes_at,
		        total_pool, resolved, winning_option_id, resolved_at, created_at
		 FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.Title, &m.Category, &m.Description, &m.ImageRef, &m.ClosesAt,
			&m.TotalPool, &m.Resolved, &m.WinningOptionID, &m.ResolvedAt, &m.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return &m, nil
}

func (s *PostgresStore) GetOptions(ctx context.Context, marketID string) ([]model.Option, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, name, pool FROM options WHERE market_id = $1 ORDER BY id`, marketID)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var options []model.Option
	for rows.Next() {
		var o model.Option
		if err := rows.Scan(&o.ID, &o.MarketID, &o.Name, &o.Pool); err != nil {
			return nil, err
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, category, description, image_ref, closes_at,
		        total_pool, resolved, winning_option_id, resolved_at, created_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		var m model.Market
		if err := rows.Scan(&m.ID, &m.Title, &m.Category, &m.Description, &m.ImageRef, &m.ClosesAt,
			&m.TotalPool, &m.Resolved, &m.WinningOptionID, &m.ResolvedAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// --- Stake ledger ---

func (s *PostgresStore) GetStakesByMarket(ctx context.Context, marketID string) ([]model.Stake, error) {
	return s.queryStakes(ctx,
		`SELECT id, user_id, market_id, option_id, amount, created_at
		 FROM stakes WHERE market_id = $1 ORDER BY created_at`, marketID)
}

func (s *PostgresStore) GetStakesByOption(ctx context.Context, optionID string) ([]model.Stake, error) {
	return s.queryStakes(ctx,
		`SELECT id, user_id, market_id, option_id, amount, created_at
		 FROM stakes WHERE option_id = $1 ORDER BY created_at`, optionID)
}

func (s *PostgresStore) GetStakesByUser(ctx context.Context, userID string) ([]model.Stake, error) {
	return s.queryStakes(ctx,
		`SELECT id, user_id, market_id, option_id, amount, created_at
		 FROM stakes WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (s *PostgresStore) queryStakes(ctx context.Context, sql string, arg any) ([]model.Stake, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var stakes []model.Stake
	for rows.Next() {
		var st model.Stake
		if err := rows.Scan(&st.ID, &st.UserID, &st.MarketID, &st.OptionID, &st.Amount, &st.CreatedAt); err != nil {
			return nil, err
		}
		stakes = append(stakes, st)
	}
	return stakes, rows.Err()
}

func (s *PostgresStore) UserMarketStake(ctx context.Context, userID, marketID string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM stakes WHERE user_id = $1 AND market_id = $2`,
		userID, marketID).Scan(&total)
	return total, mapPgErr(err)
}

// --- Settlement primitives ---

func (s *PostgresStore) ExecuteStake(ctx context.Context, stake *model.Stake, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgErr(err)
	}
	defer tx.Rollback(ctx)

	// Lock the market row first; every stake and the resolution take this
	// lock, so pool mutation and the state check are one exclusive section.
	var resolved bool
	var closesAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT resolved, closes_at FROM markets WHERE id = $1 FOR UPDATE`,
		stake.MarketID).Scan(&resolved, &closesAt)
	if err != nil {
		return mapPgErr(err)
	}
	if resolved || !now.Before(closesAt) {
		return ErrMarketClosed
	}

	// Debit with the balance check in the same statement; zero rows means
	// the user is missing or the balance is short.
	tag, err := tx.Exec(ctx,
		`UPDATE users SET balance = balance - $2 WHERE id = $1 AND balance >= $2`,
		stake.UserID, stake.Amount)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, stake.UserID).Scan(&exists); err != nil {
			return mapPgErr(err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInsufficientBalance
	}

	tag, err = tx.Exec(ctx,
		`UPDATE options SET pool = pool + $3 WHERE id = $1 AND market_id = $2`,
		stake.OptionID, stake.MarketID, stake.Amount)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidOption
	}

	if _, err = tx.Exec(ctx,
		`UPDATE markets SET total_pool = total_pool + $2 WHERE id = $1`,
		stake.MarketID, stake.Amount); err != nil {
		return mapPgErr(err)
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO stakes (id, user_id, market_id, option_id, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		stake.ID, stake.UserID, stake.MarketID, stake.OptionID, stake.Amount, stake.CreatedAt); err != nil {
		return mapPgErr(err)
	}

	return mapPgErr(tx.Commit(ctx))
}

func (s *PostgresStore) ExecuteResolution(ctx context.Context, marketID, winningOptionID string, payouts map[string]int64, resolvedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgErr(err)
	}
	defer tx.Rollback(ctx)

	var belongs bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM options WHERE id = $1 AND market_id = $2)`,
		winningOptionID, marketID).Scan(&belongs)
	if err != nil {
		return mapPgErr(err)
	}
	if !belongs {
		return ErrInvalidOption
	}

	// The resolved guard in the WHERE clause makes duplicate resolution a
	// no-op update, never a double payout.
	tag, err := tx.Exec(ctx,
		`UPDATE markets SET resolved = TRUE, winning_option_id = $2, resolved_at = $3
		 WHERE id = $1 AND resolved = FALSE`,
		marketID, winningOptionID, resolvedAt)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM markets WHERE id = $1)`, marketID).Scan(&exists); err != nil {
			return mapPgErr(err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyResolved
	}

	for userID, amount := range payouts {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET balance = balance + $2 WHERE id = $1`,
			userID, amount)
		if err != nil {
			return mapPgErr(err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("credit %s: %w", userID, ErrNotFound)
		}
	}

	return mapPgErr(tx.Commit(ctx))
}
