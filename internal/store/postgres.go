package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/polybet/internal/model"
)

// Schema is applied by Migrate. Amounts are NUMERIC in whole units for exact
// decimal precision; addresses are lowercase hex.
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	address                 TEXT PRIMARY KEY,
	creator                 TEXT NOT NULL,
	oracle                  TEXT NOT NULL,
	question                TEXT NOT NULL,
	category                TEXT NOT NULL,
	token_unit_value        NUMERIC NOT NULL,
	initial_yes_probability SMALLINT NOT NULL,
	percentage_locked       SMALLINT NOT NULL,
	yes_reserve             NUMERIC NOT NULL,
	no_reserve              NUMERIC NOT NULL,
	yes_supply              NUMERIC NOT NULL,
	no_supply               NUMERIC NOT NULL,
	collateral              NUMERIC NOT NULL,
	lp_revenue              NUMERIC NOT NULL,
	total_liquidity         NUMERIC NOT NULL,
	price_yes               NUMERIC NOT NULL,
	price_no                NUMERIC NOT NULL,
	status                  TEXT NOT NULL,
	winning_outcome         SMALLINT,
	is_active               BOOLEAN NOT NULL,
	expiration              TIMESTAMPTZ NOT NULL,
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS markets_category_idx ON markets (category);
CREATE INDEX IF NOT EXISTS markets_creator_idx ON markets (creator);

CREATE TABLE IF NOT EXISTS market_events (
	id        TEXT PRIMARY KEY,
	market    TEXT NOT NULL,
	kind      TEXT NOT NULL,
	account   TEXT NOT NULL,
	payload   JSONB NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS market_events_market_idx ON market_events (market, timestamp);
CREATE INDEX IF NOT EXISTS market_events_account_idx ON market_events (account, timestamp);
`

const marketColumns = `address, creator, oracle, question, category,
	token_unit_value::TEXT, initial_yes_probability, percentage_locked,
	yes_reserve::TEXT, no_reserve::TEXT, yes_supply::TEXT, no_supply::TEXT,
	collateral::TEXT, lp_revenue::TEXT, total_liquidity::TEXT,
	price_yes::TEXT, price_no::TEXT, status, winning_outcome, is_active,
	expiration, created_at, updated_at`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveMarket(ctx context.Context, m model.MarketSnapshot) error {
	var winner *int16
	if m.WinningOutcome != nil {
		w := int16(*m.WinningOutcome)
		winner = &w
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (address, creator, oracle, question, category,
		        token_unit_value, initial_yes_probability, percentage_locked,
		        yes_reserve, no_reserve, yes_supply, no_supply,
		        collateral, lp_revenue, total_liquidity, price_yes, price_no,
		        status, winning_outcome, is_active, expiration, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8,
		         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC,
		         $13::NUMERIC, $14::NUMERIC, $15::NUMERIC, $16::NUMERIC, $17::NUMERIC,
		         $18, $19, $20, $21, $22, $23)
		 ON CONFLICT (address) DO UPDATE SET
		        yes_reserve = EXCLUDED.yes_reserve, no_reserve = EXCLUDED.no_reserve,
		        yes_supply = EXCLUDED.yes_supply, no_supply = EXCLUDED.no_supply,
		        collateral = EXCLUDED.collateral, lp_revenue = EXCLUDED.lp_revenue,
		        total_liquidity = EXCLUDED.total_liquidity,
		        price_yes = EXCLUDED.price_yes, price_no = EXCLUDED.price_no,
		        status = EXCLUDED.status, winning_outcome = EXCLUDED.winning_outcome,
		        is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at`,
		hexAddr(m.Address), hexAddr(m.Creator), hexAddr(m.Oracle), m.Question, m.Category,
		m.TokenUnitValue.String(), int16(m.InitialYesProbability), int16(m.PercentageLocked),
		m.YesReserve.String(), m.NoReserve.String(), m.YesSupply.String(), m.NoSupply.String(),
		m.Collateral.String(), m.LPRevenue.String(), m.TotalLiquidity.String(),
		m.PriceYes.String(), m.PriceNo.String(),
		m.Status, winner, m.IsActive, m.Expiration, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save market %s: %w", m.Address.Hex(), err)
	}
	return nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, addr common.Address) (*model.MarketSnapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE address = $1`, hexAddr(addr))
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, addr.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", addr.Hex(), err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context, filter model.MarketFilter, page model.Page) ([]model.MarketSnapshot, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Creator != (common.Address{}) {
		args = append(args, hexAddr(filter.Creator))
		conds = append(conds, fmt.Sprintf("creator = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + marketColumns + ` FROM markets` + where + ` ORDER BY created_at, address`
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var markets []model.MarketSnapshot
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, 0, err
		}
		markets = append(markets, *m)
	}
	return markets, total, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e model.EventRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_events (id, market, kind, account, payload, timestamp)
		 VALUES ($1, $2, $3, $4, $5::JSONB, $6)`,
		e.ID, hexAddr(e.Market), e.Kind, hexAddr(e.Account), string(e.Payload), e.Timestamp,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, e.ID)
	}
	return err
}

func (s *PostgresStore) EventsByMarket(ctx context.Context, market common.Address) ([]model.EventRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market, kind, account, payload::TEXT, timestamp
		 FROM market_events WHERE market = $1 ORDER BY timestamp`, hexAddr(market))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) EventsByAccount(ctx context.Context, account common.Address) ([]model.EventRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market, kind, account, payload::TEXT, timestamp
		 FROM market_events WHERE account = $1 ORDER BY timestamp`, hexAddr(account))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func hexAddr(a common.Address) string { return strings.ToLower(a.Hex()) }

func scanMarket(row pgx.Row) (*model.MarketSnapshot, error) {
	var (
		m                                model.MarketSnapshot
		address, creator, oracle         string
		unit, yesR, noR, yesS, noS       string
		collateral, revenue, liq, pY, pN string
		yesPct, lockedPct                int16
		winner                           *int16
	)
	err := row.Scan(&address, &creator, &oracle, &m.Question, &m.Category,
		&unit, &yesPct, &lockedPct,
		&yesR, &noR, &yesS, &noS,
		&collateral, &revenue, &liq, &pY, &pN,
		&m.Status, &winner, &m.IsActive,
		&m.Expiration, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	m.Address = common.HexToAddress(address)
	m.Creator = common.HexToAddress(creator)
	m.Oracle = common.HexToAddress(oracle)
	m.InitialYesProbability = uint8(yesPct)
	m.PercentageLocked = uint8(lockedPct)
	if winner != nil {
		w := model.Outcome(*winner)
		m.WinningOutcome = &w
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&m.TokenUnitValue, unit},
		{&m.YesReserve, yesR}, {&m.NoReserve, noR},
		{&m.YesSupply, yesS}, {&m.NoSupply, noS},
		{&m.Collateral, collateral}, {&m.LPRevenue, revenue}, {&m.TotalLiquidity, liq},
		{&m.PriceYes, pY}, {&m.PriceNo, pN},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("store: bad numeric %q: %w", f.src, err)
		}
		*f.dst = d
	}
	return &m, nil
}

func scanEvents(rows pgx.Rows) ([]model.EventRecord, error) {
	var records []model.EventRecord
	for rows.Next() {
		var (
			e               model.EventRecord
			market, account string
			payload         string
		)
		if err := rows.Scan(&e.ID, &market, &e.Kind, &account, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Market = common.HexToAddress(market)
		e.Account = common.HexToAddress(account)
		e.Payload = []byte(payload)
		records = append(records, e)
	}
	return records, rows.Err()
}
