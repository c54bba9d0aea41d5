// Package trade provides the HTTP handlers for creating markets, trading
// outcome tokens, providing liquidity and settling markets.
//
// Amounts cross the API as decimal strings in whole collateral units
// ("0.25"); the engine works in 18-decimal base units.
package trade

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/polybet/internal/amm"
	"github.com/atmx/polybet/internal/factory"
	"github.com/atmx/polybet/internal/fixedpoint"
	"github.com/atmx/polybet/internal/market"
	"github.com/atmx/polybet/internal/metrics"
	"github.com/atmx/polybet/internal/model"
	"github.com/atmx/polybet/internal/registry"
	"github.com/atmx/polybet/internal/store"
	"github.com/atmx/polybet/internal/vault"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Service handles market operations. Mutations are serialized behind a
// mutex (single-instance); reads share it. Markets themselves are not safe
// for concurrent use, so every access goes through the lock.
type Service struct {
	mu       sync.RWMutex
	factory  *factory.Factory
	registry *registry.Registry
	vault    *vault.Vault
	store    store.Store
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a trade service over a factory linked to reg. The vault
// must be the treasury the factory's markets pay through.
func NewService(f *factory.Factory, reg *registry.Registry, v *vault.Vault, st store.Store, opts ...Option) *Service {
	s := &Service{
		factory:  f,
		registry: reg,
		vault:    v,
		store:    st,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes mounts every handler on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/factory", s.GetFactoryInfo)
	r.Get("/categories", s.ListCategories)
	r.Post("/categories", s.AddCategory)

	r.Get("/registry", s.GetRegistryStats)
	r.Get("/registry/markets", s.ListRegistryEntries)

	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Route("/markets/{address}", func(r chi.Router) {
		r.Get("/", s.GetMarket)
		r.Get("/status", s.GetMarketStatus)
		r.Get("/quote", s.Quote)
		r.Get("/history", s.GetMarketHistory)
		r.Get("/positions/{account}", s.GetPosition)

		r.Post("/buy", s.BuyTokens)
		r.Post("/sell", s.SellTokens)
		r.Post("/transfer", s.TransferTokens)
		r.Post("/liquidity", s.AddLiquidity)
		r.Post("/liquidity/remove", s.RemoveLiquidity)
		r.Post("/revenue/claim", s.ClaimLPRevenue)
		r.Post("/report", s.Report)
		r.Post("/resolve", s.Resolve)
		r.Post("/redeem", s.RedeemWinningTokens)
		r.Post("/withdraw", s.WithdrawSettledLiquidity)
		r.Post("/active", s.SetMarketActive)
	})

	r.Get("/accounts/{account}", s.GetAccount)
	r.Post("/accounts/{account}/deposit", s.Deposit)
	r.Get("/accounts/{account}/history", s.GetAccountHistory)
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation. The initial
// liquidity is debited from the caller's vault balance.
type CreateMarketRequest struct {
	From string `json:"from"`
	factory.CreateRequest
}

// TradeRequest is the JSON body for buy and sell. Value is the collateral
// attached to a buy; when empty the current quote is attached.
type TradeRequest struct {
	From    string `json:"from"`
	Outcome string `json:"outcome"`
	Amount  string `json:"amount"`
	Value   string `json:"value,omitempty"`
}

type TransferRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Outcome string `json:"outcome"`
	Amount  string `json:"amount"`
}

// AmountRequest serves liquidity, redeem and deposit calls.
type AmountRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type ReportRequest struct {
	From    string `json:"from"`
	Outcome string `json:"outcome"`
}

type CallerRequest struct {
	From string `json:"from"`
}

type CategoryRequest struct {
	From string `json:"from"`
	Name string `json:"name"`
}

type ActiveRequest struct {
	From   string `json:"from"`
	Active bool   `json:"active"`
}

// TradeResponse is returned from buy and sell.
type TradeResponse struct {
	Market     common.Address  `json:"market"`
	Account    common.Address  `json:"account"`
	Outcome    model.Outcome   `json:"outcome"`
	Amount     decimal.Decimal `json:"amount"`
	Collateral decimal.Decimal `json:"collateral"` // paid on buy, received on sell
	Fee        decimal.Decimal `json:"fee"`
	PriceYes   decimal.Decimal `json:"price_yes"`
	PriceNo    decimal.Decimal `json:"price_no"`
	Position   model.Position  `json:"position"`
}

// QuoteResponse prices a trade without executing it.
type QuoteResponse struct {
	Side       string          `json:"side"`
	Outcome    model.Outcome   `json:"outcome"`
	Amount     decimal.Decimal `json:"amount"`
	Collateral decimal.Decimal `json:"collateral"`
	Fee        decimal.Decimal `json:"fee"`
	ProbBefore decimal.Decimal `json:"probability_before"`
	ProbAfter  decimal.Decimal `json:"probability_after"`
}

// PayoutResponse reports collateral paid out by a call.
type PayoutResponse struct {
	Market  common.Address  `json:"market"`
	Account common.Address  `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

type MarketList struct {
	Markets []model.MarketSnapshot `json:"markets"`
	Total   int                    `json:"total"`
	Offset  int                    `json:"offset"`
	Limit   int                    `json:"limit"`
}

type AccountResponse struct {
	Account common.Address  `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

// --- Input parsing ---

// parser accumulates the first input error so handlers can check once.
type parser struct{ err error }

func (p *parser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: "+format, append([]any{errBadRequest}, args...)...)
	}
}

func (p *parser) address(field, s string) common.Address {
	if !common.IsHexAddress(s) {
		p.fail("%s must be a hex address", field)
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func (p *parser) amount(field, s string) *uint256.Int {
	if strings.TrimSpace(s) == "" {
		p.fail("%s is required", field)
		return nil
	}
	v, err := fixedpoint.ParseUnits(strings.TrimSpace(s))
	if err != nil {
		p.fail("%s: %v", field, err)
		return nil
	}
	return v
}

func (p *parser) outcome(s string) model.Outcome {
	o, err := model.ParseOutcome(s)
	if err != nil {
		p.fail("%v", err)
	}
	return o
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", errBadRequest)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}

// marketFor resolves the {address} URL parameter.
func (s *Service) marketFor(r *http.Request) (*market.Market, error) {
	var p parser
	addr := p.address("market address", chi.URLParam(r, "address"))
	if p.err != nil {
		return nil, p.err
	}
	return s.factory.Market(addr)
}

// --- Execution helpers ---

// mutate runs fn under the write lock and writes its result or error.
func (s *Service) mutate(w http.ResponseWriter, r *http.Request, op string, status int, fn func(ctx context.Context, now time.Time) (any, error)) {
	s.mu.Lock()
	start := time.Now()
	resp, err := fn(r.Context(), s.now().UTC())
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	s.mu.Unlock()

	if err != nil {
		class := writeEngineError(w, err)
		metrics.OperationErrors.WithLabelValues(op, class).Inc()
		if class == classInternal {
			s.log.Error("operation failed", "op", op, "err", err)
		} else {
			s.log.Debug("operation rejected", "op", op, "class", class, "err", err)
		}
		return
	}
	writeJSON(w, status, resp)
}

// read runs fn under the read lock.
func (s *Service) read(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, now time.Time) (any, error)) {
	s.mu.RLock()
	resp, err := fn(r.Context(), s.now().UTC())
	s.mu.RUnlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// escrow debits value from the caller before a payable call. The returned
// refund credits it back and must be called if the call fails.
func (s *Service) escrow(ctx context.Context, from common.Address, value *uint256.Int) (func(), error) {
	if err := s.vault.Debit(ctx, from, value); err != nil {
		return nil, err
	}
	return func() {
		if err := s.vault.Pay(ctx, from, value); err != nil {
			s.log.Error("escrow refund failed", "account", from.Hex(), "amount", value.Dec(), "err", err)
		}
	}, nil
}

// snapshot is the market's read model including the registry listing flag.
func (s *Service) snapshot(m *market.Market, now time.Time) model.MarketSnapshot {
	snap := m.Snapshot(now)
	if e, err := s.registry.GetMarketInfo(m.Address()); err == nil {
		snap.IsActive = e.IsActive
	}
	return snap
}

// refresh saves the market's snapshot to the store. The engine stays the
// source of truth, so a failed save is logged, not returned.
func (s *Service) refresh(ctx context.Context, m *market.Market, now time.Time) model.MarketSnapshot {
	snap := s.snapshot(m, now)
	if err := s.store.SaveMarket(ctx, snap); err != nil {
		s.log.Error("save market snapshot", "market", m.Address().Hex(), "err", err)
	}
	return snap
}

func (s *Service) tradeResponse(m *market.Market, from common.Address, o model.Outcome, q amm.Quote) TradeResponse {
	resp := TradeResponse{
		Market:     m.Address(),
		Account:    from,
		Outcome:    o,
		Amount:     fixedpoint.ToDecimal(q.Amount),
		Collateral: fixedpoint.ToDecimal(q.Collateral),
		Fee:        fixedpoint.ToDecimal(q.Fee),
		Position:   m.Position(from),
	}
	if pYes, pNo, err := m.Probabilities(); err == nil {
		resp.PriceYes = fixedpoint.ToDecimal(pYes)
		resp.PriceNo = fixedpoint.ToDecimal(pNo)
	}
	return resp
}

// --- Factory and registry ---

// GetFactoryInfo handles GET /api/v1/factory
func (s *Service) GetFactoryInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.factory.GetFactoryInfo())
}

// ListCategories handles GET /api/v1/categories
func (s *Service) ListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.factory.Categories())
}

// AddCategory handles POST /api/v1/categories
func (s *Service) AddCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	s.mutate(w, r, "add_category", http.StatusCreated, func(ctx context.Context, now time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		var p parser
		from := p.address("from", req.From)
		if p.err != nil {
			return nil, p.err
		}
		name, err := s.factory.AddCategory(ctx, from, req.Name, now)
		if err != nil {
			return nil, err
		}
		s.log.Info("category added", "name", name)
		return map[string]string{"name": name}, nil
	})
}

// GetRegistryStats handles GET /api/v1/registry
func (s *Service) GetRegistryStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetRegistryStats())
}

// ListRegistryEntries handles GET /api/v1/registry/markets
// Supports ?offset=&limit= or a ?creator= / ?category= index lookup.
func (s *Service) ListRegistryEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if c := q.Get("creator"); c != "" {
		var p parser
		creator := p.address("creator", c)
		if p.err != nil {
			writeEngineError(w, p.err)
			return
		}
		writeJSON(w, http.StatusOK, s.registry.GetMarketsByCreator(creator))
		return
	}
	if c := q.Get("category"); c != "" {
		writeJSON(w, http.StatusOK, s.registry.GetMarketsByCategory(c))
		return
	}

	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	entries, total, err := s.registry.GetMarketsPaginated(offset, min(limit, maxPageLimit))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

// --- Markets ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	s.mutate(w, r, "create_market", http.StatusCreated, func(ctx context.Context, now time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		var p parser
		from := p.address("from", req.From)
		if p.err != nil {
			return nil, p.err
		}
		params, seed, err := factory.ParseRequest(req.CreateRequest)
		if err != nil {
			return nil, err
		}
		if seed.IsZero() {
			return nil, market.ErrZeroAmount
		}

		refund, err := s.escrow(ctx, from, seed)
		if err != nil {
			return nil, err
		}
		m, err := s.factory.CreateMarket(ctx, market.Tx{From: from, Value: seed, Now: now}, params)
		if err != nil {
			refund()
			return nil, err
		}
		metrics.ActiveMarkets.Set(float64(s.registry.GetRegistryStats().ActiveMarkets))

		s.log.Info("market created",
			"market", m.Address().Hex(),
			"creator", from.Hex(),
			"category", m.Category(),
			"expiration", m.Expiration(),
			"seed", fixedpoint.ToDecimal(seed).String(),
		)
		return s.refresh(ctx, m, now), nil
	})
}

// ListMarkets handles GET /api/v1/markets
// Filters: ?category=, ?creator=, ?status= (active|expired|reported|resolved).
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.MarketFilter{
		Category: q.Get("category"),
		Status:   q.Get("status"),
	}
	if c := q.Get("creator"); c != "" {
		var p parser
		filter.Creator = p.address("creator", c)
		if p.err != nil {
			writeEngineError(w, p.err)
			return
		}
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if limit == 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	markets, total, err := s.store.ListMarkets(r.Context(), filter, model.Page{Offset: offset, Limit: limit})
	if err != nil {
		s.log.Error("list markets", "err", err)
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.MarketSnapshot{}
	}
	writeJSON(w, http.StatusOK, MarketList{Markets: markets, Total: total, Offset: offset, Limit: limit})
}

// GetMarket handles GET /api/v1/markets/{address}
// Served from the engine so the derived expiry is current.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	s.read(w, r, func(_ context.Context, now time.Time) (any, error) {
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		return s.snapshot(m, now), nil
	})
}

// GetMarketStatus handles GET /api/v1/markets/{address}/status
func (s *Service) GetMarketStatus(w http.ResponseWriter, r *http.Request) {
	s.read(w, r, func(_ context.Context, now time.Time) (any, error) {
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		return m.GetMarketStatus(now), nil
	})
}

// Quote handles GET /api/v1/markets/{address}/quote?side=buy&outcome=YES&amount=1
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	s.read(w, r, func(_ context.Context, _ time.Time) (any, error) {
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		q := r.URL.Query()
		var p parser
		o := p.outcome(q.Get("outcome"))
		amount := p.amount("amount", q.Get("amount"))
		side := strings.ToLower(q.Get("side"))
		if side == "" {
			side = "buy"
		}
		if side != "buy" && side != "sell" {
			p.fail("side must be buy or sell")
		}
		if p.err != nil {
			return nil, p.err
		}

		var quote amm.Quote
		if side == "buy" {
			quote, err = m.QuoteBuy(o, amount)
		} else {
			quote, err = m.QuoteSell(o, amount)
		}
		if err != nil {
			return nil, err
		}
		return QuoteResponse{
			Side:       side,
			Outcome:    o,
			Amount:     fixedpoint.ToDecimal(quote.Amount),
			Collateral: fixedpoint.ToDecimal(quote.Collateral),
			Fee:        fixedpoint.ToDecimal(quote.Fee),
			ProbBefore: fixedpoint.ToDecimal(quote.ProbBefore),
			ProbAfter:  fixedpoint.ToDecimal(quote.ProbAfter),
		}, nil
	})
}

// GetPosition handles GET /api/v1/markets/{address}/positions/{account}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	s.read(w, r, func(_ context.Context, _ time.Time) (any, error) {
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		var p parser
		account := p.address("account", chi.URLParam(r, "account"))
		if p.err != nil {
			return nil, p.err
		}
		return m.Position(account), nil
	})
}

// GetMarketHistory handles GET /api/v1/markets/{address}/history
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	var p parser
	addr := p.address("market address", chi.URLParam(r, "address"))
	if p.err != nil {
		writeEngineError(w, p.err)
		return
	}
	records, err := s.store.EventsByMarket(r.Context(), addr)
	if err != nil {
		s.log.Error("market history", "market", addr.Hex(), "err", err)
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.EventRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Trading ---

// BuyTokens handles POST /api/v1/markets/{address}/buy
func (s *Service) BuyTokens(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	s.mutate(w, r, "buy", http.StatusOK, func(ctx context.Context, now time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		var p parser
		from := p.address("from", req.From)
		o := p.outcome(req.Outcome)
		amount := p.amount("amount", req.Amount)
		var value *uint256.Int
		if req.Value != "" {
			value = p.amount("value", req.Value)
		}
		if p.err != nil {
			return nil, p.err
		}
		if value == nil {
			if value, err = m.GetBuyPrice(o, amount); err != nil {
				return nil, err
			}
		}

		refund, err := s.escrow(ctx, from, value)
		if err != nil {
			return nil, err
		}
		q, err := m.BuyTokens(ctx, market.Tx{From: from, Value: value, Now: now}, o, amount)
		if err != nil {
			refund()
			return nil, err
		}
		s.refresh(ctx, m, now)

		s.log.Info("tokens bought",
			"market", m.Address().Hex(),
			"buyer", from.Hex(),
			"outcome", o.String(),
			"amount", fixedpoint.ToDecimal(q.Amount).String(),
			"cost", fixedpoint.ToDecimal(q.Collateral).String(),
			"fee", fixedpoint.ToDecimal(q.Fee).String(),
		)
		return s.tradeResponse(m, from, o, q), nil
	})
}

// SellTokens handles POST /api/v1/markets/{address}/sell
func (s *Service) SellTokens(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	s.mutate(w, r, "sell", http.StatusOK, func(ctx context.Context, now time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		var p parser
		from := p.address("from", req.From)
		o := p.outcome(req.Outcome)
		amount := p.amount("amount", req.Amount)
		if p.err != nil {
			return nil, p.err
		}

		q, err := m.SellTokens(ctx, market.Tx{From: from, Now: now}, o, amount)
		if err != nil {
			return nil, err
		}
		s.refresh(ctx, m, now)

		s.log.Info("tokens sold",
			"market", m.Address().Hex(),
			"seller", from.Hex(),
			"outcome", o.String(),
			"amount", fixedpoint.ToDecimal(q.Amount).String(),
			"received", fixedpoint.ToDecimal(q.Collateral).String(),
		)
		return s.tradeResponse(m, from, o, q), nil
	})
}

// TransferTokens handles POST /api/v1/markets/{address}/transfer
func (s *Service) TransferTokens(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	s.mutate(w, r, "transfer", http.StatusOK, func(ctx context.Context, now time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		var p parser
		from := p.address("from", req.From)
		to := p.address("to", req.To)
		o := p.outcome(req.Outcome)
		amount := p.amount("amount", req.Amount)
		if p.err != nil {
			return nil, p.err
		}

		if err := m.TransferTokens(ctx, market.Tx{From: from, Now: now}, o, to, amount); err != nil {
			return nil, err
		}
		return m.Position(from), nil
	})
}

// --- Liquidity ---

// AddLiquidity handles POST /api/v1/markets/{address}/liquidity
func (s *Service) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	s.mutate(w, r, "add_liquidity", http.StatusOK, func(ctx context.Context, now time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		var p parser
		from := p.address("from", req.From)
		amount := p.amount("amount", req.Amount)
		if p.err != nil {
			return nil, p.err
		}

		refund, err := s.escrow(ctx, from, amount)
		if err != nil {
			return nil, err
		}
		if err := m.AddLiquidity(ctx, market.Tx{From: from, Value: amount, Now: now}); err != nil {
			refund()
			return nil, err
		}
		s.refresh(ctx, m, now)

		s.log.Info("liquidity added", "market", m.Address().Hex(), "provider", from.Hex(), "amount", fixedpoint.ToDecimal(amount).String())
		return m.Position(from), nil
	})
}

// RemoveLiquidity handles POST /api/v1/markets/{address}/liquidity/remove
func (s *Service) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	s.mutate(w, r, "remove_liquidity", http.StatusOK, func(ctx context.Context, now time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		var p parser
		from := p.address("from", req.From)
		amount := p.amount("amount", req.Amount)
		if p.err != nil {
			return nil, p.err
		}

		if err := m.RemoveLiquidity(ctx, market.Tx{From: from, Now: now}, amount); err != nil {
			return nil, err
		}
		s.refresh(ctx, m, now)

		s.log.Info("liquidity removed", "market", m.Address().Hex(), "provider", from.Hex(), "amount", fixedpoint.ToDecimal(amount).String())
		return m.Position(from), nil
	})
}

// payout wraps market calls that take only the caller and return an amount.
func (s *Service) payout(w http.ResponseWriter, r *http.Request, op, msg string, call func(*market.Market, context.Context, market.Tx) (*uint256.Int, error)) {
	var req CallerRequest
	s.mutate(w, r, op, http.StatusOK, func(ctx context.Context, now time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		var p parser
		from := p.address("from", req.From)
		if p.err != nil {
			return nil, p.err
		}

		amount, err := call(m, ctx, market.Tx{From: from, Now: now})
		if err != nil {
			return nil, err
		}
		s.refresh(ctx, m, now)

		s.log.Info(msg, "market", m.Address().Hex(), "account", from.Hex(), "amount", fixedpoint.ToDecimal(amount).String())
		return PayoutResponse{Market: m.Address(), Account: from, Amount: fixedpoint.ToDecimal(amount)}, nil
	})
}

// ClaimLPRevenue handles POST /api/v1/markets/{address}/revenue/claim
func (s *Service) ClaimLPRevenue(w http.ResponseWriter, r *http.Request) {
	s.payout(w, r, "claim_revenue", "lp revenue claimed", (*market.Market).ClaimLPRevenue)
}

// --- Settlement ---

// Report handles POST /api/v1/markets/{address}/report
func (s *Service) Report(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	s.mutate(w, r, "report", http.StatusOK, func(ctx context.Context, now time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		var p parser
		from := p.address("from", req.From)
		o := p.outcome(req.Outcome)
		if p.err != nil {
			return nil, p.err
		}

		if err := m.Report(ctx, market.Tx{From: from, Now: now}, o); err != nil {
			return nil, err
		}
		s.log.Info("market reported", "market", m.Address().Hex(), "outcome", o.String())
		return s.refresh(ctx, m, now), nil
	})
}

// Resolve handles POST /api/v1/markets/{address}/resolve
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	s.payout(w, r, "resolve", "market resolved", (*market.Market).Resolve)
}

// RedeemWinningTokens handles POST /api/v1/markets/{address}/redeem
func (s *Service) RedeemWinningTokens(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	s.mutate(w, r, "redeem", http.StatusOK, func(ctx context.Context, now time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		var p parser
		from := p.address("from", req.From)
		amount := p.amount("amount", req.Amount)
		if p.err != nil {
			return nil, p.err
		}

		paid, err := m.RedeemWinningTokens(ctx, market.Tx{From: from, Now: now}, amount)
		if err != nil {
			return nil, err
		}
		s.refresh(ctx, m, now)

		s.log.Info("winning tokens redeemed", "market", m.Address().Hex(), "account", from.Hex(), "amount", fixedpoint.ToDecimal(amount).String(), "payout", fixedpoint.ToDecimal(paid).String())
		return PayoutResponse{Market: m.Address(), Account: from, Amount: fixedpoint.ToDecimal(paid)}, nil
	})
}

// WithdrawSettledLiquidity handles POST /api/v1/markets/{address}/withdraw
func (s *Service) WithdrawSettledLiquidity(w http.ResponseWriter, r *http.Request) {
	s.payout(w, r, "withdraw", "settled liquidity withdrawn", (*market.Market).WithdrawSettledLiquidity)
}

// SetMarketActive handles POST /api/v1/markets/{address}/active
func (s *Service) SetMarketActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	s.mutate(w, r, "set_active", http.StatusOK, func(ctx context.Context, now time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		m, err := s.marketFor(r)
		if err != nil {
			return nil, err
		}
		var p parser
		from := p.address("from", req.From)
		if p.err != nil {
			return nil, p.err
		}

		if err := s.factory.SetMarketActive(ctx, from, m.Address(), req.Active, now); err != nil {
			return nil, err
		}
		metrics.ActiveMarkets.Set(float64(s.registry.GetRegistryStats().ActiveMarkets))
		return s.refresh(ctx, m, now), nil
	})
}

// --- Accounts ---

// GetAccount handles GET /api/v1/accounts/{account}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	var p parser
	account := p.address("account", chi.URLParam(r, "account"))
	if p.err != nil {
		writeEngineError(w, p.err)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{Account: account, Balance: fixedpoint.ToDecimal(s.vault.Balance(account))})
}

// Deposit handles POST /api/v1/accounts/{account}/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	s.mutate(w, r, "deposit", http.StatusOK, func(ctx context.Context, _ time.Time) (any, error) {
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		var p parser
		account := p.address("account", chi.URLParam(r, "account"))
		amount := p.amount("amount", req.Amount)
		if p.err != nil {
			return nil, p.err
		}
		if amount.IsZero() {
			return nil, market.ErrZeroAmount
		}
		if err := s.vault.Deposit(ctx, account, amount); err != nil {
			return nil, err
		}
		s.log.Info("collateral deposited", "account", account.Hex(), "amount", fixedpoint.ToDecimal(amount).String())
		return AccountResponse{Account: account, Balance: fixedpoint.ToDecimal(s.vault.Balance(account))}, nil
	})
}

// GetAccountHistory handles GET /api/v1/accounts/{account}/history
func (s *Service) GetAccountHistory(w http.ResponseWriter, r *http.Request) {
	var p parser
	account := p.address("account", chi.URLParam(r, "account"))
	if p.err != nil {
		writeEngineError(w, p.err)
		return
	}
	records, err := s.store.EventsByAccount(r.Context(), account)
	if err != nil {
		s.log.Error("account history", "account", account.Hex(), "err", err)
		writeError(w, "failed to get account history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.EventRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
