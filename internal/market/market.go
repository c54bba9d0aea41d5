// Package market implements the binary prediction-market engine: a
// constant-product AMM over YES/NO reserves, liquidity accounting with a
// fee-revenue accumulator, and the report/resolve/redeem settlement path.
//
// A Market is not safe for concurrent use. Callers serialize access (see
// trade.Service). Every mutating call is atomic: on error all ledgers are
// rewound and buffered events are dropped. Collateral payouts go through
// the Treasury as the last effect of a call.
package market

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/polybet/internal/amm"
	"github.com/atmx/polybet/internal/events"
	"github.com/atmx/polybet/internal/fixedpoint"
	"github.com/atmx/polybet/internal/model"
	"github.com/atmx/polybet/internal/token"
)

// Tx is the calling context of one operation.
type Tx struct {
	From  common.Address
	Value *uint256.Int // attached collateral; nil means none
	Now   time.Time
}

// Treasury moves collateral out of a market.
type Treasury interface {
	Pay(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// Params are the immutable creation parameters of a market.
type Params struct {
	Address               common.Address
	Creator               common.Address
	Oracle                common.Address
	Question              string
	Category              string
	TokenUnitValue        *uint256.Int
	InitialYesProbability uint8
	PercentageLocked      uint8
	Expiration            time.Time
	FeeBps                uint64
}

// ledger is all mutable market state except the token balances.
type ledger struct {
	yesReserve     uint256.Int
	noReserve      uint256.Int
	collateral     uint256.Int
	lpRevenue      uint256.Int
	totalLiquidity uint256.Int
	revenuePerUnit uint256.Int

	contributions map[common.Address]uint256.Int
	revenueDebt   map[common.Address]uint256.Int
	revenueOwed   map[common.Address]uint256.Int

	status           model.Status
	winning          model.Outcome
	winnersPool      uint256.Int // remaining collateral earmarked for winners
	settledPrincipal uint256.Int
	resolvePayout    uint256.Int
	withdrawn        map[common.Address]bool

	updatedAt time.Time
}

func (l ledger) clone() ledger {
	c := l
	c.contributions = maps.Clone(l.contributions)
	c.revenueDebt = maps.Clone(l.revenueDebt)
	c.revenueOwed = maps.Clone(l.revenueOwed)
	c.withdrawn = maps.Clone(l.withdrawn)
	return c
}

// Market is one binary prediction market.
type Market struct {
	addr          common.Address
	creator       common.Address
	oracle        common.Address
	question      string
	category      string
	unitValue     uint256.Int
	yesPct        uint8
	lockedPct     uint8
	creatorLocked uint256.Int
	expiration    time.Time
	createdAt     time.Time
	curve         *amm.Curve

	s   ledger
	yes *token.OutcomeToken
	no  *token.OutcomeToken

	treasury  Treasury
	publisher events.Publisher

	entered bool
	now     time.Time
	pending []events.Envelope
	payouts []payout
}

type payout struct {
	to     common.Address
	amount *uint256.Int
}

// New creates a market seeded with seed collateral from the creator. The
// caller (the factory) has already taken custody of seed.
func New(p Params, seed *uint256.Int, now time.Time, treasury Treasury, pub events.Publisher) (*Market, error) {
	if strings.TrimSpace(p.Question) == "" {
		return nil, ErrEmptyQuestion
	}
	if p.InitialYesProbability < 1 || p.InitialYesProbability > 99 {
		return nil, ErrInvalidProbability
	}
	if p.PercentageLocked < 1 || p.PercentageLocked > 99 {
		return nil, ErrInvalidPercentageLocked
	}
	if !p.Expiration.After(now) {
		return nil, ErrExpirationTooSoon
	}
	if p.TokenUnitValue == nil || p.TokenUnitValue.IsZero() {
		return nil, ErrInvalidTokenUnitValue
	}
	if seed == nil || seed.IsZero() {
		return nil, ErrZeroAmount
	}
	if p.Address == (common.Address{}) || p.Creator == (common.Address{}) || p.Oracle == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if treasury == nil {
		return nil, errors.New("market: nil treasury")
	}
	if pub == nil {
		pub = events.Discard{}
	}

	curve, err := amm.NewCurve(p.FeeBps)
	if err != nil {
		return nil, err
	}
	tokens, err := fixedpoint.MulDiv(seed, fixedpoint.One(), p.TokenUnitValue)
	if err != nil {
		return nil, err
	}
	yes, no, err := amm.InitialReserves(tokens, p.InitialYesProbability)
	if err != nil {
		if errors.Is(err, amm.ErrEmptyReserve) {
			return nil, fmt.Errorf("%w: seed too small for token unit value", ErrZeroAmount)
		}
		return nil, err
	}
	locked, err := fixedpoint.MulDivUp(seed, uint256.NewInt(uint64(p.PercentageLocked)), uint256.NewInt(100))
	if err != nil {
		return nil, err
	}

	m := &Market{
		addr:          p.Address,
		creator:       p.Creator,
		oracle:        p.Oracle,
		question:      strings.TrimSpace(p.Question),
		category:      p.Category,
		unitValue:     *p.TokenUnitValue,
		yesPct:        p.InitialYesProbability,
		lockedPct:     p.PercentageLocked,
		creatorLocked: *locked,
		expiration:    p.Expiration.UTC(),
		createdAt:     now.UTC(),
		curve:         curve,
		treasury:      treasury,
		publisher:     pub,
	}
	m.s = ledger{
		yesReserve:     *yes,
		noReserve:      *no,
		collateral:     *seed,
		totalLiquidity: *seed,
		contributions:  map[common.Address]uint256.Int{p.Creator: *seed},
		revenueDebt:    make(map[common.Address]uint256.Int),
		revenueOwed:    make(map[common.Address]uint256.Int),
		withdrawn:      make(map[common.Address]bool),
		status:         model.StatusActive,
		updatedAt:      now.UTC(),
	}
	m.yes = token.New(p.Address, model.Yes, m.emit)
	m.no = token.New(p.Address, model.No, m.emit)
	return m, nil
}

// exec runs fn as one atomic call. State changes made by fn are kept only if
// fn and every queued payout succeed; buffered events are then published.
func (m *Market) exec(ctx context.Context, tx Tx, payable bool, fn func(value *uint256.Int) error) error {
	if m.entered {
		return ErrReentrantCall
	}
	value := fixedpoint.Zero()
	if tx.Value != nil {
		value.Set(tx.Value)
	}
	if !payable && !value.IsZero() {
		return ErrUnexpectedValue
	}

	m.entered = true
	defer func() {
		m.entered = false
		m.pending = nil
		m.payouts = nil
	}()

	m.now = tx.Now
	if m.now.IsZero() {
		m.now = time.Now()
	}
	m.now = m.now.UTC()

	saved := m.s.clone()
	yesSnap, noSnap := m.yes.Snapshot(), m.no.Snapshot()
	rollback := func() {
		m.s = saved
		// Restore only fails for a foreign caller.
		_ = m.yes.Restore(m.addr, yesSnap)
		_ = m.no.Restore(m.addr, noSnap)
	}

	if err := fn(value); err != nil {
		rollback()
		return err
	}
	m.s.updatedAt = m.now

	for _, p := range m.payouts {
		if err := m.treasury.Pay(ctx, p.to, p.amount); err != nil {
			rollback()
			return fmt.Errorf("market: payout to %s: %w", p.to.Hex(), err)
		}
	}
	if len(m.pending) > 0 {
		m.publisher.Publish(ctx, m.pending...)
	}
	return nil
}

func (m *Market) emit(ev events.Event) {
	m.pending = append(m.pending, events.NewEnvelope(m.addr, m.now, ev))
}

func (m *Market) pay(to common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	m.payouts = append(m.payouts, payout{to: to, amount: new(uint256.Int).Set(amount)})
}

// spend removes amount from the collateral balance.
func (m *Market) spend(amount *uint256.Int) error {
	next, err := fixedpoint.Sub(&m.s.collateral, amount)
	if err != nil {
		return ErrInsufficientCollateral
	}
	m.s.collateral = *next
	return nil
}

func (m *Market) tokenFor(o model.Outcome) (*token.OutcomeToken, error) {
	switch o {
	case model.Yes:
		return m.yes, nil
	case model.No:
		return m.no, nil
	}
	return nil, ErrInvalidOutcome
}

// reserves returns pointers to the target and opposite reserve of o.
func (m *Market) reserves(o model.Outcome) (target, other *uint256.Int) {
	if o == model.Yes {
		return &m.s.yesReserve, &m.s.noReserve
	}
	return &m.s.noReserve, &m.s.yesReserve
}

// tradable checks the trading gate: Active and not past expiration.
func (m *Market) tradable() error {
	if m.s.status != model.StatusActive {
		return ErrNotActive
	}
	if m.IsExpired(m.now) {
		return ErrMarketExpired
	}
	return nil
}

// --- Queries ---
// Queries never mutate and are safe to call from inside a payout.

func (m *Market) Address() common.Address { return m.addr }
func (m *Market) Creator() common.Address { return m.creator }
func (m *Market) Oracle() common.Address  { return m.oracle }
func (m *Market) Question() string        { return m.question }
func (m *Market) Category() string        { return m.category }
func (m *Market) Expiration() time.Time   { return m.expiration }
func (m *Market) CreatedAt() time.Time    { return m.createdAt }
func (m *Market) FeeBps() uint64          { return m.curve.FeeBps() }
func (m *Market) Status() model.Status    { return m.s.status }

func (m *Market) TokenUnitValue() *uint256.Int {
	return new(uint256.Int).Set(&m.unitValue)
}

// WinningOutcome returns the reported outcome, if any.
func (m *Market) WinningOutcome() (model.Outcome, bool) {
	if m.s.status == model.StatusActive {
		return 0, false
	}
	return m.s.winning, true
}

// IsExpired reports whether the market is still Active at or past its
// expiration time.
func (m *Market) IsExpired(now time.Time) bool {
	return m.s.status == model.StatusActive && !now.Before(m.expiration)
}

// GetMarketStatus summarizes the lifecycle phase at now.
func (m *Market) GetMarketStatus(now time.Time) model.StatusView {
	expired := m.IsExpired(now)
	var remaining time.Duration
	if now.Before(m.expiration) {
		remaining = m.expiration.Sub(now)
	}
	return model.StatusView{
		Status:        m.s.status,
		Phase:         m.s.status.Phase(expired),
		IsExpired:     expired,
		TimeRemaining: remaining,
		CanTrade:      m.s.status == model.StatusActive && !expired,
	}
}

// Reserves returns copies of the YES and NO reserves.
func (m *Market) Reserves() (yes, no *uint256.Int) {
	return new(uint256.Int).Set(&m.s.yesReserve), new(uint256.Int).Set(&m.s.noReserve)
}

// Probabilities returns the implied YES and NO probabilities (1e18 = 100%).
func (m *Market) Probabilities() (yes, no *uint256.Int, err error) {
	return amm.Probabilities(&m.s.yesReserve, &m.s.noReserve)
}

func (m *Market) Collateral() *uint256.Int { return new(uint256.Int).Set(&m.s.collateral) }
func (m *Market) LPRevenue() *uint256.Int  { return new(uint256.Int).Set(&m.s.lpRevenue) }

// TotalLiquidity is the sum of all LP principal contributions.
func (m *Market) TotalLiquidity() *uint256.Int {
	return new(uint256.Int).Set(&m.s.totalLiquidity)
}

// LockedLiquidity is the part of the creator's seed that can never be
// withdrawn before settlement.
func (m *Market) LockedLiquidity() *uint256.Int {
	return new(uint256.Int).Set(&m.creatorLocked)
}

func (m *Market) Contribution(lp common.Address) *uint256.Int {
	c := m.s.contributions[lp]
	return new(uint256.Int).Set(&c)
}

// PendingRevenue is the fee revenue lp could claim now.
func (m *Market) PendingRevenue(lp common.Address) *uint256.Int {
	owed := m.s.revenueOwed[lp]
	acc, err := m.accrued(lp)
	if err != nil {
		return new(uint256.Int).Set(&owed)
	}
	return acc.Add(acc, &owed)
}

// BalanceOf returns holder's balance of outcome o.
func (m *Market) BalanceOf(o model.Outcome, holder common.Address) (*uint256.Int, error) {
	t, err := m.tokenFor(o)
	if err != nil {
		return nil, err
	}
	return t.BalanceOf(holder), nil
}

// TotalSupply returns the circulating supply of outcome o.
func (m *Market) TotalSupply(o model.Outcome) (*uint256.Int, error) {
	t, err := m.tokenFor(o)
	if err != nil {
		return nil, err
	}
	return t.TotalSupply(), nil
}

// WinnersPool is the collateral still reserved for winning-token holders.
func (m *Market) WinnersPool() *uint256.Int { return new(uint256.Int).Set(&m.s.winnersPool) }

// SettledPrincipal is the collateral left to LPs at resolution.
func (m *Market) SettledPrincipal() *uint256.Int {
	return new(uint256.Int).Set(&m.s.settledPrincipal)
}

// Info is a full read-only view of a market in base units.
type Info struct {
	Address               common.Address
	Creator               common.Address
	Oracle                common.Address
	Question              string
	Category              string
	TokenUnitValue        *uint256.Int
	InitialYesProbability uint8
	PercentageLocked      uint8
	FeeBps                uint64
	Expiration            time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Status                model.Status
	WinningOutcome        *model.Outcome
	YesReserve            *uint256.Int
	NoReserve             *uint256.Int
	YesSupply             *uint256.Int
	NoSupply              *uint256.Int
	Collateral            *uint256.Int
	LPRevenue             *uint256.Int
	TotalLiquidity        *uint256.Int
	LockedLiquidity       *uint256.Int
	WinnersPool           *uint256.Int
	SettledPrincipal      *uint256.Int
	ResolvePayout         *uint256.Int
}

func (m *Market) Info() Info {
	yes, no := m.Reserves()
	info := Info{
		Address:               m.addr,
		Creator:               m.creator,
		Oracle:                m.oracle,
		Question:              m.question,
		Category:              m.category,
		TokenUnitValue:        m.TokenUnitValue(),
		InitialYesProbability: m.yesPct,
		PercentageLocked:      m.lockedPct,
		FeeBps:                m.FeeBps(),
		Expiration:            m.expiration,
		CreatedAt:             m.createdAt,
		UpdatedAt:             m.s.updatedAt,
		Status:                m.s.status,
		YesReserve:            yes,
		NoReserve:             no,
		YesSupply:             m.yes.TotalSupply(),
		NoSupply:              m.no.TotalSupply(),
		Collateral:            m.Collateral(),
		LPRevenue:             m.LPRevenue(),
		TotalLiquidity:        m.TotalLiquidity(),
		LockedLiquidity:       m.LockedLiquidity(),
		WinnersPool:           m.WinnersPool(),
		SettledPrincipal:      m.SettledPrincipal(),
		ResolvePayout:         new(uint256.Int).Set(&m.s.resolvePayout),
	}
	if w, ok := m.WinningOutcome(); ok {
		info.WinningOutcome = &w
	}
	return info
}

// Snapshot builds the read-model copy of the market at now. IsActive is left
// false; the registry owns that flag.
func (m *Market) Snapshot(now time.Time) model.MarketSnapshot {
	info := m.Info()
	snap := model.MarketSnapshot{
		Address:               info.Address,
		Creator:               info.Creator,
		Oracle:                info.Oracle,
		Question:              info.Question,
		Category:              info.Category,
		TokenUnitValue:        fixedpoint.ToDecimal(info.TokenUnitValue),
		InitialYesProbability: info.InitialYesProbability,
		PercentageLocked:      info.PercentageLocked,
		YesReserve:            fixedpoint.ToDecimal(info.YesReserve),
		NoReserve:             fixedpoint.ToDecimal(info.NoReserve),
		YesSupply:             fixedpoint.ToDecimal(info.YesSupply),
		NoSupply:              fixedpoint.ToDecimal(info.NoSupply),
		Collateral:            fixedpoint.ToDecimal(info.Collateral),
		LPRevenue:             fixedpoint.ToDecimal(info.LPRevenue),
		TotalLiquidity:        fixedpoint.ToDecimal(info.TotalLiquidity),
		Status:                info.Status.Phase(m.IsExpired(now)),
		WinningOutcome:        info.WinningOutcome,
		Expiration:            info.Expiration,
		CreatedAt:             info.CreatedAt,
		UpdatedAt:             info.UpdatedAt,
	}
	if pYes, pNo, err := m.Probabilities(); err == nil {
		snap.PriceYes = fixedpoint.ToDecimal(pYes)
		snap.PriceNo = fixedpoint.ToDecimal(pNo)
	}
	return snap
}

// Position returns account's holdings and liquidity in this market.
func (m *Market) Position(account common.Address) model.Position {
	return model.Position{
		Account:        account,
		Market:         m.addr,
		Yes:            fixedpoint.ToDecimal(m.yes.BalanceOf(account)),
		No:             fixedpoint.ToDecimal(m.no.BalanceOf(account)),
		Contribution:   fixedpoint.ToDecimal(m.Contribution(account)),
		PendingRevenue: fixedpoint.ToDecimal(m.PendingRevenue(account)),
	}
}
