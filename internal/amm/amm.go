// Package amm implements the constant-product automated market maker used to
// price binary outcome tokens.
//
// Each market keeps a YES reserve and a NO reserve. The implied probability
// of an outcome is
//
//	p(X) = reserveOther / (reserveX + reserveOther)
//
// Buying x tokens of X depletes reserveX by exactly x and grows reserveOther
// so that reserveX*reserveOther is preserved:
//
//	reserveOther' = reserveOther + x*reserveOther/(reserveX - x)
//
// Along the curve, p(t) = k/(t²+k) where t is the target reserve and k the
// reserve product. The collateral charged for a buy is the token face value
// times the area under p(t) between the old and new target reserve; a sell
// pays the same area for the inverse walk. The area is bounded in integer
// arithmetic over curveSteps slices: buys charge an upper bound and sells pay
// a lower bound, so no round trip can extract value from the pool.
//
// The curve is stateless: reserves are passed as arguments, not stored.
// Amounts the protocol receives are rounded up and amounts it pays out are
// rounded down, always through the fixedpoint helpers.
package amm

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/atmx/polybet/internal/fixedpoint"
)

// DefaultFeeBps is the LP trading fee carved out of every trade (2.5%).
const DefaultFeeBps uint64 = 250

// curveSteps is the number of slices used to bound the area under the curve.
const curveSteps = 16

var (
	// ErrInvalidFee is returned when the fee rate is 100% or more.
	ErrInvalidFee = errors.New("amm: fee must be below 10000 bps")

	// ErrInsufficientTokenReserve is returned when a buy asks for at least
	// the whole reserve of the target outcome.
	ErrInsufficientTokenReserve = errors.New("amm: insufficient token reserve")

	// ErrZeroAmount is returned for zero-sized trades.
	ErrZeroAmount = errors.New("amm: amount must be positive")

	// ErrEmptyReserve is returned when a reserve is, or would become, zero.
	ErrEmptyReserve = errors.New("amm: reserves must be positive")

	// ErrInvalidProbability is returned when an initial probability is
	// outside [1, 99].
	ErrInvalidProbability = errors.New("amm: probability must be within [1, 99]")
)

// Curve prices trades for one fee rate.
type Curve struct {
	feeBps uint64
}

// NewCurve creates a curve charging feeBps basis points per trade.
func NewCurve(feeBps uint64) (*Curve, error) {
	if feeBps >= fixedpoint.BasisPoints {
		return nil, ErrInvalidFee
	}
	return &Curve{feeBps: feeBps}, nil
}

// FeeBps returns the fee rate.
func (c *Curve) FeeBps() uint64 {
	return c.feeBps
}

// Quote is the full outcome of a priced trade. Reserves are post-trade.
type Quote struct {
	Amount        *uint256.Int // tokens bought or sold
	Collateral    *uint256.Int // buy: exact payment; sell: net paid to seller
	Fee           *uint256.Int // share of the trade owed to LPs
	TargetReserve *uint256.Int
	OtherReserve  *uint256.Int
	ProbBefore    *uint256.Int // implied probability of the target, scaled by 1e18
	ProbAfter     *uint256.Int
}

// Probability returns reserveOther/(reserveTarget+reserveOther) scaled by
// 1e18. roundUp selects ceiling instead of floor.
func Probability(target, other *uint256.Int, roundUp bool) (*uint256.Int, error) {
	total, err := fixedpoint.Add(target, other)
	if err != nil {
		return nil, err
	}
	if total.IsZero() {
		return nil, ErrEmptyReserve
	}
	if roundUp {
		return fixedpoint.MulDivUp(other, fixedpoint.One(), total)
	}
	return fixedpoint.MulDiv(other, fixedpoint.One(), total)
}

// Probabilities returns the implied YES and NO probabilities. pYes is
// floored and pNo is its complement, so the pair always sums to exactly 1e18.
func Probabilities(yes, no *uint256.Int) (pYes, pNo *uint256.Int, err error) {
	pYes, err = Probability(yes, no, false)
	if err != nil {
		return nil, nil, err
	}
	pNo = new(uint256.Int).Sub(fixedpoint.One(), pYes)
	return pYes, pNo, nil
}

// QuoteBuy prices buying amount tokens of the target outcome.
func (c *Curve) QuoteBuy(target, other, amount, unitValue *uint256.Int) (Quote, error) {
	if amount.IsZero() {
		return Quote{}, ErrZeroAmount
	}
	if target.IsZero() || other.IsZero() {
		return Quote{}, ErrEmptyReserve
	}
	if !amount.Lt(target) {
		return Quote{}, ErrInsufficientTokenReserve
	}

	targetAfter := new(uint256.Int).Sub(target, amount)
	grow, err := fixedpoint.MulDivUp(amount, other, targetAfter)
	if err != nil {
		return Quote{}, err
	}
	otherAfter, err := fixedpoint.Add(other, grow)
	if err != nil {
		return Quote{}, err
	}

	before, err := Probability(target, other, true)
	if err != nil {
		return Quote{}, err
	}
	after, err := Probability(targetAfter, otherAfter, true)
	if err != nil {
		return Quote{}, err
	}
	cost, err := curveValue(unitValue, target, other, targetAfter, target, true)
	if err != nil {
		return Quote{}, err
	}
	fee, err := fixedpoint.Bps(cost, c.feeBps)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Amount:        new(uint256.Int).Set(amount),
		Collateral:    cost,
		Fee:           fee,
		TargetReserve: targetAfter,
		OtherReserve:  otherAfter,
		ProbBefore:    before,
		ProbAfter:     after,
	}, nil
}

// QuoteSell prices selling amount tokens of the target outcome back to the
// pool.
func (c *Curve) QuoteSell(target, other, amount, unitValue *uint256.Int) (Quote, error) {
	if amount.IsZero() {
		return Quote{}, ErrZeroAmount
	}
	if target.IsZero() || other.IsZero() {
		return Quote{}, ErrEmptyReserve
	}

	targetAfter, err := fixedpoint.Add(target, amount)
	if err != nil {
		return Quote{}, err
	}
	// ceil(k / target') keeps the larger share of the other reserve in the pool.
	otherAfter, err := fixedpoint.MulDivUp(target, other, targetAfter)
	if err != nil {
		return Quote{}, err
	}

	before, err := Probability(target, other, false)
	if err != nil {
		return Quote{}, err
	}
	after, err := Probability(targetAfter, otherAfter, false)
	if err != nil {
		return Quote{}, err
	}
	gross, err := curveValue(unitValue, target, other, target, targetAfter, false)
	if err != nil {
		return Quote{}, err
	}
	fee, err := fixedpoint.Bps(gross, c.feeBps)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Amount:        new(uint256.Int).Set(amount),
		Collateral:    new(uint256.Int).Sub(gross, fee),
		Fee:           fee,
		TargetReserve: targetAfter,
		OtherReserve:  otherAfter,
		ProbBefore:    before,
		ProbAfter:     after,
	}, nil
}

// curveValue bounds unitValue times the area under p(t) = k/(t²+k) for t in
// [lo, hi], where k = target*other. upper selects an upper bound (buys) over
// a lower bound (sells).
//
// p is convex where 3t² >= k and concave where 3t² <= k. On a convex slice
// the chord lies above the curve and the midpoint tangent below it; on a
// concave slice the roles swap. A slice straddling the inflection point falls
// back to the monotone bound p(lo) or p(hi).
func curveValue(unitValue, target, other, lo, hi *uint256.Int, upper bool) (*uint256.Int, error) {
	k, err := fixedpoint.Mul(target, other)
	if err != nil {
		return nil, err
	}
	p := func(t *uint256.Int) (*uint256.Int, error) {
		denom, err := fixedpoint.Add(new(uint256.Int).Mul(t, t), k)
		if err != nil {
			return nil, err
		}
		if upper {
			return fixedpoint.MulDivUp(k, fixedpoint.One(), denom)
		}
		return fixedpoint.MulDiv(k, fixedpoint.One(), denom)
	}
	// Sign of 3t² - k. Reserves stay far below 2^128, so t² fits.
	cmpInflection := func(t *uint256.Int) int {
		sq := new(uint256.Int).Mul(t, t)
		return new(uint256.Int).Mul(sq, uint256.NewInt(3)).Cmp(k)
	}

	width := new(uint256.Int).Sub(hi, lo)
	steps := uint256.NewInt(curveSteps)
	// sum accumulates twice the area, scaled by 1e18.
	sum := new(uint256.Int)
	a := new(uint256.Int).Set(lo)
	for i := uint64(1); i <= curveSteps; i++ {
		off, err := fixedpoint.MulDiv(width, uint256.NewInt(i), steps)
		if err != nil {
			return nil, err
		}
		b := new(uint256.Int).Add(lo, off)
		d := new(uint256.Int).Sub(b, a)
		if d.IsZero() {
			continue
		}
		convex := cmpInflection(a) >= 0
		concave := cmpInflection(b) <= 0

		var term *uint256.Int
		switch {
		case (upper && convex) || (!upper && concave):
			// Chord.
			pa, err := p(a)
			if err != nil {
				return nil, err
			}
			pb, err := p(b)
			if err != nil {
				return nil, err
			}
			if term, err = fixedpoint.Mul(d, new(uint256.Int).Add(pa, pb)); err != nil {
				return nil, err
			}
		case concave || convex:
			// Midpoint tangent. Flooring the midpoint keeps an upper bound
			// and ceiling it keeps a lower bound, since p is decreasing.
			mid := new(uint256.Int).Add(a, b)
			if !upper {
				mid.AddUint64(mid, 1)
			}
			mid.Rsh(mid, 1)
			pm, err := p(mid)
			if err != nil {
				return nil, err
			}
			if term, err = fixedpoint.Mul(new(uint256.Int).Lsh(d, 1), pm); err != nil {
				return nil, err
			}
		default:
			edge := b
			if upper {
				edge = a
			}
			pe, err := p(edge)
			if err != nil {
				return nil, err
			}
			if term, err = fixedpoint.Mul(new(uint256.Int).Lsh(d, 1), pe); err != nil {
				return nil, err
			}
		}
		if sum, err = fixedpoint.Add(sum, term); err != nil {
			return nil, err
		}
		a = b
	}

	denom := new(uint256.Int).Mul(fixedpoint.One(), fixedpoint.One())
	denom.Lsh(denom, 1)
	if upper {
		return fixedpoint.MulDivUp(unitValue, sum, denom)
	}
	return fixedpoint.MulDiv(unitValue, sum, denom)
}

// InitialReserves sizes the opening reserves for tokens units of liquidity
// so that the implied YES probability is yesPct/100. The larger reserve is
// exactly tokens, so no single outcome can ever have more tokens minted than
// the seed collateral backs at face value.
func InitialReserves(tokens *uint256.Int, yesPct uint8) (yes, no *uint256.Int, err error) {
	if yesPct < 1 || yesPct > 99 {
		return nil, nil, ErrInvalidProbability
	}
	p := uint256.NewInt(uint64(yesPct))
	q := uint256.NewInt(uint64(100 - yesPct))

	// no/yes = p/q.
	if yesPct >= 50 {
		no = new(uint256.Int).Set(tokens)
		yes, err = fixedpoint.MulDiv(tokens, q, p)
	} else {
		yes = new(uint256.Int).Set(tokens)
		no, err = fixedpoint.MulDiv(tokens, p, q)
	}
	if err != nil {
		return nil, nil, err
	}
	if yes.IsZero() || no.IsZero() {
		return nil, nil, ErrEmptyReserve
	}
	return yes, no, nil
}

// ScaleDelta returns floor(reserve*amount/principal): the reserve change
// that keeps the implied price fixed when principal changes by amount.
func ScaleDelta(reserve, amount, principal *uint256.Int) (*uint256.Int, error) {
	return fixedpoint.MulDiv(reserve, amount, principal)
}
