package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/polybet/internal/amm"
	"github.com/atmx/polybet/internal/events"
	"github.com/atmx/polybet/internal/fixedpoint"
)

// Fee revenue is distributed with a per-unit accumulator: every fee raises
// revenuePerUnit by fee/P, and an LP's share is contribution*revenuePerUnit
// minus the debt recorded when their contribution last changed. Flooring
// leaves dust in lpRevenue, never a deficit.

// accrue credits fee to LP revenue.
func (m *Market) accrue(fee *uint256.Int) error {
	if fee.IsZero() {
		return nil
	}
	revenue, err := fixedpoint.Add(&m.s.lpRevenue, fee)
	if err != nil {
		return err
	}
	if !m.s.totalLiquidity.IsZero() {
		perUnit, err := fixedpoint.MulDiv(fee, fixedpoint.One(), &m.s.totalLiquidity)
		if err != nil {
			return err
		}
		next, err := fixedpoint.Add(&m.s.revenuePerUnit, perUnit)
		if err != nil {
			return err
		}
		m.s.revenuePerUnit = *next
	}
	m.s.lpRevenue = *revenue
	return nil
}

// accrued is lp's revenue since their debt was last reset.
func (m *Market) accrued(lp common.Address) (*uint256.Int, error) {
	c := m.s.contributions[lp]
	if c.IsZero() {
		return fixedpoint.Zero(), nil
	}
	gross, err := fixedpoint.MulDiv(&c, &m.s.revenuePerUnit, fixedpoint.One())
	if err != nil {
		return nil, err
	}
	debt := m.s.revenueDebt[lp]
	return fixedpoint.Sub(gross, &debt)
}

// settle moves lp's accrued revenue into their owed balance and re-bases
// their debt on contribution.
func (m *Market) settle(lp common.Address, contribution *uint256.Int) error {
	acc, err := m.accrued(lp)
	if err != nil {
		return err
	}
	owed := m.s.revenueOwed[lp]
	total, err := fixedpoint.Add(&owed, acc)
	if err != nil {
		return err
	}
	debt, err := fixedpoint.MulDiv(contribution, &m.s.revenuePerUnit, fixedpoint.One())
	if err != nil {
		return err
	}
	if total.IsZero() {
		delete(m.s.revenueOwed, lp)
	} else {
		m.s.revenueOwed[lp] = *total
	}
	if debt.IsZero() {
		delete(m.s.revenueDebt, lp)
	} else {
		m.s.revenueDebt[lp] = *debt
	}
	if contribution.IsZero() {
		delete(m.s.contributions, lp)
	} else {
		m.s.contributions[lp] = *contribution
	}
	return nil
}

// drainRevenue settles lp and empties their owed balance, returning it.
func (m *Market) drainRevenue(lp common.Address) (*uint256.Int, error) {
	c := m.s.contributions[lp]
	if err := m.settle(lp, &c); err != nil {
		return nil, err
	}
	owed := m.s.revenueOwed[lp]
	amount := new(uint256.Int).Set(&owed)
	if amount.IsZero() {
		return amount, nil
	}
	revenue, err := fixedpoint.Sub(&m.s.lpRevenue, amount)
	if err != nil {
		return nil, err
	}
	m.s.lpRevenue = *revenue
	delete(m.s.revenueOwed, lp)
	return amount, nil
}

// scaleReserves grows (add) or shrinks (!add) both reserves by
// reserve*amount/totalLiquidity, keeping the implied price fixed.
func (m *Market) scaleReserves(amount *uint256.Int, add bool) error {
	dy, err := amm.ScaleDelta(&m.s.yesReserve, amount, &m.s.totalLiquidity)
	if err != nil {
		return err
	}
	dn, err := amm.ScaleDelta(&m.s.noReserve, amount, &m.s.totalLiquidity)
	if err != nil {
		return err
	}
	if add {
		yes, err := fixedpoint.Add(&m.s.yesReserve, dy)
		if err != nil {
			return err
		}
		no, err := fixedpoint.Add(&m.s.noReserve, dn)
		if err != nil {
			return err
		}
		m.s.yesReserve, m.s.noReserve = *yes, *no
		return nil
	}
	if !dy.Lt(&m.s.yesReserve) || !dn.Lt(&m.s.noReserve) {
		return ErrInsufficientLiquidity
	}
	m.s.yesReserve.Sub(&m.s.yesReserve, dy)
	m.s.noReserve.Sub(&m.s.noReserve, dn)
	return nil
}

// AddLiquidity deposits the attached collateral as LP principal and scales
// both reserves by the same factor.
func (m *Market) AddLiquidity(ctx context.Context, tx Tx) error {
	return m.exec(ctx, tx, true, func(value *uint256.Int) error {
		if value.IsZero() {
			return ErrZeroAmount
		}
		if err := m.tradable(); err != nil {
			return err
		}
		if err := m.scaleReserves(value, true); err != nil {
			return err
		}

		c := m.s.contributions[tx.From]
		next, err := fixedpoint.Add(&c, value)
		if err != nil {
			return err
		}
		if err := m.settle(tx.From, next); err != nil {
			return err
		}
		liquidity, err := fixedpoint.Add(&m.s.totalLiquidity, value)
		if err != nil {
			return err
		}
		collateral, err := fixedpoint.Add(&m.s.collateral, value)
		if err != nil {
			return err
		}
		m.s.totalLiquidity = *liquidity
		m.s.collateral = *collateral

		m.emit(events.LiquidityAdded{Provider: tx.From, Amount: value.Dec()})
		return nil
	})
}

// RemoveLiquidity withdraws amount of the caller's principal. Closed once the
// market is reported or expired. The creator cannot go below the locked part
// of their seed, and the pool must still cover the face value of every
// outstanding token of either side.
func (m *Market) RemoveLiquidity(ctx context.Context, tx Tx, amount *uint256.Int) error {
	return m.exec(ctx, tx, false, func(*uint256.Int) error {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		if err := m.tradable(); err != nil {
			return err
		}
		c := m.s.contributions[tx.From]
		if c.Lt(amount) {
			return ErrInsufficientContribution
		}
		remaining := new(uint256.Int).Sub(&c, amount)
		if tx.From == m.creator && remaining.Lt(&m.creatorLocked) {
			return ErrLockedLiquidity
		}
		if err := m.checkSolvency(amount); err != nil {
			return err
		}
		if err := m.scaleReserves(amount, false); err != nil {
			return err
		}

		if err := m.settle(tx.From, remaining); err != nil {
			return err
		}
		m.s.totalLiquidity.Sub(&m.s.totalLiquidity, amount)
		if err := m.spend(amount); err != nil {
			return err
		}

		m.emit(events.LiquidityRemoved{Provider: tx.From, Amount: amount.Dec()})
		m.pay(tx.From, amount)
		return nil
	})
}

// checkSolvency verifies that withdrawing amount leaves enough principal to
// pay every outstanding token of either outcome at face value. Buys call it
// with zero after minting.
func (m *Market) checkSolvency(amount *uint256.Int) error {
	principal, err := fixedpoint.Sub(&m.s.collateral, &m.s.lpRevenue)
	if err != nil {
		return ErrInsufficientCollateral
	}
	left, err := fixedpoint.Sub(principal, amount)
	if err != nil {
		return ErrInsufficientCollateral
	}
	supply := fixedpoint.Max(m.yes.TotalSupply(), m.no.TotalSupply())
	liability, err := fixedpoint.MulDivUp(supply, &m.unitValue, fixedpoint.One())
	if err != nil {
		return err
	}
	if left.Lt(liability) {
		return ErrInsufficientCollateral
	}
	return nil
}

// ClaimLPRevenue pays the caller their accrued share of trading fees.
func (m *Market) ClaimLPRevenue(ctx context.Context, tx Tx) (*uint256.Int, error) {
	var claimed *uint256.Int
	err := m.exec(ctx, tx, false, func(*uint256.Int) error {
		amount, err := m.drainRevenue(tx.From)
		if err != nil {
			return err
		}
		if amount.IsZero() {
			return ErrNothingToClaim
		}
		if err := m.spend(amount); err != nil {
			return err
		}
		claimed = amount
		m.emit(events.LPRevenueClaimed{Provider: tx.From, Amount: amount.Dec()})
		m.pay(tx.From, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
