package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/polybet/internal/events"
	"github.com/atmx/polybet/internal/fixedpoint"
	"github.com/atmx/polybet/internal/model"
)

// Report records the winning outcome. Only the oracle may call it, once. It
// remains possible after expiration.
func (m *Market) Report(ctx context.Context, tx Tx, o model.Outcome) error {
	return m.exec(ctx, tx, false, func(*uint256.Int) error {
		if tx.From != m.oracle {
			return ErrOnlyOracle
		}
		if !o.Valid() {
			return ErrInvalidOutcome
		}
		if m.s.status != model.StatusActive {
			return ErrAlreadyReported
		}
		m.s.status = model.StatusReported
		m.s.winning = o
		m.emit(events.MarketReported{Outcome: o})
		return nil
	})
}

// Resolve settles a reported market. Collateral is split into the winners
// pool, capped at the face value of the winning supply, and the settled
// principal left to LPs. The creator's share of the principal and their
// outstanding fee revenue are paid out immediately; other LPs collect theirs
// with WithdrawSettledLiquidity. Anyone may call Resolve.
func (m *Market) Resolve(ctx context.Context, tx Tx) (*uint256.Int, error) {
	var paid *uint256.Int
	err := m.exec(ctx, tx, false, func(*uint256.Int) error {
		switch m.s.status {
		case model.StatusActive:
			return ErrNotYetReported
		case model.StatusResolved:
			return ErrAlreadyResolved
		}

		winners, _ := m.tokenFor(m.s.winning)
		liability, err := fixedpoint.MulDiv(winners.TotalSupply(), &m.unitValue, fixedpoint.One())
		if err != nil {
			return err
		}
		available, err := fixedpoint.Sub(&m.s.collateral, &m.s.lpRevenue)
		if err != nil {
			return ErrInsufficientCollateral
		}
		pool := fixedpoint.Min(liability, available)
		m.s.winnersPool = *pool
		m.s.settledPrincipal = *new(uint256.Int).Sub(available, pool)

		share, err := m.settledShare(m.creator)
		if err != nil {
			return err
		}
		revenue, err := m.drainRevenue(m.creator)
		if err != nil {
			return err
		}
		payout, err := fixedpoint.Add(share, revenue)
		if err != nil {
			return err
		}
		if err := m.spend(payout); err != nil {
			return err
		}
		m.s.withdrawn[m.creator] = true
		m.s.resolvePayout = *payout
		m.s.status = model.StatusResolved

		paid = payout
		m.emit(events.MarketResolved{Payout: payout.Dec()})
		m.pay(m.creator, payout)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// settledShare is lp's floor share of the settled principal.
func (m *Market) settledShare(lp common.Address) (*uint256.Int, error) {
	c := m.s.contributions[lp]
	if c.IsZero() || m.s.totalLiquidity.IsZero() {
		return fixedpoint.Zero(), nil
	}
	return fixedpoint.MulDiv(&m.s.settledPrincipal, &c, &m.s.totalLiquidity)
}

// RedeemWinningTokens burns amount winning tokens from the caller and pays
// amount/supply of the remaining winners pool. The last redeemer drains the
// pool exactly.
func (m *Market) RedeemWinningTokens(ctx context.Context, tx Tx, amount *uint256.Int) (*uint256.Int, error) {
	var paid *uint256.Int
	err := m.exec(ctx, tx, false, func(*uint256.Int) error {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		if m.s.status != model.StatusResolved {
			return ErrNotResolved
		}
		winners, _ := m.tokenFor(m.s.winning)
		if winners.BalanceOf(tx.From).Lt(amount) {
			return ErrInsufficientWinningTokens
		}
		payout, err := fixedpoint.MulDiv(amount, &m.s.winnersPool, winners.TotalSupply())
		if err != nil {
			return err
		}
		if err := winners.Burn(m.addr, tx.From, amount); err != nil {
			return err
		}
		m.s.winnersPool.Sub(&m.s.winnersPool, payout)
		if err := m.spend(payout); err != nil {
			return err
		}

		paid = payout
		m.emit(events.WinningTokensRedeemed{
			Redeemer: tx.From,
			Amount:   amount.Dec(),
			Payout:   payout.Dec(),
		})
		m.pay(tx.From, payout)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// WithdrawSettledLiquidity pays a liquidity provider their share of the
// settled principal plus any unclaimed fee revenue, once.
func (m *Market) WithdrawSettledLiquidity(ctx context.Context, tx Tx) (*uint256.Int, error) {
	var paid *uint256.Int
	err := m.exec(ctx, tx, false, func(*uint256.Int) error {
		if m.s.status != model.StatusResolved {
			return ErrNotResolved
		}
		c := m.s.contributions[tx.From]
		if c.IsZero() {
			return ErrInsufficientContribution
		}
		if m.s.withdrawn[tx.From] {
			return ErrAlreadyWithdrawn
		}

		share, err := m.settledShare(tx.From)
		if err != nil {
			return err
		}
		revenue, err := m.drainRevenue(tx.From)
		if err != nil {
			return err
		}
		amount, err := fixedpoint.Add(share, revenue)
		if err != nil {
			return err
		}
		if err := m.spend(amount); err != nil {
			return err
		}
		m.s.withdrawn[tx.From] = true

		paid = amount
		m.emit(events.SettledLiquidityWithdrawn{Provider: tx.From, Amount: amount.Dec()})
		m.pay(tx.From, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}
