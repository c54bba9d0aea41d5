package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/polybet/internal/amm"
	"github.com/atmx/polybet/internal/events"
	"github.com/atmx/polybet/internal/fixedpoint"
	"github.com/atmx/polybet/internal/model"
)

// QuoteBuy prices buying amount tokens of outcome o against the current
// reserves. It does not check the trading gate.
func (m *Market) QuoteBuy(o model.Outcome, amount *uint256.Int) (amm.Quote, error) {
	if !o.Valid() {
		return amm.Quote{}, ErrInvalidOutcome
	}
	if amount == nil || amount.IsZero() {
		return amm.Quote{}, ErrZeroAmount
	}
	target, other := m.reserves(o)
	return m.curve.QuoteBuy(target, other, amount, &m.unitValue)
}

// QuoteSell prices selling amount tokens of outcome o back to the pool.
func (m *Market) QuoteSell(o model.Outcome, amount *uint256.Int) (amm.Quote, error) {
	if !o.Valid() {
		return amm.Quote{}, ErrInvalidOutcome
	}
	if amount == nil || amount.IsZero() {
		return amm.Quote{}, ErrZeroAmount
	}
	target, other := m.reserves(o)
	return m.curve.QuoteSell(target, other, amount, &m.unitValue)
}

// GetBuyPrice is the exact collateral BuyTokens requires.
func (m *Market) GetBuyPrice(o model.Outcome, amount *uint256.Int) (*uint256.Int, error) {
	q, err := m.QuoteBuy(o, amount)
	if err != nil {
		return nil, err
	}
	return q.Collateral, nil
}

// GetSellPrice is the net collateral SellTokens would pay.
func (m *Market) GetSellPrice(o model.Outcome, amount *uint256.Int) (*uint256.Int, error) {
	q, err := m.QuoteSell(o, amount)
	if err != nil {
		return nil, err
	}
	return q.Collateral, nil
}

// BuyTokens mints amount tokens of outcome o to the caller. The attached
// value must equal GetBuyPrice exactly. The fee share of the payment is
// credited to LP revenue.
func (m *Market) BuyTokens(ctx context.Context, tx Tx, o model.Outcome, amount *uint256.Int) (amm.Quote, error) {
	var q amm.Quote
	err := m.exec(ctx, tx, true, func(value *uint256.Int) error {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		tok, err := m.tokenFor(o)
		if err != nil {
			return err
		}
		if tx.From == m.creator {
			return ErrOwnerCannotCall
		}
		if err := m.tradable(); err != nil {
			return err
		}
		q, err = m.QuoteBuy(o, amount)
		if err != nil {
			return err
		}
		if !value.Eq(q.Collateral) {
			return ErrMustSendExactAmount
		}

		collateral, err := fixedpoint.Add(&m.s.collateral, q.Collateral)
		if err != nil {
			return err
		}
		if err := m.accrue(q.Fee); err != nil {
			return err
		}
		target, other := m.reserves(o)
		target.Set(q.TargetReserve)
		other.Set(q.OtherReserve)
		m.s.collateral = *collateral

		if err := tok.Mint(m.addr, tx.From, amount); err != nil {
			return err
		}
		if err := m.checkSolvency(fixedpoint.Zero()); err != nil {
			return err
		}
		m.emit(events.TokensPurchased{
			Buyer:          tx.From,
			Outcome:        o,
			TokenAmount:    amount.Dec(),
			CollateralPaid: q.Collateral.Dec(),
		})
		return nil
	})
	if err != nil {
		return amm.Quote{}, err
	}
	return q, nil
}

// SellTokens burns amount tokens of outcome o from the caller and pays out
// the net sale proceeds. The fee share stays in the pool as LP revenue.
func (m *Market) SellTokens(ctx context.Context, tx Tx, o model.Outcome, amount *uint256.Int) (amm.Quote, error) {
	var q amm.Quote
	err := m.exec(ctx, tx, false, func(*uint256.Int) error {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		tok, err := m.tokenFor(o)
		if err != nil {
			return err
		}
		if tx.From == m.creator {
			return ErrOwnerCannotCall
		}
		if err := m.tradable(); err != nil {
			return err
		}
		if tok.BalanceOf(tx.From).Lt(amount) {
			return ErrInsufficientBalance
		}
		q, err = m.QuoteSell(o, amount)
		if err != nil {
			return err
		}

		if err := m.spend(q.Collateral); err != nil {
			return err
		}
		if err := m.accrue(q.Fee); err != nil {
			return err
		}
		// Fee revenue must stay backed by collateral.
		if m.s.collateral.Lt(&m.s.lpRevenue) {
			return ErrInsufficientCollateral
		}
		target, other := m.reserves(o)
		target.Set(q.TargetReserve)
		other.Set(q.OtherReserve)

		if err := tok.Burn(m.addr, tx.From, amount); err != nil {
			return err
		}
		m.emit(events.TokensSold{
			Seller:             tx.From,
			Outcome:            o,
			TokenAmount:        amount.Dec(),
			CollateralReceived: q.Collateral.Dec(),
		})
		m.pay(tx.From, q.Collateral)
		return nil
	})
	if err != nil {
		return amm.Quote{}, err
	}
	return q, nil
}

// TransferTokens moves amount tokens of outcome o from the caller to `to`.
// Transfers are allowed in every phase.
func (m *Market) TransferTokens(ctx context.Context, tx Tx, o model.Outcome, to common.Address, amount *uint256.Int) error {
	return m.exec(ctx, tx, false, func(*uint256.Int) error {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		tok, err := m.tokenFor(o)
		if err != nil {
			return err
		}
		return tok.Transfer(tx.From, to, amount)
	})
}
