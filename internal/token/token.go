// Package token implements the outcome-token ledger: balances for one side
// (YES or NO) of one market. Minting and burning are reserved for the owning
// market; holders may transfer freely.
package token

import (
	"errors"
	"fmt"
	"maps"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/polybet/internal/events"
	"github.com/atmx/polybet/internal/fixedpoint"
	"github.com/atmx/polybet/internal/model"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrOnlyMarket          = errors.New("token: caller is not the owning market")
	ErrZeroAddress         = errors.New("token: zero address")
)

// Emitter receives the Transfer event of every ledger movement.
type Emitter func(events.Event)

// OutcomeToken is the ledger of one outcome of one market.
// Invariant: totalSupply == sum(balances).
type OutcomeToken struct {
	outcome     model.Outcome
	market      common.Address
	balances    map[common.Address]uint256.Int
	totalSupply uint256.Int
	emit        Emitter
}

// New creates an empty ledger owned by market. emit may be nil.
func New(market common.Address, outcome model.Outcome, emit Emitter) *OutcomeToken {
	if emit == nil {
		emit = func(events.Event) {}
	}
	return &OutcomeToken{
		outcome:  outcome,
		market:   market,
		balances: make(map[common.Address]uint256.Int),
		emit:     emit,
	}
}

func (t *OutcomeToken) Outcome() model.Outcome { return t.outcome }
func (t *OutcomeToken) Market() common.Address { return t.market }

// Symbol is "YES" or "NO".
func (t *OutcomeToken) Symbol() string { return t.outcome.String() }

// BalanceOf returns a copy of holder's balance.
func (t *OutcomeToken) BalanceOf(holder common.Address) *uint256.Int {
	b := t.balances[holder]
	return new(uint256.Int).Set(&b)
}

// TotalSupply returns a copy of the total supply.
func (t *OutcomeToken) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(&t.totalSupply)
}

// Holders returns the number of accounts with a non-zero balance.
func (t *OutcomeToken) Holders() int { return len(t.balances) }

// Mint credits amount to holder `to`.
func (t *OutcomeToken) Mint(caller, to common.Address, amount *uint256.Int) error {
	if caller != t.market {
		return ErrOnlyMarket
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	supply, err := fixedpoint.Add(&t.totalSupply, amount)
	if err != nil {
		return fmt.Errorf("token: mint %s: %w", t.Symbol(), err)
	}
	bal := t.balances[to]
	next, err := fixedpoint.Add(&bal, amount)
	if err != nil {
		return fmt.Errorf("token: mint %s: %w", t.Symbol(), err)
	}

	t.totalSupply = *supply
	t.set(to, next)
	t.emit(events.Transfer{Token: t.outcome, To: to, Amount: amount.Dec()})
	return nil
}

// Burn debits amount from holder `from`.
func (t *OutcomeToken) Burn(caller, from common.Address, amount *uint256.Int) error {
	if caller != t.market {
		return ErrOnlyMarket
	}
	bal := t.balances[from]
	if bal.Lt(amount) {
		return ErrInsufficientBalance
	}

	next := new(uint256.Int).Sub(&bal, amount)
	t.totalSupply.Sub(&t.totalSupply, amount)
	t.set(from, next)
	t.emit(events.Transfer{Token: t.outcome, From: from, Amount: amount.Dec()})
	return nil
}

// Transfer moves amount from one holder to another.
func (t *OutcomeToken) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	bal := t.balances[from]
	if bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	if from == to {
		t.emit(events.Transfer{Token: t.outcome, From: from, To: to, Amount: amount.Dec()})
		return nil
	}

	dst := t.balances[to]
	credited, err := fixedpoint.Add(&dst, amount)
	if err != nil {
		return fmt.Errorf("token: transfer %s: %w", t.Symbol(), err)
	}
	t.set(from, new(uint256.Int).Sub(&bal, amount))
	t.set(to, credited)
	t.emit(events.Transfer{Token: t.outcome, From: from, To: to, Amount: amount.Dec()})
	return nil
}

func (t *OutcomeToken) set(holder common.Address, v *uint256.Int) {
	if v.IsZero() {
		delete(t.balances, holder)
		return
	}
	t.balances[holder] = *v
}

// Snapshot is a point-in-time copy of the ledger.
type Snapshot struct {
	balances    map[common.Address]uint256.Int
	totalSupply uint256.Int
}

// Snapshot copies the ledger so the owner can roll back a failed call.
func (t *OutcomeToken) Snapshot() Snapshot {
	return Snapshot{balances: maps.Clone(t.balances), totalSupply: t.totalSupply}
}

// Restore rewinds the ledger to s.
func (t *OutcomeToken) Restore(caller common.Address, s Snapshot) error {
	if caller != t.market {
		return ErrOnlyMarket
	}
	t.balances = maps.Clone(s.balances)
	if t.balances == nil {
		t.balances = make(map[common.Address]uint256.Int)
	}
	t.totalSupply = s.totalSupply
	return nil
}
