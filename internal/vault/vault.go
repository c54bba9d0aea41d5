// Package vault holds collateral accounts outside of any market. It is the
// Treasury markets pay through and the escrow the service debits before a
// payable call.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/polybet/internal/fixedpoint"
)

var (
	ErrInsufficientFunds = errors.New("vault: insufficient funds")
	ErrZeroAddress       = errors.New("vault: zero address")
)

// Vault is an in-memory collateral ledger. Safe for concurrent use.
type Vault struct {
	mu       sync.RWMutex
	balances map[common.Address]uint256.Int
}

func New() *Vault {
	return &Vault{balances: make(map[common.Address]uint256.Int)}
}

// Deposit credits external collateral to account.
func (v *Vault) Deposit(_ context.Context, account common.Address, amount *uint256.Int) error {
	if account == (common.Address{}) {
		return ErrZeroAddress
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.credit(account, amount)
}

// Debit removes amount from account.
func (v *Vault) Debit(_ context.Context, account common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.balances[account]
	next, err := fixedpoint.Sub(&bal, amount)
	if err != nil {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, account.Hex(), bal.Dec(), amount.Dec())
	}
	v.set(account, next)
	return nil
}

// Pay credits amount to `to`. It implements market.Treasury.
func (v *Vault) Pay(_ context.Context, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.credit(to, amount)
}

// Balance returns a copy of account's balance.
func (v *Vault) Balance(account common.Address) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	b := v.balances[account]
	return new(uint256.Int).Set(&b)
}

// Total is the sum of all balances.
func (v *Vault) Total() *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	sum := new(uint256.Int)
	for _, b := range v.balances {
		sum.Add(sum, &b)
	}
	return sum
}

func (v *Vault) credit(account common.Address, amount *uint256.Int) error {
	bal := v.balances[account]
	next, err := fixedpoint.Add(&bal, amount)
	if err != nil {
		return err
	}
	v.set(account, next)
	return nil
}

func (v *Vault) set(account common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		delete(v.balances, account)
		return
	}
	v.balances[account] = *amount
}
