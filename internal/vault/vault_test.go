package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xb2")
)

func TestDepositDebitPay(t *testing.T) {
	ctx := context.Background()
	v := New()

	if err := v.Deposit(ctx, alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := v.Debit(ctx, alice, uint256.NewInt(40)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := v.Pay(ctx, bob, uint256.NewInt(40)); err != nil {
		t.Fatalf("pay: %v", err)
	}

	if got := v.Balance(alice).Uint64(); got != 60 {
		t.Errorf("expected alice 60, got %d", got)
	}
	if got := v.Balance(bob).Uint64(); got != 40 {
		t.Errorf("expected bob 40, got %d", got)
	}
	if got := v.Total().Uint64(); got != 100 {
		t.Errorf("expected total 100, got %d", got)
	}
}

func TestDebit_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	v := New()
	_ = v.Deposit(ctx, alice, uint256.NewInt(10))

	err := v.Debit(ctx, alice, uint256.NewInt(11))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if v.Balance(alice).Uint64() != 10 {
		t.Error("failed debit must not change the balance")
	}
}

func TestZeroAddress(t *testing.T) {
	ctx := context.Background()
	v := New()
	if err := v.Deposit(ctx, common.Address{}, uint256.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Errorf("expected ErrZeroAddress on deposit, got %v", err)
	}
	if err := v.Pay(ctx, common.Address{}, uint256.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Errorf("expected ErrZeroAddress on pay, got %v", err)
	}
}
