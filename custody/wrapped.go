package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// WrappedValue is the fallback asset. Wrapping moves native value from the
// escrow into the wrapper's reserve account and mints the same wrapped amount
// to the escrow. Wrapped balances never refuse a credit.
type WrappedValue struct {
	mu       sync.Mutex
	bank     *Bank
	escrow   common.Address
	reserve  common.Address
	balances map[common.Address]decimal.Decimal
}

func NewWrappedValue(bank *Bank, escrow, reserve common.Address) *WrappedValue {
	return &WrappedValue{
		bank:     bank,
		escrow:   escrow,
		reserve:  reserve,
		balances: make(map[common.Address]decimal.Decimal),
	}
}

// Wrap implements engine.FallbackAsset.
func (w *WrappedValue) Wrap(_ context.Context, amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.bank.Transfer(w.escrow, w.reserve, amount); err != nil {
		return fmt.Errorf("wrap %s: %w", amount, err)
	}
	w.balances[w.escrow] = w.balances[w.escrow].Add(amount)
	return nil
}

// CreditTo implements engine.FallbackAsset.
func (w *WrappedValue) CreditTo(_ context.Context, recipient common.Address, amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.balances[w.escrow].LessThan(amount) {
		return fmt.Errorf("wrapped escrow balance %s, needs %s: %w", w.balances[w.escrow], amount, ErrInsufficientFunds)
	}
	w.balances[w.escrow] = w.balances[w.escrow].Sub(amount)
	w.balances[recipient] = w.balances[recipient].Add(amount)
	return nil
}

// Unwrap burns holder's wrapped balance and returns native value from the reserve.
func (w *WrappedValue) Unwrap(holder common.Address, amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.balances[holder].LessThan(amount) {
		return fmt.Errorf("wrapped balance %s, needs %s: %w", w.balances[holder], amount, ErrInsufficientFunds)
	}
	if err := w.bank.Transfer(w.reserve, holder, amount); err != nil {
		return fmt.Errorf("unwrap %s: %w", amount, err)
	}
	w.balances[holder] = w.balances[holder].Sub(amount)
	return nil
}

func (w *WrappedValue) BalanceOf(addr common.Address) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[addr]
}
