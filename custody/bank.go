package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPaymentRejected   = errors.New("recipient rejected payment")
)

// Receiver runs when an address is paid directly. Returning an error refuses
// the payment. It may call back into whatever paid it.
type Receiver func(ctx context.Context, from common.Address, amount decimal.Decimal) error

// Bank is an in-memory native value ledger with an escrow account.
type Bank struct {
	mu        sync.Mutex
	escrow    common.Address
	balances  map[common.Address]decimal.Decimal
	receivers map[common.Address]Receiver
}

func NewBank(escrow common.Address) *Bank {
	return &Bank{
		escrow:    escrow,
		balances:  make(map[common.Address]decimal.Decimal),
		receivers: make(map[common.Address]Receiver),
	}
}

// Deposit credits addr out of thin air. For seeding accounts.
func (b *Bank) Deposit(addr common.Address, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = b.balances[addr].Add(amount)
}

func (b *Bank) Balance(addr common.Address) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[addr]
}

// SetReceiver installs a hook that decides whether addr accepts direct payments.
func (b *Bank) SetReceiver(addr common.Address, r Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r == nil {
		delete(b.receivers, addr)
		return
	}
	b.receivers[addr] = r
}

// Transfer moves value between two accounts without running receiver hooks.
func (b *Bank) Transfer(from, to common.Address, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, to, amount)
}

func (b *Bank) move(from, to common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("negative transfer %s", amount)
	}
	if b.balances[from].LessThan(amount) {
		return fmt.Errorf("%s has %s, needs %s: %w", from.Hex(), b.balances[from], amount, ErrInsufficientFunds)
	}
	b.balances[from] = b.balances[from].Sub(amount)
	b.balances[to] = b.balances[to].Add(amount)
	return nil
}

// Collect implements engine.Treasury.
func (b *Bank) Collect(_ context.Context, from common.Address, amount decimal.Decimal) error {
	return b.Transfer(from, b.escrow, amount)
}

// Send implements engine.Treasury. The recipient's hook runs on its own
// goroutine; the credit is committed only if the hook accepts before ctx is
// done. A late answer is dropped and no balance changes.
func (b *Bank) Send(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	b.mu.Lock()
	if b.balances[b.escrow].LessThan(amount) {
		b.mu.Unlock()
		return fmt.Errorf("escrow: %w", ErrInsufficientFunds)
	}
	receiver := b.receivers[to]
	b.mu.Unlock()

	if receiver != nil {
		done := make(chan error, 1)
		go func() {
			done <- receiver(ctx, b.escrow, amount)
		}()

		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("%s: %w: %v", to.Hex(), ErrPaymentRejected, err)
			}
		case <-ctx.Done():
			return fmt.Errorf("%s did not accept in time: %w", to.Hex(), ctx.Err())
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s accepted too late: %w", to.Hex(), err)
		}
	}

	return b.Transfer(b.escrow, to, amount)
}
