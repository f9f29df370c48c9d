package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/atomic"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/events"
)

// RecoveryGuard gates the recovery admin. Once disabled it can never be re-enabled.
type RecoveryGuard struct {
	admin   common.Address
	enabled *atomic.Bool
}

func NewRecoveryGuard(admin common.Address) *RecoveryGuard {
	return &RecoveryGuard{
		admin:   admin,
		enabled: atomic.NewBool(true),
	}
}

func (g *RecoveryGuard) Enabled() bool {
	return g.enabled.Load()
}

// Authorize fails unless caller is the admin and recovery is still enabled.
func (g *RecoveryGuard) Authorize(caller common.Address) error {
	if caller != g.admin || !g.enabled.Load() {
		return core.ErrNotAdmin
	}
	return nil
}

// Disable turns recovery off permanently.
func (g *RecoveryGuard) Disable(caller common.Address) error {
	if caller != g.admin || !g.enabled.CompareAndSwap(true, false) {
		return core.ErrNotAdmin
	}
	return nil
}

// RecoverToken moves tokenID out of escrow to the recovery admin regardless of
// auction state. An auction record for the token, if any, is left as it is.
func (e *Engine) RecoverToken(ctx context.Context, caller common.Address, tokenID core.TokenID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.recovery.Authorize(caller); err != nil {
		return err
	}
	if err := e.tokens.Transfer(ctx, e.cfg.EscrowAddress, caller, tokenID); err != nil {
		return fmt.Errorf("failed to recover token %d: %w", tokenID, err)
	}

	ev := events.New(events.KindTokenRecovered, uint64(tokenID), e.clock.Now())
	ev.Actor = caller.Hex()
	e.emit(ev)

	log.Printf("WARNING: Token %d recovered by admin %s", tokenID, caller.Hex())
	return nil
}

// RecoverValue sends amount of escrowed native value to the recovery admin.
func (e *Engine) RecoverValue(ctx context.Context, caller common.Address, amount decimal.Decimal) error {
	if err := core.ValidateAmount(amount); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.recovery.Authorize(caller); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.Allowance)
	defer cancel()
	if err := e.treasury.Send(sendCtx, caller, amount); err != nil {
		return fmt.Errorf("failed to recover value %s: %w", amount, err)
	}

	ev := events.New(events.KindValueRecovered, 0, e.clock.Now())
	ev.Actor = caller.Hex()
	ev.Amount = amount.String()
	e.emit(ev)

	log.Printf("WARNING: Value %s recovered by admin %s", amount, caller.Hex())
	return nil
}

// DisableRecovery permanently retires the recovery admin.
func (e *Engine) DisableRecovery(_ context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.recovery.Disable(caller); err != nil {
		return err
	}

	ev := events.New(events.KindRecoveryDisabled, 0, e.clock.Now())
	ev.Actor = caller.Hex()
	e.emit(ev)

	log.Printf("INFO: Admin recovery disabled by %s", caller.Hex())
	return nil
}
