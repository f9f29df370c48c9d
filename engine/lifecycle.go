package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/events"
)

// CreateOption adjusts a single Create call.
type CreateOption func(*createOptions)

type createOptions struct {
	authorize func(ctx context.Context) error
}

// WithAuthorization runs authorize once tokenID is known to have no open
// auction and before the token is escrowed, so a refused create never
// consumes the authorization. An error from authorize aborts the create.
func WithAuthorization(authorize func(ctx context.Context) error) CreateOption {
	return func(o *createOptions) { o.authorize = authorize }
}

// Create opens an auction for tokenID and pulls the token from the creator into escrow.
// The creator must have authorised the escrow with the token custodian beforehand,
// or pass WithAuthorization to do so as part of the call.
func (e *Engine) Create(ctx context.Context, tokenID core.TokenID, terms core.Terms, opts ...CreateOption) error {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	if terms.CuratorFeePercent >= 100 {
		return fmt.Errorf("curator fee %d%%: %w", terms.CuratorFeePercent, core.ErrInvalidFee)
	}
	if terms.Creator == (common.Address{}) || terms.FundsRecipient == (common.Address{}) {
		return core.ErrInvalidParty
	}
	if err := core.ValidateAmount(terms.ReservePrice); err != nil {
		return fmt.Errorf("reserve price: %w", err)
	}
	if terms.Duration <= 0 {
		return core.ErrInvalidDuration
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.registry.Slot(tokenID).Open(); ok {
		return fmt.Errorf("token %d: %w", tokenID, core.ErrAlreadyExists)
	}
	if o.authorize != nil {
		if err := o.authorize(ctx); err != nil {
			return fmt.Errorf("authorize token %d: %w", tokenID, err)
		}
	}

	if err := e.tokens.Transfer(ctx, terms.Creator, e.cfg.EscrowAddress, tokenID); err != nil {
		return fmt.Errorf("failed to escrow token %d: %w", tokenID, err)
	}

	now := e.clock.Now()
	a := &core.Auction{
		TokenID:   tokenID,
		Terms:     terms,
		Amount:    decimal.Zero,
		CreatedAt: now,
	}
	if err := e.registry.Insert(a); err != nil {
		return err
	}

	ev := events.New(events.KindAuctionCreated, uint64(tokenID), now)
	ev.Actor = terms.Creator.Hex()
	ev.Terms = &events.Terms{
		DurationSeconds:   int64(terms.Duration.Seconds()),
		ReservePrice:      terms.ReservePrice.String(),
		Creator:           terms.Creator.Hex(),
		Curator:           terms.Curator.Hex(),
		FundsRecipient:    terms.FundsRecipient.Hex(),
		CuratorFeePercent: terms.CuratorFeePercent,
	}
	e.emit(ev)

	log.Printf("INFO: Auction created for token %d by %s (reserve=%s, duration=%s)",
		tokenID, terms.Creator.Hex(), terms.ReservePrice, terms.Duration)
	return nil
}

// Cancel erases an auction that has not received a bid and returns the token to its creator.
func (e *Engine) Cancel(ctx context.Context, tokenID core.TokenID, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.registry.Slot(tokenID).Open()
	if !ok {
		return fmt.Errorf("token %d: %w", tokenID, core.ErrNotFound)
	}
	if caller != a.Creator {
		return fmt.Errorf("token %d: %w", tokenID, core.ErrNotCreator)
	}
	if a.Started() {
		return fmt.Errorf("token %d: %w", tokenID, core.ErrAlreadyStarted)
	}

	if _, err := e.registry.Remove(tokenID); err != nil {
		return err
	}
	if err := e.tokens.Transfer(ctx, e.cfg.EscrowAddress, a.Creator, tokenID); err != nil {
		// Registry slot was just freed, so this cannot collide.
		_ = e.registry.Insert(a)
		return fmt.Errorf("failed to return token %d: %w", tokenID, err)
	}

	ev := events.New(events.KindAuctionCanceled, uint64(tokenID), e.clock.Now())
	ev.Actor = a.Creator.Hex()
	ev.Creator = a.Creator.Hex()
	e.emit(ev)

	log.Printf("INFO: Auction for token %d canceled by creator", tokenID)
	return nil
}

// SetReservePrice changes the reserve of an auction that has not received a bid.
// Only the creator or the curator may do this.
func (e *Engine) SetReservePrice(_ context.Context, tokenID core.TokenID, caller common.Address, price decimal.Decimal) error {
	if err := core.ValidateAmount(price); err != nil {
		return fmt.Errorf("reserve price: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.registry.Slot(tokenID).Open()
	if !ok {
		return fmt.Errorf("token %d: %w", tokenID, core.ErrNotFound)
	}
	if caller != a.Creator && (caller != a.Curator || a.Curator == (common.Address{})) {
		return fmt.Errorf("token %d: %w", tokenID, core.ErrNotCreator)
	}
	if a.Started() {
		return fmt.Errorf("token %d: %w", tokenID, core.ErrAlreadyStarted)
	}

	a.ReservePrice = price

	ev := events.New(events.KindAuctionReservePriceUpdated, uint64(tokenID), e.clock.Now())
	ev.Actor = caller.Hex()
	ev.Amount = price.String()
	e.emit(ev)
	return nil
}
