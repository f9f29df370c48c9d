package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/events"
)

// End settles a finished auction: the record is erased, the token goes to the
// winner and the winning amount is paid out to curator, creator and funds recipient.
// Anyone may call End.
func (e *Engine) End(ctx context.Context, tokenID core.TokenID) (*core.Settlement, error) {
	settlement, err := e.closeAuction(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	for _, p := range settlement.Payouts {
		receipt := e.transferor.Pay(ctx, tokenID, p.Recipient, p.Amount)
		log.Printf("INFO: Paid %s %s on token %d via %s rail", p.Role, p.Amount, tokenID, receipt.Rail)
	}
	return settlement, nil
}

func (e *Engine) closeAuction(ctx context.Context, tokenID core.TokenID) (*core.Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.registry.Slot(tokenID).Open()
	if !ok {
		return nil, fmt.Errorf("token %d: %w", tokenID, core.ErrNotFound)
	}
	if !a.Started() {
		return nil, fmt.Errorf("token %d: %w", tokenID, core.ErrNotStarted)
	}
	now := e.clock.Now()
	if now.Before(a.EndTime()) {
		return nil, fmt.Errorf("token %d closes at %s: %w", tokenID, a.EndTime(), core.ErrNotComplete)
	}

	share := e.oracle.CreatorShare(tokenID)
	settlement, err := core.ComputeSettlement(a, func(remainder decimal.Decimal) decimal.Decimal {
		return e.oracle.SplitShare(share, remainder)
	})
	if err != nil {
		return nil, err
	}

	if _, err := e.registry.Remove(tokenID); err != nil {
		return nil, err
	}
	if err := e.tokens.Transfer(ctx, e.cfg.EscrowAddress, a.Bidder, tokenID); err != nil {
		_ = e.registry.Insert(a)
		return nil, fmt.Errorf("failed to release token %d to %s: %w", tokenID, a.Bidder.Hex(), err)
	}

	ev := events.New(events.KindAuctionEnded, uint64(tokenID), now)
	ev.Creator = a.Creator.Hex()
	ev.Winner = a.Bidder.Hex()
	ev.Amount = a.Amount.String()
	ev.CuratorFee = settlement.CuratorFee.String()
	for _, p := range settlement.Payouts {
		ev.Payouts = append(ev.Payouts, events.Payout{
			Recipient: p.Recipient.Hex(),
			Amount:    p.Amount.String(),
			Role:      p.Role,
		})
	}
	e.emit(ev)

	log.Printf("INFO: Auction for token %d ended: winner=%s amount=%s payouts=%d",
		tokenID, a.Bidder.Hex(), a.Amount, len(settlement.Payouts))
	return settlement, nil
}
