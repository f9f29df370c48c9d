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

// Bid places a bid of amount on tokenID. value is what the bidder attaches;
// it must equal amount and is collected into escrow only if the bid is accepted.
// The outbid party is refunded after the record names the new bidder.
func (e *Engine) Bid(ctx context.Context, tokenID core.TokenID, bidder common.Address, amount, value decimal.Decimal) error {
	outcome, err := e.acceptBid(ctx, tokenID, bidder, amount, value)
	if err != nil {
		return err
	}

	if outcome.PreviousBidder != (common.Address{}) {
		receipt := e.transferor.Pay(ctx, tokenID, outcome.PreviousBidder, outcome.PreviousAmount)
		log.Printf("INFO: Refunded %s to outbid %s on token %d via %s rail",
			outcome.PreviousAmount, outcome.PreviousBidder.Hex(), tokenID, receipt.Rail)
	}
	return nil
}

func (e *Engine) acceptBid(ctx context.Context, tokenID core.TokenID, bidder common.Address, amount, value decimal.Decimal) (core.BidOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.registry.Slot(tokenID).Open()
	if !ok {
		return core.BidOutcome{}, fmt.Errorf("token %d: %w", tokenID, core.ErrNotFound)
	}

	now := e.clock.Now()
	outcome, err := core.EvaluateBid(a, e.rules(), now, bidder, amount, value)
	if err != nil {
		return core.BidOutcome{}, err
	}
	if !e.oracle.IsValidBid(tokenID, amount) {
		return core.BidOutcome{}, fmt.Errorf("token %d bid %s: %w", tokenID, amount, core.ErrInvalidSplit)
	}
	if err := e.treasury.Collect(ctx, bidder, value); err != nil {
		return core.BidOutcome{}, fmt.Errorf("failed to collect bid value from %s: %w", bidder.Hex(), err)
	}

	core.ApplyBid(a, outcome)

	ev := events.New(events.KindAuctionBid, uint64(tokenID), now)
	ev.Actor = bidder.Hex()
	ev.Amount = amount.String()
	ev.FirstBid = outcome.FirstBid
	ev.Extended = outcome.Extended
	e.emit(ev)

	if outcome.Extended {
		ext := events.New(events.KindAuctionDurationExtended, uint64(tokenID), now)
		ext.DurationSeconds = int64(a.Duration.Seconds())
		e.emit(ext)
		log.Printf("INFO: Auction for token %d extended, now closes at %s", tokenID, a.EndTime())
	}

	return outcome, nil
}
