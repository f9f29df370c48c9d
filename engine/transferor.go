package engine

import (
	"context"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/events"
)

// Rail is the path a payment took.
type Rail string

const (
	RailNone     Rail = "none"
	RailDirect   Rail = "direct"
	RailFallback Rail = "fallback"
	// RailStranded means both rails failed and the value is still in escrow,
	// where the recovery admin can reach it.
	RailStranded Rail = "stranded"
)

// Receipt records the outcome of a payment.
type Receipt struct {
	ID        uuid.UUID
	Recipient common.Address
	Amount    decimal.Decimal
	Rail      Rail
}

// ValueTransferor pays out of escrow without ever failing the calling operation.
// It first tries a direct send bounded by the allowance, then wraps the value
// into the fallback asset and credits the recipient with it.
type ValueTransferor struct {
	treasury  Treasury
	fallback  FallbackAsset
	allowance time.Duration
	sink      events.Sink
	clock     Clock
}

func NewValueTransferor(treasury Treasury, fallback FallbackAsset, allowance time.Duration, sink events.Sink, clock Clock) *ValueTransferor {
	if sink == nil {
		sink = events.Discard
	}
	if clock == nil {
		clock = SystemClock
	}
	return &ValueTransferor{
		treasury:  treasury,
		fallback:  fallback,
		allowance: allowance,
		sink:      sink,
		clock:     clock,
	}
}

// Pay delivers amount to recipient. Callers must have finished mutating their
// own state before calling it.
func (v *ValueTransferor) Pay(ctx context.Context, tokenID core.TokenID, recipient common.Address, amount decimal.Decimal) Receipt {
	receipt := Receipt{
		ID:        uuid.New(),
		Recipient: recipient,
		Amount:    amount,
		Rail:      RailNone,
	}
	if amount.IsZero() {
		return receipt
	}

	receipt.Rail = v.pay(ctx, recipient, amount)

	ev := events.New(events.KindValueTransferred, uint64(tokenID), v.clock.Now())
	ev.Actor = recipient.Hex()
	ev.Amount = amount.String()
	ev.Rail = string(receipt.Rail)
	ev.ReceiptID = receipt.ID.String()
	v.sink.Emit(ev)

	return receipt
}

func (v *ValueTransferor) pay(ctx context.Context, recipient common.Address, amount decimal.Decimal) Rail {
	sendCtx, cancel := context.WithTimeout(ctx, v.allowance)
	err := v.treasury.Send(sendCtx, recipient, amount)
	cancel()
	if err == nil {
		return RailDirect
	}
	log.Printf("WARNING: Direct payment of %s to %s failed, using fallback asset: %v", amount, recipient.Hex(), err)

	// The value must land even if the caller has given up.
	fallbackCtx := context.WithoutCancel(ctx)
	if err := v.fallback.Wrap(fallbackCtx, amount); err != nil {
		log.Printf("ERROR: Failed to wrap %s for %s, value left in escrow: %v", amount, recipient.Hex(), err)
		return RailStranded
	}
	if err := v.fallback.CreditTo(fallbackCtx, recipient, amount); err != nil {
		log.Printf("ERROR: Failed to credit %s wrapped to %s, value left in escrow: %v", amount, recipient.Hex(), err)
		return RailStranded
	}
	return RailFallback
}
