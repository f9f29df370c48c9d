package core

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BidRules are the engine-wide constants applied to every bid.
type BidRules struct {
	// MinBidIncrement is an absolute amount in base units. A follow-up bid must
	// exceed the previous amount by strictly more than this.
	MinBidIncrement decimal.Decimal
	// TimeBuffer is both the anti-snipe window and the extension length.
	TimeBuffer time.Duration
}

// BidOutcome is the state change a valid bid will make.
type BidOutcome struct {
	Bidder         common.Address
	Amount         decimal.Decimal
	FirstBid       bool
	FirstBidTime   time.Time
	Duration       time.Duration
	Extended       bool
	PreviousBidder common.Address
	PreviousAmount decimal.Decimal
}

// EvaluateBid checks a bid against the auction and rules without mutating anything.
// value is what the bidder actually escrowed with the call.
func EvaluateBid(a *Auction, rules BidRules, now time.Time, bidder common.Address, amount, value decimal.Decimal) (BidOutcome, error) {
	if bidder == (common.Address{}) {
		return BidOutcome{}, fmt.Errorf("null bidder: %w", ErrInvalidParty)
	}
	if a.Expired(now) {
		return BidOutcome{}, fmt.Errorf("token %d closed at %s: %w", a.TokenID, a.EndTime().Format(time.RFC3339), ErrExpired)
	}
	if !amount.Equal(value) {
		return BidOutcome{}, fmt.Errorf("bid %s with value %s: %w", amount, value, ErrAmountMismatch)
	}
	if err := ValidateAmount(amount); err != nil {
		return BidOutcome{}, err
	}

	outcome := BidOutcome{
		Bidder:         bidder,
		Amount:         amount,
		FirstBidTime:   a.FirstBidTime,
		Duration:       a.Duration,
		PreviousBidder: a.Bidder,
		PreviousAmount: a.Amount,
	}

	if !a.Started() {
		if amount.LessThan(a.ReservePrice) {
			return BidOutcome{}, fmt.Errorf("bid %s under reserve %s: %w", amount, a.ReservePrice, ErrBelowReserve)
		}
		outcome.FirstBid = true
		outcome.FirstBidTime = now
	} else if !amount.Sub(a.Amount).GreaterThan(rules.MinBidIncrement) {
		return BidOutcome{}, fmt.Errorf("bid %s over previous %s: %w", amount, a.Amount, ErrBidTooLow)
	}

	// Anti-snipe: measured against the duration including earlier extensions.
	remaining := outcome.FirstBidTime.Add(outcome.Duration).Sub(now)
	if remaining < rules.TimeBuffer {
		outcome.Duration += rules.TimeBuffer
		outcome.Extended = true
	}

	return outcome, nil
}

// ApplyBid writes an evaluated outcome into the auction.
func ApplyBid(a *Auction, o BidOutcome) {
	a.Amount = o.Amount
	a.Bidder = o.Bidder
	a.FirstBidTime = o.FirstBidTime
	a.Duration = o.Duration
}
