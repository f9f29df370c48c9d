package engine

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/reserveauction/core"
)

// TokenCustodian owns token balances. Moving a token out of its owner's hands
// requires that the owner has authorised the engine beforehand.
type TokenCustodian interface {
	Transfer(ctx context.Context, from, to common.Address, tokenID core.TokenID) error
}

// SplitOracle decides the creator's share of proceeds for a token.
type SplitOracle interface {
	// IsValidBid reports whether amount can be split without adversarial rounding.
	IsValidBid(tokenID core.TokenID, amount decimal.Decimal) bool
	// CreatorShare returns the share specification recorded for the token.
	CreatorShare(tokenID core.TokenID) decimal.Decimal
	// SplitShare returns the creator's part of amount under share.
	SplitShare(share decimal.Decimal, amount decimal.Decimal) decimal.Decimal
}

// Treasury moves native value in and out of the escrow account.
type Treasury interface {
	// Collect pulls amount from a bidder into escrow.
	Collect(ctx context.Context, from common.Address, amount decimal.Decimal) error
	// Send pays amount out of escrow. A failed send, including one cut short by
	// ctx, must leave every balance untouched.
	Send(ctx context.Context, to common.Address, amount decimal.Decimal) error
}

// FallbackAsset is the always-accepting wrapped value rail.
type FallbackAsset interface {
	// Wrap converts amount of escrowed native value into the wrapped asset.
	Wrap(ctx context.Context, amount decimal.Decimal) error
	// CreditTo transfers amount of the wrapped asset from escrow to recipient.
	CreditTo(ctx context.Context, recipient common.Address, amount decimal.Decimal) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}
