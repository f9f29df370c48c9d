package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TokenID identifies the escrowed asset. It is also the registry key.
type TokenID uint64

// Terms are the parameters an auction is created with.
type Terms struct {
	Duration          time.Duration
	ReservePrice      decimal.Decimal
	Creator           common.Address
	Curator           common.Address
	FundsRecipient    common.Address
	CuratorFeePercent uint8
}

// Auction is the mutable record for one escrowed token.
// FirstBidTime is the zero time until the first bid lands.
type Auction struct {
	TokenID TokenID
	Terms

	Amount       decimal.Decimal
	Bidder       common.Address
	FirstBidTime time.Time
	CreatedAt    time.Time
}

// Started reports whether a bid has been placed.
func (a *Auction) Started() bool {
	return !a.FirstBidTime.IsZero()
}

// EndTime returns the current closing time. Only meaningful once started.
func (a *Auction) EndTime() time.Time {
	return a.FirstBidTime.Add(a.Duration)
}

// Expired reports whether the auction has started and now is at or past its closing time.
func (a *Auction) Expired(now time.Time) bool {
	return a.Started() && !now.Before(a.EndTime())
}

// Slot is the per-key state held by the registry: either absent or an open auction.
type Slot struct {
	auction *Auction
}

// Open returns the auction held in the slot and whether one is present.
func (s Slot) Open() (*Auction, bool) {
	return s.auction, s.auction != nil
}

// Payout is a single transfer owed by a settlement.
type Payout struct {
	Recipient common.Address  `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Role      string          `json:"role"`
}

// Payout roles.
const (
	RoleCurator        = "curator"
	RoleCreator        = "creator"
	RoleFundsRecipient = "funds_recipient"
)

// Settlement describes how a finished auction's winning amount is distributed.
type Settlement struct {
	TokenID    TokenID         `json:"token_id"`
	Winner     common.Address  `json:"winner"`
	Amount     decimal.Decimal `json:"amount"`
	Creator    common.Address  `json:"creator"`
	CuratorFee decimal.Decimal `json:"curator_fee"`
	Payouts    []Payout        `json:"payouts"`
}

// Total returns the sum of all payouts.
func (s *Settlement) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Payouts {
		total = total.Add(p.Amount)
	}
	return total
}
