package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind names an engine state transition.
type Kind string

const (
	KindAuctionCreated             Kind = "auction_created"
	KindAuctionBid                 Kind = "auction_bid"
	KindAuctionDurationExtended    Kind = "auction_duration_extended"
	KindAuctionReservePriceUpdated Kind = "auction_reserve_price_updated"
	KindAuctionCanceled            Kind = "auction_canceled"
	KindAuctionEnded               Kind = "auction_ended"
	KindValueTransferred           Kind = "value_transferred"
	KindTokenRecovered             Kind = "token_recovered"
	KindValueRecovered             Kind = "value_recovered"
	KindRecoveryDisabled           Kind = "recovery_disabled"
)

// Terms mirrors the auction terms in an AuctionCreated event.
type Terms struct {
	DurationSeconds   int64  `json:"duration_seconds" cbor:"duration_seconds"`
	ReservePrice      string `json:"reserve_price" cbor:"reserve_price"`
	Creator           string `json:"creator" cbor:"creator"`
	Curator           string `json:"curator" cbor:"curator"`
	FundsRecipient    string `json:"funds_recipient" cbor:"funds_recipient"`
	CuratorFeePercent uint8  `json:"curator_fee_percent" cbor:"curator_fee_percent"`
}

// Payout is one transfer made when an auction ends.
type Payout struct {
	Recipient string `json:"recipient" cbor:"recipient"`
	Amount    string `json:"amount" cbor:"amount"`
	Role      string `json:"role" cbor:"role"`
}

// Event carries enough data to rebuild the transition it describes.
// Addresses and amounts are strings (hex, base-unit integers) so the event
// encodes the same way in JSON, CBOR and SQL.
type Event struct {
	ID      string    `json:"id" cbor:"id"`
	Kind    Kind      `json:"kind" cbor:"kind"`
	TokenID uint64    `json:"token_id" cbor:"token_id"`
	Time    time.Time `json:"time" cbor:"time"`

	// Actor is the identity that caused the event: creator, bidder, recovery admin or payee.
	Actor  string `json:"actor,omitempty" cbor:"actor,omitempty"`
	Amount string `json:"amount,omitempty" cbor:"amount,omitempty"`

	Terms *Terms `json:"terms,omitempty" cbor:"terms,omitempty"`

	FirstBid        bool  `json:"first_bid,omitempty" cbor:"first_bid,omitempty"`
	Extended        bool  `json:"extended,omitempty" cbor:"extended,omitempty"`
	DurationSeconds int64 `json:"duration_seconds,omitempty" cbor:"duration_seconds,omitempty"`

	Creator    string   `json:"creator,omitempty" cbor:"creator,omitempty"`
	Winner     string   `json:"winner,omitempty" cbor:"winner,omitempty"`
	CuratorFee string   `json:"curator_fee,omitempty" cbor:"curator_fee,omitempty"`
	Payouts    []Payout `json:"payouts,omitempty" cbor:"payouts,omitempty"`

	Rail      string `json:"rail,omitempty" cbor:"rail,omitempty"`
	ReceiptID string `json:"receipt_id,omitempty" cbor:"receipt_id,omitempty"`
}

// New returns an event with a fresh ULID.
func New(kind Kind, tokenID uint64, at time.Time) Event {
	return Event{
		ID:      ulid.Make().String(),
		Kind:    kind,
		TokenID: tokenID,
		Time:    at.UTC(),
	}
}

// Sink receives events after the state change they describe has been applied.
type Sink interface {
	Emit(ev Event)
}

// Store reads back persisted events.
type Store interface {
	ListByToken(ctx context.Context, tokenID uint64) ([]Event, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
