package enclaveapi

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/reserveauction/core"
)

// ParseAddress parses a hex address. An empty string is the null identity.
func ParseAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseAmount parses a base-unit integer amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, core.ErrInvalidAmount)
	}
	if err := core.ValidateAmount(d); err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", s, err)
	}
	return d, nil
}

// MaxDurationSeconds bounds auction durations on the wire, well below the
// point where converting to time.Duration would overflow.
const MaxDurationSeconds = 10 * 365 * 24 * 60 * 60

// ToCore converts wire terms to engine terms.
func (t Terms) ToCore() (core.Terms, error) {
	if t.DurationSeconds > MaxDurationSeconds {
		return core.Terms{}, fmt.Errorf("duration %ds over %ds: %w", t.DurationSeconds, MaxDurationSeconds, core.ErrInvalidDuration)
	}
	reserve, err := ParseAmount(t.ReservePrice)
	if err != nil {
		return core.Terms{}, fmt.Errorf("reserve price: %w", err)
	}
	creator, err := ParseAddress(t.Creator)
	if err != nil {
		return core.Terms{}, fmt.Errorf("creator: %w", err)
	}
	curator, err := ParseAddress(t.Curator)
	if err != nil {
		return core.Terms{}, fmt.Errorf("curator: %w", err)
	}
	funds, err := ParseAddress(t.FundsRecipient)
	if err != nil {
		return core.Terms{}, fmt.Errorf("funds recipient: %w", err)
	}
	return core.Terms{
		Duration:          time.Duration(t.DurationSeconds) * time.Second,
		ReservePrice:      reserve,
		Creator:           creator,
		Curator:           curator,
		FundsRecipient:    funds,
		CuratorFeePercent: t.CuratorFeePercent,
	}, nil
}

func hexOrEmpty(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func FromTerms(t core.Terms) Terms {
	return Terms{
		DurationSeconds:   int64(t.Duration / time.Second),
		ReservePrice:      t.ReservePrice.String(),
		Creator:           t.Creator.Hex(),
		Curator:           hexOrEmpty(t.Curator),
		FundsRecipient:    t.FundsRecipient.Hex(),
		CuratorFeePercent: t.CuratorFeePercent,
	}
}

func FromAuction(a core.Auction) *Auction {
	out := &Auction{
		TokenID:   uint64(a.TokenID),
		Terms:     FromTerms(a.Terms),
		Amount:    a.Amount.String(),
		Bidder:    hexOrEmpty(a.Bidder),
		CreatedAt: a.CreatedAt.UTC(),
	}
	if a.Started() {
		first := a.FirstBidTime.UTC()
		end := a.EndTime().UTC()
		out.FirstBidTime = &first
		out.EndTime = &end
	}
	return out
}

func FromSettlement(s *core.Settlement) *Settlement {
	out := &Settlement{
		TokenID:    uint64(s.TokenID),
		Winner:     s.Winner.Hex(),
		Amount:     s.Amount.String(),
		Creator:    s.Creator.Hex(),
		CuratorFee: s.CuratorFee.String(),
		Payouts:    make([]Payout, 0, len(s.Payouts)),
	}
	for _, p := range s.Payouts {
		out.Payouts = append(out.Payouts, Payout{
			Recipient: p.Recipient.Hex(),
			Amount:    p.Amount.String(),
			Role:      p.Role,
		})
	}
	return out
}

// Total sums the payouts. Malformed amounts fail.
func (s *Settlement) Total() (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range s.Payouts {
		amount, err := ParseAmount(p.Amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("payout to %s: %w", p.Recipient, err)
		}
		total = total.Add(amount)
	}
	return total, nil
}
