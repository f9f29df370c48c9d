package custody

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/reserveauction/core"
)

var hundred = decimal.NewFromInt(100)

// ShareOracle records the creator's percentage of proceeds per token.
type ShareOracle struct {
	mu           sync.RWMutex
	shares       map[core.TokenID]decimal.Decimal
	defaultShare decimal.Decimal
}

// NewShareOracle returns an oracle that applies defaultShare (a percentage)
// to tokens without an explicit share.
func NewShareOracle(defaultShare decimal.Decimal) *ShareOracle {
	return &ShareOracle{
		shares:       make(map[core.TokenID]decimal.Decimal),
		defaultShare: defaultShare,
	}
}

// SetCreatorShare records the creator percentage for tokenID.
func (o *ShareOracle) SetCreatorShare(tokenID core.TokenID, percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return fmt.Errorf("creator share %s%% out of range", percent)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shares[tokenID] = percent
	return nil
}

func (o *ShareOracle) CreatorShare(tokenID core.TokenID) decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if share, ok := o.shares[tokenID]; ok {
		return share
	}
	return o.defaultShare
}

// SplitShare returns floor(amount * share / 100).
func (o *ShareOracle) SplitShare(share decimal.Decimal, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(share).Div(hundred).Floor()
}

// IsValidBid accepts amounts whose creator share is a whole number of base units.
func (o *ShareOracle) IsValidBid(tokenID core.TokenID, amount decimal.Decimal) bool {
	return amount.Mul(o.CreatorShare(tokenID)).Div(hundred).IsInteger()
}
