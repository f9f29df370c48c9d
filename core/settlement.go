package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CuratorFee returns floor(amount * percent / 100).
func CuratorFee(amount decimal.Decimal, percent uint8) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(percent))).Div(hundred).Floor()
}

// ComputeSettlement splits the winning amount of a finished auction.
//
// The curator fee is taken first (only when a curator is set), creatorShare
// then decides the creator's part of the remainder, and the funds recipient
// receives whatever is left so that the payouts always sum to the winning
// amount. When creator and funds recipient are the same identity their two
// shares are paid as one transfer.
func ComputeSettlement(a *Auction, creatorShare func(remainder decimal.Decimal) decimal.Decimal) (*Settlement, error) {
	if !a.Started() {
		return nil, fmt.Errorf("token %d: %w", a.TokenID, ErrNotStarted)
	}

	s := &Settlement{
		TokenID:    a.TokenID,
		Winner:     a.Bidder,
		Amount:     a.Amount,
		Creator:    a.Creator,
		CuratorFee: decimal.Zero,
	}

	remainder := a.Amount
	if a.Curator != (common.Address{}) && a.CuratorFeePercent > 0 {
		s.CuratorFee = CuratorFee(a.Amount, a.CuratorFeePercent)
		remainder = remainder.Sub(s.CuratorFee)
	}

	creatorAmount := creatorShare(remainder)
	if creatorAmount.IsNegative() || creatorAmount.GreaterThan(remainder) || !creatorAmount.IsInteger() {
		return nil, fmt.Errorf("creator share %s of %s: %w", creatorAmount, remainder, ErrInvalidSplit)
	}
	recipientAmount := remainder.Sub(creatorAmount)

	s.addPayout(a.Curator, s.CuratorFee, RoleCurator)
	if a.Creator == a.FundsRecipient {
		s.addPayout(a.Creator, remainder, RoleCreator)
	} else {
		s.addPayout(a.Creator, creatorAmount, RoleCreator)
		s.addPayout(a.FundsRecipient, recipientAmount, RoleFundsRecipient)
	}

	return s, nil
}

func (s *Settlement) addPayout(to common.Address, amount decimal.Decimal, role string) {
	if amount.IsZero() {
		return
	}
	s.Payouts = append(s.Payouts, Payout{Recipient: to, Amount: amount, Role: role})
}
