package core

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

// percentShare returns a creator share function that floors amount*pct/100.
func percentShare(pct int64) func(decimal.Decimal) decimal.Decimal {
	return func(remainder decimal.Decimal) decimal.Decimal {
		return remainder.Mul(decimal.NewFromInt(pct)).Div(hundred).Floor()
	}
}

func finishedAuction(amount int64, fee uint8) *Auction {
	a := newTestAuction()
	a.CuratorFeePercent = fee
	a.Amount = decimal.NewFromInt(amount)
	a.Bidder = bidderB
	a.FirstBidTime = t0
	return a
}

func TestCuratorFee(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		percent  uint8
		expected string
	}{
		{"zero percent", 1000, 0, "0"},
		{"ten percent", 1000, 10, "100"},
		{"floors fraction", 999, 10, "99"},
		{"ninety nine percent", 101, 99, "99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.expected, CuratorFee(decimal.NewFromInt(tt.amount), tt.percent).String())
		})
	}
}

func TestComputeSettlement_SumsToAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		fee     uint8
		share   int64
		payouts map[string]string
	}{
		{
			name: "no fee even split", amount: 1000, fee: 0, share: 50,
			payouts: map[string]string{RoleCreator: "500", RoleFundsRecipient: "500"},
		},
		{
			name: "fee then split", amount: 1000, fee: 10, share: 50,
			payouts: map[string]string{RoleCurator: "100", RoleCreator: "450", RoleFundsRecipient: "450"},
		},
		{
			name: "remainder goes to funds recipient", amount: 1001, fee: 3, share: 33,
			// fee 30, remainder 971, creator floor(971*0.33)=320, recipient 651
			payouts: map[string]string{RoleCurator: "30", RoleCreator: "320", RoleFundsRecipient: "651"},
		},
		{
			name: "creator takes all", amount: 777, fee: 0, share: 100,
			payouts: map[string]string{RoleCreator: "777"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := finishedAuction(tt.amount, tt.fee)
			s, err := ComputeSettlement(a, percentShare(tt.share))
			check.Nil(t, err)
			check.Equal(t, a.Amount.String(), s.Total().String())
			check.Equal(t, bidderB, s.Winner)
			check.Equal(t, len(tt.payouts), len(s.Payouts))
			for _, p := range s.Payouts {
				check.Equal(t, tt.payouts[p.Role], p.Amount.String())
			}
		})
	}
}

func TestComputeSettlement_CollapsesSameRecipient(t *testing.T) {
	a := finishedAuction(1000, 10)
	a.FundsRecipient = a.Creator

	s, err := ComputeSettlement(a, percentShare(30))
	check.Nil(t, err)
	check.Equal(t, 2, len(s.Payouts))
	check.Equal(t, curatorAddr, s.Payouts[0].Recipient)
	check.Equal(t, creatorAddr, s.Payouts[1].Recipient)
	check.Equal(t, "900", s.Payouts[1].Amount.String())
	check.Equal(t, "1000", s.Total().String())
}

func TestComputeSettlement_NoCuratorNoFee(t *testing.T) {
	a := finishedAuction(1000, 25)
	a.Curator = common.Address{}

	s, err := ComputeSettlement(a, percentShare(50))
	check.Nil(t, err)
	check.Equal(t, "0", s.CuratorFee.String())
	check.Equal(t, "1000", s.Total().String())
}

func TestComputeSettlement_RejectsBadShare(t *testing.T) {
	tests := []struct {
		name  string
		share decimal.Decimal
	}{
		{"negative", decimal.NewFromInt(-1)},
		{"exceeds remainder", decimal.NewFromInt(1001)},
		{"fractional", decimal.RequireFromString("10.5")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := finishedAuction(1000, 0)
			_, err := ComputeSettlement(a, func(decimal.Decimal) decimal.Decimal { return tt.share })
			check.True(t, errors.Is(err, ErrInvalidSplit))
		})
	}
}

func TestComputeSettlement_NotStarted(t *testing.T) {
	a := newTestAuction()
	_, err := ComputeSettlement(a, percentShare(50))
	check.True(t, errors.Is(err, ErrNotStarted))
}

func TestAuction_Expired(t *testing.T) {
	a := newTestAuction()
	check.True(t, !a.Expired(t0.Add(100*24*time.Hour)))

	a.FirstBidTime = t0
	check.True(t, !a.Expired(t0.Add(24*time.Hour-time.Nanosecond)))
	check.True(t, a.Expired(t0.Add(24*time.Hour)))
}
