package enclaveapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/cloudx-io/reserveauction/core"
)

// Request types understood by the enclave daemon.
const (
	TypePing            = "ping"
	TypeCreate          = "create"
	TypeBid             = "bid"
	TypeCancel          = "cancel"
	TypeEnd             = "end"
	TypeSetReserve      = "set_reserve"
	TypeAuction         = "auction"
	TypeRecoverToken    = "recover_token"
	TypeRecoverValue    = "recover_value"
	TypeDisableRecovery = "disable_recovery"
	TypeUnwrap          = "unwrap"
	TypeSigned          = "signed"
)

// RequiresSignature reports whether a request type acts for an account and
// must arrive inside a signed call. The signer is the acting identity.
func RequiresSignature(reqType string) bool {
	switch reqType {
	case TypeCreate, TypeBid, TypeCancel, TypeSetReserve,
		TypeRecoverToken, TypeRecoverValue, TypeDisableRecovery, TypeUnwrap:
		return true
	}
	return false
}

// SignedRequest wraps another request. Call is a base64 COSE_Sign1 call whose
// body is the inner request JSON.
type SignedRequest struct {
	Type string `json:"type"`
	Call string `json:"call"`
}

// Terms are auction terms on the wire. Amounts are base-unit integers as
// decimal strings and addresses are hex.
type Terms struct {
	DurationSeconds   int64  `json:"duration_seconds"`
	ReservePrice      string `json:"reserve_price"`
	Creator           string `json:"creator"`
	Curator           string `json:"curator,omitempty"`
	FundsRecipient    string `json:"funds_recipient"`
	CuratorFeePercent uint8  `json:"curator_fee_percent"`
}

// CreateRequest opens an auction. Permit, if present, is a base64 COSE_Sign1
// permit that authorises the escrow to take the token.
type CreateRequest struct {
	Type    string `json:"type"`
	TokenID uint64 `json:"token_id"`
	Terms   Terms  `json:"terms"`
	Permit  string `json:"permit,omitempty"`
}

// BidRequest places a bid for the signer. Value is the amount the bidder
// attaches and must equal Amount.
type BidRequest struct {
	Type    string `json:"type"`
	TokenID uint64 `json:"token_id"`
	Amount  string `json:"amount"`
	Value   string `json:"value"`
}

// TokenRequest addresses a single auction: cancel, end, auction and recover_token.
type TokenRequest struct {
	Type    string `json:"type"`
	TokenID uint64 `json:"token_id"`
	// Nonce is embedded in the settlement attestation of an end request.
	Nonce string `json:"nonce,omitempty"`
}

// SetReserveRequest changes the reserve price of an auction with no bids.
type SetReserveRequest struct {
	Type         string `json:"type"`
	TokenID      uint64 `json:"token_id"`
	ReservePrice string `json:"reserve_price"`
}

// AmountRequest is used for recover_value, disable_recovery and unwrap.
type AmountRequest struct {
	Type   string `json:"type"`
	Amount string `json:"amount,omitempty"`
}

// Auction is the wire view of an open auction.
type Auction struct {
	TokenID      uint64     `json:"token_id"`
	Terms        Terms      `json:"terms"`
	Amount       string     `json:"amount"`
	Bidder       string     `json:"bidder,omitempty"`
	FirstBidTime *time.Time `json:"first_bid_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Payout is one settlement transfer.
type Payout struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Role      string `json:"role"`
}

// Settlement is the wire view of an ended auction's distribution.
type Settlement struct {
	TokenID    uint64   `json:"token_id"`
	Winner     string   `json:"winner"`
	Amount     string   `json:"amount"`
	Creator    string   `json:"creator"`
	CuratorFee string   `json:"curator_fee"`
	Payouts    []Payout `json:"payouts"`
}

// Response is returned for every request type.
type Response struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	// ErrorCode names the categorical failure, see ErrorCode.
	ErrorCode       string                `json:"error_code,omitempty"`
	Auction         *Auction              `json:"auction,omitempty"`
	Settlement      *Settlement           `json:"settlement,omitempty"`
	Attestation     AttestationCOSEBase64 `json:"attestation,omitempty"`
	RecoveryEnabled *bool                 `json:"recovery_enabled,omitempty"`
	WrappedBalance  string                `json:"wrapped_balance,omitempty"`
	ProcessingTime  int64                 `json:"processing_time_ms"`
}

// Transport errors. Both are reported with their own codes.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrUnauthenticated = errors.New("request is not signed by the acting account")
)

// Unauthenticated marks err as an authentication failure.
func Unauthenticated(err error) error {
	return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{core.ErrNotFound, "not_found"},
	{core.ErrAlreadyExists, "already_exists"},
	{core.ErrExpired, "expired"},
	{core.ErrNotStarted, "not_started"},
	{core.ErrNotComplete, "not_complete"},
	{core.ErrAmountMismatch, "amount_mismatch"},
	{core.ErrBelowReserve, "below_reserve"},
	{core.ErrBidTooLow, "bid_too_low"},
	{core.ErrInvalidSplit, "invalid_split"},
	{core.ErrInvalidFee, "invalid_fee"},
	{core.ErrInvalidParty, "invalid_party"},
	{core.ErrNotCreator, "not_creator"},
	{core.ErrAlreadyStarted, "already_started"},
	{core.ErrNotAdmin, "not_admin"},
	{core.ErrInvalidAmount, "invalid_amount"},
	{core.ErrInvalidDuration, "invalid_duration"},
	{ErrUnauthenticated, "unauthenticated"},
	{ErrBadRequest, "bad_request"},
}

// ErrorCode maps an engine error to a stable code. Errors outside the
// categorical set map to "internal"; nil maps to "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
