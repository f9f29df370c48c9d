package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/custody"
	"github.com/cloudx-io/reserveauction/enclaveapi"
	"github.com/cloudx-io/reserveauction/enclaveapi/parsing"
)

const (
	creatorHex  = "0x00000000000000000000000000000000000000c1"
	curatorHex  = "0x00000000000000000000000000000000000000c2"
	fundsHex    = "0x00000000000000000000000000000000000000f1"
	aliceHex    = "0x00000000000000000000000000000000000000a1"
	bobHex      = "0x00000000000000000000000000000000000000b1"
	adminHex    = "0x00000000000000000000000000000000000000ad"
	strangerHex = "0x0000000000000000000000000000000000000bad"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	return data
}

func newTestHandler(t *testing.T, attester EnclaveAttester) (*RequestHandler, *Node, *testClock) {
	t.Helper()
	node, clock := newTestNode(t)
	getAttester := func() (EnclaveAttester, error) {
		if attester == nil {
			return nil, errors.New("NSM not available")
		}
		return attester, nil
	}
	return NewRequestHandler(node, getAttester, clock), node, clock
}

// testAccounts holds a signing key for every test identity.
type testAccounts struct {
	t    *testing.T
	keys map[string]*ecdsa.PrivateKey
}

func newTestAccounts(t *testing.T, node *Node) *testAccounts {
	t.Helper()
	a := &testAccounts{t: t, keys: make(map[string]*ecdsa.PrivateKey)}
	var keys []AccountKey
	for _, hex := range []string{creatorHex, curatorHex, aliceHex, bobHex, adminHex, strangerHex} {
		key, pemData := generateAccountKey(t)
		a.keys[hex] = key
		keys = append(keys, AccountKey{Owner: common.HexToAddress(hex), PublicKeyPEM: pemData})
	}
	if err := registerAccountKeys(node.Tokens, keys); err != nil {
		t.Fatalf("Failed to register account keys: %v", err)
	}
	return a
}

// call wraps req in a call signed by signerHex.
func (a *testAccounts) call(signerHex string, req any) []byte {
	a.t.Helper()
	return a.forge(signerHex, signerHex, req)
}

// forge wraps req in a call that claims claimedHex but is signed with keyHex's key.
func (a *testAccounts) forge(claimedHex, keyHex string, req any) []byte {
	a.t.Helper()
	body := mustJSON(a.t, req)
	var inner struct {
		Type    string `json:"type"`
		TokenID uint64 `json:"token_id"`
	}
	if err := json.Unmarshal(body, &inner); err != nil {
		a.t.Fatalf("Failed to read request type: %v", err)
	}
	c := custody.NewCall(common.HexToAddress(claimedHex), inner.Type, core.TokenID(inner.TokenID), body, uuid.NewString(), time.Now(), time.Minute)
	return a.envelope(keyHex, c)
}

func (a *testAccounts) envelope(keyHex string, c custody.Call) []byte {
	a.t.Helper()
	signed, err := custody.SignCall(a.keys[keyHex], c)
	if err != nil {
		a.t.Fatalf("Failed to sign call: %v", err)
	}
	return mustJSON(a.t, enclaveapi.SignedRequest{
		Type: enclaveapi.TypeSigned,
		Call: base64.StdEncoding.EncodeToString(signed),
	})
}

func createRequest(tokenID uint64) enclaveapi.CreateRequest {
	return enclaveapi.CreateRequest{
		Type:    enclaveapi.TypeCreate,
		TokenID: tokenID,
		Terms: enclaveapi.Terms{
			DurationSeconds:   86400,
			ReservePrice:      units("1").String(),
			Creator:           creatorHex,
			Curator:           curatorHex,
			FundsRecipient:    fundsHex,
			CuratorFeePercent: 5,
		},
	}
}

func bidRequest(tokenID uint64, amount string) enclaveapi.BidRequest {
	return enclaveapi.BidRequest{
		Type:    enclaveapi.TypeBid,
		TokenID: tokenID,
		Amount:  units(amount).String(),
		Value:   units(amount).String(),
	}
}

func TestHandle_Ping(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	resp := h.Handle(context.Background(), []byte(`{"type":"ping"}`))
	check.Equal(t, "pong", resp.Type)
	check.True(t, resp.Success)
	check.NotEqual(t, "", resp.RequestID)
}

func TestHandle_MalformedRequests(t *testing.T) {
	h, node, _ := newTestHandler(t, nil)
	accts := newTestAccounts(t, node)

	badPermit := createRequest(1)
	badPermit.Permit = "%%%"
	fractional := bidRequest(1, "1")
	fractional.Amount = "1.5"

	tests := []struct {
		name string
		raw  []byte
		code string
	}{
		{"not json", []byte(`not json`), codeBadRequest},
		{"unknown type", []byte(`{"type":"key_request"}`), codeBadRequest},
		{"wrong field type", []byte(`{"type":"end","token_id":"one"}`), codeBadRequest},
		{"fractional amount", accts.call(aliceHex, fractional), "invalid_amount"},
		{"bad permit encoding", accts.call(creatorHex, badPermit), codeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Handle(context.Background(), tt.raw)
			check.True(t, !resp.Success)
			check.Equal(t, tt.code, resp.ErrorCode)
		})
	}
}

func TestHandle_UnsignedRequestsRefused(t *testing.T) {
	h, node, _ := newTestHandler(t, nil)
	escrow := node.Engine.Config().EscrowAddress

	tests := []struct {
		name string
		req  any
	}{
		{"create", createRequest(1)},
		{"bid", bidRequest(1, "1")},
		{"cancel", enclaveapi.TokenRequest{Type: enclaveapi.TypeCancel, TokenID: 1}},
		{"set reserve", enclaveapi.SetReserveRequest{Type: enclaveapi.TypeSetReserve, TokenID: 1, ReservePrice: "1"}},
		{"recover token", enclaveapi.TokenRequest{Type: enclaveapi.TypeRecoverToken, TokenID: 1}},
		{"recover value", enclaveapi.AmountRequest{Type: enclaveapi.TypeRecoverValue, Amount: "1"}},
		{"disable recovery", enclaveapi.AmountRequest{Type: enclaveapi.TypeDisableRecovery}},
		{"unwrap", enclaveapi.AmountRequest{Type: enclaveapi.TypeUnwrap, Amount: "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Handle(context.Background(), mustJSON(t, tt.req))
			check.False(t, resp.Success)
			check.Equal(t, "unauthenticated", resp.ErrorCode)
		})
	}

	check.True(t, node.Engine.RecoveryEnabled())
	check.Equal(t, "0", node.Bank.Balance(escrow).String())
}

// A body field naming another account used to be trusted; the acting
// identity now only comes from a valid signature.
func TestHandle_ForgedIdentity(t *testing.T) {
	ctx := context.Background()
	h, node, _ := newTestHandler(t, nil)
	accts := newTestAccounts(t, node)
	escrow := node.Engine.Config().EscrowAddress
	alice := common.HexToAddress(aliceHex)

	check.Nil(t, node.Tokens.Approve(common.HexToAddress(creatorHex), escrow, 1))
	check.True(t, h.Handle(ctx, accts.call(creatorHex, createRequest(1))).Success)

	// The stranger claims to be alice.
	resp := h.Handle(ctx, accts.forge(aliceHex, strangerHex, bidRequest(1, "5")))
	check.Equal(t, "unauthenticated", resp.ErrorCode)
	check.Equal(t, units("10").String(), node.Bank.Balance(alice).String())
	check.Equal(t, "0", node.Bank.Balance(escrow).String())

	// ...and then the recovery admin.
	drain := enclaveapi.AmountRequest{Type: enclaveapi.TypeRecoverValue, Amount: units("1").String()}
	resp = h.Handle(ctx, accts.forge(adminHex, strangerHex, drain))
	check.Equal(t, "unauthenticated", resp.ErrorCode)
	resp = h.Handle(ctx, accts.forge(adminHex, strangerHex, enclaveapi.AmountRequest{Type: enclaveapi.TypeDisableRecovery}))
	check.Equal(t, "unauthenticated", resp.ErrorCode)
	check.True(t, node.Engine.RecoveryEnabled())

	// Signing honestly as themselves gets the categorical refusals.
	resp = h.Handle(ctx, accts.call(strangerHex, drain))
	check.Equal(t, "not_admin", resp.ErrorCode)
	cancel := enclaveapi.TokenRequest{Type: enclaveapi.TypeCancel, TokenID: 1}
	resp = h.Handle(ctx, accts.call(strangerHex, cancel))
	check.Equal(t, "not_creator", resp.ErrorCode)

	// Only the creator named in the terms may open an auction for them.
	check.Nil(t, node.Tokens.Approve(common.HexToAddress(creatorHex), escrow, 2))
	resp = h.Handle(ctx, accts.call(strangerHex, createRequest(2)))
	check.Equal(t, "not_creator", resp.ErrorCode)
	_, ok := node.Engine.Auction(2)
	check.False(t, ok)
}

func TestHandle_SignedEnvelope(t *testing.T) {
	ctx := context.Background()
	h, node, _ := newTestHandler(t, nil)
	accts := newTestAccounts(t, node)
	check.Nil(t, node.Tokens.Approve(common.HexToAddress(creatorHex), node.Engine.Config().EscrowAddress, 1))
	check.True(t, h.Handle(ctx, accts.call(creatorHex, createRequest(1))).Success)

	body := mustJSON(t, bidRequest(1, "1"))
	alice := common.HexToAddress(aliceHex)

	tests := []struct {
		name string
		raw  []byte
	}{
		{"bad base64", []byte(`{"type":"signed","call":"%%%"}`)},
		{"not cose", mustJSON(t, enclaveapi.SignedRequest{Type: enclaveapi.TypeSigned, Call: base64.StdEncoding.EncodeToString([]byte("junk"))})},
		{"signed for another action", accts.envelope(aliceHex, custody.NewCall(alice, enclaveapi.TypeCancel, 1, body, "n-1", time.Now(), time.Minute))},
		{"signed for another token", accts.envelope(aliceHex, custody.NewCall(alice, enclaveapi.TypeBid, 2, body, "n-2", time.Now(), time.Minute))},
		{"expired", accts.envelope(aliceHex, custody.NewCall(alice, enclaveapi.TypeBid, 1, body, "n-3", time.Now(), -time.Minute))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Handle(ctx, tt.raw)
			check.False(t, resp.Success)
			check.Equal(t, "unauthenticated", resp.ErrorCode)
		})
	}

	signed := accts.call(aliceHex, bidRequest(1, "1"))
	check.True(t, h.Handle(ctx, signed).Success)
	resp := h.Handle(ctx, signed)
	check.Equal(t, "unauthenticated", resp.ErrorCode)
}

func TestHandle_AuctionLifecycle(t *testing.T) {
	ctx := context.Background()
	h, node, clock := newTestHandler(t, CreateMockEnclave(t))
	accts := newTestAccounts(t, node)

	// Token 1 has not been approved for escrow yet.
	resp := h.Handle(ctx, accts.call(creatorHex, createRequest(1)))
	check.True(t, !resp.Success)
	check.Equal(t, "internal", resp.ErrorCode)

	check.Nil(t, node.Tokens.Approve(common.HexToAddress(creatorHex), node.Engine.Config().EscrowAddress, 1))
	resp = h.Handle(ctx, accts.call(creatorHex, createRequest(1)))
	check.True(t, resp.Success)
	check.Equal(t, "create_response", resp.Type)
	check.NotNil(t, resp.Auction)
	check.Equal(t, "", resp.Auction.Bidder)

	resp = h.Handle(ctx, accts.call(creatorHex, createRequest(1)))
	check.Equal(t, "already_exists", resp.ErrorCode)

	resp = h.Handle(ctx, accts.call(aliceHex, bidRequest(1, "0.5")))
	check.Equal(t, "below_reserve", resp.ErrorCode)

	resp = h.Handle(ctx, accts.call(aliceHex, bidRequest(1, "1")))
	check.True(t, resp.Success)
	check.Equal(t, common.HexToAddress(aliceHex).Hex(), resp.Auction.Bidder)

	clock.now = clock.now.Add(time.Hour)
	resp = h.Handle(ctx, accts.call(bobHex, bidRequest(1, "2")))
	check.True(t, resp.Success)
	check.Equal(t, units("10").String(), node.Bank.Balance(common.HexToAddress(aliceHex)).String())

	cancel := enclaveapi.TokenRequest{Type: enclaveapi.TypeCancel, TokenID: 1}
	resp = h.Handle(ctx, accts.call(creatorHex, cancel))
	check.Equal(t, "already_started", resp.ErrorCode)

	end := enclaveapi.TokenRequest{Type: enclaveapi.TypeEnd, TokenID: 1, Nonce: "client-nonce"}
	resp = h.Handle(ctx, mustJSON(t, end))
	check.Equal(t, "not_complete", resp.ErrorCode)

	clock.now = clock.now.Add(23 * time.Hour)
	resp = h.Handle(ctx, mustJSON(t, end))
	check.True(t, resp.Success)
	check.NotNil(t, resp.Settlement)
	check.Equal(t, common.HexToAddress(bobHex).Hex(), resp.Settlement.Winner)
	check.Equal(t, 3, len(resp.Settlement.Payouts))

	total, err := resp.Settlement.Total()
	check.Nil(t, err)
	check.Equal(t, units("2").String(), total.String())

	// The attestation embeds the same settlement and the caller's nonce.
	check.NotEqual(t, "", resp.Attestation.String())
	cose, err := resp.Attestation.Decode()
	check.Nil(t, err)
	doc, err := parsing.ParseSettlementAttestation(cose)
	check.Nil(t, err)
	check.Equal(t, "client-nonce", doc.UserData.Nonce)
	check.Equal(t, *resp.Settlement, doc.UserData.Settlement)
	check.Equal(t, enclaveapi.ComputeSettlementHash(resp.Settlement, "client-nonce"), doc.UserData.SettlementHash)

	owner, _ := node.Tokens.OwnerOf(1)
	check.Equal(t, common.HexToAddress(bobHex), owner)

	query := enclaveapi.TokenRequest{Type: enclaveapi.TypeAuction, TokenID: 1}
	resp = h.Handle(ctx, mustJSON(t, query))
	check.Equal(t, "not_found", resp.ErrorCode)
}

func TestHandle_EndWithoutAttester(t *testing.T) {
	ctx := context.Background()
	h, node, clock := newTestHandler(t, nil)
	accts := newTestAccounts(t, node)

	check.Nil(t, node.Tokens.Approve(common.HexToAddress(creatorHex), node.Engine.Config().EscrowAddress, 1))
	check.True(t, h.Handle(ctx, accts.call(creatorHex, createRequest(1))).Success)
	check.True(t, h.Handle(ctx, accts.call(aliceHex, bidRequest(1, "1"))).Success)
	clock.now = clock.now.Add(24 * time.Hour)

	resp := h.Handle(ctx, mustJSON(t, enclaveapi.TokenRequest{Type: enclaveapi.TypeEnd, TokenID: 1}))
	check.True(t, resp.Success)
	check.NotNil(t, resp.Settlement)
	check.Equal(t, enclaveapi.AttestationCOSEBase64(""), resp.Attestation)
}

func TestHandle_EndAttestationFailure(t *testing.T) {
	ctx := context.Background()
	failing := &MockEnclaveHandle{
		AttestFunc: func(enclave.AttestationOptions) ([]byte, error) {
			return nil, errors.New("nsm device busy")
		},
	}
	h, node, clock := newTestHandler(t, failing)
	accts := newTestAccounts(t, node)

	check.Nil(t, node.Tokens.Approve(common.HexToAddress(creatorHex), node.Engine.Config().EscrowAddress, 1))
	check.True(t, h.Handle(ctx, accts.call(creatorHex, createRequest(1))).Success)
	check.True(t, h.Handle(ctx, accts.call(aliceHex, bidRequest(1, "1"))).Success)
	clock.now = clock.now.Add(24 * time.Hour)

	resp := h.Handle(ctx, mustJSON(t, enclaveapi.TokenRequest{Type: enclaveapi.TypeEnd, TokenID: 1}))
	check.True(t, resp.Success)
	check.Equal(t, enclaveapi.AttestationCOSEBase64(""), resp.Attestation)

	_, ok := node.Engine.Auction(1)
	check.True(t, !ok)
}

func TestHandle_SetReserveAndCancel(t *testing.T) {
	ctx := context.Background()
	h, node, _ := newTestHandler(t, nil)
	accts := newTestAccounts(t, node)
	check.Nil(t, node.Tokens.Approve(common.HexToAddress(creatorHex), node.Engine.Config().EscrowAddress, 1))
	check.True(t, h.Handle(ctx, accts.call(creatorHex, createRequest(1))).Success)

	setReserve := enclaveapi.SetReserveRequest{
		Type:         enclaveapi.TypeSetReserve,
		TokenID:      1,
		ReservePrice: units("3").String(),
	}
	resp := h.Handle(ctx, accts.call(curatorHex, setReserve))
	check.True(t, resp.Success)
	check.Equal(t, units("3").String(), resp.Auction.Terms.ReservePrice)

	resp = h.Handle(ctx, accts.call(strangerHex, setReserve))
	check.Equal(t, "not_creator", resp.ErrorCode)

	cancel := enclaveapi.TokenRequest{Type: enclaveapi.TypeCancel, TokenID: 1}
	resp = h.Handle(ctx, accts.call(creatorHex, cancel))
	check.True(t, resp.Success)

	owner, _ := node.Tokens.OwnerOf(1)
	check.Equal(t, common.HexToAddress(creatorHex), owner)
}

func TestHandle_Recovery(t *testing.T) {
	ctx := context.Background()
	h, node, _ := newTestHandler(t, nil)
	accts := newTestAccounts(t, node)
	escrow := node.Engine.Config().EscrowAddress
	check.Nil(t, node.Tokens.Approve(common.HexToAddress(creatorHex), escrow, 1))
	check.True(t, h.Handle(ctx, accts.call(creatorHex, createRequest(1))).Success)
	check.True(t, h.Handle(ctx, accts.call(aliceHex, bidRequest(1, "1"))).Success)

	recoverValue := enclaveapi.AmountRequest{Type: enclaveapi.TypeRecoverValue, Amount: units("1").String()}
	resp := h.Handle(ctx, accts.call(strangerHex, recoverValue))
	check.Equal(t, "not_admin", resp.ErrorCode)

	resp = h.Handle(ctx, accts.call(adminHex, recoverValue))
	check.True(t, resp.Success)
	check.True(t, *resp.RecoveryEnabled)
	check.Equal(t, units("1").String(), node.Bank.Balance(common.HexToAddress(adminHex)).String())

	disable := enclaveapi.AmountRequest{Type: enclaveapi.TypeDisableRecovery}
	resp = h.Handle(ctx, accts.call(adminHex, disable))
	check.True(t, resp.Success)
	check.True(t, !*resp.RecoveryEnabled)

	recoverToken := enclaveapi.TokenRequest{Type: enclaveapi.TypeRecoverToken, TokenID: 1}
	resp = h.Handle(ctx, accts.call(adminHex, recoverToken))
	check.Equal(t, "not_admin", resp.ErrorCode)

	owner, _ := node.Tokens.OwnerOf(1)
	check.Equal(t, escrow, owner)
}

func TestHandle_Unwrap(t *testing.T) {
	ctx := context.Background()
	h, node, _ := newTestHandler(t, nil)
	accts := newTestAccounts(t, node)
	escrow := node.Engine.Config().EscrowAddress
	funds := common.HexToAddress(fundsHex)

	// Stand in for a refused payment that went through the wrapped rail.
	node.Bank.Deposit(escrow, units("2"))
	check.Nil(t, node.Wrapped.Wrap(ctx, units("2")))
	check.Nil(t, node.Wrapped.CreditTo(ctx, funds, units("2")))

	unwrap := enclaveapi.AmountRequest{Type: enclaveapi.TypeUnwrap, Amount: units("3").String()}
	// No key is registered for the funds recipient yet.
	resp := h.Handle(ctx, accts.forge(fundsHex, strangerHex, unwrap))
	check.Equal(t, "unauthenticated", resp.ErrorCode)

	var keys []AccountKey
	key, pemData := generateAccountKey(t)
	keys = append(keys, AccountKey{Owner: funds, PublicKeyPEM: pemData})
	check.Nil(t, registerAccountKeys(node.Tokens, keys))
	accts.keys[fundsHex] = key

	resp = h.Handle(ctx, accts.call(fundsHex, unwrap))
	check.Equal(t, codeBadRequest, resp.ErrorCode)

	unwrap.Amount = units("1.5").String()
	resp = h.Handle(ctx, accts.call(fundsHex, unwrap))
	check.True(t, resp.Success)
	check.Equal(t, units("0.5").String(), resp.WrappedBalance)
	check.Equal(t, units("1.5").String(), node.Bank.Balance(funds).String())
}
