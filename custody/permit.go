package custody

import (
	"crypto"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/reserveauction/core"
)

// Permit grants Spender a one-time right to move TokenID out of Owner's hands.
// It travels as the CBOR payload of an ES256 COSE_Sign1 message so an auction
// can be created without a separate approval step.
type Permit struct {
	TokenID  uint64 `cbor:"token_id"`
	Owner    string `cbor:"owner"`
	Spender  string `cbor:"spender"`
	Nonce    string `cbor:"nonce"`
	Deadline int64  `cbor:"deadline"`
}

// SignPermit encodes and signs a permit with the owner's key.
func SignPermit(key crypto.Signer, p Permit) ([]byte, error) {
	signed, err := sign1(key, p)
	if err != nil {
		return nil, fmt.Errorf("sign permit: %w", err)
	}
	return signed, nil
}

// ApplyPermit verifies a signed permit and records the approval it grants.
func (l *TokenLedger) ApplyPermit(signed []byte) error {
	var p Permit
	msg, err := decodeSign1(signed, &p)
	if err != nil {
		return fmt.Errorf("permit: %w", err)
	}
	owner := common.HexToAddress(p.Owner)
	if err := l.verify(msg, owner); err != nil {
		return fmt.Errorf("permit: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.now().Unix() > p.Deadline {
		return ErrPermitExpired
	}
	nonceKey := "permit/" + owner.Hex() + "/" + p.Nonce
	if _, used := l.nonces[nonceKey]; used {
		return ErrPermitReused
	}

	tokenID := core.TokenID(p.TokenID)
	current, ok := l.owners[tokenID]
	if !ok {
		return fmt.Errorf("token %d: %w", tokenID, ErrUnknownToken)
	}
	if current != owner {
		return fmt.Errorf("token %d: %w", tokenID, ErrNotOwner)
	}

	l.nonces[nonceKey] = struct{}{}
	l.approvals[tokenID] = common.HexToAddress(p.Spender)
	return nil
}

// sign1 encodes v as CBOR and signs it as an ES256 COSE_Sign1 message.
func sign1(key crypto.Signer, v any) ([]byte, error) {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected[cose.HeaderLabelAlgorithm] = cose.AlgorithmES256
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, err
	}
	return msg.MarshalCBOR()
}

// decodeSign1 parses a COSE_Sign1 message and decodes its payload into v.
// The signature is not checked.
func decodeSign1(signed []byte, v any) (*cose.Sign1Message, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(signed); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	if err := cbor.Unmarshal(msg.Payload, v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &msg, nil
}

// verify checks msg against the key registered for signer.
func (l *TokenLedger) verify(msg *cose.Sign1Message, signer common.Address) error {
	l.mu.Lock()
	key, ok := l.keys[signer]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("signer %s: %w", signer.Hex(), ErrUnknownSigner)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, key)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return nil
}

// NewPermit builds a permit valid for ttl from now.
func NewPermit(tokenID core.TokenID, owner, spender common.Address, nonce string, now time.Time, ttl time.Duration) Permit {
	return Permit{
		TokenID:  uint64(tokenID),
		Owner:    owner.Hex(),
		Spender:  spender.Hex(),
		Nonce:    nonce,
		Deadline: now.Add(ttl).Unix(),
	}
}
