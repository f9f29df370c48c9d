package custody

import (
	"crypto"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/reserveauction/core"
)

// Call is a request signed by the account it acts for. Action and TokenID
// bind the signature to one operation on one token, Body is the exact request
// body it authorises.
type Call struct {
	Signer   string `cbor:"signer"`
	Action   string `cbor:"action"`
	TokenID  uint64 `cbor:"token_id"`
	Nonce    string `cbor:"nonce"`
	Deadline int64  `cbor:"deadline"`
	Body     []byte `cbor:"body"`
}

// NewCall builds a call valid for ttl from now.
func NewCall(signer common.Address, action string, tokenID core.TokenID, body []byte, nonce string, now time.Time, ttl time.Duration) Call {
	return Call{
		Signer:   signer.Hex(),
		Action:   action,
		TokenID:  uint64(tokenID),
		Nonce:    nonce,
		Deadline: now.Add(ttl).Unix(),
		Body:     body,
	}
}

// SignCall encodes and signs a call with the signer's key.
func SignCall(key crypto.Signer, c Call) ([]byte, error) {
	signed, err := sign1(key, c)
	if err != nil {
		return nil, fmt.Errorf("sign call: %w", err)
	}
	return signed, nil
}

// Authenticate verifies a signed call against its signer's registered key
// and consumes the nonce. It returns the call and the authenticated signer.
func (l *TokenLedger) Authenticate(signed []byte) (Call, common.Address, error) {
	var c Call
	msg, err := decodeSign1(signed, &c)
	if err != nil {
		return Call{}, common.Address{}, fmt.Errorf("call: %w", err)
	}
	if !common.IsHexAddress(c.Signer) {
		return Call{}, common.Address{}, fmt.Errorf("call signer %q: %w", c.Signer, ErrUnknownSigner)
	}
	signer := common.HexToAddress(c.Signer)
	if err := l.verify(msg, signer); err != nil {
		return Call{}, common.Address{}, fmt.Errorf("call: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.now().Unix() > c.Deadline {
		return Call{}, common.Address{}, ErrCallExpired
	}
	nonceKey := "call/" + signer.Hex() + "/" + c.Nonce
	if _, used := l.nonces[nonceKey]; used {
		return Call{}, common.Address{}, ErrCallReused
	}
	l.nonces[nonceKey] = struct{}{}
	return c, signer, nil
}
