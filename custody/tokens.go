package custody

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/reserveauction/core"
)

var (
	ErrNotOwner      = errors.New("sender does not own token")
	ErrNotApproved   = errors.New("operator is not approved for token")
	ErrUnknownToken  = errors.New("unknown token")
	ErrPermitExpired = errors.New("permit expired")
	ErrPermitReused  = errors.New("permit nonce already used")
	ErrUnknownSigner = errors.New("no key registered for signer")
	ErrBadSignature  = errors.New("signature verification failed")
	ErrCallExpired   = errors.New("signed call expired")
	ErrCallReused    = errors.New("signed call nonce already used")
)

// TokenLedger is an in-memory token custodian. Transfers it performs act on
// behalf of operator (the escrow), which may move its own tokens freely and
// other holders' tokens only with a per-token approval.
type TokenLedger struct {
	mu        sync.Mutex
	operator  common.Address
	owners    map[core.TokenID]common.Address
	approvals map[core.TokenID]common.Address
	keys      map[common.Address]*ecdsa.PublicKey
	nonces    map[string]struct{}
	now       func() time.Time
}

func NewTokenLedger(operator common.Address) *TokenLedger {
	return &TokenLedger{
		operator:  operator,
		owners:    make(map[core.TokenID]common.Address),
		approvals: make(map[core.TokenID]common.Address),
		keys:      make(map[common.Address]*ecdsa.PublicKey),
		nonces:    make(map[string]struct{}),
		now:       time.Now,
	}
}

// Assign records owner as the holder of tokenID.
func (l *TokenLedger) Assign(tokenID core.TokenID, owner common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners[tokenID] = owner
	delete(l.approvals, tokenID)
}

// OwnerOf returns the current holder of tokenID.
func (l *TokenLedger) OwnerOf(tokenID core.TokenID) (common.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[tokenID]
	return owner, ok
}

// Approve lets spender move tokenID once. Only the owner may approve.
func (l *TokenLedger) Approve(owner, spender common.Address, tokenID core.TokenID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.owners[tokenID]
	if !ok {
		return fmt.Errorf("token %d: %w", tokenID, ErrUnknownToken)
	}
	if current != owner {
		return fmt.Errorf("token %d: %w", tokenID, ErrNotOwner)
	}
	l.approvals[tokenID] = spender
	return nil
}

// RegisterKey associates the key that signs holder's permits and calls.
func (l *TokenLedger) RegisterKey(holder common.Address, key *ecdsa.PublicKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[holder] = key
}

// Transfer implements engine.TokenCustodian.
func (l *TokenLedger) Transfer(_ context.Context, from, to common.Address, tokenID core.TokenID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, ok := l.owners[tokenID]
	if !ok {
		return fmt.Errorf("token %d: %w", tokenID, ErrUnknownToken)
	}
	if owner != from {
		return fmt.Errorf("token %d held by %s: %w", tokenID, owner.Hex(), ErrNotOwner)
	}
	if from != l.operator && l.approvals[tokenID] != l.operator {
		return fmt.Errorf("token %d: %w", tokenID, ErrNotApproved)
	}

	l.owners[tokenID] = to
	delete(l.approvals, tokenID)
	return nil
}
