package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/custody"
	"github.com/cloudx-io/reserveauction/events"
)

var (
	escrow      = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	admin       = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	wrapReserve = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	creator     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	curator     = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	funds       = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob         = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	stranger    = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

const testToken core.TokenID = 1

func units(s string) decimal.Decimal {
	return core.MustParseUnits(s, core.DefaultDecimals)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder collects emitted events.
type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Emit(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) ofKind(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.evs {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// MockCustodian implements TokenCustodian for failure injection.
type MockCustodian struct {
	TransferFunc func(ctx context.Context, from, to common.Address, tokenID core.TokenID) error
}

func (m *MockCustodian) Transfer(ctx context.Context, from, to common.Address, tokenID core.TokenID) error {
	if m.TransferFunc != nil {
		return m.TransferFunc(ctx, from, to, tokenID)
	}
	return fmt.Errorf("mock not configured")
}

// MockFallback implements FallbackAsset for failure injection.
type MockFallback struct {
	WrapFunc     func(ctx context.Context, amount decimal.Decimal) error
	CreditToFunc func(ctx context.Context, recipient common.Address, amount decimal.Decimal) error
}

func (m *MockFallback) Wrap(ctx context.Context, amount decimal.Decimal) error {
	if m.WrapFunc != nil {
		return m.WrapFunc(ctx, amount)
	}
	return fmt.Errorf("mock not configured")
}

func (m *MockFallback) CreditTo(ctx context.Context, recipient common.Address, amount decimal.Decimal) error {
	if m.CreditToFunc != nil {
		return m.CreditToFunc(ctx, recipient, amount)
	}
	return fmt.Errorf("mock not configured")
}

type harness struct {
	engine  *Engine
	tokens  *custody.TokenLedger
	bank    *custody.Bank
	wrapped *custody.WrappedValue
	oracle  *custody.ShareOracle
	clock   *fakeClock
	events  *recorder
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.EscrowAddress = escrow
	cfg.RecoveryAddress = admin
	cfg.Allowance = 20 * time.Millisecond
	return cfg
}

func defaultTerms() core.Terms {
	return core.Terms{
		Duration:          24 * time.Hour,
		ReservePrice:      units("1"),
		Creator:           creator,
		Curator:           curator,
		FundsRecipient:    funds,
		CuratorFeePercent: 5,
	}
}

// newHarness wires an engine to the in-memory custody collaborators.
// Token 1 belongs to the creator and is approved for escrow; alice and bob hold 10 units each.
func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()

	h := &harness{
		tokens: custody.NewTokenLedger(escrow),
		bank:   custody.NewBank(escrow),
		oracle: custody.NewShareOracle(decimal.NewFromInt(50)),
		clock:  &fakeClock{now: t0},
		events: &recorder{},
	}
	h.wrapped = custody.NewWrappedValue(h.bank, escrow, wrapReserve)

	h.tokens.Assign(testToken, creator)
	if err := h.tokens.Approve(creator, escrow, testToken); err != nil {
		t.Fatalf("Failed to approve escrow: %v", err)
	}
	h.bank.Deposit(alice, units("10"))
	h.bank.Deposit(bob, units("10"))

	deps := Deps{
		Tokens:   h.tokens,
		Oracle:   h.oracle,
		Treasury: h.bank,
		Fallback: h.wrapped,
		Sink:     h.events,
		Clock:    h.clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	e, err := New(testConfig(), deps)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	h.engine = e
	return h
}

func (h *harness) create(t *testing.T) {
	t.Helper()
	if err := h.engine.Create(context.Background(), testToken, defaultTerms()); err != nil {
		t.Fatalf("Failed to create auction: %v", err)
	}
}

func (h *harness) bid(bidder common.Address, amount decimal.Decimal) error {
	return h.engine.Bid(context.Background(), testToken, bidder, amount, amount)
}

func (h *harness) owner(t *testing.T) common.Address {
	t.Helper()
	return h.ownerOf(t, testToken)
}

func (h *harness) ownerOf(t *testing.T, tokenID core.TokenID) common.Address {
	t.Helper()
	owner, ok := h.tokens.OwnerOf(tokenID)
	if !ok {
		t.Fatalf("token %d has no owner", tokenID)
	}
	return owner
}
