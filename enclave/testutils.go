package main

import (
	"fmt"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/engine"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// CreateMockEnclave returns a handle that produces an unsigned Nitro-shaped
// COSE_Sign1 document embedding the supplied user data and nonce.
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			nestedDoc := map[string]any{
				"module_id": "test-enclave-12345",
				"digest":    "SHA384",
				"timestamp": uint64(1_700_000_000_000),
				"pcrs": map[uint64][]byte{
					0: {0x3b, 0x4c, 0xef, 0x27},
					1: {0x4b, 0x4d, 0x5b, 0x36},
					2: {0x2b, 0xdd, 0x28, 0xc1},
				},
				"certificate": []byte{},
				"cabundle":    [][]byte{},
				"public_key":  []byte{},
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}
			nestedBytes, err := cbor.Marshal(nestedDoc)
			if err != nil {
				return nil, err
			}

			// [protected, unprotected, payload, signature]
			return cbor.Marshal([]any{
				[]byte{0xa1, 0x01, 0x38, 0x22},
				map[string]any{},
				nestedBytes,
				[]byte{0x04, 0x05, 0x06},
			})
		},
	}
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

const testConfigYAML = `
port: 5005
engine:
  escrow_address: "0x00000000000000000000000000000000000000e5"
  recovery_address: "0x00000000000000000000000000000000000000ad"
  payment_allowance: 20ms
wrap_reserve: "0x00000000000000000000000000000000000000ff"
creator_share_percent: "50"
accounts:
  - address: "0x00000000000000000000000000000000000000a1"
    balance: "10000000000000000000"
  - address: "0x00000000000000000000000000000000000000b1"
    balance: "10000000000000000000"
tokens:
  - id: 1
    owner: "0x00000000000000000000000000000000000000c1"
  - id: 2
    owner: "0x00000000000000000000000000000000000000c1"
    creator_share_percent: "33"
`

// newTestNode builds a node from testConfigYAML with a fixed clock.
func newTestNode(t *testing.T) (*Node, *testClock) {
	t.Helper()
	cfg, err := ParseConfig([]byte(testConfigYAML))
	if err != nil {
		t.Fatalf("Failed to parse test config: %v", err)
	}
	clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
	node, err := NewNode(cfg, clock)
	if err != nil {
		t.Fatalf("Failed to create node: %v", err)
	}
	t.Cleanup(func() { _ = node.Close() })
	return node, clock
}

func units(s string) decimal.Decimal {
	return core.MustParseUnits(s, core.DefaultDecimals)
}

var _ engine.Clock = (*testClock)(nil)
