package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Sign1 holds the four elements of an untagged COSE_Sign1 array:
// [protected, unprotected, payload, signature].
type Sign1 struct {
	Protected []byte
	Payload   []byte
	Signature []byte
}

// SplitCOSESign1 decodes an untagged COSE_Sign1 array as produced by the Nitro Security Module.
func SplitCOSESign1(coseBytes []byte) (*Sign1, error) {
	var coseArray []any
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return nil, fmt.Errorf("parse COSE array: %w", err)
	}

	if len(coseArray) != 4 {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	protected, ok := coseArray[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid protected headers in COSE structure")
	}
	payload, ok := coseArray[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid payload in COSE structure")
	}
	signature, ok := coseArray[3].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid signature in COSE structure")
	}

	return &Sign1{Protected: protected, Payload: payload, Signature: signature}, nil
}

// ExtractCOSEPayload returns element 2 of a COSE_Sign1 array.
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	msg, err := SplitCOSESign1(coseBytes)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}
