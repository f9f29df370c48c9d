package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/google/uuid"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/enclaveapi"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// getEnclaveAttester returns the NSM handle, or an error outside a Nitro enclave.
func getEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// AttestSettlement has the NSM sign a settlement. The caller's nonce is echoed
// in both the user data and the document nonce; a random one is used if empty.
func AttestSettlement(attester EnclaveAttester, settlement *core.Settlement, nonce string, now time.Time) (enclaveapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}
	if nonce == "" {
		nonce = uuid.NewString()
	}

	wire := enclaveapi.FromSettlement(settlement)
	userData := &enclaveapi.SettlementAttestationUserData{
		Settlement:     *wire,
		SettlementHash: enclaveapi.ComputeSettlementHash(wire, nonce),
		Nonce:          nonce,
		Timestamp:      now.UTC(),
	}
	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user data: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(nonce),
	})
	if err != nil {
		log.Printf("ERROR: NSM attestation failed: %v", err)
		return nil, fmt.Errorf("NSM attestation failed: %w", err)
	}

	log.Printf("INFO: Settlement attestation for token %d generated: %d bytes", settlement.TokenID, len(attestationCBOR))
	return enclaveapi.AttestationCOSE(attestationCBOR), nil
}
