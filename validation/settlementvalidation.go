package validation

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/reserveauction/enclaveapi"
	"github.com/cloudx-io/reserveauction/enclaveapi/parsing"
)

// SettlementValidationInput contains all inputs needed for settlement attestation validation
type SettlementValidationInput struct {
	Attestation enclaveapi.AttestationCOSEBase64
	TokenID     uint64
	Winner      string                 // hex address the caller expects to have won
	Amount      string                 // winning bid in base units
	Nonce       string                 // nonce sent with the end request; empty skips the check
	Settlement  *enclaveapi.Settlement // settlement the response claims; nil skips the comparison
	KnownPCRs   []PCRSet
	Roots       *x509.CertPool // nil means the AWS Nitro root
}

// ValidateSettlementAttestation validates an enclave settlement attestation and verifies:
// - the attested settlement is for the expected token, winner and amount
// - the payouts add up to the winning amount
// - the attestation answers the caller's nonce
// - the attested digest covers the attested settlement and the one the response claims
//
// An error means validation could not be performed at all; otherwise call
// result.IsValid() for the verdict.
func ValidateSettlementAttestation(input *SettlementValidationInput) (*SettlementValidationResult, error) {
	coseBytes, err := input.Attestation.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode attestation: %w", err)
	}
	doc, err := parsing.ParseSettlementAttestation(coseBytes)
	if err != nil {
		return nil, fmt.Errorf("parse settlement attestation: %w", err)
	}
	expectedAmount, err := decimal.NewFromString(input.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid expected amount %q: %w", input.Amount, err)
	}
	if !common.IsHexAddress(input.Winner) {
		return nil, fmt.Errorf("invalid expected winner %q", input.Winner)
	}

	result := &SettlementValidationResult{
		BaseValidationResult: validateCommonAttestation(coseBytes, doc.AttestationDoc, input.KnownPCRs, input.Roots),
	}
	settlement := doc.UserData.Settlement

	result.TokenMatch = settlement.TokenID == input.TokenID
	if result.TokenMatch {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Token validation passed: %d", input.TokenID))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Token mismatch: expected %d, attestation has %d", input.TokenID, settlement.TokenID))
	}

	result.WinnerMatch = common.IsHexAddress(settlement.Winner) &&
		common.HexToAddress(settlement.Winner) == common.HexToAddress(input.Winner)
	if result.WinnerMatch {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner validation passed: %s", settlement.Winner))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner mismatch: expected %s, attestation has %s", input.Winner, settlement.Winner))
	}

	attestedAmount, err := decimal.NewFromString(settlement.Amount)
	result.AmountMatch = err == nil && attestedAmount.Equal(expectedAmount)
	if result.AmountMatch {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Amount validation passed: %s", settlement.Amount))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Amount mismatch: expected %s, attestation has %s", input.Amount, settlement.Amount))
	}

	result.PayoutsBalanced = validatePayouts(&settlement, attestedAmount, result)
	result.NonceMatch = validateNonce(input.Nonce, doc, result)
	result.HashValid = validateSettlementHash(input.Settlement, doc.UserData, result)

	return result, nil
}

func validatePayouts(settlement *enclaveapi.Settlement, amount decimal.Decimal, result *SettlementValidationResult) bool {
	total, err := settlement.Total()
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Payouts unreadable: %v", err))
		return false
	}
	if !total.Equal(amount) {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Payouts sum to %s, settlement amount is %s", total, amount))
		return false
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Payouts balanced across %d recipients", len(settlement.Payouts)))
	return true
}

func validateNonce(expected string, doc *enclaveapi.SettlementAttestationDoc, result *SettlementValidationResult) bool {
	if expected == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Nonce not checked: none supplied")
		return true
	}
	docNonce, err := base64.StdEncoding.DecodeString(doc.Nonce)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Attestation nonce unreadable: %v", err))
		return false
	}
	if doc.UserData.Nonce != expected || string(docNonce) != expected {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Nonce mismatch: expected %q, attestation has %q", expected, doc.UserData.Nonce))
		return false
	}
	result.ValidationDetails = append(result.ValidationDetails, "Nonce matches request")
	return true
}

func validateSettlementHash(claimed *enclaveapi.Settlement, userData *enclaveapi.SettlementAttestationUserData, result *SettlementValidationResult) bool {
	attested := userData.SettlementHash
	if attested == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Settlement hash missing from attestation")
		return false
	}
	if computed := enclaveapi.ComputeSettlementHash(&userData.Settlement, userData.Nonce); computed != attested {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Settlement hash mismatch: computed %s, attestation has %s", computed, attested))
		return false
	}
	if claimed != nil {
		if computed := enclaveapi.ComputeSettlementHash(claimed, userData.Nonce); computed != attested {
			result.ValidationDetails = append(result.ValidationDetails, "Response settlement differs from the attested one")
			return false
		}
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Settlement hash validation passed: %s", attested))
	return true
}
