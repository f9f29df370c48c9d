package parsing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/reserveauction/enclaveapi"
)

// NitroAttestationDocument represents the raw CBOR structure from AWS Nitro Enclaves
type NitroAttestationDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"`
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// FormatPCR formats PCR bytes as hex string
func FormatPCR(pcrData []byte) string {
	if len(pcrData) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", pcrData)
}

func encodeBundle(bundle [][]byte) []string {
	result := make([]string, len(bundle))
	for i, cert := range bundle {
		result[i] = base64.StdEncoding.EncodeToString(cert)
	}
	return result
}

func extractPCRs(raw map[uint64][]byte) enclaveapi.PCRs {
	return enclaveapi.PCRs{
		ImageFileHash:   FormatPCR(raw[0]),
		KernelHash:      FormatPCR(raw[1]),
		ApplicationHash: FormatPCR(raw[2]),
		SigningCertHash: FormatPCR(raw[8]),
	}
}

// ParseAttestationDoc decodes a Nitro COSE_Sign1 attestation and returns the
// document together with its raw user data.
func ParseAttestationDoc(coseBytes enclaveapi.AttestationCOSE) (enclaveapi.AttestationDoc, []byte, error) {
	payload, err := ExtractCOSEPayload(coseBytes)
	if err != nil {
		return enclaveapi.AttestationDoc{}, nil, err
	}

	var doc NitroAttestationDocument
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		return enclaveapi.AttestationDoc{}, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	return enclaveapi.AttestationDoc{
		ModuleID:        doc.ModuleID,
		Timestamp:       time.UnixMilli(int64(doc.Timestamp)).UTC(),
		DigestAlgorithm: doc.Digest,
		PCRs:            extractPCRs(doc.PCRs),
		Certificate:     base64.StdEncoding.EncodeToString(doc.Certificate),
		CABundle:        encodeBundle(doc.CABundle),
		PublicKey:       base64.StdEncoding.EncodeToString(doc.PublicKey),
		Nonce:           base64.StdEncoding.EncodeToString(doc.Nonce),
	}, doc.UserData, nil
}

// ParseSettlementAttestation parses an attestation whose user data is a settlement.
func ParseSettlementAttestation(coseBytes enclaveapi.AttestationCOSE) (*enclaveapi.SettlementAttestationDoc, error) {
	doc, userData, err := ParseAttestationDoc(coseBytes)
	if err != nil {
		return nil, err
	}
	if len(userData) == 0 {
		return nil, fmt.Errorf("attestation carries no user data")
	}

	var settlement enclaveapi.SettlementAttestationUserData
	if err := json.Unmarshal(userData, &settlement); err != nil {
		return nil, fmt.Errorf("parse settlement user data: %w", err)
	}
	return &enclaveapi.SettlementAttestationDoc{
		AttestationDoc: doc,
		UserData:       &settlement,
	}, nil
}
