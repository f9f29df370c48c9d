package validation

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/reserveauction/enclaveapi"
	"github.com/cloudx-io/reserveauction/enclaveapi/parsing"
)

// VerifyCOSESignature checks the ES384 signature of an untagged Nitro
// COSE_Sign1 document against the public key of the base64 DER certificate.
func VerifyCOSESignature(coseBytes enclaveapi.AttestationCOSE, certB64 string) error {
	cert, err := decodeCertificate(certB64)
	if err != nil {
		return err
	}
	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	msg, err := parsing.SplitCOSESign1(coseBytes)
	if err != nil {
		return err
	}

	// Sig_structure: ["Signature1", protected, external_aad, payload]
	sigStructure, err := cbor.Marshal([]any{"Signature1", msg.Protected, []byte{}, msg.Payload})
	if err != nil {
		return fmt.Errorf("marshal Sig_structure: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := verifier.Verify(sigStructure, msg.Signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}
