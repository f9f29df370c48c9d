package validation

import (
	"crypto/x509"
	"fmt"

	"github.com/cloudx-io/reserveauction/enclaveapi"
)

// validateCommonAttestation checks PCRs, the certificate chain and the COSE
// signature of an already parsed attestation document.
func validateCommonAttestation(coseBytes enclaveapi.AttestationCOSE, doc enclaveapi.AttestationDoc, knownPCRs []PCRSet, roots *x509.CertPool) BaseValidationResult {
	result := BaseValidationResult{ValidationDetails: []string{}}

	pcrMatch, matchedSet := ValidatePCRs(doc.PCRs, knownPCRs)
	result.PCRsValid = pcrMatch
	if !pcrMatch {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR0: %s (no match)", doc.PCRs.ImageFileHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR1: %s (no match)", doc.PCRs.KernelHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR2: %s (no match)", doc.PCRs.ApplicationHash))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR measurements valid (set #%d, commit: %s)",
			matchedSet, knownPCRs[matchedSet].CommitHash))
	}

	switch {
	case doc.Certificate == "":
		result.ValidationDetails = append(result.ValidationDetails, "Missing certificate")
	case len(doc.CABundle) == 0:
		result.ValidationDetails = append(result.ValidationDetails, "Missing CA bundle")
	default:
		if err := ValidateCertificateChain(doc.Certificate, doc.CABundle, doc.Timestamp, roots); err != nil {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Certificate chain validation failed: %v", err))
		} else {
			result.CertificateValid = true
			result.ValidationDetails = append(result.ValidationDetails, "Certificate chain verified")
		}
	}

	if doc.Certificate == "" {
		result.ValidationDetails = append(result.ValidationDetails, "COSE signature not checked: no certificate")
	} else if err := VerifyCOSESignature(coseBytes, doc.Certificate); err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("COSE signature verification failed: %v", err))
	} else {
		result.SignatureValid = true
		result.ValidationDetails = append(result.ValidationDetails, "COSE signature verified")
	}

	return result
}
