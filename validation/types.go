package validation

// BaseValidationResult contains the checks shared by every attestation
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// SettlementValidationResult contains validation results specific to settlement attestations
type SettlementValidationResult struct {
	BaseValidationResult
	TokenMatch      bool
	WinnerMatch     bool
	AmountMatch     bool
	PayoutsBalanced bool
	NonceMatch      bool
	HashValid       bool
}

// IsValid returns true if all settlement validation checks passed
func (r *SettlementValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid &&
		r.TokenMatch && r.WinnerMatch && r.AmountMatch && r.PayoutsBalanced && r.NonceMatch && r.HashValid
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // reserveauction commit the enclave image was built from
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
