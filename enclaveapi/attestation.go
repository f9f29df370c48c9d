package enclaveapi

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"
)

// AttestationCOSE is a raw COSE_Sign1 attestation as returned by the Nitro Security Module.
type AttestationCOSE []byte

// AttestationCOSEBase64 is standard base64 of AttestationCOSE. This is the JSON wire form.
type AttestationCOSEBase64 string

// AttestationCOSEURLBase64 is unpadded URL-safe base64 of AttestationCOSE.
type AttestationCOSEURLBase64 string

// AttestationCOSEGzip is gzip-compressed AttestationCOSE in unpadded URL-safe base64.
type AttestationCOSEGzip string

func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

func (a AttestationCOSE) EncodeURLSafe() AttestationCOSEURLBase64 {
	return AttestationCOSEURLBase64(base64.RawURLEncoding.EncodeToString(a))
}

// CompressGzip compresses the attestation for use in URLs and headers.
// The gzip header carries no timestamp, so output is deterministic.
func (a AttestationCOSE) CompressGzip() (AttestationCOSEGzip, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := zw.Write(a); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return AttestationCOSEGzip(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

func (s AttestationCOSEBase64) String() string { return string(s) }

func (s AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	raw, err := base64.StdEncoding.DecodeString(string(s))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return AttestationCOSE(raw), nil
}

func (s AttestationCOSEBase64) CompressGzip() (AttestationCOSEGzip, error) {
	raw, err := s.Decode()
	if err != nil {
		return "", err
	}
	return raw.CompressGzip()
}

func (s AttestationCOSEURLBase64) String() string { return string(s) }

// Decode accepts both padded and unpadded input.
func (s AttestationCOSEURLBase64) Decode() (AttestationCOSE, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(string(s), "="))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64url: %w", err)
	}
	return AttestationCOSE(raw), nil
}

func (s AttestationCOSEGzip) String() string { return string(s) }

func (s AttestationCOSEGzip) Decompress() (AttestationCOSE, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(string(s))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip: %w", err)
	}
	return AttestationCOSE(raw), nil
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc is the decoded Nitro attestation document, minus user data.
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`

	// Certificate is the base64 DER signing certificate.
	Certificate string   `json:"certificate"`
	CABundle    []string `json:"cabundle"`
	PublicKey   string   `json:"public_key,omitempty"`
	Nonce       string   `json:"nonce,omitempty"`
}

// SettlementAttestationUserData is embedded as JSON in the user_data field of
// the attestation returned for an ended auction.
type SettlementAttestationUserData struct {
	Settlement Settlement `json:"settlement"`
	// SettlementHash is ComputeSettlementHash(Settlement, Nonce).
	SettlementHash string `json:"settlement_hash"`
	// Nonce echoes the caller-supplied nonce for replay protection.
	Nonce     string    `json:"nonce,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SettlementAttestationDoc is a parsed settlement attestation.
type SettlementAttestationDoc struct {
	AttestationDoc
	UserData *SettlementAttestationUserData `json:"user_data"`
}
