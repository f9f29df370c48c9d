package main

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"

	"github.com/cloudx-io/reserveauction/custody"
)

// parseAccountKey decodes a PEM "PUBLIC KEY" block holding a P-256 ECDSA key.
func parseAccountKey(pemData string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("account key is %T, want ECDSA", pub)
	}
	return key, nil
}

// registerAccountKeys installs every configured account key in the ledger.
// Requests acting for an account without a key are always refused.
func registerAccountKeys(ledger *custody.TokenLedger, keys []AccountKey) error {
	for _, k := range keys {
		pub, err := parseAccountKey(k.PublicKeyPEM)
		if err != nil {
			return fmt.Errorf("account key for %s: %w", k.Owner.Hex(), err)
		}
		ledger.RegisterKey(k.Owner, pub)
		log.Printf("INFO: Registered account key for %s", k.Owner.Hex())
	}
	return nil
}
