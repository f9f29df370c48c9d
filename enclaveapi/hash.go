package enclaveapi

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// ComputeSettlementHash computes the digest the enclave attests alongside a
// settlement. Validators recompute it over the settlement a response claims.
//
// Formula: SHA256(nonce + "|" + token_id + "|" + winner + "|" + amount + "|" + curator_fee
// + "|" + role:recipient:amount for each payout, in payout order)
//
// Addresses are lowercased so checksum casing does not change the digest.
func ComputeSettlementHash(s *Settlement, nonce string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%s|%s|%s", nonce, s.TokenID, strings.ToLower(s.Winner), s.Amount, s.CuratorFee)
	for _, p := range s.Payouts {
		fmt.Fprintf(&b, "|%s:%s:%s", p.Role, strings.ToLower(p.Recipient), p.Amount)
	}
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}
