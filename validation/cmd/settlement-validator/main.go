package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cloudx-io/reserveauction/enclaveapi"
	"github.com/cloudx-io/reserveauction/validation"
)

func main() {
	var (
		responseInput = flag.String("response", "", "end_response JSON from the enclave (file path or inline JSON)")
		pcrPath       = flag.String("pcrs", "pcrs.json", "Known PCR sets file")
		tokenID       = flag.Uint64("token", 0, "Token the auction was for")
		winner        = flag.String("winner", "", "Expected winning bidder address")
		amount        = flag.String("amount", "", "Expected winning amount in base units")
		nonce         = flag.String("nonce", "", "Nonce sent with the end request")
		outputFormat  = flag.String("format", "text", "Output format: text or json")
		help          = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *responseInput == "" || *winner == "" || *amount == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --response, --winner and --amount are required\n")
		os.Exit(1)
	}

	raw, err := readJSONInput(*responseInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(2)
	}
	attestation, settlement, err := extractAttestation(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error extracting attestation: %v\n", err)
		os.Exit(2)
	}

	knownPCRs, err := validation.LoadPCRsFromFile(*pcrPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading PCRs: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateSettlementAttestation(&validation.SettlementValidationInput{
		Attestation: attestation,
		TokenID:     *tokenID,
		Winner:      *winner,
		Amount:      *amount,
		Nonce:       *nonce,
		Settlement:  settlement,
		KnownPCRs:   knownPCRs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Settlement Attestation Validator")
	fmt.Println()
	fmt.Println("Checks that an enclave-attested settlement names the expected winner and")
	fmt.Println("amount, that its payouts add up, and that it came from a known enclave image.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  settlement-validator --response <json> --token <id> --winner <address> --amount <units> [options]")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --nonce <string>                  Nonce sent with the end request")
	fmt.Println("  --pcrs <path>                     Known PCR sets (default: pcrs.json)")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readJSONInput(input string) ([]byte, error) {
	if data, err := os.ReadFile(input); err == nil {
		return data, nil
	}
	return []byte(input), nil
}

func extractAttestation(raw []byte) (enclaveapi.AttestationCOSEBase64, *enclaveapi.Settlement, error) {
	var resp enclaveapi.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", nil, fmt.Errorf("parse response: %w", err)
	}
	if !resp.Success {
		return "", nil, fmt.Errorf("response reports failure: %s", resp.Message)
	}
	if resp.Attestation == "" {
		return "", nil, fmt.Errorf("response carries no attestation")
	}
	return resp.Attestation, resp.Settlement, nil
}

func outputText(result *validation.SettlementValidationResult) {
	fmt.Println("Settlement Attestation Validator")
	fmt.Println("================================")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  PCRs Valid:              %v\n", result.PCRsValid)
	fmt.Printf("  Certificate Valid:       %v\n", result.CertificateValid)
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Token Match:             %v\n", result.TokenMatch)
	fmt.Printf("  Winner Match:            %v\n", result.WinnerMatch)
	fmt.Printf("  Amount Match:            %v\n", result.AmountMatch)
	fmt.Printf("  Payouts Balanced:        %v\n", result.PayoutsBalanced)
	fmt.Printf("  Nonce Match:             %v\n", result.NonceMatch)
	fmt.Printf("  Settlement Hash Valid:   %v\n", result.HashValid)

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
	}
}

func outputJSON(result *validation.SettlementValidationResult) {
	output := map[string]any{
		"valid":             result.IsValid(),
		"pcrs_valid":        result.PCRsValid,
		"certificate_valid": result.CertificateValid,
		"signature_valid":   result.SignatureValid,
		"token_match":       result.TokenMatch,
		"winner_match":      result.WinnerMatch,
		"amount_match":      result.AmountMatch,
		"payouts_balanced":  result.PayoutsBalanced,
		"nonce_match":       result.NonceMatch,
		"hash_valid":        result.HashValid,
		"details":           result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
