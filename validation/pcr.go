package validation

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cloudx-io/reserveauction/enclaveapi"
)

// LoadPCRsFromFile loads known PCR sets from a JSON file
func LoadPCRsFromFile(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCR config file: %w", err)
	}

	var config PCRConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse PCR config: %w", err)
	}

	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("no PCR sets found in config file")
	}

	return config.PCRSets, nil
}

// ValidatePCRs checks if PCRs match any known valid set.
// Returns the index of the matching set, or -1.
func ValidatePCRs(pcrs enclaveapi.PCRs, knownSets []PCRSet) (bool, int) {
	for i, knownSet := range knownSets {
		if strings.EqualFold(pcrs.ImageFileHash, knownSet.PCR0) &&
			strings.EqualFold(pcrs.KernelHash, knownSet.PCR1) &&
			strings.EqualFold(pcrs.ApplicationHash, knownSet.PCR2) {
			return true, i
		}
	}
	return false, -1
}
