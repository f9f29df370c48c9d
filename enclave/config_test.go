package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/reserveauction/engine"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfigYAML))
	check.NoError(t, err)

	check.Equal(t, uint32(5005), cfg.Port)
	check.Equal(t, common.HexToAddress("0xe5"), cfg.Engine.EscrowAddress)
	check.Equal(t, common.HexToAddress("0xad"), cfg.Engine.RecoveryAddress)
	check.Equal(t, 20*time.Millisecond, cfg.Engine.Allowance)
	check.Equal(t, "50", cfg.CreatorShare.String())
	check.Equal(t, 2, len(cfg.Accounts))
	check.Equal(t, units("10").String(), cfg.Accounts[0].Balance.String())

	check.Equal(t, 2, len(cfg.Tokens))
	check.Nil(t, cfg.Tokens[0].CreatorShare)
	check.NotNil(t, cfg.Tokens[1].CreatorShare)
	check.Equal(t, "33", cfg.Tokens[1].CreatorShare.String())

	// Fields left out keep their defaults.
	defaults := engine.DefaultConfig()
	check.Equal(t, defaults.TimeBuffer, cfg.Engine.TimeBuffer)
	check.Equal(t, defaults.MinBidIncrement.String(), cfg.Engine.MinBidIncrement.String())
}

func TestParseConfig_Invalid(t *testing.T) {
	const engineBlock = `
engine:
  escrow_address: "0x00000000000000000000000000000000000000e5"
  recovery_address: "0x00000000000000000000000000000000000000ad"
`
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"malformed", "port: [", "failed to parse config"},
		{"missing escrow", "wrap_reserve: \"0x00000000000000000000000000000000000000ff\"\n", "invalid engine config"},
		{"missing wrap reserve", engineBlock, "wrap_reserve is required"},
		{"wrap reserve is escrow", engineBlock + "wrap_reserve: \"0x00000000000000000000000000000000000000e5\"\n", "must differ"},
		{"share above 100", engineBlock + "wrap_reserve: \"0x00000000000000000000000000000000000000ff\"\ncreator_share_percent: \"101\"\n", "out of range"},
		{"event store without dsn", engineBlock + "wrap_reserve: \"0x00000000000000000000000000000000000000ff\"\nevent_store:\n  driver: postgres\n", "dsn is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			check.Error(t, err)
			check.True(t, strings.Contains(err.Error(), tt.wantErr))
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enclave.yaml")
	check.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))

	cfg, err := LoadConfig(path)
	check.NoError(t, err)
	check.Equal(t, uint32(5005), cfg.Port)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	check.Error(t, err)
}
