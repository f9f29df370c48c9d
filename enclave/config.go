package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/reserveauction/engine"
	"github.com/cloudx-io/reserveauction/events"
)

const defaultVsockPort = 5000

// Config is the daemon configuration file.
type Config struct {
	// Port is the vsock port the daemon listens on.
	Port uint32 `yaml:"port"`
	// HTTPListen optionally serves the HTTP API as well, e.g. ":8080".
	HTTPListen string `yaml:"http_listen"`

	Engine engine.Config `yaml:"engine"`

	// WrapReserve backs the fallback asset with native value.
	WrapReserve common.Address `yaml:"wrap_reserve"`
	// CreatorShare is the default creator percentage of post-fee proceeds.
	CreatorShare decimal.Decimal `yaml:"creator_share_percent"`

	JournalPath string            `yaml:"journal_path"`
	EventStore  *events.SQLConfig `yaml:"event_store"`

	Accounts    []Account    `yaml:"accounts"`
	Tokens      []Token      `yaml:"tokens"`
	AccountKeys []AccountKey `yaml:"account_keys"`
}

// Account seeds a native balance.
type Account struct {
	Address common.Address  `yaml:"address"`
	Balance decimal.Decimal `yaml:"balance"`
}

// Token seeds token ownership.
type Token struct {
	ID           uint64           `yaml:"id"`
	Owner        common.Address   `yaml:"owner"`
	CreatorShare *decimal.Decimal `yaml:"creator_share_percent"`
}

// AccountKey registers the key that signs an account's requests and permits.
type AccountKey struct {
	Owner        common.Address `yaml:"owner"`
	PublicKeyPEM string         `yaml:"public_key_pem"`
}

// DefaultConfig returns the configuration used for fields the file leaves out.
func DefaultConfig() Config {
	return Config{
		Port:         defaultVsockPort,
		Engine:       engine.DefaultConfig(),
		CreatorShare: decimal.NewFromInt(100),
	}
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads the file named by path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, err
	}
	log.Printf("INFO: Loaded config from %s (%d accounts, %d tokens, %d account keys)",
		path, len(cfg.Accounts), len(cfg.Tokens), len(cfg.AccountKeys))
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	if c.WrapReserve == (common.Address{}) {
		return errors.New("wrap_reserve is required")
	}
	if c.WrapReserve == c.Engine.EscrowAddress {
		return errors.New("wrap_reserve must differ from the escrow address")
	}
	if c.CreatorShare.IsNegative() || c.CreatorShare.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("creator_share_percent %s out of range", c.CreatorShare)
	}
	if c.EventStore != nil && c.EventStore.DSN == "" {
		return errors.New("event_store.dsn is required when event_store is set")
	}
	return nil
}
