package engine

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/events"
)

// Config holds the engine-wide constants.
type Config struct {
	// EscrowAddress is the identity that holds tokens and value in escrow.
	EscrowAddress common.Address `yaml:"escrow_address" json:"escrow_address"`
	// RecoveryAddress may recover escrowed tokens and value until recovery is disabled.
	RecoveryAddress common.Address `yaml:"recovery_address" json:"recovery_address"`
	// MinBidIncrement is an absolute amount in base units.
	MinBidIncrement decimal.Decimal `yaml:"min_bid_increment" json:"min_bid_increment"`
	// TimeBuffer is the anti-snipe window and extension length.
	TimeBuffer time.Duration `yaml:"time_buffer" json:"time_buffer"`
	// Allowance bounds how long a recipient may take to accept a direct payment.
	Allowance time.Duration `yaml:"payment_allowance" json:"payment_allowance"`
}

// DefaultConfig returns the canonical constants: 0.01 unit increment,
// 15 minute buffer and a 50ms payment allowance.
func DefaultConfig() Config {
	return Config{
		MinBidIncrement: decimal.New(1, 16),
		TimeBuffer:      15 * time.Minute,
		Allowance:       50 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.EscrowAddress == (common.Address{}) {
		return errors.New("escrow address is required")
	}
	if c.RecoveryAddress == (common.Address{}) {
		return errors.New("recovery address is required")
	}
	if err := core.ValidateAmount(c.MinBidIncrement); err != nil {
		return fmt.Errorf("min bid increment: %w", err)
	}
	if c.TimeBuffer <= 0 {
		return errors.New("time buffer must be positive")
	}
	if c.Allowance <= 0 {
		return errors.New("payment allowance must be positive")
	}
	return nil
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Tokens   TokenCustodian
	Oracle   SplitOracle
	Treasury Treasury
	Fallback FallbackAsset
	Sink     events.Sink
	Clock    Clock
}

// Engine runs reserve auctions over escrowed tokens.
//
// Record mutations are serialised by mu. Payments happen after the owning
// operation has finished mutating records and released mu, so a recipient that
// calls back into the engine sees the post-operation state.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	registry *core.Registry

	tokens     TokenCustodian
	oracle     SplitOracle
	treasury   Treasury
	transferor *ValueTransferor
	recovery   *RecoveryGuard
	sink       events.Sink
	clock      Clock
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if deps.Tokens == nil || deps.Oracle == nil || deps.Treasury == nil || deps.Fallback == nil {
		return nil, errors.New("token custodian, split oracle, treasury and fallback asset are required")
	}
	if deps.Sink == nil {
		deps.Sink = events.Discard
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}

	e := &Engine{
		cfg:      cfg,
		registry: core.NewRegistry(),
		tokens:   deps.Tokens,
		oracle:   deps.Oracle,
		treasury: deps.Treasury,
		recovery: NewRecoveryGuard(cfg.RecoveryAddress),
		sink:     deps.Sink,
		clock:    deps.Clock,
	}
	e.transferor = NewValueTransferor(deps.Treasury, deps.Fallback, cfg.Allowance, deps.Sink, deps.Clock)

	log.Printf("INFO: Auction engine initialized (escrow=%s, recovery=%s, increment=%s, buffer=%s)",
		cfg.EscrowAddress.Hex(), cfg.RecoveryAddress.Hex(), cfg.MinBidIncrement, cfg.TimeBuffer)
	return e, nil
}

// Config returns the engine constants.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) rules() core.BidRules {
	return core.BidRules{
		MinBidIncrement: e.cfg.MinBidIncrement,
		TimeBuffer:      e.cfg.TimeBuffer,
	}
}

// Auction returns a copy of the open auction for tokenID.
func (e *Engine) Auction(tokenID core.TokenID) (core.Auction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.registry.Slot(tokenID).Open()
	if !ok {
		return core.Auction{}, false
	}
	return *a, true
}

// Auctions returns copies of every open auction ordered by token id.
func (e *Engine) Auctions() []core.Auction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Snapshot()
}

// RecoveryEnabled reports whether the recovery admin can still act.
func (e *Engine) RecoveryEnabled() bool {
	return e.recovery.Enabled()
}

func (e *Engine) emit(ev events.Event) {
	e.sink.Emit(ev)
}
