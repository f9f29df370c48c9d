package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/cloudx-io/reserveauction/core"
	"github.com/cloudx-io/reserveauction/custody"
	"github.com/cloudx-io/reserveauction/engine"
	"github.com/cloudx-io/reserveauction/events"
)

const broadcastBuffer = 64

// Node is an engine wired to the in-memory custody collaborators and event sinks.
type Node struct {
	Engine  *engine.Engine
	Tokens  *custody.TokenLedger
	Bank    *custody.Bank
	Wrapped *custody.WrappedValue
	Oracle  *custody.ShareOracle
	Feed    *events.Broadcaster
	// History serves stored events: the SQL store when configured, else the journal.
	History events.Store

	closers []io.Closer
}

// NewNode seeds custody from cfg and opens the configured event sinks.
func NewNode(cfg Config, clock engine.Clock) (*Node, error) {
	escrow := cfg.Engine.EscrowAddress

	n := &Node{
		Tokens: custody.NewTokenLedger(escrow),
		Bank:   custody.NewBank(escrow),
		Oracle: custody.NewShareOracle(cfg.CreatorShare),
		Feed:   events.NewBroadcaster(broadcastBuffer),
	}
	n.Wrapped = custody.NewWrappedValue(n.Bank, escrow, cfg.WrapReserve)

	for _, acct := range cfg.Accounts {
		if err := core.ValidateAmount(acct.Balance); err != nil {
			return nil, fmt.Errorf("balance for %s: %w", acct.Address.Hex(), err)
		}
		n.Bank.Deposit(acct.Address, acct.Balance)
	}
	for _, tok := range cfg.Tokens {
		id := core.TokenID(tok.ID)
		n.Tokens.Assign(id, tok.Owner)
		if tok.CreatorShare != nil {
			if err := n.Oracle.SetCreatorShare(id, *tok.CreatorShare); err != nil {
				return nil, fmt.Errorf("token %d: %w", tok.ID, err)
			}
		}
	}
	if err := registerAccountKeys(n.Tokens, cfg.AccountKeys); err != nil {
		return nil, err
	}

	sinks := events.Multi{n.Feed}
	if cfg.JournalPath != "" {
		f, err := os.OpenFile(cfg.JournalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open event journal: %w", err)
		}
		n.closers = append(n.closers, f)
		sinks = append(sinks, events.NewJournal(f))
		n.History = events.JournalFile{Path: cfg.JournalPath}
		log.Printf("INFO: Appending events to journal %s", cfg.JournalPath)
	}
	if cfg.EventStore != nil {
		store, err := events.OpenSQLSink(*cfg.EventStore)
		if err != nil {
			_ = n.Close()
			return nil, fmt.Errorf("failed to open event store: %w", err)
		}
		n.closers = append(n.closers, store)
		sinks = append(sinks, store)
		n.History = store
	}

	e, err := engine.New(cfg.Engine, engine.Deps{
		Tokens:   n.Tokens,
		Oracle:   n.Oracle,
		Treasury: n.Bank,
		Fallback: n.Wrapped,
		Sink:     sinks,
		Clock:    clock,
	})
	if err != nil {
		_ = n.Close()
		return nil, err
	}
	n.Engine = e
	return n, nil
}

// Close releases the journal file and event store.
func (n *Node) Close() error {
	var errs []error
	for _, c := range n.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}
