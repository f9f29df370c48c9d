package core

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps each token to at most one open auction.
// It is not safe for concurrent use; the owner serialises access.
type Registry struct {
	auctions map[TokenID]*Auction
}

func NewRegistry() *Registry {
	return &Registry{auctions: make(map[TokenID]*Auction)}
}

// Slot returns the state held for id.
func (r *Registry) Slot(id TokenID) Slot {
	return Slot{auction: r.auctions[id]}
}

// Insert stores a new open auction. The slot must be absent.
func (r *Registry) Insert(a *Auction) error {
	if _, ok := r.auctions[a.TokenID]; ok {
		return fmt.Errorf("token %d: %w", a.TokenID, ErrAlreadyExists)
	}
	if a.Creator == (common.Address{}) {
		return fmt.Errorf("token %d: %w", a.TokenID, ErrInvalidParty)
	}
	r.auctions[a.TokenID] = a
	return nil
}

// Remove erases the auction for id and returns it.
func (r *Registry) Remove(id TokenID) (*Auction, error) {
	a, ok := r.auctions[id]
	if !ok {
		return nil, fmt.Errorf("token %d: %w", id, ErrNotFound)
	}
	delete(r.auctions, id)
	return a, nil
}

// Len returns the number of open auctions.
func (r *Registry) Len() int {
	return len(r.auctions)
}

// Snapshot returns copies of all open auctions ordered by token id.
func (r *Registry) Snapshot() []Auction {
	out := make([]Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TokenID < out[j].TokenID
	})
	return out
}
