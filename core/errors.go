package core

import "errors"

// Categorical failures. Every engine operation that returns one of these
// leaves the registry unchanged.
var (
	ErrNotFound        = errors.New("auction does not exist")
	ErrAlreadyExists   = errors.New("auction already exists")
	ErrExpired         = errors.New("auction expired")
	ErrNotStarted      = errors.New("auction has not started")
	ErrNotComplete     = errors.New("auction has not completed")
	ErrAmountMismatch  = errors.New("sent value does not match bid amount")
	ErrBelowReserve    = errors.New("bid below reserve price")
	ErrBidTooLow       = errors.New("bid must exceed previous bid by the minimum increment")
	ErrInvalidSplit    = errors.New("bid amount is not compatible with the payout split")
	ErrInvalidFee      = errors.New("curator fee percentage must be less than 100")
	ErrInvalidParty    = errors.New("creator and funds recipient must be set")
	ErrNotCreator      = errors.New("caller is not the auction creator")
	ErrAlreadyStarted  = errors.New("auction already started")
	ErrNotAdmin        = errors.New("caller is not the enabled recovery admin")
	ErrInvalidAmount   = errors.New("amount must be a non-negative whole number of base units")
	ErrInvalidDuration = errors.New("duration must be positive")
)
