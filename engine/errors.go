package engine

import "errors"

// Admission errors: the request is rejected with no state change and may be
// retried with corrected parameters.
var (
	ErrAlreadyStarted        = errors.New("engine: auction already exists for this vault")
	ErrBidTooLow             = errors.New("engine: bid not sufficiently larger than the current top bid")
	ErrBidAlreadyExists      = errors.New("engine: bidder already has a live bid; withdraw it first")
	ErrInsufficientFunds     = errors.New("engine: payment account does not hold the bid amount")
	ErrInvalidFacilitatorFee = errors.New("engine: facilitator fee rate out of range")
	ErrVersionConflict       = errors.New("engine: auction state changed since it was observed")
)

// Lifecycle errors: recoverable by waiting or re-checking state.
var (
	ErrAuctionEnded    = errors.New("engine: auction has already ended")
	ErrAuctionNotEnded = errors.New("engine: auction has not yet ended")
	ErrNotYetEndable   = errors.New("engine: auction end time has not been reached")
	ErrAlreadyClaimed  = errors.New("engine: asset has already been claimed")
	ErrNothingToRedeem = errors.New("engine: caller holds no fractional claim")
)

// Authorization errors: never recoverable by retry.
var (
	ErrNotWinner             = errors.New("engine: only the auction winner can claim")
	ErrTopBidNotWithdrawable = errors.New("engine: top bid cannot be withdrawn")
	ErrNotAuthority          = errors.New("engine: caller is not the auction authority")
	ErrUnauthorized          = errors.New("engine: account not owned by caller")
	ErrAlreadyInitialized    = errors.New("engine: authority already bootstrapped")
)

// Not-found errors.
var (
	ErrAuctionNotFound  = errors.New("engine: auction not found")
	ErrBidNotFound      = errors.New("engine: bid not found")
	ErrSettingsNotFound = errors.New("engine: settings not found")
	ErrNoAuthority      = errors.New("engine: authority not bootstrapped")
)
