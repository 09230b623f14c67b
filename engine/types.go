package engine

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/gavelnet/gavel/custody"
	"github.com/gavelnet/gavel/ledger"
)

// MaxFacilitatorFeeRate is the denominator of the facilitator fee rate: a
// rate of 1_000_000_000 retains the entire proceeds. Fee math is
// floor(topAmount * rate / MaxFacilitatorFeeRate).
const MaxFacilitatorFeeRate uint64 = 1_000_000_000

// SettingsID identifies an immutable settings record.
type SettingsID string

// AuctionID identifies an auction. It is derived deterministically from the
// vault, so at most one auction can ever exist per vault.
type AuctionID string

// DeriveAuctionID returns the deterministic key for the auction of a vault.
func DeriveAuctionID(vault custody.VaultID) AuctionID {
	sum := sha3.Sum256([]byte("gavel/auction/" + vault))
	return AuctionID(hex.EncodeToString(sum[:]))
}

// deriveTreasuryController is the internal-only capability that moves funds
// out of an auction's payment treasury.
func deriveTreasuryController(id AuctionID) ledger.Controller {
	sum := sha3.Sum256([]byte("gavel/treasury/" + id))
	return ledger.Controller(hex.EncodeToString(sum[:]))
}

// deriveEscrowController is the internal-only capability that moves funds out
// of a bidder's escrow account.
func deriveEscrowController(id AuctionID, bidder ledger.Party) ledger.Controller {
	sum := sha3.Sum256([]byte("gavel/escrow/" + string(id) + "/" + string(bidder)))
	return ledger.Controller(hex.EncodeToString(sum[:]))
}

// minimumStartingBid returns the smallest opening bid that keeps the treasury
// solvent through settlement: after the facilitator fee is taken from the top
// bid, the remainder must still cover the vault's reserve price. Fails when
// the fee rate retains everything.
func minimumStartingBid(reservePrice, feeRate uint64) (uint64, error) {
	return ledger.MulDiv(reservePrice, MaxFacilitatorFeeRate, MaxFacilitatorFeeRate-feeRate)
}

// Settings is an immutable auction configuration template. It is created once
// by the authority and may be referenced by many auctions.
type Settings struct {
	ID                 SettingsID    `json:"id"`
	Duration           time.Duration `json:"duration"`
	SoftClosePeriod    time.Duration `json:"soft_close_period"`
	BidIncrement       uint64        `json:"bid_increment"`
	FacilitatorFeeRate uint64        `json:"facilitator_fee_rate"`
}

// Authority is the singleton capability record identifying who may create
// settings and force lifecycle transitions.
type Authority struct {
	Owner ledger.Party `json:"owner"`
}

// State is the auction lifecycle state.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateEnded
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Auction is one live auction instance. While State == StateStarted the
// payment treasury balance equals TopAmount at every operation boundary.
type Auction struct {
	ID       AuctionID       `json:"id"`
	Vault    custody.VaultID `json:"vault"`
	Settings SettingsID      `json:"settings"`

	Treasury ledger.AccountID `json:"treasury"`

	TopBidder ledger.Party `json:"top_bidder"`
	TopAmount uint64       `json:"top_amount"`

	// ReservePrice is the amount the combine drew from the starter into the
	// vault's reserve treasury when the auction opened.
	ReservePrice uint64 `json:"reserve_price"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	State        State `json:"state"`
	AssetClaimed bool  `json:"asset_claimed"`

	// Version increments on every mutation and backs the compare-and-swap
	// check of PlaceBid.
	Version uint64 `json:"version"`
}

// Bid tracks one bidder's stake in one auction. The top bidder's stake lives
// in the payment treasury and their escrow holds zero; once outbid, the
// escrow holds exactly Amount until withdrawn.
type Bid struct {
	Auction  AuctionID        `json:"auction"`
	Bidder   ledger.Party     `json:"bidder"`
	Amount   uint64           `json:"amount"`
	Escrow   ledger.AccountID `json:"escrow"`
	PlacedAt time.Time        `json:"placed_at"`
}

// StartRequest opens an auction for a vault.
type StartRequest struct {
	Vault          custody.VaultID
	Settings       SettingsID
	Starter        ledger.Party
	PaymentAccount ledger.AccountID
	Amount         uint64
}

// PlaceBidRequest submits a competing bid. ObservedVersion, when non-zero, is
// the auction version the bidder based their amount on; a mismatch fails with
// ErrVersionConflict and the caller retries with fresh state.
type PlaceBidRequest struct {
	Auction         AuctionID
	Bidder          ledger.Party
	PaymentAccount  ledger.AccountID
	Amount          uint64
	ObservedVersion uint64
}

// WithdrawBidRequest refunds an outbid bidder's escrowed stake.
type WithdrawBidRequest struct {
	Auction     AuctionID
	Bidder      ledger.Party
	Destination ledger.AccountID
}

// EndRequest closes an auction, paying the facilitator fee.
type EndRequest struct {
	Auction        AuctionID
	Caller         ledger.Party
	FeeDestination ledger.AccountID
}

// ClaimRequest delivers the auctioned asset to the winner.
type ClaimRequest struct {
	Auction     AuctionID
	Caller      ledger.Party
	Destination string
}

// RedeemRequest exchanges a fractional claim for its share of the proceeds.
type RedeemRequest struct {
	Auction     AuctionID
	Caller      ledger.Party
	Destination ledger.AccountID
}

// Redemption reports where a redeemed payout came from. FromTreasury plus
// FromReserve is exactly the amount delivered to the destination.
type Redemption struct {
	FromTreasury uint64 `json:"from_treasury"`
	FromReserve  uint64 `json:"from_reserve"`
}

// Total returns the full amount delivered.
func (r Redemption) Total() uint64 {
	return r.FromTreasury + r.FromReserve
}
