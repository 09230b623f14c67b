package server

import (
	"time"

	"github.com/gavelnet/gavel/engine"
	"github.com/gavelnet/gavel/ledger"
)

// StartAuctionRequest opens an auction for a vault.
type StartAuctionRequest struct {
	Vault          string `json:"vault"`
	Settings       string `json:"settings"`
	Starter        string `json:"starter"`
	PaymentAccount string `json:"payment_account"`
	Amount         uint64 `json:"amount"`
}

// PlaceBidRequest submits a competing bid.
type PlaceBidRequest struct {
	Bidder          string `json:"bidder"`
	PaymentAccount  string `json:"payment_account"`
	Amount          uint64 `json:"amount"`
	ObservedVersion uint64 `json:"observed_version,omitempty"`
}

// WithdrawBidRequest refunds an outbid bidder.
type WithdrawBidRequest struct {
	Bidder      string `json:"bidder"`
	Destination string `json:"destination"`
}

// EndAuctionRequest closes an auction. Authority only.
type EndAuctionRequest struct {
	Caller         string `json:"caller"`
	FeeDestination string `json:"fee_destination"`
}

// ClaimRequest delivers the auctioned asset to the winner.
type ClaimRequest struct {
	Caller      string `json:"caller"`
	Destination string `json:"destination"`
}

// RedeemRequest exchanges a fractional claim for proceeds.
type RedeemRequest struct {
	Caller      string `json:"caller"`
	Destination string `json:"destination"`
}

// CreateSettingsRequest registers an immutable settings template.
type CreateSettingsRequest struct {
	Caller             string        `json:"caller"`
	Duration           time.Duration `json:"duration"`
	SoftClosePeriod    time.Duration `json:"soft_close_period"`
	BidIncrement       uint64        `json:"bid_increment"`
	FacilitatorFeeRate uint64        `json:"facilitator_fee_rate"`
}

// AuctionResponse is the public view of an auction record.
type AuctionResponse struct {
	ID           string    `json:"id"`
	Vault        string    `json:"vault"`
	Settings     string    `json:"settings"`
	TopBidder    string    `json:"top_bidder"`
	TopAmount    uint64    `json:"top_amount"`
	ReservePrice uint64    `json:"reserve_price"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	State        string    `json:"state"`
	AssetClaimed bool      `json:"asset_claimed"`
	Version      uint64    `json:"version"`
}

func auctionResponse(a engine.Auction) AuctionResponse {
	return AuctionResponse{
		ID:           string(a.ID),
		Vault:        string(a.Vault),
		Settings:     string(a.Settings),
		TopBidder:    string(a.TopBidder),
		TopAmount:    a.TopAmount,
		ReservePrice: a.ReservePrice,
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		State:        a.State.String(),
		AssetClaimed: a.AssetClaimed,
		Version:      a.Version,
	}
}

// BidResponse is the public view of a live bid.
type BidResponse struct {
	Auction  string    `json:"auction"`
	Bidder   string    `json:"bidder"`
	Amount   uint64    `json:"amount"`
	Escrow   string    `json:"escrow"`
	PlacedAt time.Time `json:"placed_at"`
}

func bidResponse(b engine.Bid) BidResponse {
	return BidResponse{
		Auction:  string(b.Auction),
		Bidder:   string(b.Bidder),
		Amount:   b.Amount,
		Escrow:   string(b.Escrow),
		PlacedAt: b.PlacedAt,
	}
}

// WithdrawResponse reports the refunded amount.
type WithdrawResponse struct {
	Refund uint64 `json:"refund"`
}

// EndResponse reports the facilitator fee taken.
type EndResponse struct {
	Fee uint64 `json:"fee"`
}

// RedeemResponse reports where the payout came from.
type RedeemResponse struct {
	FromTreasury uint64 `json:"from_treasury"`
	FromReserve  uint64 `json:"from_reserve"`
	Total        uint64 `json:"total"`
}

// ErrorResponse carries a machine-readable failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

func party(s string) ledger.Party {
	return ledger.Party(s)
}
