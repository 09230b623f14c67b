package engine

import (
	"time"

	"github.com/gavelnet/gavel/ledger"
)

// EventType names an engine event.
type EventType string

const (
	EventAuctionStarted   EventType = "auction_started"
	EventBidPlaced        EventType = "bid_placed"
	EventBidWithdrawn     EventType = "bid_withdrawn"
	EventAuctionEnded     EventType = "auction_ended"
	EventAssetClaimed     EventType = "asset_claimed"
	EventProceedsRedeemed EventType = "proceeds_redeemed"
)

// Event is published after each committed operation. Seq is assigned by the
// sink.
type Event struct {
	Seq     uint64       `json:"seq,omitempty"`
	Type    EventType    `json:"type"`
	Auction AuctionID    `json:"auction"`
	Bidder  ledger.Party `json:"bidder,omitempty"`
	Amount  uint64       `json:"amount,omitempty"`
	EndTime time.Time    `json:"end_time,omitempty"`
	At      time.Time    `json:"at"`
}

// Sink receives engine events. Publish must not block; slow consumers are the
// sink's problem.
type Sink interface {
	Publish(Event)
}

// Snapshotter persists committed engine state. The engine writes through
// after every operation and treats persistence errors as non-fatal.
type Snapshotter interface {
	SaveAuthority(Authority) error
	SaveSettings(Settings) error
	SaveAuction(Auction) error
	SaveBid(Bid) error
	DeleteBid(auction AuctionID, bidder ledger.Party) error
}

func (e *Engine) publish(ev Event) {
	if e.sink == nil {
		return
	}
	ev.At = e.now()
	e.sink.Publish(ev)
}

func (e *Engine) persistAuction(a *Auction) {
	if e.snap == nil {
		return
	}
	if err := e.snap.SaveAuction(*a); err != nil {
		e.log.Error("persisting auction", "auction", a.ID, "err", err)
	}
}

func (e *Engine) persistBid(b *Bid) {
	if e.snap == nil {
		return
	}
	if err := e.snap.SaveBid(*b); err != nil {
		e.log.Error("persisting bid", "auction", b.Auction, "bidder", b.Bidder, "err", err)
	}
}

func (e *Engine) persistBidDeletion(auction AuctionID, bidder ledger.Party) {
	if e.snap == nil {
		return
	}
	if err := e.snap.DeleteBid(auction, bidder); err != nil {
		e.log.Error("deleting bid snapshot", "auction", auction, "bidder", bidder, "err", err)
	}
}
