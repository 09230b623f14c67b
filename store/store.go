package store

import (
	"sync"

	"github.com/gavelnet/gavel/engine"
	"github.com/gavelnet/gavel/ledger"
)

// Snapshot is everything a restarted engine needs.
type Snapshot struct {
	Authority *engine.Authority
	Settings  []engine.Settings
	Auctions  []engine.Auction
	Bids      []engine.Bid
}

// Store is the persistence surface the service composes with the engine. It
// is a superset of engine.Snapshotter, adding Load for startup restoration.
type Store interface {
	engine.Snapshotter
	Load() (*Snapshot, error)
	Close() error
}

type bidKey struct {
	auction engine.AuctionID
	bidder  ledger.Party
}

// InMemoryStore implements Store without a database.
type InMemoryStore struct {
	mu        sync.Mutex
	authority *engine.Authority
	settings  map[engine.SettingsID]engine.Settings
	auctions  map[engine.AuctionID]engine.Auction
	bids      map[bidKey]engine.Bid
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		settings: make(map[engine.SettingsID]engine.Settings),
		auctions: make(map[engine.AuctionID]engine.Auction),
		bids:     make(map[bidKey]engine.Bid),
	}
}

// SaveAuthority stores the authority record.
func (s *InMemoryStore) SaveAuthority(a engine.Authority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authority = &a
	return nil
}

// SaveSettings stores a settings record.
func (s *InMemoryStore) SaveSettings(set engine.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[set.ID] = set
	return nil
}

// SaveAuction stores an auction record.
func (s *InMemoryStore) SaveAuction(a engine.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[a.ID] = a
	return nil
}

// SaveBid stores a bid record.
func (s *InMemoryStore) SaveBid(b engine.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids[bidKey{b.Auction, b.Bidder}] = b
	return nil
}

// DeleteBid removes a retired bid.
func (s *InMemoryStore) DeleteBid(auction engine.AuctionID, bidder ledger.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bids, bidKey{auction, bidder})
	return nil
}

// Load returns everything stored so far.
func (s *InMemoryStore) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{}
	if s.authority != nil {
		a := *s.authority
		snap.Authority = &a
	}
	for _, set := range s.settings {
		snap.Settings = append(snap.Settings, set)
	}
	for _, a := range s.auctions {
		snap.Auctions = append(snap.Auctions, a)
	}
	for _, b := range s.bids {
		snap.Bids = append(snap.Bids, b)
	}
	return snap, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
