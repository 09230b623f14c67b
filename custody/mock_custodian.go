package custody

import (
	"context"
	"sync"

	"github.com/gavelnet/gavel/ledger"
)

// MockCustodian implements AssetCustodian for testing purposes. Behavior is
// customized by setting the function fields; calls are counted so tests can
// assert exactly-once delivery.
type MockCustodian struct {
	mu sync.Mutex

	ReserveQuoteFunc  func(ctx context.Context, vault VaultID) (uint64, error)
	CombineFunc       func(ctx context.Context, vault VaultID, authority ledger.Party, payment ledger.AccountID, payer ledger.Party) (uint64, error)
	DeliverFunc       func(ctx context.Context, vault VaultID, destination string) error
	FractionClaimFunc func(ctx context.Context, vault VaultID, holder ledger.Party) (uint64, uint64, error)
	RedeemReserveFunc func(ctx context.Context, vault VaultID, holder ledger.Party, destination ledger.AccountID) (uint64, error)

	CombineCalls int
	DeliverCalls int
	RedeemCalls  int

	LastDestination string
}

// NewMockCustodian creates a mock whose every operation succeeds, quotes a
// zero reserve price, and pays nothing from the reserve.
func NewMockCustodian() *MockCustodian {
	return &MockCustodian{}
}

// ReserveQuote implements AssetCustodian.
func (m *MockCustodian) ReserveQuote(ctx context.Context, vault VaultID) (uint64, error) {
	m.mu.Lock()
	fn := m.ReserveQuoteFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, vault)
	}
	return 0, nil
}

// CombineVault implements AssetCustodian.
func (m *MockCustodian) CombineVault(ctx context.Context, vault VaultID, authority ledger.Party, payment ledger.AccountID, payer ledger.Party) (uint64, error) {
	m.mu.Lock()
	m.CombineCalls++
	fn := m.CombineFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, vault, authority, payment, payer)
	}
	return 0, nil
}

// DeliverAsset implements AssetCustodian.
func (m *MockCustodian) DeliverAsset(ctx context.Context, vault VaultID, destination string) error {
	m.mu.Lock()
	m.DeliverCalls++
	m.LastDestination = destination
	fn := m.DeliverFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, vault, destination)
	}
	return nil
}

// FractionClaim implements AssetCustodian.
func (m *MockCustodian) FractionClaim(ctx context.Context, vault VaultID, holder ledger.Party) (uint64, uint64, error) {
	m.mu.Lock()
	fn := m.FractionClaimFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, vault, holder)
	}
	return 0, 0, nil
}

// RedeemReserve implements AssetCustodian.
func (m *MockCustodian) RedeemReserve(ctx context.Context, vault VaultID, holder ledger.Party, destination ledger.AccountID) (uint64, error) {
	m.mu.Lock()
	m.RedeemCalls++
	fn := m.RedeemReserveFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, vault, holder, destination)
	}
	return 0, nil
}
