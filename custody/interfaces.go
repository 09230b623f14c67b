package custody

import (
	"context"
	"errors"

	"github.com/gavelnet/gavel/ledger"
)

// VaultID identifies an asset vault.
type VaultID string

// AssetCustodian is the narrow surface the auction engine consumes from the
// vault. Implementations must be safe for concurrent use.
type AssetCustodian interface {
	// ReserveQuote returns the reserve price that combining the vault will
	// draw from the starter's payment account.
	ReserveQuote(ctx context.Context, vault VaultID) (uint64, error)

	// CombineVault locks the vault for auction on behalf of the auction
	// authority and draws the reserve price from the payment account into
	// the vault's reserve treasury, returning the amount drawn. Called
	// exactly once, when an auction starts. The vault must have been
	// configured as combinable by its price source.
	CombineVault(ctx context.Context, vault VaultID, authority ledger.Party, payment ledger.AccountID, payer ledger.Party) (uint64, error)

	// DeliverAsset moves the auctioned asset out of vault custody to the
	// destination. Called by the winner's claim after the auction ends.
	DeliverAsset(ctx context.Context, vault VaultID, destination string) error

	// FractionClaim returns the holder's fractional claim units and the
	// outstanding fraction supply. A zero unit count means the holder has
	// nothing to redeem.
	FractionClaim(ctx context.Context, vault VaultID, holder ledger.Party) (units, supply uint64, err error)

	// RedeemReserve retires the holder's fractional claim and pays out their
	// proportional share of the vault's reserve treasury to the destination
	// account. It returns the amount sourced from the reserve.
	RedeemReserve(ctx context.Context, vault VaultID, holder ledger.Party, destination ledger.AccountID) (uint64, error)
}

// PriceSource supplies the reserve valuation used to configure a vault prior
// to auction start. The second return reports whether the vault is currently
// allowed to be combined.
type PriceSource interface {
	ReservePrice(ctx context.Context, vault VaultID) (price uint64, combinable bool, err error)
}

// FixedPriceSource returns the same valuation for every vault. Useful for
// tests and single-asset deployments.
type FixedPriceSource struct {
	Price      uint64
	Combinable bool
}

// ReservePrice implements PriceSource.
func (s FixedPriceSource) ReservePrice(context.Context, VaultID) (uint64, bool, error) {
	return s.Price, s.Combinable, nil
}

var (
	ErrVaultNotFound       = errors.New("custody: vault not found")
	ErrVaultNotCombinable  = errors.New("custody: vault not currently allowed to be combined")
	ErrVaultNotActive      = errors.New("custody: vault not in active state")
	ErrVaultNotCombined    = errors.New("custody: vault has not been combined")
	ErrWrongVaultAuthority = errors.New("custody: vault not owned by auction authority")
	ErrAssetAlreadyMoved   = errors.New("custody: asset already delivered")
	ErrNoFractionClaim     = errors.New("custody: holder has no fractional claim")
)
