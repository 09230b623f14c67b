package custody

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/gavelnet/gavel/ledger"
)

// VaultStatus is the lifecycle state of a vault.
type VaultStatus int

const (
	// VaultActive means fractions are outstanding and the asset is locked.
	VaultActive VaultStatus = iota
	// VaultCombined means an auction has taken custody of the vault.
	VaultCombined
)

type vaultState struct {
	authority       ledger.Party
	status          VaultStatus
	assetDelivered  bool
	assetLocation   string
	reserveTreasury ledger.AccountID
	controller      ledger.Controller
	fractions       map[ledger.Party]uint64
	supply          uint64
}

// TokenVault is the reference AssetCustodian: an in-memory vault registry
// whose reserve treasuries are program-controlled ledger accounts. Each vault
// holds a single indivisible asset plus an outstanding fractional supply.
type TokenVault struct {
	lg     *ledger.Ledger
	prices PriceSource

	mu     sync.RWMutex
	vaults map[VaultID]*vaultState
}

// NewTokenVault creates a vault registry settling reserves on lg and taking
// combinability from prices.
func NewTokenVault(lg *ledger.Ledger, prices PriceSource) *TokenVault {
	return &TokenVault{
		lg:     lg,
		prices: prices,
		vaults: make(map[VaultID]*vaultState),
	}
}

// DeriveVaultController returns the program-level transfer capability for a
// vault's reserve treasury. No external key corresponds to it.
func DeriveVaultController(vault VaultID) ledger.Controller {
	sum := sha3.Sum256([]byte("gavel/vault/" + vault))
	return ledger.Controller(hex.EncodeToString(sum[:]))
}

// CreateVault registers a vault owned by the auction authority, with the
// given fractional claim distribution. The outstanding supply is the sum of
// all holdings.
func (v *TokenVault) CreateVault(authority ledger.Party, holdings map[ledger.Party]uint64) VaultID {
	id := VaultID(uuid.NewString())
	controller := DeriveVaultController(id)
	reserve := v.lg.CreateControlledAccount(authority, controller)

	fractions := make(map[ledger.Party]uint64, len(holdings))
	var supply uint64
	for holder, units := range holdings {
		if units == 0 {
			continue
		}
		fractions[holder] = units
		supply += units
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.vaults[id] = &vaultState{
		authority:       authority,
		status:          VaultActive,
		reserveTreasury: reserve,
		controller:      controller,
		fractions:       fractions,
		supply:          supply,
	}
	return id
}

// FundReserve moves amount from a payer's account into the vault's reserve
// treasury. In a full deployment this happens when fractions are sold.
func (v *TokenVault) FundReserve(vault VaultID, from ledger.AccountID, amount uint64, payer ledger.Party) error {
	state, err := v.get(vault)
	if err != nil {
		return err
	}
	return v.lg.Transfer(from, state.reserveTreasury, amount, ledger.OwnerAuth(payer))
}

// ReserveBalance returns the balance of the vault's reserve treasury.
func (v *TokenVault) ReserveBalance(vault VaultID) (uint64, error) {
	state, err := v.get(vault)
	if err != nil {
		return 0, err
	}
	return v.lg.Balance(state.reserveTreasury)
}

func (v *TokenVault) get(vault VaultID) (*vaultState, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	state, ok := v.vaults[vault]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, vault)
	}
	return state, nil
}

// ReserveQuote implements AssetCustodian.
func (v *TokenVault) ReserveQuote(ctx context.Context, vault VaultID) (uint64, error) {
	if _, err := v.get(vault); err != nil {
		return 0, err
	}
	price, _, err := v.prices.ReservePrice(ctx, vault)
	if err != nil {
		return 0, fmt.Errorf("custody: reading price source: %w", err)
	}
	return price, nil
}

// CombineVault implements AssetCustodian. The vault must be active, owned by
// the calling authority, and configured as combinable by the price source.
// The reserve price moves from the payment account into the reserve treasury
// before the vault flips to combined; a failed draw leaves the vault active.
func (v *TokenVault) CombineVault(ctx context.Context, vault VaultID, authority ledger.Party, payment ledger.AccountID, payer ledger.Party) (uint64, error) {
	price, combinable, err := v.prices.ReservePrice(ctx, vault)
	if err != nil {
		return 0, fmt.Errorf("custody: reading price source: %w", err)
	}
	if !combinable {
		return 0, ErrVaultNotCombinable
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	state, ok := v.vaults[vault]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrVaultNotFound, vault)
	}
	if state.authority != authority {
		return 0, ErrWrongVaultAuthority
	}
	if state.status != VaultActive {
		return 0, ErrVaultNotActive
	}
	if price > 0 {
		if err := v.lg.Transfer(payment, state.reserveTreasury, price, ledger.OwnerAuth(payer)); err != nil {
			return 0, err
		}
	}
	state.status = VaultCombined
	return price, nil
}

// DeliverAsset implements AssetCustodian. The asset moves exactly once.
func (v *TokenVault) DeliverAsset(_ context.Context, vault VaultID, destination string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	state, ok := v.vaults[vault]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVaultNotFound, vault)
	}
	if state.status != VaultCombined {
		return ErrVaultNotCombined
	}
	if state.assetDelivered {
		return ErrAssetAlreadyMoved
	}
	state.assetDelivered = true
	state.assetLocation = destination
	return nil
}

// AssetLocation reports where the asset was delivered, if it has been.
func (v *TokenVault) AssetLocation(vault VaultID) (string, bool, error) {
	state, err := v.get(vault)
	if err != nil {
		return "", false, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return state.assetLocation, state.assetDelivered, nil
}

// FractionClaim implements AssetCustodian.
func (v *TokenVault) FractionClaim(_ context.Context, vault VaultID, holder ledger.Party) (uint64, uint64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	state, ok := v.vaults[vault]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrVaultNotFound, vault)
	}
	return state.fractions[holder], state.supply, nil
}

// RedeemReserve implements AssetCustodian. It pays the holder's proportional
// share of the reserve treasury to the destination and retires their claim.
func (v *TokenVault) RedeemReserve(_ context.Context, vault VaultID, holder ledger.Party, destination ledger.AccountID) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	state, ok := v.vaults[vault]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrVaultNotFound, vault)
	}
	units := state.fractions[holder]
	if units == 0 {
		return 0, ErrNoFractionClaim
	}

	reserveBal, err := v.lg.Balance(state.reserveTreasury)
	if err != nil {
		return 0, err
	}
	share, err := ledger.MulDiv(reserveBal, units, state.supply)
	if err != nil {
		return 0, err
	}
	if share > 0 {
		if err := v.lg.Transfer(state.reserveTreasury, destination, share, ledger.ControllerAuth(state.controller)); err != nil {
			return 0, err
		}
	}

	delete(state.fractions, holder)
	state.supply -= units
	return share, nil
}
