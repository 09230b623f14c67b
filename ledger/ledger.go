package ledger

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/google/uuid"
)

// Party identifies an external caller. Parties are authenticated upstream;
// the ledger treats them as opaque identity strings.
type Party string

// Controller is a program-level transfer capability for derived accounts.
// An account carrying a controller tag has no private key: transfers out of
// it are only authorized by presenting the matching controller.
type Controller string

// AccountID uniquely identifies a balance account.
type AccountID string

// Account is a balance account denominated in the smallest currency unit.
type Account struct {
	ID         AccountID
	Owner      Party
	Controller Controller
	Balance    uint64
	Version    uint64
}

// Controlled reports whether the account is program-controlled.
func (a *Account) Controlled() bool {
	return a.Controller != ""
}

var (
	ErrAccountNotFound   = errors.New("ledger: account not found")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrUnauthorized      = errors.New("ledger: transfer not authorized")
	ErrSameAccount       = errors.New("ledger: transfer to same account")
	ErrNumericalOverflow = errors.New("ledger: numerical overflow")
)

// Authorization proves the right to move funds out of an account: either the
// owning party's signature-equivalent or an internal controller capability.
type Authorization struct {
	party      Party
	controller Controller
}

// OwnerAuth authorizes transfers out of accounts owned by party. It never
// authorizes transfers out of program-controlled accounts.
func OwnerAuth(party Party) Authorization {
	return Authorization{party: party}
}

// ControllerAuth authorizes transfers out of accounts carrying the given
// controller tag.
func ControllerAuth(controller Controller) Authorization {
	return Authorization{controller: controller}
}

func (auth Authorization) permits(acct *Account) bool {
	if acct.Controlled() {
		return auth.controller != "" && auth.controller == acct.Controller
	}
	return auth.party != "" && auth.party == acct.Owner
}

// Ledger is an in-memory account registry. All mutations are serialized by a
// single lock, so each transfer or transaction is indivisible with respect to
// every other.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[AccountID]*Account
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[AccountID]*Account)}
}

// CreateAccount registers a new owner-controlled account with an initial
// balance and returns its ID.
func (l *Ledger) CreateAccount(owner Party, initial uint64) AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createLocked(owner, "", initial)
}

// CreateControlledAccount registers a program-controlled account. The owner
// records who funds flowing out of the account belong to; the controller is
// the only capability that can move them.
func (l *Ledger) CreateControlledAccount(owner Party, controller Controller) AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createLocked(owner, controller, 0)
}

func (l *Ledger) createLocked(owner Party, controller Controller, initial uint64) AccountID {
	id := AccountID(uuid.NewString())
	l.accounts[id] = &Account{
		ID:         id,
		Owner:      owner,
		Controller: controller,
		Balance:    initial,
		Version:    1,
	}
	return id
}

// Get returns a copy of the account.
func (l *Ledger) Get(id AccountID) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return *acct, nil
}

// Balance returns the account's current balance.
func (l *Ledger) Balance(id AccountID) (uint64, error) {
	acct, err := l.Get(id)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Transfer moves amount between two accounts as a single indivisible step.
func (l *Ledger) Transfer(from, to AccountID, amount uint64, auth Authorization) error {
	return l.Atomically(func(txn *Txn) error {
		return txn.Transfer(from, to, amount, auth)
	})
}

// MulDiv computes floor(a*b/den) with a 128-bit intermediate, the way all
// proportional amount math in the system is done. It fails instead of
// silently truncating when the quotient does not fit in 64 bits.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrNumericalOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, ErrNumericalOverflow
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}
