package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Txn stages account creations and transfers against a snapshot of the
// ledger. Nothing a Txn does is visible until the enclosing Atomically call
// returns nil; on error every staged change is discarded.
type Txn struct {
	ledger   *Ledger
	balances map[AccountID]uint64
	created  map[AccountID]*Account
	touched  map[AccountID]struct{}
}

// Atomically runs fn against a transaction and commits its staged changes if
// and only if fn returns nil. The ledger lock is held for the duration, so
// concurrent operations are totally ordered and never observe intermediate
// state.
func (l *Ledger) Atomically(fn func(*Txn) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	txn := &Txn{
		ledger:   l,
		balances: make(map[AccountID]uint64),
		created:  make(map[AccountID]*Account),
		touched:  make(map[AccountID]struct{}),
	}
	if err := fn(txn); err != nil {
		return err
	}
	txn.commit()
	return nil
}

func (t *Txn) lookup(id AccountID) (*Account, error) {
	if acct, ok := t.created[id]; ok {
		return acct, nil
	}
	if acct, ok := t.ledger.accounts[id]; ok {
		return acct, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

func (t *Txn) balance(id AccountID) (uint64, error) {
	if bal, ok := t.balances[id]; ok {
		return bal, nil
	}
	acct, err := t.lookup(id)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// CreateControlledAccount stages a new program-controlled account. The
// account only materializes if the transaction commits.
func (t *Txn) CreateControlledAccount(owner Party, controller Controller) AccountID {
	acct := &Account{
		ID:         AccountID(uuid.NewString()),
		Owner:      owner,
		Controller: controller,
		Version:    1,
	}
	t.created[acct.ID] = acct
	return acct.ID
}

// Transfer stages a movement of amount from one account to another, checking
// authorization and funds against the staged view.
func (t *Txn) Transfer(from, to AccountID, amount uint64, auth Authorization) error {
	if from == to {
		return ErrSameAccount
	}
	src, err := t.lookup(from)
	if err != nil {
		return err
	}
	if _, err := t.lookup(to); err != nil {
		return err
	}
	if !auth.permits(src) {
		return fmt.Errorf("%w: account %s", ErrUnauthorized, from)
	}
	srcBal, err := t.balance(from)
	if err != nil {
		return err
	}
	if srcBal < amount {
		return fmt.Errorf("%w: account %s has %d, need %d", ErrInsufficientFunds, from, srcBal, amount)
	}
	dstBal, err := t.balance(to)
	if err != nil {
		return err
	}
	t.balances[from] = srcBal - amount
	t.balances[to] = dstBal + amount
	t.touched[from] = struct{}{}
	t.touched[to] = struct{}{}
	return nil
}

// Balance returns the staged balance of an account.
func (t *Txn) Balance(id AccountID) (uint64, error) {
	return t.balance(id)
}

func (t *Txn) commit() {
	for id, acct := range t.created {
		t.ledger.accounts[id] = acct
	}
	for id, bal := range t.balances {
		t.ledger.accounts[id].Balance = bal
	}
	for id := range t.touched {
		t.ledger.accounts[id].Version++
	}
}
