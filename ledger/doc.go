// Package ledger implements the account-based token ledger the auction
// engine settles against.
//
// Balances live in accounts that are either owner-controlled (spendable by
// the party that owns them) or program-controlled (carrying an opaque
// controller tag with no external key; only a holder of the matching
// controller capability can move funds out). Every successful transfer bumps
// the version of both touched accounts, so readers can detect concurrent
// modification.
//
// Multi-step money movements run through Atomically, which applies either
// every staged transfer or none of them. No caller ever observes a
// partially applied transaction.
package ledger
