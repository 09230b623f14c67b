// Package store persists engine snapshots so a restarted service can restore
// its auctions, bids, settings, and authority.
//
// PostgresStore is the production backend; InMemoryStore backs tests and
// single-process deployments without a database. Ledger balances are not
// persisted here: the ledger is the system of record for money and is
// restored by its own infrastructure.
package store
