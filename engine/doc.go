// Package engine implements the escrow-based ascending-price auction engine.
//
// An auction is keyed deterministically by its vault, owns a
// program-controlled payment treasury on the ledger, and moves through
// Created -> Started -> Ended. While an auction is started, the treasury
// balance equals the top bid at the boundary of every operation: placing a
// bid refunds the previous top bidder into their escrow account and pulls the
// full new amount from the new bidder in one atomic ledger transaction.
// Starting an auction combines the vault, which draws its reserve price from
// the starter on top of the opening bid; the opening bid must cover the
// reserve even after the facilitator fee is taken.
//
// Operations are serialized per engine, and auction records carry versions so
// that a bidder racing on stale top-bid state fails cleanly with
// ErrVersionConflict instead of corrupting the treasury. Settlement (claim
// and redeem) calls out to the custody.AssetCustodian collaborator; the
// engine itself never holds the auctioned asset.
package engine
