// Package custody defines the asset vault collaborator the auction engine
// settles against, and a reference in-memory implementation.
//
// The engine never touches the auctioned asset or the vault's reserve
// treasury directly. It calls through the AssetCustodian interface, which
// keeps the engine testable against MockCustodian and lets a deployment swap
// in a remote vault. The price oracle only appears here as PriceSource: it
// configures the vault's reserve valuation before an auction starts and is
// never consulted by the engine itself.
package custody
