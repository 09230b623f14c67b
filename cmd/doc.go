// Package cmd provides CLI commands for the gavel auction service.
//
// # Commands
//
// gaveld: Runs the auction service. Hosts the engine, the account ledger, the
// reference token vault, a REST API and a websocket event feed.
//
//	go run ./cmd/gaveld --addr=:8080 --authority=ops
//	go run ./cmd/gaveld --config=gaveld.yaml --postgres="host=localhost ..."
//
// Passing --dev (or setting enable_dev_api) additionally mounts /dev routes
// for minting funded accounts and vaults, so a local deployment can run
// auctions end-to-end. Never enable it on a public listener.
//
// gavelctl: CLI for interacting with a running gaveld service.
//
//	go run ./cmd/gavelctl status -s http://localhost:8080
//	go run ./cmd/gavelctl bid -a <auction> --bidder=alice --account=<id> --amount=150
//	go run ./cmd/gavelctl watch
//
// # Configuration
//
// gaveld supports a YAML configuration file via the --config flag.
// Command-line flags override config file values.
//
// Example config:
//
//	listen_addr: ":8080"
//	postgres_dsn: ""
//	authority_owner: "ops"
//	enable_dev_api: false
//	pricing:
//	  reserve_price: 0
//	settings:
//	  duration: 24h
//	  soft_close_period: 10m
//	  bid_increment: 1
//	  facilitator_fee_rate: 0
package cmd
