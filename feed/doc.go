// Package feed broadcasts auction engine events to websocket subscribers.
//
// The hub implements engine.Sink. Publishing never blocks the engine: events
// are fanned out through buffered per-subscriber channels and subscribers too
// slow to keep up are evicted. Every event carries a monotonically increasing
// sequence number so clients can detect gaps.
package feed
