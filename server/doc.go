// Package server exposes the auction engine over HTTP.
//
// Routes are registered on a chi router; engine sentinel errors map onto
// HTTP statuses (admission failures to 400/409, lifecycle failures to 409,
// authorization failures to 403). The live event feed is mounted alongside
// the REST surface at /ws.
package server
