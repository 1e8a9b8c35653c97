//go:build bsmdebug

package bsm

// debugChecks panics when a computed price leaves its no-arbitrage bounds.
// Enable with `go test -tags bsmdebug`.
const debugChecks = true
