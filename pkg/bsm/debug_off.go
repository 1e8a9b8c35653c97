//go:build !bsmdebug

package bsm

const debugChecks = false
