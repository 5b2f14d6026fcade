// Package id generates the bridge's two kinds of random identifiers:
// the bridge id (lowercase alphanumeric, stable across restarts once
// persisted) and per-batch/per-request ids (default nanoid alphabet).
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// bridgeIDAlphabet matches the charset used for generated bridge ids.
const bridgeIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateBridgeID returns an n-character bridge id using
// bridgeIDAlphabet. Panics on entropy-source failure, matching
// gonanoid's own documented behavior for a non-cryptographic use.
func GenerateBridgeID(n int) string {
	v, err := gonanoid.Generate(bridgeIDAlphabet, n)
	if err != nil {
		panic(fmt.Sprintf("generate bridge id: %v", err))
	}
	return v
}

// New returns a 21-character nanoid from the default URL-safe alphabet,
// suitable for batch ids and other short-lived correlation ids.
func New() string {
	v, err := gonanoid.New()
	if err != nil {
		panic(fmt.Sprintf("generate id: %v", err))
	}
	return v
}
