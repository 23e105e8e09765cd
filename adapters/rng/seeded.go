// Package rng implements ports.RNGPort with math/rand sources seeded from
// hashed stream keys.
package rng

import (
	"math/rand"

	"rnadiff/ports"
)

// Seeded derives one math/rand source per stream
type Seeded struct{}

var _ ports.RNGPort = Seeded{}

// Stream creates a deterministic RNG stream for a base seed and a list of keys,
// e.g. ("size=25", "chunk=3").
func (Seeded) Stream(baseSeed int64, keys ...string) *rand.Rand {
	seed := baseSeed
	for _, k := range keys {
		if k != "" {
			seed = seed*31 + int64(hashString(k))
		}
	}
	return rand.New(rand.NewSource(seed))
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}
