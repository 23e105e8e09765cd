package ports

import (
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// Stream returns a generator determined only by the base seed and the stream keys,
	// so parallel workers can draw reproducibly regardless of scheduling.
	Stream(baseSeed int64, keys ...string) *rand.Rand
}
