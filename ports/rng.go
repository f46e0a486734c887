package ports

import (
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic
// simulation. All randomness in a run flows through streams created
// here; there is no ambient/global random state.
type RNGPort interface {
	// SeededStream creates a deterministic random stream for a named operation.
	SeededStream(name string, seed int64) *rand.Rand

	// IterationStream creates a deterministic, non-overlapping stream for one
	// iteration of a run, derived from the run seed and iteration index.
	// This is what allows the iteration loop to be parallelized without
	// sharing a stream.
	IterationStream(runSeed int64, iteration int) *rand.Rand
}
