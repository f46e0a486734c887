// Package rng provides the seeded random stream adapter. Stream
// derivation is pure: the same (name, seed) pair always yields an
// identical sequence, which is what makes whole runs replayable.
package rng

import (
	"fmt"
	"hash/fnv"
	"math/rand"

	"clusterpower/ports"
)

// Adapter implements ports.RNGPort over math/rand sources.
type Adapter struct{}

// New creates the RNG adapter.
func New() *Adapter {
	return &Adapter{}
}

// SeededStream derives a deterministic stream for a named operation by
// mixing the operation name into the base seed.
func (a *Adapter) SeededStream(name string, seed int64) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(name))
	return rand.New(rand.NewSource(seed ^ int64(h.Sum64())))
}

// IterationStream derives a non-overlapping stream for one iteration of
// a run. Distinct iteration indices hash to distinct stream names, so a
// parallel loop never shares a source.
func (a *Adapter) IterationStream(runSeed int64, iteration int) *rand.Rand {
	return a.SeededStream(fmt.Sprintf("iteration/%d", iteration), runSeed)
}

var _ ports.RNGPort = (*Adapter)(nil)
