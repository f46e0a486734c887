package trial

import (
	"math/rand"
	"sort"

	"clusterpower/domain/cohort"
)

// Assign partitions clusters into intervention and control without
// replacement: exactly floor(n/2) clusters drawn uniformly at random go
// to intervention, the rest to control. An odd cluster count leaves the
// arms unequal by one; this is accepted, not corrected.
//
// The caller owns the random stream. Drawing from the shared run-level
// stream each iteration keeps the full N-iteration sequence reproducible
// from a single run seed.
func Assign(clusterIDs []cohort.ClusterID, rng *rand.Rand) TreatmentAssignment {
	ids := make([]cohort.ClusterID, len(clusterIDs))
	copy(ids, clusterIDs)

	// Sort before drawing so the assignment depends only on the cluster
	// identity set and the stream, not on caller iteration order.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	n := len(ids)
	k := n / 2

	// Partial Fisher-Yates: the first k positions end up holding a
	// uniform without-replacement draw of k clusters.
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		ids[i], ids[j] = ids[j], ids[i]
	}

	assignment := make(TreatmentAssignment, n)
	for i, id := range ids {
		if i < k {
			assignment[id] = ArmIntervention
		} else {
			assignment[id] = ArmControl
		}
	}
	return assignment
}
