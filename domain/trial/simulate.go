package trial

import (
	"math/rand"

	"clusterpower/domain/cohort"
)

// Simulate derives the per-iteration dataset from the baseline cohort
// under an assumed treatment effect. The input cohort is never mutated;
// given its random stream the operation is pure.
//
// Binary policy (asymmetric by design of the assumed intervention):
//   - intervention cluster, baseline at-risk (0): redrawn as
//     Bernoulli(effectBinary), where effectBinary is an absolute success
//     probability replacing the baseline value
//   - intervention cluster, baseline healthy (1): redrawn with success
//     probability 1, so it stays healthy
//   - control clusters: redrawn with success probability equal to the
//     baseline value, a no-op resampling
//
// Every observation consumes exactly one uniform draw, so the stream
// layout is identical across arms and effect sizes.
//
// Continuous policy: intervention adds the constant effectCont to the
// baseline value; control is unchanged.
func Simulate(c *cohort.Cohort, assignment TreatmentAssignment, effectBinary, effectCont float64, rng *rand.Rand) *SimulatedCohort {
	baseline := c.Observations()
	sim := make([]SimObservation, len(baseline))

	for i, obs := range baseline {
		arm := assignment.Arm(obs.Cluster)

		p := float64(obs.Binary)
		if arm == ArmIntervention && obs.Binary == 0 {
			p = effectBinary
		}
		binary := 0
		if rng.Float64() < p {
			binary = 1
		}

		continuous := obs.Continuous
		if arm == ArmIntervention {
			continuous += effectCont
		}

		sim[i] = SimObservation{
			Cluster:    obs.Cluster,
			TimeIndex:  obs.TimeIndex,
			Arm:        arm,
			Binary:     binary,
			Continuous: continuous,
		}
	}

	return &SimulatedCohort{Assignment: assignment, Observations: sim}
}
