package trial

import (
	"math"

	"clusterpower/domain/cohort"
)

// Arm is the treatment arm a cluster is randomized to.
type Arm int

const (
	ArmControl Arm = iota
	ArmIntervention
)

func (a Arm) String() string {
	if a == ArmIntervention {
		return "intervention"
	}
	return "control"
}

// OutcomeType selects which outcome a model fit or estimate refers to.
type OutcomeType string

const (
	OutcomeBinary     OutcomeType = "binary"
	OutcomeContinuous OutcomeType = "continuous"
)

// TreatmentAssignment maps every cluster to an arm for one iteration.
type TreatmentAssignment map[cohort.ClusterID]Arm

// Arm returns the assigned arm for a cluster (control for unknown ids).
func (t TreatmentAssignment) Arm(id cohort.ClusterID) Arm {
	return t[id]
}

// Counts returns the number of clusters per arm.
func (t TreatmentAssignment) Counts() (control, intervention int) {
	for _, arm := range t {
		if arm == ArmIntervention {
			intervention++
		} else {
			control++
		}
	}
	return control, intervention
}

// SimObservation is one observation of a simulated dataset: the baseline
// observation's identity plus the arm label and transformed outcomes.
type SimObservation struct {
	Cluster    cohort.ClusterID
	TimeIndex  int
	Arm        Arm
	Binary     int
	Continuous float64
}

// SimulatedCohort is the per-iteration derived dataset. Lifetime: one
// iteration; discarded after inference.
type SimulatedCohort struct {
	Assignment   TreatmentAssignment
	Observations []SimObservation
}

// OutcomeResult is the significance decision for one outcome type in one
// iteration. A fitting failure is recorded as PValue=1, Converged=false.
type OutcomeResult struct {
	PValue    float64
	Detected  bool
	Converged bool
}

// IterationResult collects both outcome decisions for one iteration.
type IterationResult struct {
	Iteration  int
	Binary     OutcomeResult
	Continuous OutcomeResult
}

// PowerEstimate is the empirical power for one outcome type.
type PowerEstimate struct {
	OutcomeType OutcomeType `json:"outcome_type"`
	Power       float64     `json:"power"`
	Detected    int         `json:"detected"`
	Iterations  int         `json:"iterations"`
}

// ICCEstimate is the intra-cluster correlation for one outcome type.
// Diagnostic only; never fed back into the simulation loop.
type ICCEstimate struct {
	OutcomeType OutcomeType `json:"outcome_type"`
	ICC         float64     `json:"icc"`
	VarBetween  float64     `json:"var_between"`
	VarResidual float64     `json:"var_residual"`
	Converged   bool        `json:"converged"`
}

// UndefinedICC reports a failed ICC fit as NaN without aborting the run.
func UndefinedICC(outcomeType OutcomeType) ICCEstimate {
	return ICCEstimate{
		OutcomeType: outcomeType,
		ICC:         math.NaN(),
		Converged:   false,
	}
}
