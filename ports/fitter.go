package ports

import (
	"context"

	"clusterpower/domain/cohort"
)

// Family selects the outcome distribution for a mixed-model fit.
type Family string

const (
	FamilyBinomial Family = "binomial"
	FamilyGaussian Family = "gaussian"
)

// Fixed-effect term names in a fitted coefficient table.
const (
	TermIntercept = "(Intercept)"
	TermTreatment = "arm"
)

// FitRequest describes one random-intercept mixed model fit: an outcome
// vector, an optional single binary fixed-effect predictor, and the
// cluster label per observation. A nil Treatment requests an
// intercept-only model (used for ICC estimation).
type FitRequest struct {
	Outcome   []float64
	Treatment []float64 // 0/1 per observation; nil for intercept-only
	Clusters  []cohort.ClusterID
	Family    Family
}

// Term is one row of a fitted model's coefficient table.
type Term struct {
	Name     string
	Estimate float64
	StdErr   float64
	ZValue   float64
	PValue   float64 // Wald
}

// FitResult is the output contract of the model fitting capability:
// the fixed-effect coefficient table plus the variance components of
// the random-intercept structure. For the binomial family VarResidual
// is the latent-scale logistic variance pi^2/3.
type FitResult struct {
	Terms       []Term
	VarBetween  float64
	VarResidual float64
	Iterations  int
}

// Term looks up a fixed-effect term by name.
func (r *FitResult) Term(name string) (Term, bool) {
	for _, t := range r.Terms {
		if t.Name == name {
			return t, true
		}
	}
	return Term{}, false
}

// ModelFitterPort performs maximum-likelihood estimation for random-
// intercept generalized and standard linear mixed models. A fit that
// fails to converge must return an error wrapping core.ErrNonConvergence
// rather than fabricated values.
type ModelFitterPort interface {
	Fit(ctx context.Context, req FitRequest) (*FitResult, error)
}
