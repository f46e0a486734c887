// Package glmm implements the model fitting capability for random-
// intercept linear and logistic mixed models. Linear algebra and
// distribution functions delegate to gonum; the package adds only the
// mixed-model structure (per-cluster closed-form covariance inverses,
// EM variance-component updates, PQL linearization).
package glmm

import (
	"context"
	"fmt"
	"math"

	"clusterpower/domain/cohort"
	"clusterpower/domain/core"
	"clusterpower/ports"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Fitter implements ports.ModelFitterPort backed by gonum numerics.
type Fitter struct {
	maxIter int
	tol     float64
}

// NewFitter creates a fitter with default convergence settings.
func NewFitter() *Fitter {
	return &Fitter{maxIter: 100, tol: 1e-6}
}

// SetMaxIter configures the iteration cap for the fitting loops.
func (f *Fitter) SetMaxIter(n int) {
	if n < 10 {
		n = 10
	}
	if n > 10000 {
		n = 10000
	}
	f.maxIter = n
}

// Fit fits a random-intercept mixed model and extracts the fixed-effect
// coefficient table with Wald p-values. Non-convergence is reported via
// core.ErrNonConvergence; a zero-variance treatment column is dropped,
// leaving the arm term absent from the table.
func (f *Fitter) Fit(ctx context.Context, req ports.FitRequest) (*ports.FitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	clusterIdx, numClusters := indexClusters(req.Clusters)
	if numClusters < 2 {
		return nil, fmt.Errorf("%w: need at least 2 clusters, got %d", core.ErrDegenerateData, numClusters)
	}

	n := len(req.Outcome)
	intercept := make([]float64, n)
	for i := range intercept {
		intercept[i] = 1
	}
	cols := [][]float64{intercept}
	names := []string{ports.TermIntercept}
	if req.Treatment != nil && hasVariation(req.Treatment) {
		cols = append(cols, req.Treatment)
		names = append(names, ports.TermTreatment)
	}

	switch req.Family {
	case ports.FamilyGaussian:
		opt := lmmOptions{
			maxIter:          f.maxIter,
			tol:              f.tol,
			estimateResidual: true,
			initVarE:         stat.Variance(req.Outcome, nil),
		}
		fit, err := fitRandomIntercept(req.Outcome, cols, clusterIdx, numClusters, nil, opt)
		if err != nil {
			return nil, err
		}
		return &ports.FitResult{
			Terms:       waldTerms(names, fit),
			VarBetween:  fit.varU,
			VarResidual: fit.varE,
			Iterations:  fit.iterations,
		}, nil

	case ports.FamilyBinomial:
		fit, err := fitBinomialPQL(req.Outcome, cols, clusterIdx, numClusters, f.maxIter, f.tol)
		if err != nil {
			return nil, err
		}
		return &ports.FitResult{
			Terms:       waldTerms(names, fit),
			VarBetween:  fit.varU,
			VarResidual: logisticVar,
			Iterations:  fit.iterations,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown family %q", core.ErrDegenerateData, req.Family)
	}
}

func validateRequest(req ports.FitRequest) error {
	if len(req.Outcome) == 0 {
		return fmt.Errorf("%w: empty outcome vector", core.ErrDegenerateData)
	}
	if len(req.Clusters) != len(req.Outcome) {
		return fmt.Errorf("%w: %d cluster labels for %d outcomes", core.ErrDegenerateData, len(req.Clusters), len(req.Outcome))
	}
	if req.Treatment != nil && len(req.Treatment) != len(req.Outcome) {
		return fmt.Errorf("%w: %d treatment values for %d outcomes", core.ErrDegenerateData, len(req.Treatment), len(req.Outcome))
	}
	return nil
}

// indexClusters maps cluster labels to dense indices in first-seen order.
func indexClusters(labels []cohort.ClusterID) ([]int, int) {
	idx := make([]int, len(labels))
	seen := make(map[cohort.ClusterID]int)
	for i, label := range labels {
		j, ok := seen[label]
		if !ok {
			j = len(seen)
			seen[label] = j
		}
		idx[i] = j
	}
	return idx, len(seen)
}

func hasVariation(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if v[i] != v[0] {
			return true
		}
	}
	return false
}

// waldTerms builds the coefficient table: estimate, standard error from
// the GLS covariance, z value, and two-sided normal p-value.
func waldTerms(names []string, fit *lmmFit) []ports.Term {
	terms := make([]ports.Term, len(names))
	for k, name := range names {
		se := math.Sqrt(fit.covBeta.At(k, k))
		z := math.Inf(1)
		p := 0.0
		if se > 0 && !math.IsNaN(se) {
			z = fit.beta[k] / se
			p = 2 * distuv.UnitNormal.Survival(math.Abs(z))
		}
		terms[k] = ports.Term{
			Name:     name,
			Estimate: fit.beta[k],
			StdErr:   se,
			ZValue:   z,
			PValue:   p,
		}
	}
	return terms
}

var _ ports.ModelFitterPort = (*Fitter)(nil)
