package glmm

import (
	"math"

	"clusterpower/domain/core"
)

// Working-weight floor keeps the IRLS step defined when fitted
// probabilities saturate.
const (
	minMu     = 1e-6
	minWeight = 1e-6
)

// logisticVar is the variance of the standard logistic distribution,
// the latent-scale residual variance of a logit model.
var logisticVar = math.Pi * math.Pi / 3

// fitBinomialPQL fits a random-intercept logistic model by penalized
// quasi-likelihood: an IRLS outer loop linearizes the logit link into a
// working response and weights, and the weighted LMM core (residual
// variance pinned at 1) re-estimates the fixed effects and the
// between-cluster variance on each pass.
func fitBinomialPQL(y []float64, cols [][]float64, clusterIdx []int, numClusters int, maxIter int, tol float64) (*lmmFit, error) {
	n := len(y)
	p := len(cols)

	var ones, zeros int
	for _, v := range y {
		if v >= 0.5 {
			ones++
		} else {
			zeros++
		}
	}
	if ones == 0 || zeros == 0 {
		// A one-category outcome cannot identify a logit model.
		return nil, core.NewNonConvergenceError("binomial", 0)
	}

	beta := make([]float64, p)
	beta[0] = logit(clamp(float64(ones)/float64(n), minMu, 1-minMu))
	u := make([]float64, numClusters)
	varU := 0.1

	z := make([]float64, n)
	w := make([]float64, n)

	for outer := 1; outer <= maxIter; outer++ {
		for i := 0; i < n; i++ {
			eta := u[clusterIdx[i]]
			for k := 0; k < p; k++ {
				eta += cols[k][i] * beta[k]
			}
			mu := clamp(expit(eta), minMu, 1-minMu)
			wi := mu * (1 - mu)
			if wi < minWeight {
				wi = minWeight
			}
			w[i] = wi
			z[i] = eta + (y[i]-mu)/wi
		}

		fit, err := fitRandomIntercept(z, cols, clusterIdx, numClusters, w, lmmOptions{
			maxIter:          maxIter,
			tol:              tol,
			estimateResidual: false,
			initVarE:         1,
		})
		if err != nil {
			return nil, err
		}

		delta := math.Abs(fit.varU - varU)
		for k := 0; k < p; k++ {
			if d := math.Abs(fit.beta[k] - beta[k]); d > delta {
				delta = d
			}
		}

		copy(beta, fit.beta)
		copy(u, fit.postMeans)
		varU = fit.varU

		if delta <= tol*(1+math.Abs(beta[0])) {
			fit.iterations = outer
			return fit, nil
		}
	}

	return nil, core.NewNonConvergenceError("binomial", maxIter)
}

func expit(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
