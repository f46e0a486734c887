package glmm

import (
	"math"

	"clusterpower/domain/core"

	"gonum.org/v1/gonum/mat"
)

// boundaryRatio is the varU/varE ratio below which a fit is snapped to
// the exact varU = 0 solution. EM approaches a boundary optimum only
// harmonically, so fits in this region are resolved in closed form
// instead of iterated; the EM loop additionally compares each iterate's
// profile log-likelihood against the boundary fit and snaps as soon as
// the boundary is at least as good.
const boundaryRatio = 1e-4

// lmmOptions controls the random-intercept fitting loop.
type lmmOptions struct {
	maxIter          int
	tol              float64
	estimateResidual bool    // false pins varE (PQL working model)
	initVarE         float64 // residual variance when pinned
}

// lmmFit is the converged state of a weighted random-intercept fit.
type lmmFit struct {
	beta       []float64
	covBeta    *mat.SymDense
	varU       float64
	varE       float64
	postMeans  []float64 // posterior random-intercept means per cluster
	iterations int
}

// lmmProblem carries one fit's data and scratch state.
type lmmProblem struct {
	y            []float64
	cols         [][]float64
	w            []float64
	obsByCluster [][]int
	sumW         []float64
	opt          lmmOptions

	beta      []float64
	resid     []float64
	postMeans []float64
}

// fitRandomIntercept fits y_i = x_i'beta + u_{c(i)} + e_i with
// u_j ~ N(0, varU) and e_i ~ N(0, varE / w_i). Fixed effects are solved
// by GLS - the random-intercept covariance inverts in closed form per
// cluster (Sherman-Morrison), so only the small p x p normal equations
// touch the linear algebra library. Variance components start from an
// ANOVA moment decomposition of the OLS residuals and are refined by EM
// to the maximum-likelihood values.
//
// cols is the column-major design matrix (cols[0] is the intercept),
// clusterIdx maps each observation to a dense cluster index, and w is
// the per-observation weight vector (nil means unweighted). Every
// cluster index in [0, numClusters) must carry an observation.
func fitRandomIntercept(y []float64, cols [][]float64, clusterIdx []int, numClusters int, w []float64, opt lmmOptions) (*lmmFit, error) {
	n := len(y)
	p := len(cols)
	if n == 0 || p == 0 || numClusters < 2 {
		return nil, core.ErrDegenerateData
	}
	if opt.estimateResidual && n <= numClusters {
		// One observation per cluster cannot separate the components.
		return nil, core.ErrDegenerateData
	}
	if w == nil {
		w = make([]float64, n)
		for i := range w {
			w[i] = 1
		}
	}

	prob := &lmmProblem{
		y:            y,
		cols:         cols,
		w:            w,
		obsByCluster: make([][]int, numClusters),
		sumW:         make([]float64, numClusters),
		opt:          opt,
		beta:         make([]float64, p),
		resid:        make([]float64, n),
		postMeans:    make([]float64, numClusters),
	}
	for i := range y {
		j := clusterIdx[i]
		prob.obsByCluster[j] = append(prob.obsByCluster[j], i)
		prob.sumW[j] += w[i]
	}
	for j := range prob.obsByCluster {
		if len(prob.obsByCluster[j]) == 0 {
			return nil, core.ErrDegenerateData
		}
	}

	// OLS pass (varU = 0) to seed the moment decomposition.
	if _, err := prob.solveBeta(0, 1); err != nil {
		return nil, err
	}
	prob.updateResiduals(0, 1)
	varU, varE := prob.momentComponents()

	boundary, err := prob.boundaryFit(1)
	if err != nil {
		return nil, err
	}
	if varU <= boundaryRatio*varE {
		return boundary, nil
	}
	llBoundary := prob.logLikelihood(0, boundary.varE)
	return prob.emFit(varU, varE, boundary, llBoundary)
}

// momentComponents performs the one-way ANOVA decomposition of the
// current residuals: within mean square and the Searle-style expected
// between mean square E[MSB] = varE + n0*varU.
func (prob *lmmProblem) momentComponents() (varU, varE float64) {
	m := len(prob.obsByCluster)
	n := len(prob.y)

	var totalW float64
	clusterMeans := make([]float64, m)
	for j, obs := range prob.obsByCluster {
		var swr float64
		for _, i := range obs {
			swr += prob.w[i] * prob.resid[i]
		}
		clusterMeans[j] = swr / prob.sumW[j]
		totalW += prob.sumW[j]
	}

	var ssw, ssb, sumSqW float64
	for j, obs := range prob.obsByCluster {
		for _, i := range obs {
			d := prob.resid[i] - clusterMeans[j]
			ssw += prob.w[i] * d * d
		}
		ssb += prob.sumW[j] * clusterMeans[j] * clusterMeans[j]
		sumSqW += prob.sumW[j] * prob.sumW[j]
	}

	msw := prob.opt.initVarE
	if prob.opt.estimateResidual {
		msw = ssw / float64(n-m)
	}
	msb := ssb / float64(m-1)
	n0 := (totalW - sumSqW/totalW) / float64(m-1)

	varU = (msb - msw) / n0
	if varU < 0 {
		varU = 0
	}
	return varU, msw
}

// boundaryFit resolves the exact varU = 0 solution: weighted OLS for
// the fixed effects and, when estimated, the ML residual variance.
func (prob *lmmProblem) boundaryFit(iterations int) (*lmmFit, error) {
	varE := prob.opt.initVarE
	if prob.opt.estimateResidual {
		if _, err := prob.solveBeta(0, 1); err != nil {
			return nil, err
		}
		prob.updateResiduals(0, 1)
		var ss float64
		for i, r := range prob.resid {
			ss += prob.w[i] * r * r
		}
		varE = ss / float64(len(prob.y))
		if varE <= 0 || !isFinite(varE) {
			return nil, core.ErrDegenerateData
		}
	}
	cov, err := prob.solveBeta(0, varE)
	if err != nil {
		return nil, err
	}
	prob.updateResiduals(0, varE)
	// Copies: the boundary candidate outlives EM's use of the scratch
	// buffers.
	beta := make([]float64, len(prob.beta))
	copy(beta, prob.beta)
	postMeans := make([]float64, len(prob.postMeans))
	copy(postMeans, prob.postMeans)
	return &lmmFit{
		beta:       beta,
		covBeta:    cov,
		varU:       0,
		varE:       varE,
		postMeans:  postMeans,
		iterations: iterations,
	}, nil
}

// emFit refines interior variance components by EM until the relative
// change falls under tol. boundary is the precomputed exact varU = 0
// fit with llBoundary its profile log-likelihood: when an iterate
// decays toward zero without improving on it, the boundary fit is
// returned directly, because EM reaches a boundary optimum only
// harmonically and would exhaust the iteration cap first.
func (prob *lmmProblem) emFit(varU, varE float64, boundary *lmmFit, llBoundary float64) (*lmmFit, error) {
	numClusters := len(prob.obsByCluster)
	n := len(prob.y)
	opt := prob.opt

	for iter := 1; iter <= opt.maxIter; iter++ {
		if _, err := prob.solveBeta(varU, varE); err != nil {
			return nil, err
		}
		prob.updateResiduals(varU, varE)

		var sumU, sumSd float64
		for j := range prob.obsByCluster {
			d := varU * varE / (varE + varU*prob.sumW[j])
			sumU += prob.postMeans[j]*prob.postMeans[j] + d
			sumSd += prob.sumW[j] * d
		}
		varUNew := sumU / float64(numClusters)
		varENew := varE
		if opt.estimateResidual {
			var ss float64
			for j, obs := range prob.obsByCluster {
				for _, i := range obs {
					diff := prob.resid[i] - prob.postMeans[j]
					ss += prob.w[i] * diff * diff
				}
			}
			varENew = (ss + sumSd) / float64(n)
		}

		if !isFinite(varUNew) || !isFinite(varENew) || varENew <= 0 {
			return nil, core.NewNonConvergenceError("lmm", iter)
		}
		if varUNew <= boundaryRatio*varENew ||
			(varUNew < varU && prob.logLikelihood(varUNew, varENew) <= llBoundary) {
			boundary.iterations = iter
			return boundary, nil
		}

		deltaU := math.Abs(varUNew - varU)
		deltaE := math.Abs(varENew - varE)
		varU, varE = varUNew, varENew

		if deltaU <= opt.tol*(varU+opt.tol) && deltaE <= opt.tol*(varE+opt.tol) {
			cov, err := prob.solveBeta(varU, varE)
			if err != nil {
				return nil, err
			}
			prob.updateResiduals(varU, varE)
			for _, bk := range prob.beta {
				if !isFinite(bk) {
					return nil, core.NewNonConvergenceError("lmm", iter)
				}
			}
			return &lmmFit{
				beta:       prob.beta,
				covBeta:    cov,
				varU:       varU,
				varE:       varE,
				postMeans:  prob.postMeans,
				iterations: iter,
			}, nil
		}
	}

	return nil, core.NewNonConvergenceError("lmm", opt.maxIter)
}

// solveBeta accumulates the GLS normal equations A = varE * X'V^-1 X and
// b = varE * X'V^-1 y for the given components, solves for beta in
// place, and returns cov(beta) = varE * A^-1. The varE factor cancels
// in the solve itself.
func (prob *lmmProblem) solveBeta(varU, varE float64) (*mat.SymDense, error) {
	p := len(prob.cols)
	a := mat.NewSymDense(p, nil)
	b := mat.NewVecDense(p, nil)
	sx := make([]float64, p)
	sy := make([]float64, p)
	mbuf := make([]float64, p*p)

	for j, obs := range prob.obsByCluster {
		for k := range sx {
			sx[k], sy[k] = 0, 0
		}
		for k := range mbuf {
			mbuf[k] = 0
		}
		var swy float64
		for _, i := range obs {
			wi := prob.w[i]
			swy += wi * prob.y[i]
			for ai := 0; ai < p; ai++ {
				xa := prob.cols[ai][i]
				sx[ai] += wi * xa
				sy[ai] += wi * xa * prob.y[i]
				for bi := ai; bi < p; bi++ {
					mbuf[ai*p+bi] += wi * xa * prob.cols[bi][i]
				}
			}
		}
		cj := varU / (varE + varU*prob.sumW[j])
		for ai := 0; ai < p; ai++ {
			for bi := ai; bi < p; bi++ {
				a.SetSym(ai, bi, a.At(ai, bi)+mbuf[ai*p+bi]-cj*sx[ai]*sx[bi])
			}
			b.SetVec(ai, b.AtVec(ai)+sy[ai]-cj*sx[ai]*swy)
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return nil, core.ErrDegenerateData
	}
	betaVec := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(betaVec, b); err != nil {
		return nil, core.ErrDegenerateData
	}
	for k := 0; k < p; k++ {
		prob.beta[k] = betaVec.AtVec(k)
	}
	cov := mat.NewSymDense(p, nil)
	if err := chol.InverseTo(cov); err != nil {
		return nil, core.ErrDegenerateData
	}
	cov.ScaleSym(varE, cov)
	return cov, nil
}

// updateResiduals refreshes the residuals and the posterior intercept
// means for the current beta and variance components.
func (prob *lmmProblem) updateResiduals(varU, varE float64) {
	p := len(prob.cols)
	for i := range prob.y {
		fit := 0.0
		for k := 0; k < p; k++ {
			fit += prob.cols[k][i] * prob.beta[k]
		}
		prob.resid[i] = prob.y[i] - fit
	}
	for j, obs := range prob.obsByCluster {
		var swr float64
		for _, i := range obs {
			swr += prob.w[i] * prob.resid[i]
		}
		d := varU * varE / (varE + varU*prob.sumW[j])
		prob.postMeans[j] = d * swr / varE
	}
}

// logLikelihood is the marginal log-likelihood of the current residuals
// under the given variance components, up to an additive constant. The
// random-intercept covariance gives per-cluster closed forms:
// det V_j proportional to varE^n_j * (1 + varU*s_j/varE) and
// r'V^-1 r = (sum w r^2 - c_j (sum w r)^2) / varE.
func (prob *lmmProblem) logLikelihood(varU, varE float64) float64 {
	ll := 0.0
	for j, obs := range prob.obsByCluster {
		var swr, swr2 float64
		for _, i := range obs {
			swr += prob.w[i] * prob.resid[i]
			swr2 += prob.w[i] * prob.resid[i] * prob.resid[i]
		}
		cj := varU / (varE + varU*prob.sumW[j])
		quad := (swr2 - cj*swr*swr) / varE
		logdet := float64(len(obs))*math.Log(varE) + math.Log(1+varU*prob.sumW[j]/varE)
		ll -= 0.5 * (logdet + quad)
	}
	return ll
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
