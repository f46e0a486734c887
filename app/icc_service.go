package app

import (
	"context"

	"clusterpower/domain/cohort"
	"clusterpower/domain/trial"
	"clusterpower/internal"
	"clusterpower/ports"
)

// ICCService estimates the intra-cluster correlation of each outcome on
// the baseline cohort. The estimate is diagnostic context for a power
// run; it never feeds back into the simulation loop, and a failed fit
// never aborts anything.
type ICCService struct {
	fitter ports.ModelFitterPort
	log    *internal.Logger
}

// NewICCService creates an ICC service.
func NewICCService(fitter ports.ModelFitterPort, logger *internal.Logger) *ICCService {
	return &ICCService{fitter: fitter, log: logger}
}

// EstimateICC fits an intercept-only random-intercept model for the
// outcome and decomposes its variance: ICC = between / (between +
// residual). For the binary outcome the fitter reports the latent-scale
// logistic residual variance (pi^2/3), so the same decomposition applies.
// A fit failure is reported as an undefined (NaN) estimate with a warning.
func (s *ICCService) EstimateICC(ctx context.Context, c *cohort.Cohort, outcomeType trial.OutcomeType) trial.ICCEstimate {
	observations := c.Observations()
	outcome := make([]float64, len(observations))
	clusters := make([]cohort.ClusterID, len(observations))
	for i, obs := range observations {
		if outcomeType == trial.OutcomeBinary {
			outcome[i] = float64(obs.Binary)
		} else {
			outcome[i] = obs.Continuous
		}
		clusters[i] = obs.Cluster
	}

	family := ports.FamilyGaussian
	if outcomeType == trial.OutcomeBinary {
		family = ports.FamilyBinomial
	}

	res, err := s.fitter.Fit(ctx, ports.FitRequest{
		Outcome:  outcome,
		Clusters: clusters,
		Family:   family,
	})
	if err != nil {
		s.log.Warn("ICC fit failed for %s outcome, reporting undefined: %v", outcomeType, err)
		return trial.UndefinedICC(outcomeType)
	}

	total := res.VarBetween + res.VarResidual
	icc := 0.0
	if total > 0 {
		icc = res.VarBetween / total
	}
	if icc < 0 {
		icc = 0
	}
	if icc > 1 {
		icc = 1
	}

	return trial.ICCEstimate{
		OutcomeType: outcomeType,
		ICC:         icc,
		VarBetween:  res.VarBetween,
		VarResidual: res.VarResidual,
		Converged:   true,
	}
}
