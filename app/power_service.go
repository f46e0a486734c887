package app

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"clusterpower/domain/cohort"
	"clusterpower/domain/core"
	"clusterpower/domain/trial"
	"clusterpower/internal"
	"clusterpower/ports"

	"golang.org/x/sync/errgroup"
)

// PowerService runs the Monte Carlo power analysis: repeated treatment
// assignment, outcome simulation, and mixed-effects inference, reduced
// to empirical power per outcome type.
type PowerService struct {
	fitter ports.ModelFitterPort
	rng    ports.RNGPort
	log    *internal.Logger
}

// NewPowerService creates a power service.
func NewPowerService(fitter ports.ModelFitterPort, rngPort ports.RNGPort, logger *internal.Logger) *PowerService {
	return &PowerService{
		fitter: fitter,
		rng:    rngPort,
		log:    logger,
	}
}

// PowerRequest defines the inputs for one reproducible power run.
type PowerRequest struct {
	Cohort        *cohort.Cohort
	NumIterations int
	EffectBinary  float64 // absolute success probability, 0-1
	EffectCont    float64 // additive constant
	Alpha         float64
	Seed          int64
	Workers       int // <= 1 runs the canonical sequential loop
}

// PowerResult is the complete output of a power run.
type PowerResult struct {
	RunID      core.RunID              `json:"run_id"`
	Binary     trial.PowerEstimate     `json:"binary"`
	Continuous trial.PowerEstimate     `json:"continuous"`
	Iterations []trial.IterationResult `json:"-"`
	RuntimeMs  int64                   `json:"runtime_ms"`
}

// RunPowerAnalysis executes the iteration loop. In sequential mode one
// seeded stream is shared by all iterations, so the full sequence of
// assignments and redraws replays identically from the run seed. In
// parallel mode each iteration draws from its own stream derived from
// (seed, iteration index), which is equally reproducible but is a
// different partition of the randomness than the sequential layout.
func (s *PowerService) RunPowerAnalysis(ctx context.Context, req PowerRequest) (*PowerResult, error) {
	if err := validatePowerRequest(req); err != nil {
		return nil, err
	}

	start := time.Now()
	runID := core.NewRunID()
	clusterIDs := req.Cohort.ClusterIDs()
	results := make([]trial.IterationResult, req.NumIterations)

	if req.Workers <= 1 {
		stream := s.rng.SeededStream("power", req.Seed)
		for i := 0; i < req.NumIterations; i++ {
			res, err := s.runIteration(ctx, req, clusterIDs, i, stream)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(req.Workers)
		for i := 0; i < req.NumIterations; i++ {
			i := i
			g.Go(func() error {
				stream := s.rng.IterationStream(req.Seed, i)
				res, err := s.runIteration(gctx, req, clusterIDs, i, stream)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	result := &PowerResult{
		RunID:      runID,
		Binary:     reduce(trial.OutcomeBinary, results, func(r trial.IterationResult) bool { return r.Binary.Detected }),
		Continuous: reduce(trial.OutcomeContinuous, results, func(r trial.IterationResult) bool { return r.Continuous.Detected }),
		Iterations: results,
		RuntimeMs:  time.Since(start).Milliseconds(),
	}
	s.log.Info("power run %s: %d iterations, power binary=%.3f continuous=%.3f (%dms)",
		runID, req.NumIterations, result.Binary.Power, result.Continuous.Power, result.RuntimeMs)
	return result, nil
}

// runIteration performs assignment, simulation, and inference for both
// outcome types using the supplied stream.
func (s *PowerService) runIteration(ctx context.Context, req PowerRequest, clusterIDs []cohort.ClusterID, iteration int, stream *rand.Rand) (trial.IterationResult, error) {
	if err := ctx.Err(); err != nil {
		return trial.IterationResult{}, err
	}

	assignment := trial.Assign(clusterIDs, stream)
	sim := trial.Simulate(req.Cohort, assignment, req.EffectBinary, req.EffectCont, stream)

	binary, err := s.fitAndTest(ctx, sim, trial.OutcomeBinary, req.Alpha)
	if err != nil {
		return trial.IterationResult{}, err
	}
	continuous, err := s.fitAndTest(ctx, sim, trial.OutcomeContinuous, req.Alpha)
	if err != nil {
		return trial.IterationResult{}, err
	}

	return trial.IterationResult{
		Iteration:  iteration,
		Binary:     binary,
		Continuous: continuous,
	}, nil
}

// fitAndTest fits the arm-effect model for one outcome type and extracts
// the significance decision. Fitting failures of any kind - including an
// absent arm term or an unusable p-value - yield p = 1.0 exactly, so a
// non-converged iteration counts as a negative result instead of
// aborting the run (the estimate is biased conservatively downward).
// Context cancellation is the one error that still propagates.
func (s *PowerService) fitAndTest(ctx context.Context, sim *trial.SimulatedCohort, outcomeType trial.OutcomeType, alpha float64) (trial.OutcomeResult, error) {
	fitReq := buildFitRequest(sim, outcomeType)

	res, err := s.fitter.Fit(ctx, fitReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return trial.OutcomeResult{}, err
		}
		s.log.Debug("%s fit failed, recording null result: %v", outcomeType, err)
		return nullResult(), nil
	}

	term, ok := res.Term(ports.TermTreatment)
	if !ok || math.IsNaN(term.PValue) {
		s.log.Debug("%s fit has no usable arm term, recording null result", outcomeType)
		return nullResult(), nil
	}

	return trial.OutcomeResult{
		PValue:    term.PValue,
		Detected:  term.PValue < alpha,
		Converged: true,
	}, nil
}

// nullResult is the fitting-failure-yields-null-result policy: p = 1.0,
// effect not detected.
func nullResult() trial.OutcomeResult {
	return trial.OutcomeResult{PValue: 1.0, Detected: false, Converged: false}
}

func buildFitRequest(sim *trial.SimulatedCohort, outcomeType trial.OutcomeType) ports.FitRequest {
	n := len(sim.Observations)
	outcome := make([]float64, n)
	treatment := make([]float64, n)
	clusters := make([]cohort.ClusterID, n)

	for i, obs := range sim.Observations {
		if outcomeType == trial.OutcomeBinary {
			outcome[i] = float64(obs.Binary)
		} else {
			outcome[i] = obs.Continuous
		}
		if obs.Arm == trial.ArmIntervention {
			treatment[i] = 1
		}
		clusters[i] = obs.Cluster
	}

	family := ports.FamilyGaussian
	if outcomeType == trial.OutcomeBinary {
		family = ports.FamilyBinomial
	}
	return ports.FitRequest{
		Outcome:   outcome,
		Treatment: treatment,
		Clusters:  clusters,
		Family:    family,
	}
}

func reduce(outcomeType trial.OutcomeType, results []trial.IterationResult, detected func(trial.IterationResult) bool) trial.PowerEstimate {
	count := 0
	for _, r := range results {
		if detected(r) {
			count++
		}
	}
	return trial.PowerEstimate{
		OutcomeType: outcomeType,
		Power:       float64(count) / float64(len(results)),
		Detected:    count,
		Iterations:  len(results),
	}
}

func validatePowerRequest(req PowerRequest) error {
	switch {
	case req.Cohort == nil || req.Cohort.NumClusters() == 0:
		return core.NewConfigError("cohort", "must be non-empty")
	case req.Cohort.NumClusters() < 2:
		return core.NewConfigError("cohort", "needs at least 2 clusters to randomize")
	case req.NumIterations < 1:
		return core.NewConfigError("numIterations", "must be positive")
	case req.EffectBinary < 0 || req.EffectBinary > 1:
		return core.NewConfigError("effectBinary", "must be an absolute probability in [0,1]")
	case req.Alpha <= 0 || req.Alpha >= 1:
		return core.NewConfigError("alpha", "must be in the open interval (0,1)")
	case req.Workers < 0:
		return core.NewConfigError("workers", "must be non-negative")
	}
	return nil
}
