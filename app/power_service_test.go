package app

import (
	"context"
	"testing"

	"clusterpower/adapters/glmm"
	"clusterpower/adapters/rng"
	"clusterpower/domain/cohort"
	"clusterpower/domain/core"
	"clusterpower/internal"
	"clusterpower/internal/testkit"
	"clusterpower/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *internal.Logger {
	return internal.NewLogger(internal.LogLevelError)
}

func testCohort(t *testing.T, numClusters, obsPerCluster int) *cohort.Cohort {
	t.Helper()
	cfg := testkit.DefaultCohortConfig()
	cfg.NumClusters = numClusters
	cfg.ObsPerCluster = obsPerCluster
	c, err := testkit.NewCohortGenerator(cfg).Generate()
	require.NoError(t, err)
	return c
}

func baseRequest(c *cohort.Cohort) PowerRequest {
	return PowerRequest{
		Cohort:        c,
		NumIterations: 10,
		EffectBinary:  0.2,
		EffectCont:    5.0,
		Alpha:         0.05,
		Seed:          123,
	}
}

func TestRunPowerAnalysisScriptedDecisions(t *testing.T) {
	c := testCohort(t, 10, 5)

	// Binary fits: first 4 significant, rest not. Continuous fits: never
	// significant. Sequential mode makes the call order deterministic.
	binomialCalls := 0
	fake := testkit.NewFakeFitter()
	fake.FitFunc = func(ctx context.Context, req ports.FitRequest) (*ports.FitResult, error) {
		if req.Family == ports.FamilyBinomial {
			binomialCalls++
			if binomialCalls <= 4 {
				return testkit.SignificantResult(0.001), nil
			}
			return testkit.SignificantResult(0.5), nil
		}
		return testkit.SignificantResult(0.2), nil
	}

	svc := NewPowerService(fake, rng.New(), quietLogger())
	res, err := svc.RunPowerAnalysis(context.Background(), baseRequest(c))
	require.NoError(t, err)

	assert.Equal(t, 4, res.Binary.Detected)
	assert.InDelta(t, 0.4, res.Binary.Power, 1e-12)
	assert.Equal(t, 0, res.Continuous.Detected)
	assert.Equal(t, 10, res.Binary.Iterations)
	assert.Equal(t, 20, fake.Calls(), "expected two fits per iteration")
	assert.NotEmpty(t, res.RunID)
}

func TestRunPowerAnalysisReproducibleFromSeed(t *testing.T) {
	c := testCohort(t, 10, 5)

	run := func() []ports.FitRequest {
		fake := testkit.NewFakeFitter()
		svc := NewPowerService(fake, rng.New(), quietLogger())
		_, err := svc.RunPowerAnalysis(context.Background(), baseRequest(c))
		require.NoError(t, err)
		return fake.Requests()
	}

	first := run()
	second := run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Treatment, second[i].Treatment,
			"assignment differs at fit %d for identical seeds", i)
		assert.Equal(t, first[i].Outcome, second[i].Outcome,
			"simulated outcomes differ at fit %d for identical seeds", i)
	}
}

func TestRunPowerAnalysisSeedChangesRandomization(t *testing.T) {
	c := testCohort(t, 10, 5)

	run := func(seed int64) []ports.FitRequest {
		fake := testkit.NewFakeFitter()
		svc := NewPowerService(fake, rng.New(), quietLogger())
		req := baseRequest(c)
		req.Seed = seed
		_, err := svc.RunPowerAnalysis(context.Background(), req)
		require.NoError(t, err)
		return fake.Requests()
	}

	first := run(1)
	second := run(2)
	differs := false
	for i := range first {
		if !assert.ObjectsAreEqual(first[i].Treatment, second[i].Treatment) {
			differs = true
			break
		}
	}
	assert.True(t, differs, "different seeds produced identical assignments throughout")
}

func TestNonConvergenceRecordsNullResult(t *testing.T) {
	c := testCohort(t, 10, 5)

	fake := testkit.NewFakeFitter()
	fake.FitFunc = func(ctx context.Context, req ports.FitRequest) (*ports.FitResult, error) {
		if req.Family == ports.FamilyBinomial {
			return nil, core.NewNonConvergenceError("binomial", 100)
		}
		return testkit.SignificantResult(0.001), nil
	}

	svc := NewPowerService(fake, rng.New(), quietLogger())
	res, err := svc.RunPowerAnalysis(context.Background(), baseRequest(c))
	require.NoError(t, err, "non-convergence must not abort the run")

	assert.Equal(t, 0, res.Binary.Detected)
	for _, iter := range res.Iterations {
		assert.Equal(t, 1.0, iter.Binary.PValue)
		assert.False(t, iter.Binary.Detected)
		assert.False(t, iter.Binary.Converged)
		assert.True(t, iter.Continuous.Converged)
	}
	assert.Equal(t, 10, res.Continuous.Detected)
}

func TestMissingArmTermRecordsNullResult(t *testing.T) {
	c := testCohort(t, 10, 5)

	fake := testkit.NewFakeFitter()
	fake.FitFunc = func(ctx context.Context, req ports.FitRequest) (*ports.FitResult, error) {
		return testkit.InterceptOnlyResult(0.5, 1.0), nil
	}

	svc := NewPowerService(fake, rng.New(), quietLogger())
	res, err := svc.RunPowerAnalysis(context.Background(), baseRequest(c))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Binary.Detected)
	assert.Equal(t, 0, res.Continuous.Detected)
}

func TestPValueAtAlphaNotDetected(t *testing.T) {
	c := testCohort(t, 10, 5)

	fake := testkit.NewFakeFitter()
	fake.FitFunc = func(ctx context.Context, req ports.FitRequest) (*ports.FitResult, error) {
		return testkit.SignificantResult(0.05), nil
	}

	svc := NewPowerService(fake, rng.New(), quietLogger())
	res, err := svc.RunPowerAnalysis(context.Background(), baseRequest(c))
	require.NoError(t, err)
	// The decision rule is strict: p < alpha.
	assert.Equal(t, 0, res.Binary.Detected)
	assert.Equal(t, 0, res.Continuous.Detected)
}

func TestContextCancellationAborts(t *testing.T) {
	c := testCohort(t, 10, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewPowerService(testkit.NewFakeFitter(), rng.New(), quietLogger())
	_, err := svc.RunPowerAnalysis(ctx, baseRequest(c))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParallelModeCompletesAllIterations(t *testing.T) {
	c := testCohort(t, 10, 5)

	svc := NewPowerService(testkit.NewFakeFitter(), rng.New(), quietLogger())
	req := baseRequest(c)
	req.NumIterations = 20
	req.Workers = 4

	res, err := svc.RunPowerAnalysis(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Iterations, 20)
	for i, iter := range res.Iterations {
		assert.Equal(t, i, iter.Iteration)
	}
	assert.Equal(t, 20, res.Binary.Detected)
	assert.Equal(t, 20, res.Continuous.Detected)
}

func TestRunPowerAnalysisValidation(t *testing.T) {
	c := testCohort(t, 10, 5)
	single, err := cohort.New([]cohort.ClusterID{"only"}, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*PowerRequest)
	}{
		{"nil cohort", func(r *PowerRequest) { r.Cohort = nil }},
		{"single cluster", func(r *PowerRequest) { r.Cohort = single }},
		{"zero iterations", func(r *PowerRequest) { r.NumIterations = 0 }},
		{"effect probability above 1", func(r *PowerRequest) { r.EffectBinary = 1.2 }},
		{"negative effect probability", func(r *PowerRequest) { r.EffectBinary = -0.1 }},
		{"alpha at 0", func(r *PowerRequest) { r.Alpha = 0 }},
		{"alpha at 1", func(r *PowerRequest) { r.Alpha = 1 }},
		{"negative workers", func(r *PowerRequest) { r.Workers = -1 }},
	}

	svc := NewPowerService(testkit.NewFakeFitter(), rng.New(), quietLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest(c)
			tt.mutate(&req)
			_, err := svc.RunPowerAnalysis(context.Background(), req)
			require.Error(t, err)
			assert.True(t, core.IsConfigError(err), "want config error, got %v", err)
		})
	}
}

// TestPowerSeparatesEffectSizes exercises the full engine against the
// real fitter: a large continuous effect should be detected far more
// often than a null effect.
func TestPowerSeparatesEffectSizes(t *testing.T) {
	if testing.Short() {
		t.Skip("full-engine run")
	}
	c := testCohort(t, 20, 10)

	run := func(effectCont float64) *PowerResult {
		svc := NewPowerService(glmm.NewFitter(), rng.New(), quietLogger())
		res, err := svc.RunPowerAnalysis(context.Background(), PowerRequest{
			Cohort:        c,
			NumIterations: 30,
			EffectBinary:  0.0,
			EffectCont:    effectCont,
			Alpha:         0.05,
			Seed:          321,
		})
		require.NoError(t, err)
		return res
	}

	large := run(5.0)
	null := run(0.0)

	assert.GreaterOrEqual(t, large.Continuous.Power, 0.8,
		"a 5-unit shift on unit-variance outcomes should almost always be detected")
	assert.LessOrEqual(t, null.Continuous.Power, 0.3,
		"null effect detections should stay near the significance level")
	assert.GreaterOrEqual(t, large.Continuous.Power, null.Continuous.Power)

	// The baseline cohort has no true cluster effect, so the continuous
	// fits sit at the zero-variance boundary; they must converge there
	// rather than fall into the p = 1 failure path.
	converged := 0
	for _, iter := range append(large.Iterations, null.Iterations...) {
		if iter.Continuous.Converged {
			converged++
		}
		assert.GreaterOrEqual(t, iter.Continuous.PValue, 0.0)
		assert.LessOrEqual(t, iter.Continuous.PValue, 1.0)
	}
	assert.GreaterOrEqual(t, converged, 56,
		"continuous fits on boundary-variance data failed to converge: %d/60", converged)
}
