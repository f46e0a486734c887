package testkit

import (
	"context"
	"sync"

	"clusterpower/ports"
)

// FakeFitter is a scriptable ModelFitterPort for engine tests. The
// default behavior returns a strongly significant arm effect; tests
// override FitFunc to script p-values or inject non-convergence for
// chosen calls.
type FakeFitter struct {
	// FitFunc, when set, handles every Fit call.
	FitFunc func(ctx context.Context, req ports.FitRequest) (*ports.FitResult, error)

	mu       sync.Mutex
	calls    int
	requests []ports.FitRequest
}

// NewFakeFitter creates a fake fitter with the default significant result.
func NewFakeFitter() *FakeFitter {
	return &FakeFitter{}
}

// Fit records the request and delegates to FitFunc or the default.
func (f *FakeFitter) Fit(ctx context.Context, req ports.FitRequest) (*ports.FitResult, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.FitFunc != nil {
		return f.FitFunc(ctx, req)
	}
	return SignificantResult(0.001), nil
}

// Calls returns the number of Fit invocations.
func (f *FakeFitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Requests returns a copy of every recorded fit request, in call order.
func (f *FakeFitter) Requests() []ports.FitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.FitRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// SignificantResult builds a fit result whose arm term carries the given
// p-value.
func SignificantResult(pValue float64) *ports.FitResult {
	return &ports.FitResult{
		Terms: []ports.Term{
			{Name: ports.TermIntercept, Estimate: 0.5, StdErr: 0.1, ZValue: 5, PValue: 0},
			{Name: ports.TermTreatment, Estimate: 1.2, StdErr: 0.3, ZValue: 4, PValue: pValue},
		},
		VarBetween:  0.4,
		VarResidual: 1.0,
		Iterations:  3,
	}
}

// InterceptOnlyResult builds a fit result without an arm term, carrying
// the given variance components.
func InterceptOnlyResult(varBetween, varResidual float64) *ports.FitResult {
	return &ports.FitResult{
		Terms: []ports.Term{
			{Name: ports.TermIntercept, Estimate: 0.5, StdErr: 0.1, ZValue: 5, PValue: 0},
		},
		VarBetween:  varBetween,
		VarResidual: varResidual,
		Iterations:  2,
	}
}

var _ ports.ModelFitterPort = (*FakeFitter)(nil)
