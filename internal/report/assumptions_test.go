package report

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"clusterpower/app"
	"clusterpower/domain/core"
	"clusterpower/domain/trial"
	"clusterpower/internal/config"
)

func sampleICC(outcomeType trial.OutcomeType, icc float64) trial.ICCEstimate {
	return trial.ICCEstimate{
		OutcomeType: outcomeType,
		ICC:         icc,
		VarBetween:  icc,
		VarResidual: 1 - icc,
		Converged:   true,
	}
}

func TestAssumptionsRows(t *testing.T) {
	cfg := config.Default()
	rows := Assumptions(cfg, sampleICC(trial.OutcomeBinary, 0.04), sampleICC(trial.OutcomeContinuous, 0.11))

	byName := make(map[string]string, len(rows))
	for _, r := range rows {
		byName[r.Name] = r.Value
	}

	tests := []struct {
		name, want string
	}{
		{"num_clusters", "100"},
		{"obs_per_cluster", "30"},
		{"baseline_binary_prob", "0.870"},
		{"effect_cont", "5.000"},
		{"alpha", "0.050"},
		{"seed", "123"},
		{"icc_binary", "0.040"},
		{"icc_continuous", "0.110"},
	}
	for _, tt := range tests {
		if got := byName[tt.name]; got != tt.want {
			t.Errorf("assumption %s = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestAssumptionsUndefinedICC(t *testing.T) {
	rows := Assumptions(config.Default(), trial.UndefinedICC(trial.OutcomeBinary), sampleICC(trial.OutcomeContinuous, 0.1))
	for _, r := range rows {
		if r.Name == "icc_binary" && r.Value != "undefined" {
			t.Errorf("non-converged ICC rendered as %q, want undefined", r.Value)
		}
	}
}

func TestRenderAssumptions(t *testing.T) {
	var buf bytes.Buffer
	rows := Assumptions(config.Default(), sampleICC(trial.OutcomeBinary, 0.04), sampleICC(trial.OutcomeContinuous, 0.11))
	if err := RenderAssumptions(&buf, rows); err != nil {
		t.Fatalf("RenderAssumptions() error: %v", err)
	}

	out := buf.String()
	// tablewriter renders header cells uppercased.
	for _, want := range []string{"ASSUMPTION", "num_clusters", "0.870", "icc_continuous"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered table missing %q:\n%s", want, out)
		}
	}
}

func TestRenderRunSummary(t *testing.T) {
	iterations := make([]trial.IterationResult, 10)
	for i := range iterations {
		detected := i < 8
		p := 0.01
		if !detected {
			p = 0.5
		}
		iterations[i] = trial.IterationResult{
			Iteration:  i,
			Binary:     trial.OutcomeResult{PValue: p, Detected: detected, Converged: true},
			Continuous: trial.OutcomeResult{PValue: 0.001, Detected: true, Converged: true},
		}
	}
	result := &app.PowerResult{
		RunID:      core.NewRunID(),
		Binary:     trial.PowerEstimate{OutcomeType: trial.OutcomeBinary, Power: 0.8, Detected: 8, Iterations: 10},
		Continuous: trial.PowerEstimate{OutcomeType: trial.OutcomeContinuous, Power: 1.0, Detected: 10, Iterations: 10},
		Iterations: iterations,
		RuntimeMs:  1500,
	}

	var buf bytes.Buffer
	if err := RenderRunSummary(&buf, result); err != nil {
		t.Fatalf("RenderRunSummary() error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"binary", "continuous", "8/10", "10/10", "0.800", "1500ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("run summary missing %q:\n%s", want, out)
		}
	}
}

func TestProportionCI(t *testing.T) {
	tests := []struct {
		name   string
		p      float64
		n      int
		wantLo float64
		wantHi float64
	}{
		{"degenerate zero iterations", 0.3, 0, 0, 1},
		{"certain detection clips at 1", 1.0, 100, 1, 1},
		{"never detected clips at 0", 0.0, 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := proportionCI(tt.p, tt.n)
			if math.Abs(lo-tt.wantLo) > 1e-12 || math.Abs(hi-tt.wantHi) > 1e-12 {
				t.Errorf("proportionCI(%v, %d) = [%v, %v], want [%v, %v]",
					tt.p, tt.n, lo, hi, tt.wantLo, tt.wantHi)
			}
		})
	}

	lo, hi := proportionCI(0.5, 100)
	if !(lo < 0.5 && 0.5 < hi) {
		t.Errorf("interval [%v, %v] does not bracket the estimate", lo, hi)
	}
}
