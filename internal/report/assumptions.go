// Package report renders the assumptions table and run summaries for
// the CLI. It consumes power run outputs; it never influences them.
package report

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"clusterpower/app"
	"clusterpower/domain/trial"
	"clusterpower/internal/config"

	"github.com/montanaflynn/stats"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// Assumption is one (name, value, description) row of the assumptions table.
type Assumption struct {
	Name        string
	Value       string
	Description string
}

// Assumptions collects the run configuration and ICC diagnostics into
// the report table rows.
func Assumptions(cfg config.RunConfig, iccBinary, iccCont trial.ICCEstimate) []Assumption {
	return []Assumption{
		{"num_clusters", strconv.Itoa(cfg.NumClusters), "subjects (clusters) in the trial"},
		{"obs_per_cluster", strconv.Itoa(cfg.ObsPerCluster), "repeated measurements per subject"},
		{"baseline_binary_prob", fmtFloat(cfg.BaselineBinaryProb), "baseline probability of the healthy category"},
		{"baseline_cont_mean", fmtFloat(cfg.BaselineContMean), "baseline mean of the continuous outcome"},
		{"baseline_cont_sd", fmtFloat(cfg.BaselineContSD), "baseline sd of the continuous outcome"},
		{"effect_binary", fmtFloat(cfg.EffectBinary), "success probability replacing at-risk outcomes under intervention"},
		{"effect_cont", fmtFloat(cfg.EffectCont), "additive intervention shift of the continuous outcome"},
		{"num_iterations", strconv.Itoa(cfg.NumIterations), "Monte Carlo iterations"},
		{"alpha", fmtFloat(cfg.Alpha), "significance threshold"},
		{"seed", strconv.FormatInt(cfg.Seed, 10), "run seed (full run replays from this value)"},
		{"icc_binary", fmtICC(iccBinary), "baseline intra-cluster correlation, binary outcome"},
		{"icc_continuous", fmtICC(iccCont), "baseline intra-cluster correlation, continuous outcome"},
	}
}

// RenderAssumptions writes the assumptions table.
func RenderAssumptions(w io.Writer, rows []Assumption) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Assumption", "Value", "Description"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	var data [][]string
	for _, r := range rows {
		data = append(data, []string{r.Name, r.Value, r.Description})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// RenderRunSummary writes the per-outcome power table with a normal-
// approximation confidence band and the median raw p-value.
func RenderRunSummary(w io.Writer, result *app.PowerResult) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Outcome", "Power", "Detected", "95% CI", "Median p"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	rows := [][]string{
		summaryRow(result.Binary, binaryPValues(result.Iterations)),
		summaryRow(result.Continuous, continuousPValues(result.Iterations)),
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Run %s completed in %dms (%d iterations)\n",
		result.RunID, result.RuntimeMs, result.Binary.Iterations)
	return err
}

func summaryRow(est trial.PowerEstimate, pValues []float64) []string {
	lo, hi := proportionCI(est.Power, est.Iterations)
	median, err := stats.Median(pValues)
	medianStr := "n/a"
	if err == nil {
		medianStr = fmtFloat(median)
	}
	return []string{
		string(est.OutcomeType),
		fmtFloat(est.Power),
		fmt.Sprintf("%d/%d", est.Detected, est.Iterations),
		fmt.Sprintf("[%s, %s]", fmtFloat(lo), fmtFloat(hi)),
		medianStr,
	}
}

// proportionCI is the normal-approximation binomial proportion interval,
// clipped to [0,1].
func proportionCI(p float64, n int) (lo, hi float64) {
	if n == 0 {
		return 0, 1
	}
	half := 1.96 * math.Sqrt(p*(1-p)/float64(n))
	lo = math.Max(0, p-half)
	hi = math.Min(1, p+half)
	return lo, hi
}

func binaryPValues(results []trial.IterationResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Binary.PValue
	}
	return out
}

func continuousPValues(results []trial.IterationResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Continuous.PValue
	}
	return out
}

func fmtFloat(v float64) string {
	if math.IsNaN(v) {
		return "undefined"
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func fmtICC(est trial.ICCEstimate) string {
	if !est.Converged {
		return "undefined"
	}
	return fmtFloat(est.ICC)
}
