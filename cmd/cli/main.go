package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"clusterpower/adapters/glmm"
	"clusterpower/adapters/rng"
	"clusterpower/adapters/sqlite"
	"clusterpower/app"
	"clusterpower/domain/cohort"
	"clusterpower/domain/core"
	"clusterpower/domain/trial"
	"clusterpower/internal"
	"clusterpower/internal/config"
	"clusterpower/internal/report"
	"clusterpower/internal/testkit"
	"clusterpower/ports"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Optional .env file; environment variables win over defaults.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "clusterpower",
		Short: "Monte Carlo power analysis for cluster-randomized trials",
	}

	rootCmd.AddCommand(
		newPowerCmd(),
		newICCCmd(),
		newHistoryCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newPowerCmd() *cobra.Command {
	var (
		clusters   int
		obs        int
		effectBin  float64
		effectCont float64
		iterations int
		alpha      float64
		seed       int64
		workers    int
		ledgerPath string
	)

	cmd := &cobra.Command{
		Use:   "power",
		Short: "Run the simulation loop and report empirical power",
		Long: `Run the full power analysis: generate the baseline cohort, estimate
baseline ICCs, then repeatedly randomize clusters, simulate outcomes under
the assumed effect, fit mixed-effects models, and reduce to empirical power.

Example: clusterpower power --clusters 100 --obs 30 --iterations 500 --seed 123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			applyIfChanged(cmd, "clusters", func() { cfg.NumClusters = clusters })
			applyIfChanged(cmd, "obs", func() { cfg.ObsPerCluster = obs })
			applyIfChanged(cmd, "effect-binary", func() { cfg.EffectBinary = effectBin })
			applyIfChanged(cmd, "effect-cont", func() { cfg.EffectCont = effectCont })
			applyIfChanged(cmd, "iterations", func() { cfg.NumIterations = iterations })
			applyIfChanged(cmd, "alpha", func() { cfg.Alpha = alpha })
			applyIfChanged(cmd, "seed", func() { cfg.Seed = seed })
			applyIfChanged(cmd, "workers", func() { cfg.Workers = workers })
			applyIfChanged(cmd, "ledger", func() { cfg.LedgerPath = ledgerPath })
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runPower(cmd.Context(), cfg)
		},
	}

	defaults := config.Default()
	cmd.Flags().IntVar(&clusters, "clusters", defaults.NumClusters, "number of clusters (subjects)")
	cmd.Flags().IntVar(&obs, "obs", defaults.ObsPerCluster, "observations per cluster")
	cmd.Flags().Float64Var(&effectBin, "effect-binary", defaults.EffectBinary, "intervention success probability for at-risk outcomes")
	cmd.Flags().Float64Var(&effectCont, "effect-cont", defaults.EffectCont, "additive intervention effect on the continuous outcome")
	cmd.Flags().IntVar(&iterations, "iterations", defaults.NumIterations, "Monte Carlo iterations")
	cmd.Flags().Float64Var(&alpha, "alpha", defaults.Alpha, "significance threshold")
	cmd.Flags().Int64Var(&seed, "seed", defaults.Seed, "run seed")
	cmd.Flags().IntVar(&workers, "workers", defaults.Workers, "parallel workers (1 = canonical sequential loop)")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "sqlite path for the run ledger (empty disables persistence)")

	return cmd
}

func runPower(ctx context.Context, cfg config.RunConfig) error {
	logger := internal.NewDefaultLogger()
	fitter := glmm.NewFitter()
	rngAdapter := rng.New()

	baseline, err := generateBaseline(cfg)
	if err != nil {
		return err
	}

	iccService := app.NewICCService(fitter, logger)
	iccBinary := iccService.EstimateICC(ctx, baseline, trial.OutcomeBinary)
	iccCont := iccService.EstimateICC(ctx, baseline, trial.OutcomeContinuous)

	if err := report.RenderAssumptions(os.Stdout, report.Assumptions(cfg, iccBinary, iccCont)); err != nil {
		return err
	}

	powerService := app.NewPowerService(fitter, rngAdapter, logger)
	result, err := powerService.RunPowerAnalysis(ctx, app.PowerRequest{
		Cohort:        baseline,
		NumIterations: cfg.NumIterations,
		EffectBinary:  cfg.EffectBinary,
		EffectCont:    cfg.EffectCont,
		Alpha:         cfg.Alpha,
		Seed:          cfg.Seed,
		Workers:       cfg.Workers,
	})
	if err != nil {
		return err
	}

	if err := report.RenderRunSummary(os.Stdout, result); err != nil {
		return err
	}

	if cfg.LedgerPath != "" {
		if err := saveRun(ctx, cfg, result, iccBinary, iccCont); err != nil {
			logger.Error("failed to persist run: %v", err)
		}
	}
	return nil
}

func newICCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "icc",
		Short: "Estimate baseline intra-cluster correlations only",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			baseline, err := generateBaseline(cfg)
			if err != nil {
				return err
			}
			logger := internal.NewDefaultLogger()
			iccService := app.NewICCService(glmm.NewFitter(), logger)
			iccBinary := iccService.EstimateICC(cmd.Context(), baseline, trial.OutcomeBinary)
			iccCont := iccService.EstimateICC(cmd.Context(), baseline, trial.OutcomeContinuous)
			return report.RenderAssumptions(os.Stdout, report.Assumptions(cfg, iccBinary, iccCont))
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	var ledgerPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List persisted runs from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := sqlite.Open(ledgerPath)
			if err != nil {
				return err
			}
			defer ledger.Close()

			records, err := ledger.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Printf("%s  %s  clusters=%d obs=%d iters=%d seed=%d  power_binary=%.3f power_cont=%.3f\n",
					rec.CreatedAt.Format(time.RFC3339), rec.ID, rec.NumClusters, rec.ObsPerCluster,
					rec.NumIterations, rec.Seed, rec.PowerBinary, rec.PowerCont)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "clusterpower.db", "sqlite path of the run ledger")
	return cmd
}

func generateBaseline(cfg config.RunConfig) (*cohort.Cohort, error) {
	generator := testkit.NewCohortGenerator(testkit.CohortGeneratorConfig{
		NumClusters:   cfg.NumClusters,
		ObsPerCluster: cfg.ObsPerCluster,
		BinaryProb:    cfg.BaselineBinaryProb,
		ContMean:      cfg.BaselineContMean,
		ContSD:        cfg.BaselineContSD,
		Seed:          cfg.Seed,
	})
	return generator.Generate()
}

func saveRun(ctx context.Context, cfg config.RunConfig, result *app.PowerResult, iccBinary, iccCont trial.ICCEstimate) error {
	ledger, err := sqlite.Open(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	return ledger.SaveRun(ctx, ports.RunRecord{
		ID:            result.RunID,
		CreatedAt:     core.Now().Time(),
		NumClusters:   cfg.NumClusters,
		ObsPerCluster: cfg.ObsPerCluster,
		NumIterations: cfg.NumIterations,
		EffectBinary:  cfg.EffectBinary,
		EffectCont:    cfg.EffectCont,
		Alpha:         cfg.Alpha,
		Seed:          cfg.Seed,
		PowerBinary:   result.Binary.Power,
		PowerCont:     result.Continuous.Power,
		ICCBinary:     iccOrZero(iccBinary),
		ICCCont:       iccOrZero(iccCont),
		RuntimeMs:     result.RuntimeMs,
	})
}

// iccOrZero maps an undefined ICC to 0 for storage.
func iccOrZero(est trial.ICCEstimate) float64 {
	if !est.Converged || math.IsNaN(est.ICC) {
		return 0
	}
	return est.ICC
}

func applyIfChanged(cmd *cobra.Command, flag string, apply func()) {
	if cmd.Flags().Changed(flag) {
		apply()
	}
}
