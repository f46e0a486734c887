package config

import (
	"os"
	"strconv"

	"clusterpower/internal/errors"
)

// RunConfig is the complete configuration for one power analysis run.
// Validation fails fast before any simulation iteration starts.
type RunConfig struct {
	// Baseline cohort shape
	NumClusters        int
	ObsPerCluster      int
	BaselineBinaryProb float64
	BaselineContMean   float64
	BaselineContSD     float64

	// Assumed treatment effect
	EffectBinary float64 // absolute success probability, 0-1
	EffectCont   float64 // additive constant

	// Simulation
	NumIterations int
	Alpha         float64
	Seed          int64
	Workers       int // <= 1 means the canonical sequential loop

	// Persistence (empty disables the run ledger)
	LedgerPath string
}

// Default returns the reference scenario configuration.
func Default() RunConfig {
	return RunConfig{
		NumClusters:        100,
		ObsPerCluster:      30,
		BaselineBinaryProb: 0.87,
		BaselineContMean:   97.47,
		BaselineContSD:     1.0,
		EffectBinary:       0.20,
		EffectCont:         5.0,
		NumIterations:      500,
		Alpha:              0.05,
		Seed:               123,
		Workers:            1,
	}
}

// FromEnv loads configuration from environment variables on top of the
// defaults and validates the result.
func FromEnv() (RunConfig, error) {
	cfg := Default()

	var err error
	cfg.NumClusters, err = intEnv("POWER_NUM_CLUSTERS", cfg.NumClusters, err)
	cfg.ObsPerCluster, err = intEnv("POWER_OBS_PER_CLUSTER", cfg.ObsPerCluster, err)
	cfg.BaselineBinaryProb, err = floatEnv("POWER_BASELINE_BINARY_PROB", cfg.BaselineBinaryProb, err)
	cfg.BaselineContMean, err = floatEnv("POWER_BASELINE_CONT_MEAN", cfg.BaselineContMean, err)
	cfg.BaselineContSD, err = floatEnv("POWER_BASELINE_CONT_SD", cfg.BaselineContSD, err)
	cfg.EffectBinary, err = floatEnv("POWER_EFFECT_BINARY", cfg.EffectBinary, err)
	cfg.EffectCont, err = floatEnv("POWER_EFFECT_CONT", cfg.EffectCont, err)
	cfg.NumIterations, err = intEnv("POWER_NUM_ITERATIONS", cfg.NumIterations, err)
	cfg.Alpha, err = floatEnv("POWER_ALPHA", cfg.Alpha, err)
	cfg.Seed, err = int64Env("POWER_SEED", cfg.Seed, err)
	cfg.Workers, err = intEnv("POWER_WORKERS", cfg.Workers, err)
	if v := os.Getenv("POWER_LEDGER_PATH"); v != "" {
		cfg.LedgerPath = v
	}
	if err != nil {
		return RunConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Validate enforces the malformed-configuration taxonomy: any violation
// is a configuration error reported before the loop starts.
func (c RunConfig) Validate() error {
	switch {
	case c.NumClusters < 2:
		return errors.ConfigInvalid("num clusters must be at least 2")
	case c.ObsPerCluster < 1:
		return errors.ConfigInvalid("observations per cluster must be positive")
	case c.BaselineBinaryProb < 0 || c.BaselineBinaryProb > 1:
		return errors.ConfigInvalid("baseline binary probability must be in [0,1]")
	case c.BaselineContSD < 0:
		return errors.ConfigInvalid("baseline continuous sd must be non-negative")
	case c.EffectBinary < 0 || c.EffectBinary > 1:
		return errors.ConfigInvalid("effect binary must be an absolute probability in [0,1]")
	case c.NumIterations < 1:
		return errors.ConfigInvalid("iteration count must be positive")
	case c.Alpha <= 0 || c.Alpha >= 1:
		return errors.ConfigInvalid("alpha must be in the open interval (0,1)")
	case c.Workers < 0:
		return errors.ConfigInvalid("workers must be non-negative")
	}
	return nil
}

func intEnv(key string, fallback int, prev error) (int, error) {
	if prev != nil {
		return fallback, prev
	}
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback, errors.Wrapf(err, "invalid integer for %s", key)
	}
	return parsed, nil
}

func int64Env(key string, fallback int64, prev error) (int64, error) {
	if prev != nil {
		return fallback, prev
	}
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback, errors.Wrapf(err, "invalid integer for %s", key)
	}
	return parsed, nil
}

func floatEnv(key string, fallback float64, prev error) (float64, error) {
	if prev != nil {
		return fallback, prev
	}
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, errors.Wrapf(err, "invalid float for %s", key)
	}
	return parsed, nil
}
