package testkit

import (
	"fmt"
	"math/rand"

	"clusterpower/domain/cohort"
)

// CohortGeneratorConfig configures the baseline cohort generator.
type CohortGeneratorConfig struct {
	NumClusters   int     `json:"num_clusters"`
	ObsPerCluster int     `json:"obs_per_cluster"`
	BinaryProb    float64 `json:"binary_prob"` // P(healthy) at baseline
	ContMean      float64 `json:"cont_mean"`
	ContSD        float64 `json:"cont_sd"`
	Seed          int64   `json:"seed"`
}

// DefaultCohortConfig returns the illustrative baseline scenario.
func DefaultCohortConfig() CohortGeneratorConfig {
	return CohortGeneratorConfig{
		NumClusters:   100,
		ObsPerCluster: 30,
		BinaryProb:    0.87,
		ContMean:      97.47,
		ContSD:        1.0,
		Seed:          42,
	}
}

// CohortGenerator produces seeded synthetic baseline cohorts: a balanced
// design with independent Bernoulli binary outcomes and Gaussian
// continuous outcomes per observation.
type CohortGenerator struct {
	config CohortGeneratorConfig
	rng    *rand.Rand
}

// NewCohortGenerator creates a generator with its own seeded stream.
func NewCohortGenerator(config CohortGeneratorConfig) *CohortGenerator {
	return &CohortGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Generate builds the baseline cohort. Cluster ids are zero-padded so
// lexicographic and numeric order agree.
func (g *CohortGenerator) Generate() (*cohort.Cohort, error) {
	clusterIDs := make([]cohort.ClusterID, g.config.NumClusters)
	for i := range clusterIDs {
		clusterIDs[i] = cohort.ClusterID(fmt.Sprintf("cluster_%04d", i+1))
	}

	observations := make([]cohort.Observation, 0, g.config.NumClusters*g.config.ObsPerCluster)
	for _, id := range clusterIDs {
		for t := 0; t < g.config.ObsPerCluster; t++ {
			binary := 0
			if g.rng.Float64() < g.config.BinaryProb {
				binary = 1
			}
			observations = append(observations, cohort.Observation{
				Cluster:    id,
				TimeIndex:  t,
				Binary:     binary,
				Continuous: g.config.ContMean + g.config.ContSD*g.rng.NormFloat64(),
			})
		}
	}

	return cohort.New(clusterIDs, observations)
}
