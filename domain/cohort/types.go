package cohort

import (
	"fmt"
	"sort"

	"clusterpower/domain/core"
)

// ClusterID identifies the unit of randomization (one subject observed
// repeatedly over time).
type ClusterID string

// Observation is a single repeated measurement within a cluster.
// Immutable once the cohort is constructed.
type Observation struct {
	Cluster    ClusterID `json:"cluster"`
	TimeIndex  int       `json:"time_index"`
	Binary     int       `json:"binary"`     // 1 = healthy, 0 = at-risk
	Continuous float64   `json:"continuous"` // physiological measurement
}

// Cohort is the full ordered collection of observations across all
// clusters. It is read-only after construction; simulation iterations
// derive per-iteration copies and never mutate it.
type Cohort struct {
	clusterIDs   []ClusterID
	observations []Observation
	byCluster    map[ClusterID][]int // observation indices per cluster
}

// New validates and constructs a cohort.
// INVARIANTS:
// - cluster identity set is non-empty and free of duplicates
// - every observation references an existing cluster
// Balance across clusters is NOT enforced; the engine must not assume it.
func New(clusterIDs []ClusterID, observations []Observation) (*Cohort, error) {
	if len(clusterIDs) == 0 {
		return nil, core.ErrEmptyCohort
	}

	byCluster := make(map[ClusterID][]int, len(clusterIDs))
	for _, id := range clusterIDs {
		if _, ok := byCluster[id]; ok {
			return nil, fmt.Errorf("%w: %s", core.ErrDuplicateCluster, id)
		}
		byCluster[id] = nil
	}

	for i, obs := range observations {
		if _, ok := byCluster[obs.Cluster]; !ok {
			return nil, core.ErrUnknownCluster
		}
		byCluster[obs.Cluster] = append(byCluster[obs.Cluster], i)
	}

	// Sorted cluster order keeps every downstream consumer deterministic
	// regardless of the order the caller supplied.
	ids := make([]ClusterID, len(clusterIDs))
	copy(ids, clusterIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	obs := make([]Observation, len(observations))
	copy(obs, observations)

	return &Cohort{
		clusterIDs:   ids,
		observations: obs,
		byCluster:    byCluster,
	}, nil
}

// ClusterIDs returns the cluster identities in sorted order.
func (c *Cohort) ClusterIDs() []ClusterID {
	ids := make([]ClusterID, len(c.clusterIDs))
	copy(ids, c.clusterIDs)
	return ids
}

// NumClusters returns the number of clusters.
func (c *Cohort) NumClusters() int {
	return len(c.clusterIDs)
}

// NumObservations returns the total observation count.
func (c *Cohort) NumObservations() int {
	return len(c.observations)
}

// Observations returns the ordered observations. The returned slice is
// shared; callers must treat it as read-only.
func (c *Cohort) Observations() []Observation {
	return c.observations
}

// ClusterObservations returns the observations belonging to one cluster.
func (c *Cohort) ClusterObservations(id ClusterID) []Observation {
	indices, ok := c.byCluster[id]
	if !ok {
		return nil
	}
	obs := make([]Observation, 0, len(indices))
	for _, i := range indices {
		obs = append(obs, c.observations[i])
	}
	return obs
}

// ClusterMeans returns the per-cluster mean of each outcome.
// ok is false for an unknown cluster or a cluster with no observations.
func (c *Cohort) ClusterMeans(id ClusterID) (binaryMean, continuousMean float64, ok bool) {
	indices, found := c.byCluster[id]
	if !found || len(indices) == 0 {
		return 0, 0, false
	}
	var sumBin, sumCont float64
	for _, i := range indices {
		sumBin += float64(c.observations[i].Binary)
		sumCont += c.observations[i].Continuous
	}
	n := float64(len(indices))
	return sumBin / n, sumCont / n, true
}
