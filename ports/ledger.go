package ports

import (
	"context"
	"time"

	"clusterpower/domain/core"
)

// RunRecord is the persisted summary of one completed power analysis run.
type RunRecord struct {
	ID            core.RunID `db:"id"`
	CreatedAt     time.Time  `db:"created_at"`
	NumClusters   int        `db:"num_clusters"`
	ObsPerCluster int        `db:"obs_per_cluster"`
	NumIterations int        `db:"num_iterations"`
	EffectBinary  float64    `db:"effect_binary"`
	EffectCont    float64    `db:"effect_cont"`
	Alpha         float64    `db:"alpha"`
	Seed          int64      `db:"seed"`
	PowerBinary   float64    `db:"power_binary"`
	PowerCont     float64    `db:"power_cont"`
	ICCBinary     float64    `db:"icc_binary"`
	ICCCont       float64    `db:"icc_cont"`
	RuntimeMs     int64      `db:"runtime_ms"`
}

// RunLedgerPort persists run records for later inspection. The engine
// never reads the ledger mid-run; there is no checkpointing.
type RunLedgerPort interface {
	SaveRun(ctx context.Context, rec RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
