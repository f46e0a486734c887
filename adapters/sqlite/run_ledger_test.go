package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"clusterpower/domain/core"
	"clusterpower/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *RunLedger {
	t.Helper()
	ledger, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func sampleRecord(createdAt time.Time) ports.RunRecord {
	return ports.RunRecord{
		ID:            core.NewRunID(),
		CreatedAt:     createdAt,
		NumClusters:   100,
		ObsPerCluster: 30,
		NumIterations: 500,
		EffectBinary:  0.20,
		EffectCont:    5.0,
		Alpha:         0.05,
		Seed:          123,
		PowerBinary:   0.82,
		PowerCont:     0.97,
		ICCBinary:     0.04,
		ICCCont:       0.11,
		RuntimeMs:     8421,
	}
}

func TestSaveAndListRoundtrip(t *testing.T) {
	ledger := openTestLedger(t)
	ctx := context.Background()

	rec := sampleRecord(time.Now().UTC().Truncate(time.Second))
	require.NoError(t, ledger.SaveRun(ctx, rec))

	records, err := ledger.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.NumClusters, got.NumClusters)
	assert.Equal(t, rec.ObsPerCluster, got.ObsPerCluster)
	assert.Equal(t, rec.NumIterations, got.NumIterations)
	assert.Equal(t, rec.Seed, got.Seed)
	assert.InDelta(t, rec.PowerBinary, got.PowerBinary, 1e-12)
	assert.InDelta(t, rec.PowerCont, got.PowerCont, 1e-12)
	assert.InDelta(t, rec.ICCBinary, got.ICCBinary, 1e-12)
	assert.Equal(t, rec.RuntimeMs, got.RuntimeMs)
}

func TestListRunsNewestFirst(t *testing.T) {
	ledger := openTestLedger(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var ids []core.RunID
	for i := 0; i < 3; i++ {
		rec := sampleRecord(base.Add(time.Duration(i) * time.Hour))
		ids = append(ids, rec.ID)
		require.NoError(t, ledger.SaveRun(ctx, rec))
	}

	records, err := ledger.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ids[2], records[0].ID)
	assert.Equal(t, ids[0], records[2].ID)
}

func TestListRunsLimit(t *testing.T) {
	ledger := openTestLedger(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.SaveRun(ctx, sampleRecord(base.Add(time.Duration(i)*time.Minute))))
	}

	records, err := ledger.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// Non-positive limits fall back to the default window.
	records, err = ledger.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestDuplicateRunIDRejected(t *testing.T) {
	ledger := openTestLedger(t)
	ctx := context.Background()

	rec := sampleRecord(time.Now().UTC())
	require.NoError(t, ledger.SaveRun(ctx, rec))
	assert.Error(t, ledger.SaveRun(ctx, rec))
}
