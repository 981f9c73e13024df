package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sepflow/internal/config"
	"github.com/roach88/sepflow/internal/facility"
	"github.com/roach88/sepflow/internal/sim"
)

const runYAML = `
version: 1
simulation: {duration: 6, seed: 3}
recipes:
  natu: {U235: 0.0071, U238: 0.9929}
facilities:
  - name: mine
    archetype: Source
    source: {out_commod: feed, recipe: natu, throughput: 40, inventory_size: 200}
  - name: sep
    archetype: Separations
    separations:
      feed_commods: [feed]
      feedbuf_size: 100
      throughput: 30
      leftover_commod: waste
      streams:
        - {name: Fuel, capacity: 500, efficiencies: {U235: 0.95, U238: 0.5}}
  - name: repo
    archetype: Sink
    sink: {in_commods: [waste]}
`

func newRunEngine(t *testing.T, opts ...sim.Option) *sim.Engine {
	t.Helper()
	cfg, err := config.Parse("run.yaml", []byte(runYAML))
	require.NoError(t, err)
	e, err := sim.FromConfig(cfg, opts...)
	require.NoError(t, err)
	return e
}

func TestStore_RecordsEngineRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := newRunEngine(t, sim.WithRecorder(s), sim.WithRunIDGenerator(sim.NewFixedGenerator("run-1")))
	_, err := e.Run(ctx)
	require.NoError(t, err)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, sim.StatusCompleted, run.Status)
	assert.Equal(t, 6, run.Steps)
	assert.Equal(t, int64(3), run.Seed.Int64)

	reports, err := s.ReadTickReports(ctx, "run-1")
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	for _, r := range reports {
		assert.Equal(t, "sep", r.Agent)
		assert.LessOrEqual(t, r.Popped, 30.0+1e-9)
	}

	trades, err := s.ReadTrades(ctx, "run-1")
	require.NoError(t, err)
	var shipped float64
	for _, tr := range trades {
		if tr.Bidder == "mine" {
			shipped += tr.Amount
		}
	}
	assert.Greater(t, shipped, 0.0)

	latest, err := s.LatestSnapshotTime(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 5, latest)
}

func TestStore_ResumeFromSnapshot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := newRunEngine(t,
		sim.WithRecorder(s),
		sim.WithRunIDGenerator(sim.NewFixedGenerator("first")),
		sim.WithDuration(3),
	)
	_, err := first.Run(ctx)
	require.NoError(t, err)

	at, err := s.LatestSnapshotTime(ctx, "first")
	require.NoError(t, err)
	require.Equal(t, 2, at)
	snaps, err := s.ReadSnapshot(ctx, "first", at)
	require.NoError(t, err)

	resumed := newRunEngine(t,
		sim.WithRecorder(s),
		sim.WithRunIDGenerator(sim.NewFixedGenerator("second")),
		sim.WithDuration(3),
	)
	require.NoError(t, resumed.Restore(snaps, at, "first"))

	before := resumed.Summary()
	for _, name := range []string{facility.FeedInventory, "Fuel", facility.LeftoverInventory} {
		assert.InDelta(t, first.Summary().Quantity("sep", name), before.Quantity("sep", name), 1e-6, name)
	}
	assert.InDelta(t, first.Summary().Quantity("mine", facility.SourceInventory),
		before.Quantity("mine", facility.SourceInventory), 1e-6, "finite supply is restored")

	sum, err := resumed.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.EndTime)

	run, err := s.GetRun(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, 3, run.StartTime)
	assert.Equal(t, "first", run.ResumedFrom.String)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
