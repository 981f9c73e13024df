package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sepflow/internal/config"
	"github.com/roach88/sepflow/internal/sim"
	"github.com/roach88/sepflow/internal/testutil"
)

func executeBatch(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewBatchCommand(&RootOptions{Format: format, Logger: discardLogger()})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestBatchText(t *testing.T) {
	buf, err := executeBatch(t, "text", "--seeds", "1,2,3", "--parallel", "2", runConfig)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Batch: 3 runs (seeds 1,2,3), parallel 2")
	assert.Contains(t, out, "=== Final inventories across seeds ===")
	assert.Contains(t, out, "MEDIAN")
}

func TestBatchJSON(t *testing.T) {
	buf, err := executeBatch(t, "json", "--seeds", "4,9", "--duration", "3", runConfig)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   BatchReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Runs, 2)
	assert.Equal(t, int64(4), resp.Data.Runs[0].Seed)
	assert.Equal(t, int64(9), resp.Data.Runs[1].Seed)
	for _, r := range resp.Data.Runs {
		assert.Equal(t, 3, r.Steps)
	}
	assert.NotEmpty(t, resp.Data.Inventories)
}

func TestBatchRequiresSeeds(t *testing.T) {
	_, err := executeBatch(t, "text", runConfig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seeds")
}

func TestBatchBadParallel(t *testing.T) {
	_, err := executeBatch(t, "text", "--seeds", "1", "--parallel", "0", runConfig)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBatchRunFailure(t *testing.T) {
	buf, err := executeBatch(t, "text", "--seeds", "1,2", "testdata/budget.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "EFFICIENCY_BUDGET")
}

func TestRunSeeds_IndependentEngines(t *testing.T) {
	cfg, err := config.Load(runConfig)
	require.NoError(t, err)

	runs, err := RunSeeds(context.Background(), cfg, []int64{5, 5, 5}, 3, sim.WithLogger(discardLogger()))
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs[1:] {
		assert.Equal(t, runs[0].Inventories, r.Inventories)
		assert.Equal(t, runs[0].Trades, r.Trades)
	}
	assert.Equal(t, int64(11), *cfg.Simulation.Seed, "the shared config is not modified")
}

func TestRunSeeds_SharedRecorder(t *testing.T) {
	cfg, err := config.Load(runConfig)
	require.NoError(t, err)

	rec := testutil.NewRecorder()
	runs, err := RunSeeds(context.Background(), cfg, []int64{1, 2, 3, 4}, 2,
		sim.WithLogger(discardLogger()),
		sim.WithRecorder(rec),
		sim.WithRunIDGenerator(testutil.NewConstantRunID("batch")),
	)
	require.NoError(t, err)
	require.Len(t, runs, 4)

	seeds := map[int64]bool{}
	for _, info := range rec.Runs() {
		assert.Equal(t, "batch", info.ID)
		require.NotNil(t, info.Seed)
		seeds[*info.Seed] = true
	}
	assert.Len(t, seeds, 4)
	assert.Len(t, rec.Results(), 4)

	total := 0
	for _, r := range runs {
		assert.Equal(t, "batch", r.RunID)
		total += r.Trades
	}
	assert.Equal(t, total, rec.Trades())
}

func TestSummarise(t *testing.T) {
	runs := []BatchRun{
		{Seed: 1, Trades: 2, Inventories: map[string]map[string]float64{"sep": {"Fuel": 1}}},
		{Seed: 2, Trades: 4, Inventories: map[string]map[string]float64{"sep": {"Fuel": 2}}},
		{Seed: 3, Trades: 6, Inventories: map[string]map[string]float64{"sep": {"Fuel": 3, "waste": 3}}},
	}

	r, err := Summarise(runs)
	require.NoError(t, err)
	assert.InDelta(t, 4, r.TradesMean, 1e-12)
	require.Len(t, r.Inventories, 2)

	fuel := r.Inventories[0]
	assert.Equal(t, "Fuel", fuel.Inventory)
	assert.InDelta(t, 2, fuel.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3.0), fuel.StdDev, 1e-12)
	assert.InDelta(t, 1, fuel.Min, 1e-12)
	assert.InDelta(t, 3, fuel.Max, 1e-12)
	assert.InDelta(t, 2, fuel.Median, 1e-12)

	waste := r.Inventories[1]
	assert.Equal(t, "waste", waste.Inventory)
	assert.InDelta(t, 1, waste.Mean, 1e-12, "missing inventories count as zero")
	assert.InDelta(t, 0, waste.Min, 1e-12)
}

func TestSummarise_Empty(t *testing.T) {
	r, err := Summarise(nil)
	require.NoError(t, err, "no runs is an empty report, not a stats error")
	assert.Empty(t, r.Inventories)
	assert.Zero(t, r.TradesMean)
}

func TestInventoryStats_EmptyInput(t *testing.T) {
	_, err := inventoryStats("sep", "Fuel", stats.Float64Data{})
	require.Error(t, err)
	assert.ErrorIs(t, err, stats.EmptyInputErr)
	assert.Contains(t, err.Error(), "sep/Fuel mean")
}
