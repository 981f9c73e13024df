package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sepflow/internal/config"
	"github.com/roach88/sepflow/internal/store"
)

func executeReplay(t *testing.T, format string, verbose bool, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: format, Verbose: verbose, Logger: discardLogger()})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func tamper(t *testing.T, dbPath, query string, args ...any) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	res, err := st.DB().Exec(query, args...)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	require.Positive(t, n)
}

func TestReplayMissingArgs(t *testing.T) {
	_, err := executeReplay(t, "text", false, "run-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg(s)")
}

func TestReplayRequiresDatabase(t *testing.T) {
	_, err := executeReplay(t, "text", false, "run-a", runConfig)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayDeterministic(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordTestRun(t, dbPath, "run-a")

	buf, err := executeReplay(t, "text", false, "--db", dbPath, "run-a", runConfig)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Replay of run run-a: 8 steps")
	assert.Contains(t, out, "Snapshots checked: 24")
	assert.Contains(t, out, "✓ Run verified deterministic")
}

func TestReplayDeterministicJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordTestRun(t, dbPath, "run-a", "--snapshot-every", "3")

	buf, err := executeReplay(t, "json", false, "--db", dbPath, "run-a", runConfig)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Deterministic)
	// t=0, 3, 6 and the final step t=7, three facilities each
	assert.Equal(t, 12, resp.Data.SnapshotsChecked)
	assert.Greater(t, resp.Data.TradesChecked, 0)
}

func TestReplaySeedOverride(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordTestRun(t, dbPath, "run-a", "--seed", "42")

	_, err := executeReplay(t, "text", false, "--db", dbPath, "run-a", runConfig)
	assert.NoError(t, err)
}

func TestReplayDetectsSnapshotDivergence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordTestRun(t, dbPath, "run-a")
	tamper(t, dbPath, `UPDATE snapshots SET hash = 'tampered' WHERE run_id = ? AND time = 3 AND agent = 'sep'`, "run-a")

	buf, err := executeReplay(t, "text", true, "--db", dbPath, "run-a", runConfig)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out := buf.String()
	assert.Contains(t, out, "✗ t=3 snapshot sep")
	assert.Contains(t, out, "recorded: tampered")
	assert.Contains(t, out, "✗ Determinism verification failed")
}

func TestReplayDetectsTradeDivergence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordTestRun(t, dbPath, "run-a")
	tamper(t, dbPath, `UPDATE trades SET amount = amount + 1 WHERE run_id = ? AND seq = 0`, "run-a")

	buf, err := executeReplay(t, "json", false, "--db", dbPath, "run-a", runConfig)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
		Error  *CLIError    `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeDeterminism, resp.Error.Code)
	require.NotEmpty(t, resp.Data.Mismatches)
	for _, m := range resp.Data.Mismatches {
		assert.Equal(t, "trade", m.Kind)
	}
}

func TestReplayRejectsResumedRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordTestRun(t, dbPath, "first", "--duration", "2")
	recordTestRun(t, dbPath, "second", "--duration", "2", "--resume", "first")

	buf, err := executeReplay(t, "text", false, "--db", dbPath, "second", runConfig)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "resumed runs cannot be replayed")
}

func TestReplayRejectsChangedConfig(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordTestRun(t, dbPath, "run-a")

	data, err := os.ReadFile(runConfig)
	require.NoError(t, err)
	changed := filepath.Join(t.TempDir(), "changed.yaml")
	require.NoError(t, os.WriteFile(changed, []byte(strings.Replace(string(data), "throughput: 50", "throughput: 40", 1)), 0o644))

	buf, err := executeReplay(t, "text", false, "--db", dbPath, "run-a", changed)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "config does not match")
}

func TestReplayUnknownRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordTestRun(t, dbPath, "run-a", "--duration", "1")

	buf, err := executeReplay(t, "text", false, "--db", dbPath, "ghost", runConfig)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Error ["+ErrCodeNotFound+"]")
}

func TestVerifyRun_ShortRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordTestRun(t, dbPath, "run-a", "--duration", "3")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	cfg, err := config.Load(runConfig)
	require.NoError(t, err)
	res, err := VerifyRun(context.Background(), st, "run-a", cfg, discardLogger())
	require.NoError(t, err)
	assert.True(t, res.Deterministic)
	assert.Equal(t, 3, res.Steps)
}

func TestCompareTrades_LengthMismatch(t *testing.T) {
	recorded := []store.Trade{{Time: 1, Seq: 0, Commodity: "feed", Requester: "sep", Bidder: "mine", Amount: 5}}
	var checked int
	out := compareTrades(recorded, nil, &checked)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Time)
	assert.Empty(t, out[0].Replayed)
	assert.Equal(t, 1, checked)

	checked = 0
	out = compareTrades(nil, recorded, &checked)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Recorded)
}
