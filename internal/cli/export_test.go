package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/roach88/sepflow/internal/store"
)

func executeExport(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewExportCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestExportRequiresDatabase(t *testing.T) {
	_, err := executeExport(t, "text", "run-a")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExportWorkbook(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	recordTestRun(t, dbPath, "run-a")
	out := filepath.Join(dir, "run-a.xlsx")

	buf, err := executeExport(t, "text", "--db", dbPath, "--out", out, "run-a")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Exported run run-a to "+out)
	assert.Contains(t, buf.String(), "Ticks:  7")
	assert.Contains(t, buf.String(), "(t=7)")

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetRun, SheetTicks, SheetTrades, SheetInventory}, f.GetSheetList())

	v, err := f.GetCellValue(SheetRun, "B2")
	require.NoError(t, err)
	assert.Equal(t, "run-a", v)
	v, err = f.GetCellValue(SheetRun, "B5")
	require.NoError(t, err)
	assert.Equal(t, "11", v)

	ticks, err := f.GetRows(SheetTicks)
	require.NoError(t, err)
	require.Len(t, ticks, 8, "header plus one row per tick report")
	assert.Equal(t, "popped", ticks[0][2])
	assert.Equal(t, "sep", ticks[1][1])

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	trades, err := st.ReadTrades(context.Background(), "run-a")
	require.NoError(t, err)

	rows, err := f.GetRows(SheetTrades)
	require.NoError(t, err)
	require.Len(t, rows, len(trades)+1)
	assert.Equal(t, trades[0].Commodity, rows[1][2])
	assert.Equal(t, strconv.Itoa(trades[0].Time), rows[1][0])

	inv, err := f.GetRows(SheetInventory)
	require.NoError(t, err)
	require.Greater(t, len(inv), 1)
	assert.Equal(t, "7", inv[1][0])
}

func TestExportJSON(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	recordTestRun(t, dbPath, "run-a", "--duration", "3")
	out := filepath.Join(dir, "short.xlsx")

	buf, err := executeExport(t, "json", "--db", dbPath, "-o", out, "run-a")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ExportResult `json:"data"`
		RunID  string       `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-a", resp.RunID)
	assert.Equal(t, out, resp.Data.Path)
	require.NotNil(t, resp.Data.SnapshotTime)
	assert.Equal(t, 2, *resp.Data.SnapshotTime)
	assert.Greater(t, resp.Data.Lots, 0)
}

func TestExportUnknownRun(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	recordTestRun(t, dbPath, "run-a", "--duration", "1")

	buf, err := executeExport(t, "text", "--db", dbPath, "--out", filepath.Join(dir, "x.xlsx"), "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error ["+ErrCodeNotFound+"]")
}
