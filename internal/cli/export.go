package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/roach88/sepflow/internal/facility"
	"github.com/roach88/sepflow/internal/store"
)

// Workbook sheet names.
const (
	SheetRun       = "Run"
	SheetTicks     = "Ticks"
	SheetTrades    = "Trades"
	SheetInventory = "Inventory"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database string
	Out      string
}

// ExportResult describes a written workbook.
type ExportResult struct {
	RunID        string `json:"run_id"`
	Path         string `json:"path"`
	Ticks        int    `json:"ticks"`
	Trades       int    `json:"trades"`
	Lots         int    `json:"lots"`
	SnapshotTime *int   `json:"snapshot_time,omitempty"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a recorded run to an Excel workbook",
		Long: `Export a recorded run to an .xlsx workbook.

The workbook has four sheets: Run (run metadata), Ticks (Separations tick
reports), Trades (every executed trade) and Inventory (one row per lot and
nuclide from the latest stored snapshot).

Examples:
  sepflow export --db ./sepflow.db 0190c1d2-... --out run.xlsx`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $SEPFLOW_DB)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output workbook path (default <run-id>.xlsx)")

	return cmd
}

func runExport(opts *ExportOptions, runID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	out := opts.Out
	if out == "" {
		out = runID + ".xlsx"
	}

	result, err := ExportRun(context.Background(), st, runID, out)
	if err != nil {
		return formatter.Fail(ExitCommandError, fmt.Sprintf("failed to export run %s", runID), err)
	}

	if formatter.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: result, RunID: runID})
	}
	fmt.Fprintf(formatter.Writer, "✓ Exported run %s to %s\n", runID, result.Path)
	fmt.Fprintf(formatter.Writer, "  Ticks:  %d\n", result.Ticks)
	fmt.Fprintf(formatter.Writer, "  Trades: %d\n", result.Trades)
	if result.SnapshotTime != nil {
		fmt.Fprintf(formatter.Writer, "  Lots:   %d (t=%d)\n", result.Lots, *result.SnapshotTime)
	} else {
		fmt.Fprintln(formatter.Writer, "  Lots:   none (no snapshot stored)")
	}
	return nil
}

// ExportRun writes one stored run to an xlsx workbook at path.
func ExportRun(ctx context.Context, st *store.Store, runID, path string) (ExportResult, error) {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return ExportResult{}, err
	}
	ticks, err := st.ReadTickReports(ctx, runID)
	if err != nil {
		return ExportResult{}, err
	}
	trades, err := st.ReadTrades(ctx, runID)
	if err != nil {
		return ExportResult{}, err
	}

	result := ExportResult{RunID: runID, Path: path, Ticks: len(ticks), Trades: len(trades)}

	var inventory [][]any
	at, err := st.LatestSnapshotTime(ctx, runID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return ExportResult{}, err
	default:
		snaps, err := st.ReadSnapshot(ctx, runID, at)
		if err != nil {
			return ExportResult{}, err
		}
		result.SnapshotTime = &at
		inventory, result.Lots = inventoryRows(at, snaps)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetRun); err != nil {
		return ExportResult{}, err
	}
	if err := writeSheet(f, SheetRun, []string{"field", "value"}, runRows(run)); err != nil {
		return ExportResult{}, err
	}
	if err := writeSheet(f, SheetTicks, []string{
		"time", "agent", "popped", "governing", "leftover", "requeued",
		"eff_fuel", "eff_diverted", "eff_losses", "staged", "pushed",
	}, tickRows(ticks)); err != nil {
		return ExportResult{}, err
	}
	if err := writeSheet(f, SheetTrades, []string{
		"time", "seq", "commodity", "bidder", "requester", "request_id", "bid_id", "amount",
	}, tradeRows(trades)); err != nil {
		return ExportResult{}, err
	}
	if err := writeSheet(f, SheetInventory, []string{
		"time", "agent", "inventory", "lot", "quantity", "nuclide", "amount",
	}, inventory); err != nil {
		return ExportResult{}, err
	}

	if err := f.SaveAs(path); err != nil {
		return ExportResult{}, fmt.Errorf("save workbook: %w", err)
	}
	return result, nil
}

// writeSheet writes a header row and data rows, creating the sheet if
// needed.
func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any) error {
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func runRows(r store.Run) [][]any {
	seed := "-"
	if r.Seed.Valid {
		seed = fmt.Sprintf("%d", r.Seed.Int64)
	}
	rows := [][]any{
		{"id", r.ID},
		{"status", r.Status},
		{"config_hash", r.ConfigHash},
		{"seed", seed},
		{"start_time", r.StartTime},
		{"duration", r.Duration},
		{"steps", r.Steps},
	}
	if r.ResumedFrom.Valid {
		rows = append(rows, []any{"resumed_from", r.ResumedFrom.String})
	}
	return rows
}

func tickRows(ticks []store.TickReport) [][]any {
	rows := make([][]any, len(ticks))
	for i, t := range ticks {
		rows[i] = []any{
			t.Time, t.Agent, t.Popped, t.Governing, t.Leftover, t.Requeued,
			t.EffFuel, t.EffDiverted, t.EffLosses,
			formatQuantities(t.Staged), formatQuantities(t.Pushed),
		}
	}
	return rows
}

func tradeRows(trades []store.Trade) [][]any {
	rows := make([][]any, len(trades))
	for i, t := range trades {
		rows[i] = []any{t.Time, t.Seq, t.Commodity, t.Bidder, t.Requester, t.RequestID, t.BidID, t.Amount}
	}
	return rows
}

// inventoryRows flattens a snapshot to one row per lot and nuclide. Lots
// without a composition get a single row with an empty nuclide.
func inventoryRows(at int, snaps map[string]facility.Inventories) ([][]any, int) {
	var rows [][]any
	lots := 0
	agents := make([]string, 0, len(snaps))
	for a := range snaps {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	for _, agent := range agents {
		inv := snaps[agent]
		for _, name := range inv.Names() {
			for i, m := range inv[name] {
				lots++
				comp := m.Comp()
				nuclides := comp.Nuclides()
				if len(nuclides) == 0 {
					rows = append(rows, []any{at, agent, name, i, m.Quantity(), "", 0.0})
					continue
				}
				for _, n := range nuclides {
					rows = append(rows, []any{at, agent, name, i, m.Quantity(), n.String(), comp[n]})
				}
			}
		}
	}
	return rows, lots
}
