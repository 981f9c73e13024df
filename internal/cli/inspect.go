package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sepflow/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Agent    string // optional - filter to one facility
}

// RunView is a stored run as shown to users.
type RunView struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ConfigHash  string `json:"config_hash"`
	Seed        *int64 `json:"seed,omitempty"`
	StartTime   int    `json:"start_time"`
	Duration    int    `json:"duration"`
	Steps       int    `json:"steps"`
	ResumedFrom string `json:"resumed_from,omitempty"`
}

// RunDetail holds the complete inspect output for one run.
type RunDetail struct {
	Run      RunView         `json:"run"`
	Timeline []TimelineEvent `json:"timeline"`
	Stats    TimelineStats   `json:"stats"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [run-id]",
		Short: "List recorded runs or show one run's timeline",
		Long: `List recorded runs, or show the timeline of one run.

Without a run id, every run in the database is listed. With one, the run's
tick reports and trades are printed in timestep order.

Examples:
  sepflow inspect --db ./sepflow.db
  sepflow inspect --db ./sepflow.db 0190c1d2-...
  sepflow inspect --db ./sepflow.db 0190c1d2-... --agent sep --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runInspect(opts, runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $SEPFLOW_DB)")
	cmd.Flags().StringVar(&opts.Agent, "agent", "", "filter the timeline to one facility")

	return cmd
}

func runInspect(opts *InspectOptions, runID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := context.Background()

	st, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if runID == "" {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to list runs", err)
		}
		views := make([]RunView, len(runs))
		for i, r := range runs {
			views[i] = runView(r)
		}
		if formatter.Format == "json" {
			return formatter.Success(views)
		}
		writeRunList(formatter.Writer, views, opts.Verbose)
		return nil
	}

	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to get run", err)
	}
	ticks, err := st.ReadTickReports(ctx, runID)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read tick reports", err)
	}
	trades, err := st.ReadTrades(ctx, runID)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read trades", err)
	}

	timeline, stats := buildTimeline(ticks, trades, opts.Agent)
	detail := RunDetail{Run: runView(run), Timeline: timeline, Stats: stats}

	if formatter.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: detail, RunID: runID})
	}
	writeRunDetail(formatter.Writer, detail, opts.Verbose)
	return nil
}

// openStore opens the database named by flag, falling back to SEPFLOW_DB.
func openStore(opts *RootOptions, flag string) (*store.Store, error) {
	path := flag
	if path == "" {
		path = opts.Env.DB
	}
	if path == "" {
		return nil, NewExitError(ExitCommandError, "--db is required (or set SEPFLOW_DB)")
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runView(r store.Run) RunView {
	v := RunView{
		ID:         r.ID,
		Status:     r.Status,
		ConfigHash: r.ConfigHash,
		StartTime:  r.StartTime,
		Duration:   r.Duration,
		Steps:      r.Steps,
	}
	if r.Seed.Valid {
		seed := r.Seed.Int64
		v.Seed = &seed
	}
	if r.ResumedFrom.Valid {
		v.ResumedFrom = r.ResumedFrom.String
	}
	return v
}

func writeRunList(w io.Writer, runs []RunView, verbose bool) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}

	fmt.Fprintf(w, "%-20s %-10s %6s %8s %6s %8s  %s\n", "RUN", "STATUS", "START", "DURATION", "STEPS", "SEED", "RESUMED FROM")
	for _, r := range runs {
		id, from := truncateID(r.ID), truncateID(r.ResumedFrom)
		if verbose {
			id, from = r.ID, r.ResumedFrom
		}
		seed := "-"
		if r.Seed != nil {
			seed = fmt.Sprintf("%d", *r.Seed)
		}
		fmt.Fprintf(w, "%-20s %-10s %6d %8d %6d %8s  %s\n", id, r.Status, r.StartTime, r.Duration, r.Steps, seed, from)
	}
}

func writeRunDetail(w io.Writer, d RunDetail, verbose bool) {
	fmt.Fprintf(w, "Run: %s\n", d.Run.ID)
	fmt.Fprintf(w, "Status: %s (%d of %d steps from t=%d)\n", d.Run.Status, d.Run.Steps, d.Run.Duration, d.Run.StartTime)
	if d.Run.Seed != nil {
		fmt.Fprintf(w, "Seed: %d\n", *d.Run.Seed)
	}
	if d.Run.ResumedFrom != "" {
		fmt.Fprintf(w, "Resumed from: %s\n", d.Run.ResumedFrom)
	}
	if verbose {
		fmt.Fprintf(w, "Config hash: %s\n", d.Run.ConfigHash)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(d.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	} else {
		for _, event := range d.Timeline {
			formatTimelineEvent(w, event, verbose)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Ticks:        %d\n", d.Stats.Ticks)
	fmt.Fprintf(w, "  Trades:       %d\n", d.Stats.Trades)
	fmt.Fprintf(w, "  Total popped: %s\n", formatQuantity(d.Stats.TotalPopped))
	fmt.Fprintf(w, "  Total traded: %s\n", formatQuantity(d.Stats.TotalTraded))
}
