package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/sepflow/internal/config"
	"github.com/roach88/sepflow/internal/facility"
	"github.com/roach88/sepflow/internal/sim"
	"github.com/roach88/sepflow/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database      string
	Duration      int
	Seed          int64
	Resume        string
	SnapshotEvery int

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs sim.RunIDGenerator
}

// RunReport is the outcome of one run.
type RunReport struct {
	RunID       string                        `json:"run_id"`
	Status      string                        `json:"status"`
	Steps       int                           `json:"steps"`
	Trades      int                           `json:"trades"`
	EndTime     int                           `json:"end_time"`
	Seed        *int64                        `json:"seed,omitempty"`
	ResumedFrom string                        `json:"resumed_from,omitempty"`
	Database    string                        `json:"database,omitempty"`
	Inventories map[string]map[string]float64 `json:"inventories"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run a simulation",
		Long: `Run a simulation described by a YAML configuration.

With --db (or SEPFLOW_DB) every timestep is recorded: tick reports, trades
and inventory snapshots. --resume continues a recorded run from its latest
snapshot as a new run.

Exit codes:
  0 - Run completed (or was interrupted cleanly)
  1 - Run failed (facility error)
  2 - Command error (bad config, database not found, etc.)

Examples:
  sepflow run ./run.yaml
  sepflow run ./run.yaml --db ./sepflow.db --seed 7
  sepflow run ./run.yaml --db ./sepflow.db --resume 0190c1d2-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $SEPFLOW_DB)")
	cmd.Flags().IntVar(&opts.Duration, "duration", 0, "override the configured number of timesteps")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "override the configured seed")
	cmd.Flags().StringVar(&opts.Resume, "resume", "", "resume from the latest snapshot of this run id")
	cmd.Flags().IntVar(&opts.SnapshotEvery, "snapshot-every", 1, "record inventories every n timesteps")

	return cmd
}

func runSimulation(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger()

	cfg, err := config.Load(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load config", err)
	}
	cfg.ApplyEnv(opts.Env)
	if cmd.Flags().Changed("seed") {
		seed := opts.Seed
		cfg.Simulation.Seed = &seed
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = opts.Env.DB
	}
	if opts.Resume != "" && dbPath == "" {
		return NewExitError(ExitCommandError, "--resume requires --db")
	}

	simOpts := []sim.Option{
		sim.WithLogger(logger),
		sim.WithSnapshotInterval(opts.SnapshotEvery),
	}
	if cmd.Flags().Changed("duration") {
		simOpts = append(simOpts, sim.WithDuration(opts.Duration))
	}
	if opts.RunIDs != nil {
		simOpts = append(simOpts, sim.WithRunIDGenerator(opts.RunIDs))
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	var st *store.Store
	if dbPath != "" {
		logger.Info("opening database", "path", dbPath)
		st, err = store.Open(dbPath)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		simOpts = append(simOpts, sim.WithRecorder(st))
	}

	var resume *resumePoint
	if opts.Resume != "" {
		resume, err = loadResumePoint(parentCtx, st, opts.Resume, cfg, logger)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to load resume point", err)
		}
	}

	eng, err := sim.FromConfig(cfg, simOpts...)
	if err != nil {
		return formatter.Fail(ExitFailure, "failed to build facilities", err)
	}
	if resume != nil {
		if err := eng.Restore(resume.snaps, resume.at, opts.Resume); err != nil {
			return formatter.Fail(ExitFailure, "failed to restore snapshot", err)
		}
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping after current timestep", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sum, runErr := eng.Run(ctx)
	status := sim.StatusCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = sim.StatusCancelled
	default:
		return formatter.Fail(ExitFailure, fmt.Sprintf("run %s failed", eng.RunID()), runErr)
	}

	report := RunReport{
		RunID:       sum.RunID,
		Status:      status,
		Steps:       sum.Steps,
		Trades:      sum.Trades,
		EndTime:     sum.EndTime,
		Seed:        eng.Seed(),
		ResumedFrom: opts.Resume,
		Database:    dbPath,
		Inventories: sum.Inventories,
	}
	if formatter.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: report, RunID: report.RunID})
	}
	writeRunText(formatter.Writer, report)
	return nil
}

type resumePoint struct {
	at    int
	snaps map[string]facility.Inventories
}

// loadResumePoint reads the latest snapshot of a stored run. A config
// without a seed inherits the seed the run recorded.
func loadResumePoint(ctx context.Context, st *store.Store, runID string, cfg *config.Config, logger *slog.Logger) (*resumePoint, error) {
	prev, err := st.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	at, err := st.LatestSnapshotTime(ctx, runID)
	if err != nil {
		return nil, err
	}
	snaps, err := st.ReadSnapshot(ctx, runID, at)
	if err != nil {
		return nil, err
	}

	if hash, err := cfg.Hash(); err == nil && hash != prev.ConfigHash {
		logger.Warn("config differs from the resumed run", "run_id", runID, "config_hash", hash, "recorded_hash", prev.ConfigHash)
	}
	if cfg.Simulation.Seed == nil && prev.Seed.Valid {
		seed := prev.Seed.Int64
		cfg.Simulation.Seed = &seed
	}
	return &resumePoint{at: at, snaps: snaps}, nil
}

func writeRunText(w io.Writer, r RunReport) {
	fmt.Fprintf(w, "Run %s %s: %d steps, %d trades, next t=%d\n", r.RunID, r.Status, r.Steps, r.Trades, r.EndTime)
	if r.Seed != nil {
		fmt.Fprintf(w, "  seed: %d\n", *r.Seed)
	}
	if r.ResumedFrom != "" {
		fmt.Fprintf(w, "  resumed from: %s\n", r.ResumedFrom)
	}
	if r.Database != "" {
		fmt.Fprintf(w, "  recorded in: %s\n", r.Database)
	}

	agents := make([]string, 0, len(r.Inventories))
	for a := range r.Inventories {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Inventories ===")
	for _, a := range agents {
		invs := r.Inventories[a]
		names := make([]string, 0, len(invs))
		for n := range invs {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(w, "  %-12s %-20s %14.6f\n", a, n, invs[n])
		}
	}
}
