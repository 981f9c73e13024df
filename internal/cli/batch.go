package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/sepflow/internal/config"
	"github.com/roach88/sepflow/internal/sim"
)

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	Seeds    []int64
	Parallel int
	Duration int
}

// BatchRun is the outcome of one seed.
type BatchRun struct {
	Seed        int64                         `json:"seed"`
	RunID       string                        `json:"run_id"`
	Steps       int                           `json:"steps"`
	Trades      int                           `json:"trades"`
	Inventories map[string]map[string]float64 `json:"inventories"`
}

// InventoryStats summarises one facility inventory across seeds.
type InventoryStats struct {
	Agent     string  `json:"agent"`
	Inventory string  `json:"inventory"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"stddev"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Median    float64 `json:"median"`
}

// BatchReport is the outcome of a batch.
type BatchReport struct {
	Runs        []BatchRun       `json:"runs"`
	TradesMean  float64          `json:"trades_mean"`
	Inventories []InventoryStats `json:"inventories"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch <config.yaml>",
		Short: "Run one configuration under several seeds",
		Long: `Run one configuration under several seeds and summarise the results.

Every seed gets an independent engine and modulator, so runs may execute in
parallel without sharing random state. Final inventories are summarised per
facility across seeds.

Examples:
  sepflow batch ./run.yaml --seeds 1,2,3,4
  sepflow batch ./run.yaml --seeds 1,2,3,4 --parallel 2 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64SliceVar(&opts.Seeds, "seeds", nil, "comma-separated seeds, one run each (required)")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", runtime.NumCPU(), "maximum concurrent runs")
	cmd.Flags().IntVar(&opts.Duration, "duration", 0, "override the configured number of timesteps")
	_ = cmd.MarkFlagRequired("seeds")

	return cmd
}

func runBatch(opts *BatchOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if len(opts.Seeds) == 0 {
		return NewExitError(ExitCommandError, "--seeds must name at least one seed")
	}
	if opts.Parallel < 1 {
		return NewExitError(ExitCommandError, "--parallel must be at least 1")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load config", err)
	}

	var extra []sim.Option
	if cmd.Flags().Changed("duration") {
		extra = append(extra, sim.WithDuration(opts.Duration))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runs, err := RunSeeds(ctx, cfg, opts.Seeds, opts.Parallel, append(extra, sim.WithLogger(opts.logger()))...)
	if err != nil {
		return formatter.Fail(ExitFailure, "batch failed", err)
	}

	report, err := Summarise(runs)
	if err != nil {
		return formatter.Fail(ExitFailure, "failed to summarise batch", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	writeBatchText(formatter.Writer, report, opts.Parallel)
	return nil
}

// RunSeeds runs cfg once per seed with at most parallel runs at a time.
// Results keep the order of seeds. The first failing run cancels the rest.
func RunSeeds(ctx context.Context, cfg *config.Config, seeds []int64, parallel int, opts ...sim.Option) ([]BatchRun, error) {
	runs := make([]BatchRun, len(seeds))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, seed := range seeds {
		g.Go(func() error {
			c := *cfg
			s := seed
			c.Simulation.Seed = &s

			eng, err := sim.FromConfig(&c, opts...)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			sum, err := eng.Run(ctx)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			runs[i] = BatchRun{
				Seed:        seed,
				RunID:       sum.RunID,
				Steps:       sum.Steps,
				Trades:      sum.Trades,
				Inventories: sum.Inventories,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Summarise computes per-inventory statistics across runs. An inventory
// missing from a run counts as zero there. No runs gives an empty report.
func Summarise(runs []BatchRun) (BatchReport, error) {
	report := BatchReport{Runs: runs, Inventories: []InventoryStats{}}
	if len(runs) == 0 {
		return report, nil
	}

	trades := make(stats.Float64Data, len(runs))
	keys := map[[2]string]bool{}
	for i, r := range runs {
		trades[i] = float64(r.Trades)
		for agent, invs := range r.Inventories {
			for name := range invs {
				keys[[2]string{agent, name}] = true
			}
		}
	}
	var err error
	if report.TradesMean, err = stats.Mean(trades); err != nil {
		return BatchReport{}, fmt.Errorf("trades mean: %w", err)
	}

	sorted := make([][2]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	for _, k := range sorted {
		xs := make(stats.Float64Data, len(runs))
		for i, r := range runs {
			xs[i] = r.Inventories[k[0]][k[1]]
		}
		s, err := inventoryStats(k[0], k[1], xs)
		if err != nil {
			return BatchReport{}, err
		}
		report.Inventories = append(report.Inventories, s)
	}
	return report, nil
}

func inventoryStats(agent, inventory string, xs stats.Float64Data) (InventoryStats, error) {
	s := InventoryStats{Agent: agent, Inventory: inventory}
	var err error
	if s.Mean, err = xs.Mean(); err != nil {
		return s, fmt.Errorf("%s/%s mean: %w", agent, inventory, err)
	}
	if s.StdDev, err = xs.StandardDeviation(); err != nil {
		return s, fmt.Errorf("%s/%s stddev: %w", agent, inventory, err)
	}
	if s.Min, err = xs.Min(); err != nil {
		return s, fmt.Errorf("%s/%s min: %w", agent, inventory, err)
	}
	if s.Max, err = xs.Max(); err != nil {
		return s, fmt.Errorf("%s/%s max: %w", agent, inventory, err)
	}
	if s.Median, err = xs.Median(); err != nil {
		return s, fmt.Errorf("%s/%s median: %w", agent, inventory, err)
	}
	return s, nil
}

func writeBatchText(w io.Writer, r BatchReport, parallel int) {
	seeds := make([]string, len(r.Runs))
	for i, run := range r.Runs {
		seeds[i] = strconv.FormatInt(run.Seed, 10)
	}
	fmt.Fprintf(w, "Batch: %d runs (seeds %s), parallel %d\n", len(r.Runs), strings.Join(seeds, ","), parallel)
	for _, run := range r.Runs {
		fmt.Fprintf(w, "  seed %-6d %s  %d steps, %d trades\n", run.Seed, run.RunID, run.Steps, run.Trades)
	}
	fmt.Fprintf(w, "  mean trades: %.2f\n", r.TradesMean)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Final inventories across seeds ===")
	fmt.Fprintf(w, "  %-12s %-20s %12s %12s %12s %12s %12s\n", "FACILITY", "INVENTORY", "MEAN", "STDDEV", "MIN", "MAX", "MEDIAN")
	for _, s := range r.Inventories {
		fmt.Fprintf(w, "  %-12s %-20s %12.4f %12.4f %12.4f %12.4f %12.4f\n",
			s.Agent, s.Inventory, s.Mean, s.StdDev, s.Min, s.Max, s.Median)
	}
}
