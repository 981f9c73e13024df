package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/sepflow/internal/behavior"
	"github.com/roach88/sepflow/internal/config"
	"github.com/roach88/sepflow/internal/exchange"
	"github.com/roach88/sepflow/internal/facility"
)

// Engine drives one simulation run.
//
// Agents keep the order they were given in for the whole run. That order
// fixes tick order, exchange id assignment and therefore trade tie-breaks,
// so two engines built from the same config and seed produce the same run.
//
// An Engine is not safe for concurrent use. Independent engines share
// nothing and may run in parallel.
type Engine struct {
	fctx     *facility.Context
	agents   []facility.Agent
	exchange *exchange.Exchange
	clock    *Clock

	runIDs      RunIDGenerator
	runID       string
	recorder    Recorder
	logger      *slog.Logger
	duration    int
	startTime   int
	snapEvery   int
	configHash  string
	resumedFrom string

	steps  int
	trades int
}

// Option configures an Engine.
type Option func(*Engine)

// WithDuration sets the number of timesteps Run executes.
func WithDuration(n int) Option {
	return func(e *Engine) { e.duration = n }
}

// WithStartTime sets the first timestep.
func WithStartTime(t int) Option {
	return func(e *Engine) { e.startTime = t }
}

// WithRecorder persists the run as it executes.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithRunIDGenerator replaces the UUIDv7 run id source.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// WithLogger sets the engine logger. Facilities log through the logger of
// their Context.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSnapshotInterval records inventories every n timesteps. The last
// timestep of a run is always snapshotted. n <= 0 snapshots every step.
func WithSnapshotInterval(n int) Option {
	return func(e *Engine) { e.snapEvery = n }
}

// WithConfigHash tags recorded runs with the hash of their configuration.
func WithConfigHash(h string) Option {
	return func(e *Engine) { e.configHash = h }
}

// New creates an engine over already built agents.
func New(fctx *facility.Context, agents []facility.Agent, opts ...Option) *Engine {
	e := &Engine{
		fctx:      fctx,
		agents:    append([]facility.Agent(nil), agents...),
		exchange:  exchange.New(),
		runIDs:    UUIDv7Generator{},
		logger:    slog.Default(),
		snapEvery: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clock = NewClockAt(int64(e.startTime))
	e.runID = e.runIDs.Generate()
	return e
}

// FromConfig builds every facility of cfg and returns an engine ready to run.
//
// A configured seed seeds the run modulator before any facility is built,
// so facility rng_seed values only apply when the config has no seed.
// Option values given explicitly override the config.
func FromConfig(cfg *config.Config, opts ...Option) (*Engine, error) {
	recipes, err := cfg.Compositions()
	if err != nil {
		return nil, err
	}
	hash, err := cfg.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash config: %w", err)
	}

	base := []Option{
		WithDuration(cfg.Simulation.Duration),
		WithStartTime(cfg.Simulation.StartTime),
		WithConfigHash(hash),
	}
	e := &Engine{logger: slog.Default()}
	for _, opt := range append(base, opts...) {
		opt(e)
	}

	mod := behavior.NewModulator()
	if cfg.Simulation.Seed != nil {
		mod.EnsureSeeded(int(*cfg.Simulation.Seed))
	}
	fctx := facility.NewContext(recipes, mod, e.logger)
	fctx.SetTime(e.startTime)

	agents, err := facility.NewRegistry().BuildAll(fctx, cfg.Facilities)
	if err != nil {
		return nil, err
	}
	return New(fctx, agents, append(base, opts...)...), nil
}

// RunID identifies this run.
func (e *Engine) RunID() string { return e.runID }

// Time is the timestep the next Step executes.
func (e *Engine) Time() int { return int(e.clock.Current()) }

// Agents returns the agents in execution order.
func (e *Engine) Agents() []facility.Agent {
	return append([]facility.Agent(nil), e.agents...)
}

// Seed is the modulator seed. It is nil until something seeds the
// modulator, which for configs without a seed is the first facility to
// draw a random number.
func (e *Engine) Seed() *int64 {
	mod := e.fctx.Modulator()
	if !mod.Seeded() {
		return nil
	}
	s := mod.Seed()
	return &s
}

// Step executes one timestep: tick every agent, resolve one exchange round,
// tock every agent, then record. Any error is fatal to the run.
func (e *Engine) Step(ctx context.Context) (*StepRecord, error) {
	now := int(e.clock.Current())
	e.fctx.SetTime(now)

	for _, a := range e.agents {
		if err := a.Tick(); err != nil {
			return nil, fmt.Errorf("tick %s at t=%d: %w", a.Prototype(), now, err)
		}
	}

	traders := make([]exchange.Trader, len(e.agents))
	for i, a := range e.agents {
		traders[i] = a
	}
	round, err := e.exchange.Resolve(traders)
	if err != nil {
		return nil, fmt.Errorf("exchange at t=%d: %w", now, err)
	}

	for _, a := range e.agents {
		if err := a.Tock(); err != nil {
			return nil, fmt.Errorf("tock %s at t=%d: %w", a.Prototype(), now, err)
		}
	}

	rec := &StepRecord{
		RunID:  e.runID,
		Time:   now,
		Trades: tradeRecords(round.Trades),
	}
	for _, a := range e.agents {
		if r, ok := a.(Reporter); ok {
			if rep := r.LastReport(); rep != nil {
				rec.Reports = append(rec.Reports, AgentReport{Agent: a.Prototype(), Report: *rep})
			}
		}
	}
	if e.snapshotDue(now) {
		rec.Snapshots = e.Snapshot()
	}

	e.logger.Debug("timestep complete",
		"run", e.runID,
		"time", now,
		"requests", round.Requests,
		"bids", round.Bids,
		"trades", len(round.Trades),
	)

	if e.recorder != nil {
		if err := e.recorder.RecordStep(ctx, *rec); err != nil {
			return nil, fmt.Errorf("record t=%d: %w", now, err)
		}
	}

	e.clock.Next()
	e.steps++
	e.trades += len(round.Trades)
	return rec, nil
}

func (e *Engine) snapshotDue(now int) bool {
	if e.snapEvery <= 1 {
		return true
	}
	first := e.startTime
	last := first + e.duration - 1
	return now == last || (now-first)%e.snapEvery == 0
}

// Run executes the configured number of timesteps. Cancellation is checked
// between timesteps; a timestep in progress always completes.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if e.recorder != nil {
		info := RunInfo{
			ID:          e.runID,
			ConfigHash:  e.configHash,
			Seed:        e.Seed(),
			StartTime:   e.Time(),
			Duration:    e.duration,
			ResumedFrom: e.resumedFrom,
		}
		if err := e.recorder.RecordRun(ctx, info); err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
	}

	e.logger.Info("run starting",
		"run", e.runID,
		"start", e.Time(),
		"duration", e.duration,
		"agents", len(e.agents),
	)

	end := e.Time() + e.duration
	for e.Time() < end {
		if err := ctx.Err(); err != nil {
			e.logger.Info("run stopping: context cancelled", "run", e.runID, "time", e.Time())
			return e.finish(ctx, StatusCancelled, err)
		}
		if _, err := e.Step(ctx); err != nil {
			e.logger.Error("run failed",
				"run", e.runID,
				"time", e.Time(),
				"error", err,
			)
			return e.finish(ctx, StatusFailed, err)
		}
	}

	e.logger.Info("run complete", "run", e.runID, "steps", e.steps, "trades", e.trades)
	return e.finish(ctx, StatusCompleted, nil)
}

func (e *Engine) finish(ctx context.Context, status string, runErr error) (*Summary, error) {
	sum := e.Summary()
	if e.recorder != nil {
		// A cancelled ctx must not prevent marking the run.
		res := RunResult{ID: e.runID, Status: status, Steps: e.steps, Seed: e.Seed()}
		if err := e.recorder.FinishRun(context.WithoutCancel(ctx), res); err != nil {
			return sum, errors.Join(runErr, fmt.Errorf("finish run: %w", err))
		}
	}
	return sum, runErr
}

// Snapshot copies every agent's inventories, keyed by prototype name.
func (e *Engine) Snapshot() map[string]facility.Inventories {
	out := make(map[string]facility.Inventories, len(e.agents))
	for _, a := range e.agents {
		out[a.Prototype()] = a.Snapshot()
	}
	return out
}

// Restore loads inventories captured at timestep at and moves the clock to
// the following timestep. Every snapshot must name a known agent; agents
// without a snapshot keep their current state. resumedFrom is recorded on
// the new run.
func (e *Engine) Restore(snaps map[string]facility.Inventories, at int, resumedFrom string) error {
	byName := make(map[string]facility.Agent, len(e.agents))
	for _, a := range e.agents {
		byName[a.Prototype()] = a
	}

	names := make([]string, 0, len(snaps))
	for n := range snaps {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		a, ok := byName[n]
		if !ok {
			return fmt.Errorf("restore: snapshot for unknown facility %q", n)
		}
		if err := a.Restore(snaps[n]); err != nil {
			return fmt.Errorf("restore %s: %w", n, err)
		}
	}

	e.startTime = at + 1
	e.clock = NewClockAt(int64(e.startTime))
	e.fctx.SetTime(e.startTime)
	e.resumedFrom = resumedFrom
	e.logger.Info("run restored",
		"run", e.runID,
		"from", resumedFrom,
		"time", at,
		"facilities", len(names),
	)
	return nil
}

// Summary reports the run so far.
func (e *Engine) Summary() *Summary {
	s := &Summary{
		RunID:       e.runID,
		Steps:       e.steps,
		Trades:      e.trades,
		EndTime:     e.Time(),
		Inventories: make(map[string]map[string]float64, len(e.agents)),
	}
	for _, a := range e.agents {
		inv := a.Snapshot()
		q := make(map[string]float64, len(inv))
		for _, name := range inv.Names() {
			q[name] = inv.Quantity(name)
		}
		s.Inventories[a.Prototype()] = q
	}
	return s
}

// Summary is the outcome of a run.
type Summary struct {
	RunID  string
	Steps  int
	Trades int

	// EndTime is the first timestep not executed.
	EndTime int

	// Inventories holds final quantities per facility and inventory name.
	Inventories map[string]map[string]float64
}

// Quantity returns one facility inventory's final quantity.
func (s *Summary) Quantity(facilityName, inventory string) float64 {
	return s.Inventories[facilityName][inventory]
}
