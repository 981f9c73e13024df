package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/sepflow/internal/config"
	"github.com/roach88/sepflow/internal/facility"
	"github.com/roach88/sepflow/internal/material"
	"github.com/roach88/sepflow/internal/sim"
)

// Fallback codes for errors that carry no facility error code.
const (
	CodeBuildFailed = "BUILD_FAILED"
	CodeRunFailed   = "RUN_FAILED"
)

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Build the run configuration (inline or from the config file)
// 2. Build every facility; a build failure ends the trace
// 3. Preload inventories
// 4. Run all timesteps, recording tick reports and trades
// 5. Check expect_error and evaluate assertions
//
// The returned error covers problems with the scenario itself (missing
// config file, unknown preload facility). Facility errors end up in the
// trace instead.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg, err := scenarioConfig(scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	rec := &traceRecorder{}
	opts := []sim.Option{
		sim.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		sim.WithRunIDGenerator(sim.NewFixedGenerator("scenario-" + scenario.Name)),
		sim.WithRecorder(rec),
	}

	eng, err := sim.FromConfig(cfg, opts...)
	if err != nil {
		result.Trace = append(result.Trace, TraceEvent{
			Type:  EventError,
			Time:  cfg.Simulation.StartTime,
			Code:  errorCode(err, CodeBuildFailed),
			Phase: "build",
		})
		finish(scenario, result, err)
		return result, nil
	}

	if err := preload(eng, cfg, scenario.Inventories); err != nil {
		return nil, err
	}

	sum, runErr := eng.Run(ctx)
	result.Trace = append(result.Trace, rec.events...)
	if runErr != nil {
		result.Trace = append(result.Trace, TraceEvent{
			Type:  EventError,
			Time:  eng.Time(),
			Code:  errorCode(runErr, CodeRunFailed),
			Phase: "step",
		})
	}
	if sum != nil {
		result.Final = sum.Inventories
	}

	finish(scenario, result, runErr)
	return result, nil
}

// finish checks the run outcome against expect_error and evaluates the
// assertions.
func finish(scenario *Scenario, result *Result, runErr error) {
	ev := result.ErrorEvent()
	switch {
	case scenario.ExpectError == "" && ev != nil:
		result.AddError(fmt.Sprintf("run failed at t=%d: %v", ev.Time, runErr))
	case scenario.ExpectError != "" && ev == nil:
		result.AddError(fmt.Sprintf("expected error %s, run succeeded", scenario.ExpectError))
	case scenario.ExpectError != "" && ev.Code != scenario.ExpectError:
		result.AddError(fmt.Sprintf("expected error %s, got %s: %v", scenario.ExpectError, ev.Code, runErr))
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
}

func scenarioConfig(s *Scenario) (*config.Config, error) {
	if path := s.ConfigPath(); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		if s.Seed != nil {
			cfg.Simulation.Seed = s.Seed
		}
		if s.Steps > 0 {
			cfg.Simulation.Duration = s.Steps
		}
		return cfg, nil
	}

	return &config.Config{
		Version: config.Version,
		Simulation: config.Simulation{
			Duration: s.Steps,
			Seed:     s.Seed,
		},
		Recipes:    s.Recipes,
		Facilities: s.Facilities,
	}, nil
}

// preload pushes the scenario's initial lots into the engine's facilities
// without moving the clock.
func preload(eng *sim.Engine, cfg *config.Config, lots map[string]map[string][]Lot) error {
	if len(lots) == 0 {
		return nil
	}
	recipes, err := cfg.Compositions()
	if err != nil {
		return err
	}

	snaps := make(map[string]facility.Inventories, len(lots))
	for agent, invs := range lots {
		inv := make(facility.Inventories, len(invs))
		for name, ls := range invs {
			for i, l := range ls {
				comp, ok := recipes[l.Recipe]
				if !ok {
					return fmt.Errorf("preload %s/%s[%d]: unknown recipe %q", agent, name, i, l.Recipe)
				}
				inv[name] = append(inv[name], material.New(l.Quantity, comp))
			}
		}
		snaps[agent] = inv
	}

	if err := eng.Restore(snaps, eng.Time()-1, ""); err != nil {
		return fmt.Errorf("preload: %w", err)
	}
	return nil
}

func errorCode(err error, fallback string) string {
	var fe *facility.Error
	if errors.As(err, &fe) {
		return string(fe.Code)
	}
	return fallback
}

// traceRecorder implements sim.Recorder by turning every step into trace
// events.
type traceRecorder struct {
	events []TraceEvent
}

func (r *traceRecorder) RecordRun(context.Context, sim.RunInfo) error { return nil }

func (r *traceRecorder) RecordStep(_ context.Context, step sim.StepRecord) error {
	for _, ar := range step.Reports {
		rep := ar.Report
		r.events = append(r.events, TraceEvent{
			Type:      EventTick,
			Time:      step.Time,
			Agent:     ar.Agent,
			Popped:    rep.Popped,
			Governing: rep.Governing,
			Staged:    rep.Staged,
			Pushed:    rep.Pushed,
			Leftover:  rep.Leftover,
			Requeued:  rep.Requeued,
		})
	}
	for _, t := range step.Trades {
		r.events = append(r.events, TraceEvent{
			Type:      EventTrade,
			Time:      step.Time,
			Commodity: t.Commodity,
			Requester: t.Requester,
			Bidder:    t.Bidder,
			Amount:    t.Amount,
		})
	}
	return nil
}

func (r *traceRecorder) FinishRun(context.Context, sim.RunResult) error { return nil }
