package harness

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/sepflow/internal/canon"
)

// goldenPrecision is the number of decimals kept in golden traces.
const goldenPrecision = 1e6

// GoldenDir is the fixture directory for golden traces, relative to the
// package under test.
const GoldenDir = "testdata/golden"

// TraceSnapshot captures the trace and final state of a scenario run.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Final        map[string]map[string]float64
}

// Golden encodes the snapshot as canonical JSON with every quantity rounded
// to six decimals, followed by a newline.
func (s *TraceSnapshot) Golden() ([]byte, error) {
	data, err := canon.Marshal(s.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// toCanonicalMap converts the snapshot to plain maps. Zero-valued fields of
// an event type are kept so that every tick has the same shape.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"type": ev.Type,
			"time": ev.Time,
		}
		switch ev.Type {
		case EventTick:
			m["agent"] = ev.Agent
			m["popped"] = round(ev.Popped)
			m["governing"] = round(ev.Governing)
			m["staged"] = roundAll(ev.Staged)
			m["pushed"] = roundAll(ev.Pushed)
			m["leftover"] = round(ev.Leftover)
			m["requeued"] = round(ev.Requeued)
		case EventTrade:
			m["commodity"] = ev.Commodity
			m["requester"] = ev.Requester
			m["bidder"] = ev.Bidder
			m["amount"] = round(ev.Amount)
		case EventError:
			m["code"] = ev.Code
			m["phase"] = ev.Phase
		}
		trace[i] = m
	}

	final := make(map[string]any, len(s.Final))
	for agent, invs := range s.Final {
		final[agent] = roundAll(invs)
	}

	return map[string]any{
		"scenario": s.ScenarioName,
		"trace":    trace,
		"final":    final,
	}
}

func round(v float64) float64 {
	r := math.Round(v*goldenPrecision) / goldenPrecision
	if r == 0 {
		return 0
	}
	return r
}

func roundAll(q map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(q))
	for k, v := range q {
		out[k] = round(v)
	}
	return out
}

// GoldenPath is where the golden trace of a scenario file lives: in the
// golden directory next to the scenario's directory, named after the
// scenario.
func GoldenPath(scenarioFile, name string) string {
	return filepath.Join(filepath.Dir(filepath.Dir(scenarioFile)), "golden", name+".golden")
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check assertions too.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Final:        result.Final,
	}
	data, err := snapshot.Golden()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
