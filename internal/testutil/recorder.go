package testutil

import (
	"context"
	"sync"

	"github.com/roach88/sepflow/internal/sim"
)

// Recorder is an in-memory sim.Recorder for tests.
//
// Several engines may share one Recorder, as a batch across seeds does.
// Accessors return copies, so assertions never race a running engine.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Recorder struct {
	mu      sync.Mutex
	runs    []sim.RunInfo
	steps   []sim.StepRecord
	results []sim.RunResult

	// StepErr, when set, is returned from every RecordStep call.
	StepErr error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordRun implements sim.Recorder.
func (r *Recorder) RecordRun(_ context.Context, run sim.RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

// RecordStep implements sim.Recorder.
func (r *Recorder) RecordStep(_ context.Context, step sim.StepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StepErr != nil {
		return r.StepErr
	}
	r.steps = append(r.steps, step)
	return nil
}

// FinishRun implements sim.Recorder.
func (r *Recorder) FinishRun(_ context.Context, res sim.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

// Runs returns every recorded run start in arrival order.
func (r *Recorder) Runs() []sim.RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sim.RunInfo(nil), r.runs...)
}

// Steps returns every recorded step in arrival order.
func (r *Recorder) Steps() []sim.StepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sim.StepRecord(nil), r.steps...)
}

// Results returns every recorded run result in arrival order.
func (r *Recorder) Results() []sim.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sim.RunResult(nil), r.results...)
}

// Trades returns the number of trades across every recorded step.
func (r *Recorder) Trades() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.steps {
		n += len(s.Trades)
	}
	return n
}

// Reset clears everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs, r.steps, r.results = nil, nil, nil
}
