package testutil

// ConstantRunID returns the same run id every time.
//
// Unlike sim.FixedGenerator, which hands out ids in order and panics once
// they run out, ConstantRunID never runs out. Use it when a test starts an
// unknown number of runs, such as a batch across seeds, and only needs the
// ids to be deterministic.
//
// Thread-safety: ConstantRunID is stateless and safe for concurrent use.
type ConstantRunID struct {
	id string
}

// NewConstantRunID creates a generator for id. If id is empty, Generate
// returns "test-run".
func NewConstantRunID(id string) *ConstantRunID {
	if id == "" {
		id = "test-run"
	}
	return &ConstantRunID{id: id}
}

// Generate returns the fixed run id.
//
// Implements sim.RunIDGenerator.
func (g *ConstantRunID) Generate() string {
	return g.id
}
