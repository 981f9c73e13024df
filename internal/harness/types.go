package harness

// Trace event types.
const (
	EventTick  = "tick"
	EventTrade = "trade"
	EventError = "error"
)

// TraceEvent is one observation of a scenario run: a Separations tick
// report, an executed trade, or the error that stopped the run.
type TraceEvent struct {
	Type  string `json:"type"`
	Time  int    `json:"time"`
	Agent string `json:"agent,omitempty"`

	// Tick fields.
	Popped    float64            `json:"popped,omitempty"`
	Governing float64            `json:"governing,omitempty"`
	Staged    map[string]float64 `json:"staged,omitempty"`
	Pushed    map[string]float64 `json:"pushed,omitempty"`
	Leftover  float64            `json:"leftover,omitempty"`
	Requeued  float64            `json:"requeued,omitempty"`

	// Trade fields.
	Commodity string  `json:"commodity,omitempty"`
	Requester string  `json:"requester,omitempty"`
	Bidder    string  `json:"bidder,omitempty"`
	Amount    float64 `json:"amount,omitempty"`

	// Error fields. Phase is "build" or "step".
	Code  string `json:"code,omitempty"`
	Phase string `json:"phase,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if the run ended as expected and every assertion held.
	Pass bool `json:"pass"`

	// Trace holds tick reports and trades in timestep order, followed by
	// the error event if the run stopped early.
	Trace []TraceEvent `json:"trace"`

	// Final holds the final quantity of every inventory, keyed by facility
	// then inventory name. Empty if the run failed to build.
	Final map[string]map[string]float64 `json:"final"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Final:  map[string]map[string]float64{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// ErrorEvent returns the error event of the trace, or nil.
func (r *Result) ErrorEvent() *TraceEvent {
	for i := range r.Trace {
		if r.Trace[i].Type == EventError {
			return &r.Trace[i]
		}
	}
	return nil
}
