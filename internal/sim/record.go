package sim

import (
	"context"

	"github.com/roach88/sepflow/internal/exchange"
	"github.com/roach88/sepflow/internal/facility"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// RunInfo describes a run when it starts.
type RunInfo struct {
	ID         string
	ConfigHash string

	// Seed is nil when the modulator is seeded lazily by a facility.
	Seed        *int64
	StartTime   int
	Duration    int
	ResumedFrom string
}

// RunResult describes a run when it stops.
type RunResult struct {
	ID     string
	Status string
	Steps  int
	Seed   *int64
}

// AgentReport is one facility's tick report for a timestep.
type AgentReport struct {
	Agent  string
	Report facility.TickReport
}

// TradeRecord is one executed trade, flattened for storage.
type TradeRecord struct {
	Seq       int
	Commodity string
	Requester string
	Bidder    string
	RequestID int
	BidID     int
	Amount    float64
}

// StepRecord is everything observed during one timestep.
type StepRecord struct {
	RunID   string
	Time    int
	Reports []AgentReport
	Trades  []TradeRecord

	// Snapshots holds every agent's inventories after Tock, keyed by
	// prototype name. Nil on steps the engine does not snapshot.
	Snapshots map[string]facility.Inventories
}

// Recorder persists a run as it executes. The store implements it.
type Recorder interface {
	RecordRun(ctx context.Context, run RunInfo) error
	RecordStep(ctx context.Context, step StepRecord) error
	FinishRun(ctx context.Context, res RunResult) error
}

// Reporter is implemented by agents that publish a per-tick report.
type Reporter interface {
	LastReport() *facility.TickReport
}

func tradeRecords(trades []exchange.Trade) []TradeRecord {
	out := make([]TradeRecord, len(trades))
	for i, t := range trades {
		out[i] = TradeRecord{
			Seq:       i,
			Commodity: t.Commodity(),
			Requester: t.Request.Requester.Prototype(),
			Bidder:    t.Bid.Bidder.Prototype(),
			RequestID: t.Request.ID,
			BidID:     t.Bid.ID,
			Amount:    t.Amount,
		}
	}
	return out
}
