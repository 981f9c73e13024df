package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/sepflow/internal/facility"
	"github.com/roach88/sepflow/internal/material"
)

// ErrNotFound is returned when a requested run or snapshot does not exist.
var ErrNotFound = errors.New("not found")

// Run is a stored run.
type Run struct {
	ID          string         `db:"id"`
	ConfigHash  string         `db:"config_hash"`
	Seed        sql.NullInt64  `db:"seed"`
	StartTime   int            `db:"start_time"`
	Duration    int            `db:"duration"`
	ResumedFrom sql.NullString `db:"resumed_from"`
	Status      string         `db:"status"`
	Steps       int            `db:"steps"`
}

// TickReport is a stored Separations tick report.
type TickReport struct {
	RunID       string  `db:"run_id"`
	Time        int     `db:"time"`
	Agent       string  `db:"agent"`
	Popped      float64 `db:"popped"`
	Governing   float64 `db:"governing"`
	Leftover    float64 `db:"leftover"`
	Requeued    float64 `db:"requeued"`
	EffFuel     float64 `db:"eff_fuel"`
	EffDiverted float64 `db:"eff_diverted"`
	EffLosses   float64 `db:"eff_losses"`
	StagedJSON  string  `db:"staged"`
	PushedJSON  string  `db:"pushed"`

	Staged map[string]float64 `db:"-"`
	Pushed map[string]float64 `db:"-"`
}

// Trade is a stored trade.
type Trade struct {
	RunID     string  `db:"run_id"`
	Time      int     `db:"time"`
	Seq       int     `db:"seq"`
	Commodity string  `db:"commodity"`
	Requester string  `db:"requester"`
	Bidder    string  `db:"bidder"`
	RequestID int     `db:"request_id"`
	BidID     int     `db:"bid_id"`
	Amount    float64 `db:"amount"`
}

// Lot is one stored material lot.
type Lot struct {
	Agent       string  `db:"agent"`
	Inventory   string  `db:"inventory"`
	Lot         int     `db:"lot"`
	Quantity    float64 `db:"quantity"`
	Composition string  `db:"composition"`
}

// ListRuns returns every run ordered by id. UUIDv7 ids sort by start time.
//
// Returns an empty slice (not nil) if there are no runs.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	runs := []Run{}
	if err := s.db.SelectContext(ctx, &runs, `
		SELECT id, config_hash, seed, start_time, duration, resumed_from, status, steps
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	err := s.db.GetContext(ctx, &r, `
		SELECT id, config_hash, seed, start_time, duration, resumed_from, status, steps
		FROM runs
		WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ReadTickReports returns a run's tick reports ordered by time, then agent.
func (s *Store) ReadTickReports(ctx context.Context, runID string) ([]TickReport, error) {
	reports := []TickReport{}
	if err := s.db.SelectContext(ctx, &reports, `
		SELECT run_id, time, agent, popped, governing, leftover, requeued,
		       eff_fuel, eff_diverted, eff_losses, staged, pushed
		FROM tick_reports
		WHERE run_id = ?
		ORDER BY time ASC, agent COLLATE BINARY ASC
	`, runID); err != nil {
		return nil, fmt.Errorf("read tick reports: %w", err)
	}

	for i := range reports {
		var err error
		if reports[i].Staged, err = unmarshalQuantities(reports[i].StagedJSON); err != nil {
			return nil, err
		}
		if reports[i].Pushed, err = unmarshalQuantities(reports[i].PushedJSON); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

// ReadTrades returns a run's trades ordered by time, then match order.
func (s *Store) ReadTrades(ctx context.Context, runID string) ([]Trade, error) {
	trades := []Trade{}
	if err := s.db.SelectContext(ctx, &trades, `
		SELECT run_id, time, seq, commodity, requester, bidder, request_id, bid_id, amount
		FROM trades
		WHERE run_id = ?
		ORDER BY time ASC, seq ASC
	`, runID); err != nil {
		return nil, fmt.Errorf("read trades: %w", err)
	}
	return trades, nil
}

// LatestSnapshotTime returns the last timestep with a stored snapshot, or
// ErrNotFound if the run has none.
func (s *Store) LatestSnapshotTime(ctx context.Context, runID string) (int, error) {
	var t sql.NullInt64
	if err := s.db.GetContext(ctx, &t, `SELECT MAX(time) FROM snapshots WHERE run_id = ?`, runID); err != nil {
		return 0, fmt.Errorf("latest snapshot: %w", err)
	}
	if !t.Valid {
		return 0, fmt.Errorf("snapshot for run %s: %w", runID, ErrNotFound)
	}
	return int(t.Int64), nil
}

// ReadSnapshot rebuilds every agent's inventories at time. Agents with a
// snapshot row but no lots get empty inventories.
func (s *Store) ReadSnapshot(ctx context.Context, runID string, time int) (map[string]facility.Inventories, error) {
	var agents []string
	if err := s.db.SelectContext(ctx, &agents, `
		SELECT agent FROM snapshots
		WHERE run_id = ? AND time = ?
		ORDER BY agent COLLATE BINARY ASC
	`, runID, time); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("snapshot for run %s at t=%d: %w", runID, time, ErrNotFound)
	}

	out := make(map[string]facility.Inventories, len(agents))
	for _, a := range agents {
		out[a] = facility.Inventories{}
	}

	var lots []Lot
	if err := s.db.SelectContext(ctx, &lots, `
		SELECT agent, inventory, lot, quantity, composition
		FROM inventories
		WHERE run_id = ? AND time = ?
		ORDER BY agent COLLATE BINARY ASC, inventory COLLATE BINARY ASC, lot ASC
	`, runID, time); err != nil {
		return nil, fmt.Errorf("read inventories: %w", err)
	}

	for _, l := range lots {
		comp, err := unmarshalComposition(l.Composition)
		if err != nil {
			return nil, fmt.Errorf("lot %s/%s[%d]: %w", l.Agent, l.Inventory, l.Lot, err)
		}
		inv := out[l.Agent]
		inv[l.Inventory] = append(inv[l.Inventory], material.New(l.Quantity, comp))
	}
	return out, nil
}

// SnapshotHash returns the stored content hash of one agent's snapshot.
func (s *Store) SnapshotHash(ctx context.Context, runID string, time int, agent string) (string, error) {
	var h string
	err := s.db.GetContext(ctx, &h, `
		SELECT hash FROM snapshots WHERE run_id = ? AND time = ? AND agent = ?
	`, runID, time, agent)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("snapshot %s/%s t=%d: %w", runID, agent, time, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("snapshot hash: %w", err)
	}
	return h, nil
}

// SnapshotHashes returns every stored snapshot hash of a run, keyed by
// time then agent.
func (s *Store) SnapshotHashes(ctx context.Context, runID string) (map[int]map[string]string, error) {
	var rows []struct {
		Time  int    `db:"time"`
		Agent string `db:"agent"`
		Hash  string `db:"hash"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT time, agent, hash FROM snapshots
		WHERE run_id = ?
		ORDER BY time ASC, agent COLLATE BINARY ASC
	`, runID); err != nil {
		return nil, fmt.Errorf("read snapshot hashes: %w", err)
	}

	out := make(map[int]map[string]string)
	for _, r := range rows {
		if out[r.Time] == nil {
			out[r.Time] = make(map[string]string)
		}
		out[r.Time][r.Agent] = r.Hash
	}
	return out, nil
}
