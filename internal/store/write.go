package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/sepflow/internal/facility"
	"github.com/roach88/sepflow/internal/sim"
)

// RecordRun implements sim.Recorder by inserting the run row.
func (s *Store) RecordRun(ctx context.Context, run sim.RunInfo) error {
	return s.WriteRun(ctx, run)
}

// RecordStep implements sim.Recorder. The whole timestep is written in one
// transaction, so a crash never leaves a half-recorded step.
func (s *Store) RecordStep(ctx context.Context, step sim.StepRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	defer tx.Rollback()

	for _, r := range step.Reports {
		if err := writeTickReport(ctx, tx, step.RunID, r); err != nil {
			return err
		}
	}
	if err := writeTrades(ctx, tx, step.RunID, step.Time, step.Trades); err != nil {
		return err
	}
	if step.Snapshots != nil {
		if err := writeSnapshot(ctx, tx, step.RunID, step.Time, step.Snapshots); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET steps = steps + 1 WHERE id = ?`, step.RunID); err != nil {
		return fmt.Errorf("record step: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record step: commit: %w", err)
	}
	return nil
}

// FinishRun implements sim.Recorder by storing the final status and seed.
func (s *Store) FinishRun(ctx context.Context, res sim.RunResult) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, steps = ?, seed = COALESCE(?, seed)
		WHERE id = ?
	`, res.Status, res.Steps, res.Seed, res.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: run %s not found", res.ID)
	}
	return nil
}

// WriteRun inserts a run in the running state.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteRun(ctx context.Context, run sim.RunInfo) error {
	var resumed *string
	if run.ResumedFrom != "" {
		resumed = &run.ResumedFrom
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, config_hash, seed, start_time, duration, resumed_from, status, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.ConfigHash,
		run.Seed,
		run.StartTime,
		run.Duration,
		resumed,
		sim.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteTickReport stores one facility's report for a timestep.
func (s *Store) WriteTickReport(ctx context.Context, runID string, r sim.AgentReport) error {
	return writeTickReport(ctx, s.db, runID, r)
}

// WriteTrades stores the trades of one timestep.
func (s *Store) WriteTrades(ctx context.Context, runID string, time int, trades []sim.TradeRecord) error {
	return writeTrades(ctx, s.db, runID, time, trades)
}

// WriteSnapshot stores every agent's inventories at time in one
// transaction.
func (s *Store) WriteSnapshot(ctx context.Context, runID string, time int, snaps map[string]facility.Inventories) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	defer tx.Rollback()

	if err := writeSnapshot(ctx, tx, runID, time, snaps); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write snapshot: commit: %w", err)
	}
	return nil
}

func writeTickReport(ctx context.Context, ex sqlx.ExecerContext, runID string, r sim.AgentReport) error {
	staged, err := marshalQuantities(r.Report.Staged)
	if err != nil {
		return fmt.Errorf("write tick report: %w", err)
	}
	pushed, err := marshalQuantities(r.Report.Pushed)
	if err != nil {
		return fmt.Errorf("write tick report: %w", err)
	}

	effs := r.Report.Efficiencies
	_, err = ex.ExecContext(ctx, `
		INSERT INTO tick_reports
		(run_id, time, agent, popped, governing, leftover, requeued,
		 eff_fuel, eff_diverted, eff_losses, staged, pushed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		runID,
		r.Report.Time,
		r.Agent,
		r.Report.Popped,
		r.Report.Governing,
		r.Report.Leftover,
		r.Report.Requeued,
		effs.Fuel,
		effs.Diverted,
		effs.Losses,
		staged,
		pushed,
	)
	if err != nil {
		return fmt.Errorf("write tick report %s t=%d: %w", r.Agent, r.Report.Time, err)
	}
	return nil
}

func writeTrades(ctx context.Context, ex sqlx.ExecerContext, runID string, time int, trades []sim.TradeRecord) error {
	for _, t := range trades {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO trades
			(run_id, time, seq, commodity, requester, bidder, request_id, bid_id, amount)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, runID, time, t.Seq, t.Commodity, t.Requester, t.Bidder, t.RequestID, t.BidID, t.Amount)
		if err != nil {
			return fmt.Errorf("write trade t=%d seq=%d: %w", time, t.Seq, err)
		}
	}
	return nil
}

func writeSnapshot(ctx context.Context, ex sqlx.ExecerContext, runID string, time int, snaps map[string]facility.Inventories) error {
	for _, agent := range sortedAgents(snaps) {
		inv := snaps[agent]
		hash, err := snapshotHash(inv)
		if err != nil {
			return fmt.Errorf("write snapshot %s: %w", agent, err)
		}
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO snapshots (run_id, time, agent, hash)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, runID, time, agent, hash); err != nil {
			return fmt.Errorf("write snapshot %s t=%d: %w", agent, time, err)
		}

		for _, name := range inv.Names() {
			for lot, m := range inv[name] {
				comp, err := marshalComposition(m.Comp())
				if err != nil {
					return fmt.Errorf("write snapshot %s/%s: %w", agent, name, err)
				}
				if _, err := ex.ExecContext(ctx, `
					INSERT INTO inventories
					(run_id, time, agent, inventory, lot, quantity, composition)
					VALUES (?, ?, ?, ?, ?, ?, ?)
					ON CONFLICT DO NOTHING
				`, runID, time, agent, name, lot, m.Quantity(), comp); err != nil {
					return fmt.Errorf("write lot %s/%s[%d]: %w", agent, name, lot, err)
				}
			}
		}
	}
	return nil
}
