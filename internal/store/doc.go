// Package store provides SQLite-backed storage for simulation runs.
//
// The store is an append-only log of:
//   - Runs: one row per run with its config hash, seed and final status
//   - Tick reports: what each Separations facility did per timestep
//   - Trades: every exchange match, in match order
//   - Snapshots: inventories by facility and timestep, lot by lot
//
// All ordering uses the logical timestep and per-step sequence numbers,
// never wall time, so reads are deterministic. Compositions are stored as
// canonical JSON (see internal/canon) keyed by integer nuclide id.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Store implements sim.Recorder, writing each timestep in one transaction.
package store
