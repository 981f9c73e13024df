// Package harness runs separations scenarios and checks their outcome.
//
// A scenario builds a small simulation, preloads inventories, runs it for a
// number of timesteps and then evaluates assertions against the recorded
// trace and the final inventories.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	seed: 42
//	steps: 1
//	recipes:
//	  pure_u: {U238: 1}
//	facilities:
//	  - name: sep
//	    archetype: Separations
//	    separations: { ... }
//	inventories:
//	  sep:
//	    feed-inv-name:
//	      - {quantity: 100, recipe: pure_u}
//	assertions:
//	  - type: report
//	    agent: sep
//	    time: 0
//	    field: governing
//	    value: 1
//	  - type: inventory
//	    agent: sep
//	    inventory: Fuel
//	    max: 10
//	  - type: conserved
//
// Instead of inline facilities a scenario may name a run configuration with
// config: path/to/run.yaml, resolved relative to the scenario file. A
// scenario that expects the run to fail sets expect_error to the facility
// error code, such as EFFICIENCY_BUDGET.
//
// # Assertion Types
//
//   - report: a tick report field at a timestep equals value
//   - inventory: a final inventory quantity equals quantity, or lies within
//     min and max
//   - trade_total: the traded amount on a commodity equals quantity, or lies
//     within min and max
//   - conserved: every tick report accounts for all popped feed
//
// # Deterministic Testing
//
// Runs use a fixed run id and a discarding logger. Golden traces round every
// quantity to six decimals and are encoded as canonical JSON, so the same
// scenario always produces the same bytes.
package harness
