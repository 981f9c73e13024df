// Package sim drives a discrete-time simulation run.
//
// Each timestep runs in three phases over a fixed agent order:
//
//  1. Tick: every facility updates its internal state (the Separations
//     facility separates feed here).
//  2. Exchange: one market round matches requests to bids and moves
//     material between facilities.
//  3. Tock: every facility finishes the timestep.
//
// The step is then recorded: tick reports, trades and, on snapshot steps,
// every inventory. A run uses one random source, seeded once, and no
// goroutines, so a config plus a seed fully determines the run.
package sim
