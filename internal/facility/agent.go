// Package facility implements the simulated facilities: Separations, Sink
// and Source.
//
// Every facility is an Agent. The simulation driver calls Tick on every
// agent, runs one exchange round, then calls Tock, once per timestep and in
// a fixed agent order. Facilities never run concurrently within a run.
package facility

import (
	"fmt"
	"log/slog"

	"github.com/roach88/sepflow/internal/behavior"
	"github.com/roach88/sepflow/internal/exchange"
	"github.com/roach88/sepflow/internal/material"
)

// Inventories maps inventory names to lots, as captured by Snapshot.
type Inventories map[string][]*material.Material

// Agent is a facility taking part in a simulation.
type Agent interface {
	exchange.Trader

	// Archetype names the facility kind ("Separations", "Sink", "Source").
	Archetype() string

	Tick() error
	Tock() error

	// Snapshot copies every inventory. Restore pushes lots back by name;
	// each inventory is restored independently.
	Snapshot() Inventories
	Restore(inv Inventories) error
}

// Context is the run state shared by every facility of one simulation.
type Context struct {
	time      int
	recipes   map[string]material.Composition
	modulator *behavior.Modulator
	logger    *slog.Logger
}

// NewContext creates a context at time zero. A nil modulator gets a fresh
// one; a nil logger uses slog.Default().
func NewContext(recipes map[string]material.Composition, mod *behavior.Modulator, logger *slog.Logger) *Context {
	if recipes == nil {
		recipes = map[string]material.Composition{}
	}
	if mod == nil {
		mod = behavior.NewModulator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{recipes: recipes, modulator: mod, logger: logger}
}

// Time is the current timestep.
func (c *Context) Time() int { return c.time }

// SetTime moves the clock. Only the simulation driver calls it.
func (c *Context) SetTime(t int) { c.time = t }

// Modulator is the run-scoped random source.
func (c *Context) Modulator() *behavior.Modulator { return c.modulator }

// Logger is the run logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Recipe looks up a named composition.
func (c *Context) Recipe(name string) (material.Composition, error) {
	comp, ok := c.recipes[name]
	if !ok {
		return nil, fmt.Errorf("unknown recipe %q", name)
	}
	return comp.Clone(), nil
}
