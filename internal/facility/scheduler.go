package facility

import (
	"log/slog"
	"sort"

	"github.com/roach88/sepflow/internal/behavior"
)

// Canonical stream roles eligible for behavioural efficiency override.
const (
	RoleFuel     = "Fuel"
	RoleDiverted = "Diverted"
	RoleLosses   = "Losses"
)

// NoOverride tells SepMaterial to use the static efficiency table.
const NoOverride = -1.0

// Variation perturbs one stream's efficiency over time.
type Variation struct {
	Stream    string
	Average   float64
	Sigma     float64
	Frequency float64
}

// Efficiencies is the scheduler output for one timestep.
type Efficiencies struct {
	Fuel     float64
	Diverted float64
	Losses   float64

	// varied records which roles had a variation entry. Roles without one
	// keep their static tables.
	varied map[string]bool
}

// Override returns the effective efficiency for stream, or NoOverride when
// the stream keeps its static table.
func (e Efficiencies) Override(stream string) float64 {
	if !e.varied[stream] {
		return NoOverride
	}
	switch stream {
	case RoleFuel:
		return e.Fuel
	case RoleDiverted:
		return e.Diverted
	case RoleLosses:
		return e.Losses
	}
	return NoOverride
}

// Varied reports whether the role had a variation entry.
func (e Efficiencies) Varied(role string) bool { return e.varied[role] }

// Scheduler turns variation entries into per-timestep role efficiencies.
type Scheduler struct {
	facility   string
	variations []Variation // sorted by stream name
	tTrade     int
	seed       int
	mod        *behavior.Modulator
	logger     *slog.Logger
}

// NewScheduler creates a scheduler. Variations are evaluated in stream
// name order.
func NewScheduler(facility string, variations []Variation, tTrade, seed int, mod *behavior.Modulator, logger *slog.Logger) *Scheduler {
	vs := make([]Variation, len(variations))
	copy(vs, variations)
	sort.Slice(vs, func(i, j int) bool { return vs[i].Stream < vs[j].Stream })

	if logger == nil {
		logger = slog.Default()
	}
	for _, v := range vs {
		if !isRole(v.Stream) {
			logger.Info("stream is non-standard and will be considered as waste",
				"facility", facility,
				"stream", v.Stream,
			)
		}
	}
	return &Scheduler{
		facility:   facility,
		variations: vs,
		tTrade:     tTrade,
		seed:       seed,
		mod:        mod,
		logger:     logger,
	}
}

func isRole(name string) bool {
	return name == RoleFuel || name == RoleDiverted || name == RoleLosses
}

// AdjustEfficiencies samples every variation for time now and returns the
// role efficiencies. If their sum exceeds 1, Fuel absorbs the excess; if
// that drives Fuel negative the configuration cannot be satisfied.
func (s *Scheduler) AdjustEfficiencies(now int) (Efficiencies, error) {
	out := Efficiencies{varied: make(map[string]bool, 3)}

	for _, v := range s.variations {
		desired := s.mod.SampleNormal(v.Average, v.Sigma, s.seed)
		desired = min(max(desired, 0), 1)

		switch {
		case v.Frequency > 1:
			if !behavior.EveryPeriodic(now, int(v.Frequency)) {
				desired = 0
			}
		case v.Frequency < 0:
			if !s.mod.EveryRandomTrigger(int(v.Frequency), s.seed) {
				desired = 0
			}
		default:
			desired = 0
		}

		switch v.Stream {
		case RoleFuel:
			out.Fuel = desired
		case RoleDiverted:
			if now < s.tTrade {
				desired = 0
			}
			out.Diverted = desired
		case RoleLosses:
			out.Losses = desired
		default:
			s.logger.Debug("variation ignored for non-role stream",
				"facility", s.facility,
				"stream", v.Stream,
			)
			continue
		}
		out.varied[v.Stream] = true
	}

	if net := out.Fuel + out.Diverted + out.Losses; net > 1 {
		out.Fuel -= net - 1
		if out.Fuel < 0 {
			return out, NewBudgetError(s.facility, RoleFuel, net)
		}
	}
	return out, nil
}
