package facility

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/roach88/sepflow/internal/behavior"
	"github.com/roach88/sepflow/internal/exchange"
	"github.com/roach88/sepflow/internal/material"
)

const (
	// ArchetypeSink is the registry name of Sink.
	ArchetypeSink = "Sink"

	// SinkInventory names the sink's only inventory in snapshots.
	SinkInventory = "inventory"
)

// Sink accepts material on its input commodities until its inventory is
// full. Request size and timing can follow a social behaviour: trade every
// N timesteps, or at random roughly one in N.
type Sink struct {
	ctx  *Context
	name string

	inCommods []string
	recipe    material.Composition // nil accepts any composition
	inventory *material.Buffer

	avgQty        float64
	sigma         float64
	socialBehav   string
	behavInterval int
	userPref      float64
	tTrade        int
	seed          int

	// amt is the quantity requested this timestep.
	amt    float64
	logger *slog.Logger
}

// NewSink builds a Sink facility.
func NewSink(ctx *Context, name string, cfg SinkConfig) (*Sink, error) {
	if len(cfg.InCommods) == 0 {
		return nil, configError(name, "in_commods must not be empty")
	}
	behav := cfg.SocialBehav
	switch behav {
	case "":
		behav = BehaviorNone
	case BehaviorNone, BehaviorEvery, BehaviorRandom:
	default:
		return nil, configError(name, "unknown social_behav %q", cfg.SocialBehav)
	}

	s := &Sink{
		ctx:           ctx,
		name:          name,
		inCommods:     append([]string(nil), cfg.InCommods...),
		inventory:     material.NewBuffer(unbounded(cfg.Capacity)),
		avgQty:        unbounded(cfg.AvgQty),
		sigma:         cfg.Sigma,
		socialBehav:   behav,
		behavInterval: int(cfg.BehavInterval),
		userPref:      cfg.UserPref,
		tTrade:        cfg.TTrade,
		seed:          cfg.RNGSeed,
		logger:        ctx.Logger().With("facility", name),
	}
	if cfg.Recipe != "" {
		comp, err := ctx.Recipe(cfg.Recipe)
		if err != nil {
			return nil, &Error{Code: ErrCodeInvalidConfig, Message: "sink recipe", Facility: name, Err: err}
		}
		s.recipe = comp
	}
	return s, nil
}

// Prototype implements exchange.Trader.
func (s *Sink) Prototype() string { return s.name }

// Archetype implements Agent.
func (s *Sink) Archetype() string { return ArchetypeSink }

// Requested is the quantity requested on the current timestep.
func (s *Sink) Requested() float64 { return s.amt }

// Tick decides how much to request this timestep.
func (s *Sink) Tick() error {
	now := s.ctx.Time()
	mod := s.ctx.Modulator()

	desired := mod.SampleNormal(s.avgQty, s.sigma, s.seed)
	s.amt = math.Min(desired, math.Max(0, s.inventory.Space()))

	if now < s.tTrade {
		s.amt = 0
	}
	switch {
	case s.socialBehav == BehaviorEvery && s.behavInterval > 0:
		if !behavior.EveryPeriodic(now, s.behavInterval) {
			s.amt = 0
		}
	case s.socialBehav == BehaviorRandom && s.amt > 0:
		if !mod.EveryRandomTrigger(s.behavInterval, s.seed) {
			s.amt = 0
		}
	}

	if s.amt > material.Eps {
		s.logger.Debug("sink will request", "time", now, "qty", s.amt, "commods", s.inCommods)
	}
	return nil
}

// Tock implements Agent.
func (s *Sink) Tock() error {
	s.logger.Debug("sink holding", "time", s.ctx.Time(), "qty", s.inventory.Quantity())
	return nil
}

// MatlRequests requests amt on every input commodity; any one may fill it.
func (s *Sink) MatlRequests() ([]*exchange.RequestPortfolio, error) {
	if s.amt <= material.Eps {
		return nil, nil
	}
	target := material.NewBlank(s.amt)
	if s.recipe != nil {
		target = material.NewUntracked(s.amt, s.recipe)
	}

	port := exchange.NewRequestPortfolio(s)
	reqs := make([]*exchange.Request, 0, len(s.inCommods))
	for _, c := range s.inCommods {
		reqs = append(reqs, port.AddRequest(target, c, 0))
	}
	port.AddMutualRequests(reqs)
	return []*exchange.RequestPortfolio{port}, nil
}

// AdjustMatlPrefs sets every arc into the sink to the user preference.
func (s *Sink) AdjustMatlPrefs(bids []*exchange.Bid) {
	for _, b := range bids {
		b.Preference = s.userPref
	}
}

// MatlBids implements exchange.Trader. A sink never bids.
func (s *Sink) MatlBids(map[string][]*exchange.Request) []*exchange.BidPortfolio { return nil }

// MatlTrades implements exchange.Trader. A sink has nothing to supply.
func (s *Sink) MatlTrades(trades []exchange.Trade) ([]exchange.Response, error) {
	if len(trades) > 0 {
		return nil, NewCommodityError(s.name, trades[0].Commodity())
	}
	return nil, nil
}

// AcceptMatlTrades stores received material.
func (s *Sink) AcceptMatlTrades(responses []exchange.Response) error {
	for _, r := range responses {
		if err := s.inventory.Push(r.Material); err != nil {
			if material.IsCapacityError(err) {
				return capacityError(s.name, SinkInventory, err)
			}
			return fmt.Errorf("accept %s: %w", r.Trade.Commodity(), err)
		}
	}
	return nil
}

// Snapshot implements Agent.
func (s *Sink) Snapshot() Inventories {
	return Inventories{SinkInventory: s.inventory.Lots()}
}

// Restore implements Agent.
func (s *Sink) Restore(inv Inventories) error {
	for _, name := range inv.Names() {
		if name != SinkInventory {
			return configError(s.name, "snapshot inventory %q has no matching buffer", name)
		}
		s.inventory.PopAll()
		if err := s.inventory.PushAll(inv[name]); err != nil {
			return capacityError(s.name, name, err)
		}
	}
	return nil
}
