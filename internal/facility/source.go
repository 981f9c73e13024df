package facility

import (
	"log/slog"
	"math"

	"github.com/roach88/sepflow/internal/exchange"
	"github.com/roach88/sepflow/internal/material"
)

const (
	// ArchetypeSource is the registry name of Source.
	ArchetypeSource = "Source"

	// SourceInventory names the remaining lifetime supply in snapshots.
	SourceInventory = "supply"
)

// Source supplies recipe material on one commodity, up to a throughput per
// timestep and optionally a finite lifetime supply.
type Source struct {
	ctx  *Context
	name string

	outCommod  string
	recipe     material.Composition
	throughput float64

	// supply holds the remaining lifetime inventory; nil means unlimited.
	supply *material.Buffer

	// budget is what may still be sent this timestep.
	budget float64
	logger *slog.Logger
}

// NewSource builds a Source facility.
func NewSource(ctx *Context, name string, cfg SourceConfig) (*Source, error) {
	if cfg.OutCommod == "" {
		return nil, configError(name, "out_commod is required")
	}
	if cfg.Recipe == "" {
		return nil, configError(name, "recipe is required")
	}
	comp, err := ctx.Recipe(cfg.Recipe)
	if err != nil {
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "source recipe", Facility: name, Err: err}
	}

	s := &Source{
		ctx:        ctx,
		name:       name,
		outCommod:  cfg.OutCommod,
		recipe:     comp,
		throughput: unbounded(cfg.Throughput),
		logger:     ctx.Logger().With("facility", name),
	}
	if size := unbounded(cfg.InventorySize); !math.IsInf(size, 1) {
		s.supply = material.NewBuffer(size)
		if err := s.supply.Push(material.New(size, comp)); err != nil {
			return nil, capacityError(name, SourceInventory, err)
		}
	}
	if s.supply == nil && math.IsInf(s.throughput, 1) {
		return nil, configError(name, "source needs a throughput or an inventory_size")
	}
	return s, nil
}

// Prototype implements exchange.Trader.
func (s *Source) Prototype() string { return s.name }

// Archetype implements Agent.
func (s *Source) Archetype() string { return ArchetypeSource }

// Remaining is the lifetime supply left, +Inf when unlimited.
func (s *Source) Remaining() float64 {
	if s.supply == nil {
		return math.Inf(1)
	}
	return s.supply.Quantity()
}

// Tick resets the per-timestep budget.
func (s *Source) Tick() error {
	s.budget = math.Min(s.throughput, s.Remaining())
	return nil
}

// Tock implements Agent.
func (s *Source) Tock() error {
	s.logger.Debug("source tock", "time", s.ctx.Time(), "remaining", s.Remaining())
	return nil
}

// MatlRequests implements exchange.Trader. A source never requests.
func (s *Source) MatlRequests() ([]*exchange.RequestPortfolio, error) { return nil, nil }

// MatlBids offers recipe material on every request for the output
// commodity, capped at this timestep's budget.
func (s *Source) MatlBids(requests map[string][]*exchange.Request) []*exchange.BidPortfolio {
	reqs := requests[s.outCommod]
	if len(reqs) == 0 || s.budget <= material.Eps {
		return nil
	}
	port := exchange.NewBidPortfolio(s)
	for _, req := range reqs {
		qty := math.Min(s.budget, req.Quantity())
		port.AddBid(req, material.NewUntracked(qty, s.recipe))
	}
	port.Capacity = s.budget
	return []*exchange.BidPortfolio{port}
}

// MatlTrades creates the traded material.
func (s *Source) MatlTrades(trades []exchange.Trade) ([]exchange.Response, error) {
	responses := make([]exchange.Response, 0, len(trades))
	for _, tr := range trades {
		if tr.Commodity() != s.outCommod {
			return nil, NewCommodityError(s.name, tr.Commodity())
		}
		qty := math.Min(tr.Amount, s.budget)

		var m *material.Material
		if s.supply == nil {
			m = material.New(qty, s.recipe)
		} else {
			var err error
			if m, err = s.supply.Pop(qty); err != nil {
				return nil, &Error{Code: ErrCodeCapacity, Message: "lifetime supply exhausted", Facility: s.name, Stream: SourceInventory, Err: err}
			}
		}
		s.budget -= qty
		responses = append(responses, exchange.Response{Trade: tr, Material: m})
	}
	return responses, nil
}

// AcceptMatlTrades implements exchange.Trader. A source never requests, so
// there is nothing to accept.
func (s *Source) AcceptMatlTrades([]exchange.Response) error { return nil }

// Snapshot implements Agent. An unlimited source has no inventories.
func (s *Source) Snapshot() Inventories {
	if s.supply == nil {
		return Inventories{}
	}
	return Inventories{SourceInventory: s.supply.Lots()}
}

// Restore implements Agent.
func (s *Source) Restore(inv Inventories) error {
	for _, name := range inv.Names() {
		if name != SourceInventory || s.supply == nil {
			return configError(s.name, "snapshot inventory %q has no matching buffer", name)
		}
		s.supply.PopAll()
		if err := s.supply.PushAll(inv[name]); err != nil {
			return capacityError(s.name, name, err)
		}
	}
	return nil
}
