package facility

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/roach88/sepflow/internal/exchange"
	"github.com/roach88/sepflow/internal/material"
)

const (
	// ArchetypeSeparations is the registry name of Separations.
	ArchetypeSeparations = "Separations"

	// FeedInventory and LeftoverInventory name the non-stream inventories in
	// snapshots. They are reserved and may not be used as stream names.
	FeedInventory     = "feed-inv-name"
	LeftoverInventory = "leftover-inv-name"

	// DefaultLeftoverCommod is used when no leftover commodity is configured.
	DefaultLeftoverCommod = "default-waste-stream"
)

// effTolerance absorbs rounding in summed efficiency fractions.
const effTolerance = 1e-9

type stream struct {
	name string
	effs map[material.Nuclide]float64
	buf  *material.Buffer
}

// TickReport describes what one Separations tick did.
type TickReport struct {
	Time         int
	Popped       float64
	Governing    float64
	Efficiencies Efficiencies
	Staged       map[string]float64
	Pushed       map[string]float64
	Leftover     float64
	Requeued     float64
}

// Separations splits feed into output streams by per-component
// efficiencies.
//
// Each tick it pops up to throughput kg of feed, stages every stream's
// share, and commits all of them scaled by one governing fraction so that no
// stream buffer overflows. Feed held back by the throttle returns to the
// feed buffer; unclaimed mass goes to the leftover buffer.
type Separations struct {
	ctx  *Context
	name string

	feedCommods    []string
	feedPrefs      []float64
	feedRecipe     material.Composition // nil accepts any composition
	throughput     float64
	leftoverCommod string

	feed     *material.Buffer
	leftover *material.Buffer
	streams  []*stream // sorted by name
	byName   map[string]*stream

	scheduler *Scheduler
	logger    *slog.Logger
	last      *TickReport
}

// NewSeparations builds a Separations facility and checks its
// configuration. A component whose efficiencies sum past 1 is repaired by
// lowering the Fuel stream's entry when Fuel holds enough of the excess;
// otherwise construction fails.
func NewSeparations(ctx *Context, name string, cfg SeparationsConfig) (*Separations, error) {
	if len(cfg.FeedCommods) == 0 {
		return nil, configError(name, "feed_commods must not be empty")
	}
	prefs := cfg.FeedCommodPrefs
	switch {
	case len(prefs) == 0:
		prefs = make([]float64, len(cfg.FeedCommods))
	case len(prefs) != len(cfg.FeedCommods):
		return nil, configError(name, "feed_commod_prefs has %d entries for %d feed commodities", len(prefs), len(cfg.FeedCommods))
	}
	if cfg.FeedbufSize < 0 {
		return nil, configError(name, "feedbuf_size must not be negative")
	}

	s := &Separations{
		ctx:            ctx,
		name:           name,
		feedCommods:    append([]string(nil), cfg.FeedCommods...),
		feedPrefs:      append([]float64(nil), prefs...),
		throughput:     unbounded(cfg.Throughput),
		leftoverCommod: cfg.LeftoverCommod,
		feed:           material.NewBuffer(cfg.FeedbufSize),
		leftover:       material.NewBuffer(unbounded(cfg.LeftoverbufSize)),
		byName:         make(map[string]*stream, len(cfg.Streams)),
		logger:         ctx.Logger().With("facility", name),
	}
	if s.leftoverCommod == "" {
		s.leftoverCommod = DefaultLeftoverCommod
	}
	if cfg.FeedRecipe != "" {
		comp, err := ctx.Recipe(cfg.FeedRecipe)
		if err != nil {
			return nil, &Error{Code: ErrCodeInvalidConfig, Message: "feed recipe", Facility: name, Err: err}
		}
		s.feedRecipe = comp
	}

	if err := s.buildStreams(cfg.Streams); err != nil {
		return nil, err
	}
	if err := s.checkBudget(); err != nil {
		return nil, err
	}

	vars := make([]Variation, 0, len(cfg.Variations))
	for stream, v := range cfg.Variations {
		if _, ok := s.byName[stream]; !ok {
			return nil, configError(name, "variation for unknown stream %q", stream)
		}
		vars = append(vars, Variation{Stream: stream, Average: v.Average, Sigma: v.Sigma, Frequency: v.Frequency})
	}
	s.scheduler = NewScheduler(name, vars, cfg.TTrade, cfg.RNGSeed, ctx.Modulator(), s.logger)
	return s, nil
}

func (s *Separations) buildStreams(cfgs []StreamConfig) error {
	if len(cfgs) == 0 {
		return configError(s.name, "at least one stream is required")
	}
	for _, sc := range cfgs {
		switch {
		case sc.Name == "":
			return configError(s.name, "stream name is required")
		case sc.Name == s.leftoverCommod:
			return &Error{
				Code:     ErrCodeStreamCollision,
				Message:  "stream name equals the leftover commodity",
				Facility: s.name,
				Stream:   sc.Name,
			}
		case sc.Name == FeedInventory || sc.Name == LeftoverInventory:
			return &Error{
				Code:     ErrCodeStreamCollision,
				Message:  "stream name is a reserved inventory name",
				Facility: s.name,
				Stream:   sc.Name,
			}
		}
		if _, dup := s.byName[sc.Name]; dup {
			return &Error{Code: ErrCodeStreamCollision, Message: "duplicate stream name", Facility: s.name, Stream: sc.Name}
		}

		effs := make(map[material.Nuclide]float64, len(sc.Efficiencies))
		for comp, eff := range sc.Efficiencies {
			nuc, err := material.ParseNuclide(comp)
			if err != nil {
				return &Error{Code: ErrCodeInvalidConfig, Message: "efficiency component", Facility: s.name, Stream: sc.Name, Err: err}
			}
			if eff < 0 || eff > 1 {
				return &Error{
					Code:     ErrCodeInvalidConfig,
					Message:  fmt.Sprintf("efficiency %g for %s outside [0,1]", eff, nuc),
					Facility: s.name,
					Stream:   sc.Name,
				}
			}
			effs[nuc] += eff
		}

		st := &stream{name: sc.Name, effs: effs, buf: material.NewBuffer(unbounded(sc.Capacity))}
		s.streams = append(s.streams, st)
		s.byName[sc.Name] = st
	}
	sort.Slice(s.streams, func(i, j int) bool { return s.streams[i].name < s.streams[j].name })
	return nil
}

// resolve returns the efficiency SepMaterial applies to nuc: its own entry,
// else its element's entry, else 0.
func (st *stream) resolve(nuc material.Nuclide) float64 {
	if eff, ok := st.effs[nuc]; ok {
		return eff
	}
	return st.effs[nuc.Element()]
}

// checkBudget enforces that, per component, the efficiencies SepMaterial
// resolves across all streams sum to at most 1. Element keys sort before
// their nuclides, so a nuclide sees any reduction already made to its
// element.
func (s *Separations) checkBudget() error {
	keys := make(map[material.Nuclide]bool)
	for _, st := range s.streams {
		for nuc := range st.effs {
			keys[nuc] = true
		}
	}

	nucs := make([]material.Nuclide, 0, len(keys))
	for n := range keys {
		nucs = append(nucs, n)
	}
	sort.Slice(nucs, func(i, j int) bool { return nucs[i] < nucs[j] })

	for _, nuc := range nucs {
		var total float64
		for _, st := range s.streams {
			total += st.resolve(nuc)
		}
		excess := total - 1
		if excess <= effTolerance {
			continue
		}
		fuel, ok := s.byName[RoleFuel]
		if !ok || fuel.resolve(nuc) < excess {
			return NewBudgetError(s.name, nuc.String(), total)
		}
		// Pin the entry on nuc itself so sibling nuclides keep the
		// element value.
		fuel.effs[nuc] = fuel.resolve(nuc) - excess
		s.logger.Warn("fuel efficiency reduced to keep total at 1",
			"component", nuc.String(),
			"total", total,
			"fuel", fuel.effs[nuc],
		)
	}
	return nil
}

// Prototype implements exchange.Trader.
func (s *Separations) Prototype() string { return s.name }

// Archetype implements Agent.
func (s *Separations) Archetype() string { return ArchetypeSeparations }

// LastReport returns the report of the most recent tick, or nil if that
// tick had no feed to process.
func (s *Separations) LastReport() *TickReport { return s.last }

// Tick processes one timestep of feed.
//
// Every extraction is staged against the popped feed before any buffer
// changes. If staging fails the feed buffer is put back as it was and no
// stream, leftover or feed push happens.
func (s *Separations) Tick() error {
	s.last = nil
	if s.feed.Empty() {
		return nil
	}

	now := s.ctx.Time()
	effs, err := s.scheduler.AdjustEfficiencies(now)
	if err != nil {
		return err
	}

	before := s.feed.Lots()
	mat, err := s.feed.Pop(math.Min(s.throughput, s.feed.Quantity()))
	if err != nil {
		return fmt.Errorf("pop feed: %w", err)
	}
	rep, commit, err := s.stage(now, effs, mat)
	if err != nil {
		s.feed.PopAll()
		if rerr := s.feed.PushAll(before); rerr != nil {
			return fmt.Errorf("restore feed after %v: %w", err, rerr)
		}
		return err
	}
	if err := commit(); err != nil {
		return err
	}

	s.last = rep
	s.logger.Debug("separations tick",
		"time", now,
		"popped", rep.Popped,
		"governing", rep.Governing,
		"leftover", rep.Leftover,
		"requeued", rep.Requeued,
	)
	return nil
}

// stage splits mat into stream parts, requeued feed and leftover without
// touching any buffer. The returned commit pushes them; every push has
// already been checked against buffer space.
func (s *Separations) stage(now int, effs Efficiencies, mat *material.Material) (*TickReport, func() error, error) {
	origQty := mat.Quantity()
	origComp := mat.Comp()

	rep := &TickReport{
		Time:         now,
		Popped:       origQty,
		Efficiencies: effs,
		Staged:       make(map[string]float64, len(s.streams)),
		Pushed:       make(map[string]float64, len(s.streams)),
	}

	staged := make(map[string]*material.Material, len(s.streams))
	for _, st := range s.streams {
		staged[st.name] = SepMaterial(st.effs, mat, effs.Override(st.name))
	}
	if err := s.absorbClaims(origComp, staged); err != nil {
		return nil, nil, err
	}

	governing := 1.0
	for _, st := range s.streams {
		m := staged[st.name]
		rep.Staged[st.name] = m.Quantity()
		if m.Quantity() <= 0 {
			continue
		}
		if frac := st.buf.Space() / m.Quantity(); frac < governing {
			governing = frac
		}
	}
	rep.Governing = governing

	parts := make(map[string]*material.Material, len(s.streams))
	for _, st := range s.streams {
		m := staged[st.name]
		if m.Quantity() <= 0 {
			continue
		}
		part, err := mat.ExtractComp(m.Quantity()*governing, m.Comp())
		if err != nil {
			return nil, nil, &Error{
				Code:     ErrCodeEfficiencyBudget,
				Message:  "staged stream output exceeds remaining feed",
				Facility: s.name,
				Stream:   st.name,
				Err:      err,
			}
		}
		if part.Quantity()-st.buf.Space() > material.Eps {
			return nil, nil, capacityError(s.name, st.name, &material.CapacityError{
				Quantity: part.Quantity(), Space: st.buf.Space(), Capacity: st.buf.Capacity(),
			})
		}
		parts[st.name] = part
		rep.Pushed[st.name] = part.Quantity()
	}

	var back *material.Material
	if governing < 1 {
		var err error
		back, err = mat.ExtractComp((1-governing)*origQty, origComp)
		if err != nil {
			return nil, nil, fmt.Errorf("requeue feed: %w", err)
		}
		rep.Requeued = back.Quantity()
	}
	if q := mat.Quantity(); q > 0 {
		if q-s.leftover.Space() > material.Eps {
			return nil, nil, capacityError(s.name, LeftoverInventory, &material.CapacityError{
				Quantity: q, Space: s.leftover.Space(), Capacity: s.leftover.Capacity(),
			})
		}
		rep.Leftover = q
	}

	commit := func() error {
		for _, st := range s.streams {
			if part, ok := parts[st.name]; ok {
				if err := st.buf.Push(part); err != nil {
					return capacityError(s.name, st.name, err)
				}
			}
		}
		if back != nil {
			if err := s.feed.Push(back); err != nil {
				return capacityError(s.name, FeedInventory, err)
			}
		}
		if mat.Quantity() > 0 {
			if err := s.leftover.Push(mat); err != nil {
				return capacityError(s.name, LeftoverInventory, err)
			}
		}
		return nil
	}
	return rep, commit, nil
}

// absorbClaims keeps the streams' combined claim on every component within
// what the feed holds. A varied role's efficiency replaces its table entry
// while other streams keep theirs, so claims can pass 100% even when the
// static tables do not. As at setup, Fuel gives up the excess; if Fuel holds
// too little of the component the tick fails with EFFICIENCY_BUDGET.
func (s *Separations) absorbClaims(feed material.Composition, staged map[string]*material.Material) error {
	claims := make(material.Composition, len(feed))
	for _, st := range s.streams {
		for nuc, q := range staged[st.name].Comp() {
			claims[nuc] += q
		}
	}

	var fuel material.Composition
	if m, ok := staged[RoleFuel]; ok {
		fuel = m.Comp()
	}
	adjusted := false
	for _, nuc := range claims.Nuclides() {
		excess := claims[nuc] - feed[nuc]
		if excess <= material.Eps {
			continue
		}
		if fuel == nil || fuel[nuc]+material.Eps < excess {
			return NewBudgetError(s.name, nuc.String(), claims[nuc]/feed[nuc])
		}
		fuel[nuc] = max(fuel[nuc]-excess, 0)
		adjusted = true
		s.logger.Debug("fuel claim reduced to fit feed",
			"component", nuc.String(),
			"excess", excess,
		)
	}
	if adjusted {
		staged[RoleFuel] = material.NewUntracked(fuel.Total(), fuel)
	}
	return nil
}

// Tock implements Agent.
func (s *Separations) Tock() error {
	s.logger.Debug("separations tock",
		"time", s.ctx.Time(),
		"feed", s.feed.Quantity(),
		"leftover", s.leftover.Quantity(),
	)
	return nil
}

// MatlRequests asks for enough feed to fill the feed buffer, on every feed
// commodity at once; any one of them may fill it.
func (s *Separations) MatlRequests() ([]*exchange.RequestPortfolio, error) {
	space := s.feed.Space()
	if space <= material.Eps {
		return nil, nil
	}

	target := material.NewBlank(space)
	if s.feedRecipe != nil {
		target = material.NewUntracked(space, s.feedRecipe)
	}

	port := exchange.NewRequestPortfolio(s)
	reqs := make([]*exchange.Request, 0, len(s.feedCommods))
	for i, commod := range s.feedCommods {
		reqs = append(reqs, port.AddRequest(target, commod, s.feedPrefs[i]))
	}
	port.AddMutualRequests(reqs)
	return []*exchange.RequestPortfolio{port}, nil
}

// MatlBids offers stream and leftover material on matching requests.
func (s *Separations) MatlBids(requests map[string][]*exchange.Request) []*exchange.BidPortfolio {
	var ports []*exchange.BidPortfolio
	for _, st := range s.streams {
		if p := s.bidBuffer(st.buf, requests[st.name]); p != nil {
			ports = append(ports, p)
		}
	}
	if p := s.bidBuffer(s.leftover, requests[s.leftoverCommod]); p != nil {
		ports = append(ports, p)
	}
	return ports
}

// bidBuffer bids buffer lots, in queue order, against each request until
// the request is covered. The portfolio is capped at the buffer quantity.
func (s *Separations) bidBuffer(buf *material.Buffer, reqs []*exchange.Request) *exchange.BidPortfolio {
	if len(reqs) == 0 || buf.Quantity() < material.Eps {
		return nil
	}
	lots := buf.Lots()
	port := exchange.NewBidPortfolio(s)
	for _, req := range reqs {
		var tot float64
		for _, lot := range lots {
			tot += lot.Quantity()
			port.AddBid(req, lot)
			if tot >= req.Quantity() {
				break
			}
		}
	}
	port.Capacity = buf.Quantity()
	return port
}

// MatlTrades pops traded material from the matching stream or leftover
// buffer.
func (s *Separations) MatlTrades(trades []exchange.Trade) ([]exchange.Response, error) {
	responses := make([]exchange.Response, 0, len(trades))
	for _, tr := range trades {
		commod := tr.Commodity()
		var buf *material.Buffer
		switch st, ok := s.byName[commod]; {
		case commod == s.leftoverCommod:
			buf = s.leftover
		case ok:
			buf = st.buf
		default:
			return nil, NewCommodityError(s.name, commod)
		}

		m, err := buf.Pop(math.Min(buf.Quantity(), tr.Amount))
		if err != nil {
			return nil, fmt.Errorf("pop %s: %w", commod, err)
		}
		responses = append(responses, exchange.Response{Trade: tr, Material: m})
	}
	return responses, nil
}

// AcceptMatlTrades pushes received material into the feed buffer.
func (s *Separations) AcceptMatlTrades(responses []exchange.Response) error {
	for _, r := range responses {
		if err := s.feed.Push(r.Material); err != nil {
			if material.IsCapacityError(err) {
				return capacityError(s.name, FeedInventory, err)
			}
			return fmt.Errorf("accept %s: %w", r.Trade.Commodity(), err)
		}
	}
	return nil
}

// Snapshot implements Agent. Streams are keyed by stream name.
func (s *Separations) Snapshot() Inventories {
	inv := Inventories{
		FeedInventory:     s.feed.Lots(),
		LeftoverInventory: s.leftover.Lots(),
	}
	for _, st := range s.streams {
		inv[st.name] = st.buf.Lots()
	}
	return inv
}

// Restore implements Agent. Each named inventory present in inv replaces the
// buffer's contents.
func (s *Separations) Restore(inv Inventories) error {
	for _, name := range inv.Names() {
		var buf *material.Buffer
		switch st, ok := s.byName[name]; {
		case name == FeedInventory:
			buf = s.feed
		case name == LeftoverInventory:
			buf = s.leftover
		case ok:
			buf = st.buf
		default:
			return configError(s.name, "snapshot inventory %q has no matching buffer", name)
		}
		buf.PopAll()
		if err := buf.PushAll(inv[name]); err != nil {
			return capacityError(s.name, name, err)
		}
	}
	return nil
}

// Names returns inventory names in sorted order.
func (inv Inventories) Names() []string {
	names := make([]string, 0, len(inv))
	for n := range inv {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Quantity sums the lots of one inventory.
func (inv Inventories) Quantity(name string) float64 {
	var sum float64
	for _, m := range inv[name] {
		sum += m.Quantity()
	}
	return sum
}
