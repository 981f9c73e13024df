package exchange

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/roach88/sepflow/internal/material"
)

// Exchange runs one market round per timestep.
//
// An Exchange is not safe for concurrent use. Request and bid ids keep
// increasing across rounds so trades recorded over a run stay distinct.
type Exchange struct {
	nextRequestID int
	nextBidID     int
}

// New creates an exchange with ids starting at 1.
func New() *Exchange {
	return &Exchange{nextRequestID: 1, nextBidID: 1}
}

// Round is the outcome of one market round.
type Round struct {
	Requests int
	Bids     int
	Trades   []Trade
}

// Resolve runs a full round among traders: requests, bids, preference
// adjustment, matching, then material transfer.
//
// Trader order is significant. It fixes id assignment, and therefore the
// tie-break among equally preferred arcs. Errors from a trader abort the
// round; material already transferred stays transferred.
func (x *Exchange) Resolve(traders []Trader) (*Round, error) {
	index := make(map[Trader]int, len(traders))
	for i, t := range traders {
		index[t] = i
	}

	byCommodity := make(map[string][]*Request)
	for _, t := range traders {
		ports, err := t.MatlRequests()
		if err != nil {
			return nil, fmt.Errorf("collect requests from %s: %w", t.Prototype(), err)
		}
		for _, p := range ports {
			p.Requester = t
			for _, r := range p.Requests {
				r.ID = x.nextRequestID
				x.nextRequestID++
				r.Requester = p.Requester
				r.portfolio = p
				byCommodity[r.Commodity] = append(byCommodity[r.Commodity], r)
			}
		}
	}

	round := &Round{}
	for _, reqs := range byCommodity {
		round.Requests += len(reqs)
	}
	if round.Requests == 0 {
		return round, nil
	}

	var bids []*Bid
	for _, t := range traders {
		for _, p := range t.MatlBids(byCommodity) {
			p.Bidder = t
			for _, b := range p.Bids {
				if b.Request.Requester == p.Bidder {
					continue
				}
				b.ID = x.nextBidID
				x.nextBidID++
				b.Bidder = p.Bidder
				b.portfolio = p
				bids = append(bids, b)
			}
		}
	}
	round.Bids = len(bids)
	if len(bids) == 0 {
		return round, nil
	}

	adjustPreferences(traders, bids)

	round.Trades = match(bids)
	slog.Debug("exchange matched",
		"requests", round.Requests,
		"bids", round.Bids,
		"trades", len(round.Trades),
	)

	responses, err := executeTrades(traders, index, round.Trades)
	if err != nil {
		return nil, err
	}
	if err := deliver(traders, index, responses); err != nil {
		return nil, err
	}
	return round, nil
}

// adjustPreferences hands each PrefAdjuster the bids on its own requests.
func adjustPreferences(traders []Trader, bids []*Bid) {
	byRequester := make(map[Trader][]*Bid)
	for _, b := range bids {
		byRequester[b.Request.Requester] = append(byRequester[b.Request.Requester], b)
	}
	for _, t := range traders {
		adj, ok := t.(PrefAdjuster)
		if !ok || len(byRequester[t]) == 0 {
			continue
		}
		adj.AdjustMatlPrefs(byRequester[t])
	}
}

// match allocates greedily along arcs in preference order.
func match(bids []*Bid) []Trade {
	arcs := make([]*Bid, 0, len(bids))
	for _, b := range bids {
		if b.Preference >= 0 {
			arcs = append(arcs, b)
		}
	}
	sort.SliceStable(arcs, func(i, j int) bool {
		a, b := arcs[i], arcs[j]
		if a.Preference != b.Preference {
			return a.Preference > b.Preference
		}
		if a.Request.ID != b.Request.ID {
			return a.Request.ID < b.Request.ID
		}
		return a.ID < b.ID
	})

	filledRequest := make(map[*Request]float64)
	filledReqPort := make(map[*RequestPortfolio]float64)
	drawnBidPort := make(map[*BidPortfolio]float64)

	var trades []Trade
	for _, b := range arcs {
		r := b.Request
		amt := math.Min(b.Offer.Quantity(), r.Quantity()-filledRequest[r])
		amt = math.Min(amt, r.portfolio.Capacity-filledReqPort[r.portfolio])
		amt = math.Min(amt, b.portfolio.Capacity-drawnBidPort[b.portfolio])
		if amt <= material.Eps {
			continue
		}
		filledRequest[r] += amt
		filledReqPort[r.portfolio] += amt
		drawnBidPort[b.portfolio] += amt
		trades = append(trades, Trade{Request: r, Bid: b, Amount: amt})
	}
	return trades
}

// executeTrades asks every bidder, in trader order, for its material.
func executeTrades(traders []Trader, index map[Trader]int, trades []Trade) ([]Response, error) {
	byBidder := make([][]Trade, len(traders))
	for _, tr := range trades {
		i, ok := index[tr.Bid.Bidder]
		if !ok {
			return nil, fmt.Errorf("trade %d: bidder %s is not a participant", tr.Bid.ID, tr.Bid.Bidder.Prototype())
		}
		byBidder[i] = append(byBidder[i], tr)
	}

	var out []Response
	for i, ts := range byBidder {
		if len(ts) == 0 {
			continue
		}
		resps, err := traders[i].MatlTrades(ts)
		if err != nil {
			return nil, fmt.Errorf("execute trades for %s: %w", traders[i].Prototype(), err)
		}
		out = append(out, resps...)
	}
	return out, nil
}

// deliver hands responses to requesters, in trader order.
func deliver(traders []Trader, index map[Trader]int, responses []Response) error {
	byRequester := make([][]Response, len(traders))
	for _, r := range responses {
		i, ok := index[r.Trade.Request.Requester]
		if !ok {
			return fmt.Errorf("response for request %d: requester is not a participant", r.Trade.Request.ID)
		}
		byRequester[i] = append(byRequester[i], r)
	}
	for i, rs := range byRequester {
		if len(rs) == 0 {
			continue
		}
		if err := traders[i].AcceptMatlTrades(rs); err != nil {
			return fmt.Errorf("accept trades for %s: %w", traders[i].Prototype(), err)
		}
	}
	return nil
}
