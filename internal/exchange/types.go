// Package exchange implements the per-timestep material market.
//
// Each timestep the exchange collects request portfolios from every trader,
// shows the requests to every trader so they can bid, lets requesters adjust
// arc preferences, matches greedily, and then asks bidders for the traded
// material and hands it to the requesters.
//
// Matching is deterministic: traders are visited in the order given, ids are
// assigned in visitation order, and ties are broken by id.
package exchange

import (
	"math"

	"github.com/roach88/sepflow/internal/material"
)

// Trader is anything that takes part in the material market.
type Trader interface {
	// Prototype names the trader in logs and error messages.
	Prototype() string

	// MatlRequests returns the trader's requests for this timestep.
	MatlRequests() ([]*RequestPortfolio, error)

	// MatlBids answers requests, indexed by commodity.
	MatlBids(requests map[string][]*Request) []*BidPortfolio

	// MatlTrades supplies the material for trades matched to the trader's bids.
	MatlTrades(trades []Trade) ([]Response, error)

	// AcceptMatlTrades receives material for matched requests.
	AcceptMatlTrades(responses []Response) error
}

// PrefAdjuster is implemented by requesters that rewrite arc preferences
// after bidding.
type PrefAdjuster interface {
	AdjustMatlPrefs(bids []*Bid)
}

// Request asks for a quantity of a commodity.
type Request struct {
	ID         int
	Commodity  string
	Target     *material.Material // untracked; a blank target accepts any composition
	Preference float64
	Requester  Trader

	portfolio *RequestPortfolio
}

// Quantity is the requested mass.
func (r *Request) Quantity() float64 { return r.Target.Quantity() }

// Portfolio returns the portfolio the request belongs to.
func (r *Request) Portfolio() *RequestPortfolio { return r.portfolio }

// RequestPortfolio groups requests from one trader under a shared capacity.
type RequestPortfolio struct {
	Requester Trader
	Requests  []*Request

	// Capacity bounds the total mass matched across all requests.
	Capacity float64
}

// NewRequestPortfolio creates an empty portfolio with unbounded capacity.
func NewRequestPortfolio(requester Trader) *RequestPortfolio {
	return &RequestPortfolio{Requester: requester, Capacity: math.Inf(1)}
}

// AddRequest appends a request for target on commodity.
func (p *RequestPortfolio) AddRequest(target *material.Material, commodity string, pref float64) *Request {
	r := &Request{
		Commodity:  commodity,
		Target:     target,
		Preference: pref,
		Requester:  p.Requester,
		portfolio:  p,
	}
	p.Requests = append(p.Requests, r)
	return r
}

// AddMutualRequests marks the requests as alternatives: together they may be
// filled only up to the largest single request.
func (p *RequestPortfolio) AddMutualRequests(reqs []*Request) {
	var max float64
	for _, r := range reqs {
		max = math.Max(max, r.Quantity())
	}
	p.Capacity = math.Min(p.Capacity, max)
}

// Bid offers material against a request. Preference is the arc preference,
// seeded from the request and adjustable by the requester.
type Bid struct {
	ID         int
	Request    *Request
	Offer      *material.Material
	Bidder     Trader
	Preference float64

	portfolio *BidPortfolio
}

// BidPortfolio groups bids from one trader under a shared capacity.
type BidPortfolio struct {
	Bidder   Trader
	Bids     []*Bid
	Capacity float64
}

// NewBidPortfolio creates an empty portfolio with unbounded capacity.
func NewBidPortfolio(bidder Trader) *BidPortfolio {
	return &BidPortfolio{Bidder: bidder, Capacity: math.Inf(1)}
}

// AddBid offers offer against req.
func (p *BidPortfolio) AddBid(req *Request, offer *material.Material) *Bid {
	b := &Bid{
		Request:    req,
		Offer:      offer,
		Bidder:     p.Bidder,
		Preference: req.Preference,
		portfolio:  p,
	}
	p.Bids = append(p.Bids, b)
	return b
}

// Trade is a matched arc.
type Trade struct {
	Request *Request
	Bid     *Bid
	Amount  float64
}

// Commodity is the traded commodity.
func (t Trade) Commodity() string { return t.Request.Commodity }

// Response pairs a trade with the material that fills it.
type Response struct {
	Trade    Trade
	Material *material.Material
}
