package harness

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/sepflow/internal/material"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, describe(ev))
		}
	}
	return buf.String()
}

func describe(ev TraceEvent) string {
	switch ev.Type {
	case EventTick:
		return fmt.Sprintf("t=%d tick %s popped=%g governing=%g leftover=%g requeued=%g",
			ev.Time, ev.Agent, ev.Popped, ev.Governing, ev.Leftover, ev.Requeued)
	case EventTrade:
		return fmt.Sprintf("t=%d trade %s %s->%s %g", ev.Time, ev.Commodity, ev.Bidder, ev.Requester, ev.Amount)
	default:
		return fmt.Sprintf("t=%d error %s (%s)", ev.Time, ev.Code, ev.Phase)
	}
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return msgs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertReport:
		return assertReport(result.Trace, a)
	case AssertInventory:
		return assertInventory(result, a)
	case AssertTradeTotal:
		return assertTradeTotal(result.Trace, a)
	case AssertConserved:
		return assertConserved(result.Trace)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertReport checks one tick report field of one agent at one timestep.
func assertReport(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Type != EventTick || ev.Agent != a.Agent || ev.Time != a.Time {
			continue
		}
		got := reportField(ev, a.Field)
		if !near(got, *a.Value, tolerance(a)) {
			return &AssertionError{
				Type:     AssertReport,
				Expected: fmt.Sprintf("%s of %s at t=%d = %g", a.Field, a.Agent, a.Time, *a.Value),
				Actual:   fmt.Sprintf("%g", got),
				Trace:    trace,
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertReport,
		Expected: fmt.Sprintf("tick report of %s at t=%d", a.Agent, a.Time),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func reportField(ev TraceEvent, field string) float64 {
	switch field {
	case "popped":
		return ev.Popped
	case "governing":
		return ev.Governing
	case "leftover":
		return ev.Leftover
	case "requeued":
		return ev.Requeued
	}
	if stream, ok := strings.CutPrefix(field, "staged."); ok {
		return ev.Staged[stream]
	}
	if stream, ok := strings.CutPrefix(field, "pushed."); ok {
		return ev.Pushed[stream]
	}
	return math.NaN()
}

// assertInventory checks a final inventory quantity.
func assertInventory(result *Result, a Assertion) error {
	invs, ok := result.Final[a.Agent]
	if !ok {
		return &AssertionError{
			Type:     AssertInventory,
			Expected: fmt.Sprintf("facility %s in final state", a.Agent),
			Actual:   "not found",
		}
	}
	got, ok := invs[a.Inventory]
	if !ok {
		return &AssertionError{
			Type:     AssertInventory,
			Expected: fmt.Sprintf("inventory %s/%s in final state", a.Agent, a.Inventory),
			Actual:   "not found",
		}
	}
	if msg := checkQuantity(got, a); msg != "" {
		return &AssertionError{
			Type:     AssertInventory,
			Expected: fmt.Sprintf("%s/%s %s", a.Agent, a.Inventory, msg),
			Actual:   fmt.Sprintf("%g", got),
		}
	}
	return nil
}

// assertTradeTotal checks the summed amount traded on a commodity.
func assertTradeTotal(trace []TraceEvent, a Assertion) error {
	var total float64
	for _, ev := range trace {
		if ev.Type == EventTrade && ev.Commodity == a.Commodity {
			total += ev.Amount
		}
	}
	if msg := checkQuantity(total, a); msg != "" {
		return &AssertionError{
			Type:     AssertTradeTotal,
			Expected: fmt.Sprintf("total traded %s %s", a.Commodity, msg),
			Actual:   fmt.Sprintf("%g", total),
			Trace:    trace,
		}
	}
	return nil
}

// assertConserved checks that every tick accounts for its popped feed.
func assertConserved(trace []TraceEvent) error {
	for _, ev := range trace {
		if ev.Type != EventTick {
			continue
		}
		var pushed float64
		for _, q := range ev.Pushed {
			pushed += q
		}
		out := pushed + ev.Leftover + ev.Requeued
		if !near(ev.Popped, out, material.Eps) {
			return &AssertionError{
				Type:     AssertConserved,
				Expected: fmt.Sprintf("%s at t=%d: popped %g = pushed + leftover + requeued", ev.Agent, ev.Time, ev.Popped),
				Actual:   fmt.Sprintf("%g", out),
				Trace:    trace,
			}
		}
	}
	return nil
}

// checkQuantity returns a description of the violated bound, or "".
func checkQuantity(got float64, a Assertion) string {
	tol := tolerance(a)
	switch {
	case a.Quantity != nil && !near(got, *a.Quantity, tol):
		return fmt.Sprintf("= %g", *a.Quantity)
	case a.Min != nil && got < *a.Min-tol:
		return fmt.Sprintf(">= %g", *a.Min)
	case a.Max != nil && got > *a.Max+tol:
		return fmt.Sprintf("<= %g", *a.Max)
	}
	return ""
}

func tolerance(a Assertion) float64 {
	if a.Tolerance > 0 {
		return a.Tolerance
	}
	return DefaultTolerance
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
