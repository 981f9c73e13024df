package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/roach88/sepflow/internal/store"
)

// Timeline event types.
const (
	TimelineTick  = "tick"
	TimelineTrade = "trade"
)

// TimelineEvent is one tick report or trade of a stored run.
type TimelineEvent struct {
	Time int    `json:"time"`
	Type string `json:"type"`

	// Tick reports.
	Agent     string             `json:"agent,omitempty"`
	Popped    float64            `json:"popped,omitempty"`
	Governing float64            `json:"governing,omitempty"`
	Leftover  float64            `json:"leftover,omitempty"`
	Requeued  float64            `json:"requeued,omitempty"`
	Staged    map[string]float64 `json:"staged,omitempty"`
	Pushed    map[string]float64 `json:"pushed,omitempty"`

	// Trades.
	Seq       int     `json:"seq,omitempty"`
	Commodity string  `json:"commodity,omitempty"`
	Requester string  `json:"requester,omitempty"`
	Bidder    string  `json:"bidder,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
}

// TimelineStats holds summary statistics for a timeline.
type TimelineStats struct {
	Ticks       int     `json:"ticks"`
	Trades      int     `json:"trades"`
	TotalPopped float64 `json:"total_popped"`
	TotalTraded float64 `json:"total_traded"`
}

// buildTimeline merges tick reports and trades into time order, ticks
// before trades within a timestep. When agentFilter is set, only that
// facility's ticks and the trades it took part in are kept.
func buildTimeline(ticks []store.TickReport, trades []store.Trade, agentFilter string) ([]TimelineEvent, TimelineStats) {
	timeline := []TimelineEvent{}
	var stats TimelineStats

	for _, r := range ticks {
		if agentFilter != "" && r.Agent != agentFilter {
			continue
		}
		timeline = append(timeline, TimelineEvent{
			Time:      r.Time,
			Type:      TimelineTick,
			Agent:     r.Agent,
			Popped:    r.Popped,
			Governing: r.Governing,
			Leftover:  r.Leftover,
			Requeued:  r.Requeued,
			Staged:    r.Staged,
			Pushed:    r.Pushed,
		})
		stats.Ticks++
		stats.TotalPopped += r.Popped
	}

	for _, tr := range trades {
		if agentFilter != "" && tr.Requester != agentFilter && tr.Bidder != agentFilter {
			continue
		}
		timeline = append(timeline, TimelineEvent{
			Time:      tr.Time,
			Type:      TimelineTrade,
			Seq:       tr.Seq,
			Commodity: tr.Commodity,
			Requester: tr.Requester,
			Bidder:    tr.Bidder,
			Amount:    tr.Amount,
		})
		stats.Trades++
		stats.TotalTraded += tr.Amount
	}

	// Stable keeps store order (agent, then seq) inside each group.
	sort.SliceStable(timeline, func(i, j int) bool {
		a, b := timeline[i], timeline[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.Type == TimelineTick && b.Type == TimelineTrade
	})
	return timeline, stats
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, event TimelineEvent, verbose bool) {
	switch event.Type {
	case TimelineTick:
		fmt.Fprintf(w, "  [t=%d] TICK  %s popped=%s governing=%s leftover=%s requeued=%s\n",
			event.Time, event.Agent,
			formatQuantity(event.Popped), formatQuantity(event.Governing),
			formatQuantity(event.Leftover), formatQuantity(event.Requeued))
		if len(event.Pushed) > 0 {
			fmt.Fprintf(w, "         pushed: %s\n", formatQuantities(event.Pushed))
		}
		if verbose && len(event.Staged) > 0 {
			fmt.Fprintf(w, "         staged: %s\n", formatQuantities(event.Staged))
		}

	case TimelineTrade:
		fmt.Fprintf(w, "  [t=%d] TRADE %s %s -> %s %s\n",
			event.Time, event.Commodity, event.Bidder, event.Requester, formatQuantity(event.Amount))
	}
}

// formatQuantities formats a map of quantities for display.
// Uses sorted keys to ensure deterministic output.
func formatQuantities(q map[string]float64) string {
	if len(q) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatQuantity(q[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatQuantity trims trailing zeros from a six-decimal rendering.
func formatQuantity(v float64) string {
	s := strings.TrimRight(fmt.Sprintf("%.6f", v), "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
