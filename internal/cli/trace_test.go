package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sepflow/internal/store"
)

func sampleTimelineInput() ([]store.TickReport, []store.Trade) {
	ticks := []store.TickReport{
		{Time: 1, Agent: "sep", Popped: 50, Governing: 1, Pushed: map[string]float64{"Fuel": 45}},
		{Time: 2, Agent: "sep", Popped: 40, Governing: 0.5, Requeued: 20, Pushed: map[string]float64{"Fuel": 18}},
	}
	trades := []store.Trade{
		{Time: 0, Seq: 0, Commodity: "feed", Requester: "sep", Bidder: "mine", Amount: 100},
		{Time: 1, Seq: 0, Commodity: "feed", Requester: "sep", Bidder: "mine", Amount: 50},
		{Time: 1, Seq: 1, Commodity: "waste", Requester: "repo", Bidder: "sep", Amount: 5},
		{Time: 2, Seq: 0, Commodity: "waste", Requester: "repo", Bidder: "other", Amount: 3},
	}
	return ticks, trades
}

func TestBuildTimeline_Order(t *testing.T) {
	ticks, trades := sampleTimelineInput()
	timeline, stats := buildTimeline(ticks, trades, "")

	require.Len(t, timeline, 6)
	var got []string
	for _, e := range timeline {
		got = append(got, e.Type)
	}
	assert.Equal(t, []string{"trade", "tick", "trade", "trade", "tick", "trade"}, got)
	assert.Equal(t, 1, timeline[2].Time)
	assert.Equal(t, 0, timeline[2].Seq)
	assert.Equal(t, 1, timeline[3].Seq)

	assert.Equal(t, 2, stats.Ticks)
	assert.Equal(t, 4, stats.Trades)
	assert.InDelta(t, 90, stats.TotalPopped, 1e-12)
	assert.InDelta(t, 158, stats.TotalTraded, 1e-12)
}

func TestBuildTimeline_AgentFilter(t *testing.T) {
	ticks, trades := sampleTimelineInput()

	timeline, stats := buildTimeline(ticks, trades, "repo")
	require.Len(t, timeline, 2)
	assert.Equal(t, 0, stats.Ticks)
	assert.Equal(t, 2, stats.Trades)

	timeline, _ = buildTimeline(ticks, trades, "mine")
	for _, e := range timeline {
		assert.Equal(t, TimelineTrade, e.Type)
		assert.Equal(t, "mine", e.Bidder)
	}
}

func TestBuildTimeline_Empty(t *testing.T) {
	timeline, stats := buildTimeline(nil, nil, "")
	assert.NotNil(t, timeline)
	assert.Empty(t, timeline)
	assert.Zero(t, stats)
}

func TestFormatTimelineEvent(t *testing.T) {
	buf := &bytes.Buffer{}
	formatTimelineEvent(buf, TimelineEvent{
		Time: 3, Type: TimelineTick, Agent: "sep",
		Popped: 50, Governing: 0.25, Leftover: 1.5, Requeued: 37.5,
		Staged: map[string]float64{"Fuel": 40},
		Pushed: map[string]float64{"Fuel": 10},
	}, false)
	assert.Equal(t,
		"  [t=3] TICK  sep popped=50 governing=0.25 leftover=1.5 requeued=37.5\n"+
			"         pushed: {Fuel=10}\n",
		buf.String())

	buf.Reset()
	formatTimelineEvent(buf, TimelineEvent{Time: 3, Type: TimelineTick, Agent: "sep", Staged: map[string]float64{"Fuel": 40}}, true)
	assert.Contains(t, buf.String(), "staged: {Fuel=40}")

	buf.Reset()
	formatTimelineEvent(buf, TimelineEvent{Time: 4, Type: TimelineTrade, Commodity: "feed", Bidder: "mine", Requester: "sep", Amount: 12.5}, false)
	assert.Equal(t, "  [t=4] TRADE feed mine -> sep 12.5\n", buf.String())
}

func TestFormatQuantities(t *testing.T) {
	assert.Equal(t, "{}", formatQuantities(nil))
	assert.Equal(t, "{Diverted=0.5, Fuel=1}", formatQuantities(map[string]float64{"Fuel": 1, "Diverted": 0.5}))
}

func TestFormatQuantity(t *testing.T) {
	tests := map[float64]string{
		0:                 "0",
		-1e-9:             "0",
		10:                "10",
		0.125:             "0.125",
		1.0 / 3.0:         "0.333333",
		44.99999999999999: "45",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatQuantity(in), "formatQuantity(%v)", in)
	}
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "run-1", truncateID("run-1"))
	assert.Equal(t, "0190c1d2...89abcdef", truncateID("0190c1d2-7e4f-7000-8000-0123456789abcdef"))
}
