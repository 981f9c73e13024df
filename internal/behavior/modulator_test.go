package behavior

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestEveryPeriodic(t *testing.T) {
	tests := []struct {
		name     string
		time     int
		interval int
		want     bool
	}{
		{"zero interval", 10, 0, false},
		{"negative interval", 10, -5, false},
		{"boundary", 10, 5, true},
		{"off boundary", 11, 5, false},
		{"time zero", 0, 3, true},
		{"interval one", 7, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EveryPeriodic(tt.time, tt.interval))
		})
	}
}

func TestEveryPeriodic_MatchesModulo(t *testing.T) {
	for k := 1; k <= 12; k++ {
		for tm := 0; tm < 50; tm++ {
			assert.Equal(t, tm%k == 0, EveryPeriodic(tm, k), "t=%d k=%d", tm, k)
		}
	}
}

func TestEveryRandomTrigger_ZeroFrequencyDoesNotSeed(t *testing.T) {
	m := NewModulator()

	assert.False(t, m.EveryRandomTrigger(0, 11))
	assert.False(t, m.Seeded(), "frequency 0 must not touch the RNG")
}

func TestEveryRandomTrigger_Deterministic(t *testing.T) {
	a := NewModulator()
	b := NewModulator()

	for i := 0; i < 500; i++ {
		require.Equal(t, a.EveryRandomTrigger(5, 42), b.EveryRandomTrigger(5, 42), "draw %d", i)
	}
}

func TestEveryRandomTrigger_FrequencyOneNeverFires(t *testing.T) {
	m := NewModulator()

	// t is always 1, midpoint is always 0
	for i := 0; i < 1000; i++ {
		require.False(t, m.EveryRandomTrigger(1, 3))
	}
}

func TestEveryRandomTrigger_FiringRate(t *testing.T) {
	tests := []struct {
		frequency int
		want      float64
	}{
		{5, 0.2},
		{-5, 0.2},
		{4, 0.25},
		{10, 0.1},
	}

	for _, tt := range tests {
		m := NewModulator()
		const draws = 40000
		fired := 0
		for i := 0; i < draws; i++ {
			if m.EveryRandomTrigger(tt.frequency, 1234) {
				fired++
			}
		}
		rate := float64(fired) / draws
		assert.InDelta(t, tt.want, rate, 0.015, "frequency %d", tt.frequency)
	}
}

func TestSampleNormal_ZeroSigmaReturnsMean(t *testing.T) {
	m := NewModulator()

	assert.Equal(t, 0.37, m.SampleNormal(0.37, 0, 5))
	assert.Equal(t, -12.5, m.SampleNormal(-12.5, -1, 5))
	assert.False(t, m.Seeded(), "sigma <= 0 must not consume a draw")
}

func TestSampleNormal_Deterministic(t *testing.T) {
	a := NewModulator()
	b := NewModulator()

	for i := 0; i < 100; i++ {
		require.Equal(t, a.SampleNormal(1, 0.5, 9), b.SampleNormal(1, 0.5, 9))
	}
}

func TestSampleNormal_Distribution(t *testing.T) {
	m := NewModulator()
	const n = 20000
	const mean, sigma = 10.0, 2.0

	samples := make([]float64, n)
	within := 0
	for i := range samples {
		v := m.SampleNormal(mean, sigma, 77)
		samples[i] = v
		if math.Abs(v-mean) <= sigma {
			within++
		}
	}

	gotMean, gotStd := stat.MeanStdDev(samples, nil)
	assert.InDelta(t, mean, gotMean, 0.06)
	assert.InDelta(t, sigma, gotStd, 0.06)

	wantWithin := distuv.UnitNormal.CDF(1) - distuv.UnitNormal.CDF(-1)
	assert.InDelta(t, wantWithin, float64(within)/n, 0.015)
}

func TestModulator_FirstCallerWins(t *testing.T) {
	m := NewModulator()
	require.True(t, m.EnsureSeeded(3))
	assert.False(t, m.EnsureSeeded(99), "second seeding must be ignored")
	assert.Equal(t, int64(3), m.Seed())

	ref := NewModulator()
	ref.EnsureSeeded(3)

	for i := 0; i < 20; i++ {
		require.Equal(t, ref.SampleNormal(0, 1, 3), m.SampleNormal(0, 1, 99))
	}
}

func TestModulator_TimeSeed(t *testing.T) {
	m := NewModulator()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	m.EnsureSeeded(TimeSeed)
	assert.True(t, m.Seeded())
	assert.Equal(t, fixed.Unix(), m.Seed())
}

func TestModulator_IndependentRuns(t *testing.T) {
	// Interleaving draws across two runs must not change either sequence.
	solo := NewModulator()
	var want []float64
	for i := 0; i < 50; i++ {
		want = append(want, solo.SampleNormal(0, 1, 21))
	}

	a := NewModulator()
	b := NewModulator()
	var got []float64
	for i := 0; i < 50; i++ {
		got = append(got, a.SampleNormal(0, 1, 21))
		b.SampleNormal(0, 1, 8)
		b.EveryRandomTrigger(3, 8)
	}

	assert.Equal(t, want, got)
}
