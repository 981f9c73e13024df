package canon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"null", nil, "null"},
		{"string", "hello", `"hello"`},
		{"int", 42, "42"},
		{"int64", int64(-100), "-100"},
		{"bool", true, "true"},
		{"float integral", 45.0, "45"},
		{"float fraction", 0.0071, "0.0071"},
		{"float tiny", 1e-7, "1e-7"},
		{"float huge", 1e21, "1e+21"},
		{"negative zero", math.Copysign(0, -1), "0"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"float map", map[string]float64{"U238": 0.9929, "U235": 0.0071}, `{"U235":0.0071,"U238":0.9929}`},
		{"string slice", []string{"b", "a"}, `["b","a"]`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"b": 1, "a": 2},
		"beta":  []any{3.5, "x"},
	}
	result, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"beta":[3.5,"x"],"zebra":1}`, string(result))
}

func TestMarshalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, which sort before U+FF61
	// in UTF-16 even though its UTF-8 bytes sort after.
	obj := map[string]any{"\uff61": 1, "\U0001F600": 2}
	result, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff61\":1}", string(result))
}

func TestMarshalNFC(t *testing.T) {
	a, err := Marshal("e\u0301")
	require.NoError(t, err)
	b, err := Marshal("\u00e9")
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestMarshalLineSeparators(t *testing.T) {
	result, err := Marshal("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))

	literal, err := Marshal(`x\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(literal), "escaped backslash stays escaped")
}

func TestMarshalStruct(t *testing.T) {
	type lot struct {
		Qty  float64            `json:"qty"`
		Comp map[string]float64 `json:"comp"`
	}
	result, err := Marshal(lot{Qty: 10, Comp: map[string]float64{"U235": 1}})
	require.NoError(t, err)
	assert.Equal(t, `{"comp":{"U235":1},"qty":10}`, string(result))
}

func TestMarshalRejectsNonFinite(t *testing.T) {
	_, err := Marshal(math.Inf(1))
	assert.Error(t, err)
	_, err = Marshal(map[string]float64{"x": math.NaN()})
	assert.Error(t, err)
}

func TestHashDeterminism(t *testing.T) {
	a := map[string]any{"x": 1.5, "y": []any{"a"}}
	b := map[string]any{"y": []any{"a"}, "x": 1.5}

	h1, err := Hash(DomainConfig, a)
	require.NoError(t, err)
	h2, err := Hash(DomainConfig, b)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
	assert.NotEqual(t, h1, MustHash(DomainSnapshot, a), "domains separate hashes")
}

func TestSnapshotHash(t *testing.T) {
	inv := map[string][]map[string]float64{
		"feed-inv-name": {{"922350000": 1.5}},
		"Fuel":          {},
	}
	h1, err := SnapshotHash(inv)
	require.NoError(t, err)

	inv["Fuel"] = []map[string]float64{{"942390000": 0.1}}
	h2, err := SnapshotHash(inv)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
