package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{
		"scenario_a",
		"scenario_b",
		"scenario_c_absorbed",
		"scenario_c_rejected",
	} {
		t.Run(name, func(t *testing.T) {
			s := loadTestScenario(t, name)
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestScenarioB_ThrottlesEveryStream(t *testing.T) {
	result, err := Run(loadTestScenario(t, "scenario_b"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 1)
	tick := result.Trace[0]
	assert.InDelta(t, 10.0/45.0, tick.Governing, 1e-9)
	assert.InDelta(t, 10, tick.Pushed["Fuel"], 1e-9)
	assert.InDelta(t, (1-10.0/45.0)*50, tick.Requeued, 1e-9)
	assert.InDelta(t, 50-10-tick.Requeued, tick.Leftover, 1e-9)
}

func TestScenarioC_Rejected(t *testing.T) {
	result, err := Run(loadTestScenario(t, "scenario_c_rejected"))
	require.NoError(t, err)
	assert.True(t, result.Pass)

	ev := result.ErrorEvent()
	require.NotNil(t, ev)
	assert.Equal(t, "EFFICIENCY_BUDGET", ev.Code)
	assert.Equal(t, "build", ev.Phase)
	assert.Empty(t, result.Final)
}

func TestScenario_ConfigChain(t *testing.T) {
	result, err := Run(loadTestScenario(t, "chain"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	var ticks, trades int
	for _, ev := range result.Trace {
		switch ev.Type {
		case EventTick:
			ticks++
			assert.Equal(t, "sep", ev.Agent)
		case EventTrade:
			trades++
		}
	}
	assert.Equal(t, 7, ticks, "separations idles at t=0 before its first feed arrives")
	assert.Greater(t, trades, 0)
	assert.Nil(t, result.ErrorEvent())
}

func TestRun_SameSeedSameTrace(t *testing.T) {
	s := loadTestScenario(t, "chain")
	a, err := Run(s)
	require.NoError(t, err)
	b, err := Run(s)
	require.NoError(t, err)

	ga, err := (&TraceSnapshot{ScenarioName: s.Name, Trace: a.Trace, Final: a.Final}).Golden()
	require.NoError(t, err)
	gb, err := (&TraceSnapshot{ScenarioName: s.Name, Trace: b.Trace, Final: b.Final}).Golden()
	require.NoError(t, err)
	assert.Equal(t, string(ga), string(gb))
}

func TestRun_UnexpectedError(t *testing.T) {
	s := loadTestScenario(t, "scenario_c_rejected")
	s.ExpectError = ""

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "EFFICIENCY_BUDGET")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	s := loadTestScenario(t, "scenario_a")
	s.ExpectError = "CAPACITY_EXCEEDED"

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "run succeeded")
}

func TestRun_WrongErrorCode(t *testing.T) {
	s := loadTestScenario(t, "scenario_c_rejected")
	s.ExpectError = "STREAM_COLLISION"

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "got EFFICIENCY_BUDGET")
}

func TestRun_PreloadUnknownFacility(t *testing.T) {
	s := loadTestScenario(t, "scenario_a")
	s.Inventories = map[string]map[string][]Lot{
		"ghost": {"feed-inv-name": {{Quantity: 1, Recipe: "pure_u"}}},
	}
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestRun_PreloadUnknownRecipe(t *testing.T) {
	s := loadTestScenario(t, "scenario_a")
	s.Inventories["sep"]["feed-inv-name"][0].Recipe = "nope"
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown recipe "nope"`)
}

func TestRun_MissingConfigFile(t *testing.T) {
	s := loadTestScenario(t, "chain")
	s.Config = "does-not-exist.yaml"
	_, err := Run(s)
	assert.Error(t, err)
}

func TestLoadScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nsteps: 1\nfacilities: [{name: a, archetype: Sink}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nsteps: 1\nfacilities: [{name: a, archetype: Sink}]\n",
			wantErr: "description is required",
		},
		{
			name:    "unknown field",
			content: "name: n\ndescription: d\nassertion: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "no facilities",
			content: "name: n\ndescription: d\nsteps: 1\n",
			wantErr: "facilities list is required",
		},
		{
			name:    "no steps",
			content: "name: n\ndescription: d\nfacilities: [{name: a, archetype: Sink}]\n",
			wantErr: "steps is required",
		},
		{
			name:    "config and facilities",
			content: "name: n\ndescription: d\nconfig: run.yaml\nfacilities: [{name: a, archetype: Sink}]\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\nconfig: run.yaml\nassertions: [{type: vibes}]\n",
			wantErr: "unknown assertion type",
		},
		{
			name:    "unknown report field",
			content: "name: n\ndescription: d\nconfig: run.yaml\nassertions: [{type: report, agent: a, field: speed, value: 1}]\n",
			wantErr: "unknown report field",
		},
		{
			name:    "inventory without bound",
			content: "name: n\ndescription: d\nconfig: run.yaml\nassertions: [{type: inventory, agent: a, inventory: b}]\n",
			wantErr: "quantity, min or max",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "s.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestScenario_ConfigPath(t *testing.T) {
	s := loadTestScenario(t, "chain")
	assert.Equal(t, filepath.Join("testdata", "configs", "chain.yaml"), s.ConfigPath())

	s.Config = "/abs/run.yaml"
	assert.Equal(t, "/abs/run.yaml", s.ConfigPath())
}

func TestFindScenarios(t *testing.T) {
	dir := filepath.Join("testdata", "scenarios")

	all, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	only, err := FindScenarios(dir, "scenario_c_*")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "scenario_c_absorbed.yaml"),
		filepath.Join(dir, "scenario_c_rejected.yaml"),
	}, only)

	_, err = FindScenarios(dir, "[")
	assert.Error(t, err)
}

func TestGoldenPath(t *testing.T) {
	got := GoldenPath(filepath.Join("testdata", "scenarios", "x.yaml"), "scenario_x")
	assert.Equal(t, filepath.Join("testdata", "golden", "scenario_x.golden"), got)
}

func TestTraceSnapshot_Rounding(t *testing.T) {
	s := TraceSnapshot{
		ScenarioName: "r",
		Trace: []TraceEvent{{
			Type:      EventTrade,
			Time:      3,
			Commodity: "feed",
			Requester: "sep",
			Bidder:    "mine",
			Amount:    44.99999999999999,
		}},
		Final: map[string]map[string]float64{"sep": {"Fuel": -1e-12}},
	}
	data, err := s.Golden()
	require.NoError(t, err)
	assert.Equal(t,
		`{"final":{"sep":{"Fuel":0}},"scenario":"r","trace":[{"amount":45,"bidder":"mine","commodity":"feed","requester":"sep","time":3,"type":"trade"}]}`+"\n",
		string(data))
}
