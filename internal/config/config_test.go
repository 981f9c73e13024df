package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sepflow/internal/facility"
	"github.com/roach88/sepflow/internal/material"
)

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "valid.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, 12, cfg.Simulation.Duration)
	require.NotNil(t, cfg.Simulation.Seed)
	assert.Equal(t, int64(42), *cfg.Simulation.Seed)

	require.Len(t, cfg.Facilities, 3)
	sep := cfg.Facilities[1]
	assert.Equal(t, facility.ArchetypeSeparations, sep.Archetype)
	require.NotNil(t, sep.Separations)
	assert.Equal(t, []string{"feed"}, sep.Separations.FeedCommods)
	require.NotNil(t, sep.Separations.Throughput)
	assert.Equal(t, 50.0, *sep.Separations.Throughput)
	require.Len(t, sep.Separations.Streams, 1)
	assert.Equal(t, 0.9, sep.Separations.Streams[0].Efficiencies["U"])
	assert.Equal(t, 2.0, sep.Separations.Variations["Fuel"].Frequency)
	assert.Equal(t, 7, sep.Separations.RNGSeed)

	assert.Equal(t, []string{"Fuel", "waste"}, cfg.Facilities[2].Sink.InCommods)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{
			name: "wrong version",
			doc:  "version: 2\nsimulation: {duration: 1}\nfacilities: [{name: a, archetype: Sink, sink: {in_commods: [x]}}]\n",
			path: "version",
		},
		{
			name: "negative duration",
			doc:  "version: 1\nsimulation: {duration: -3}\nfacilities: [{name: a, archetype: Sink, sink: {in_commods: [x]}}]\n",
			path: "simulation.duration",
		},
		{
			name: "efficiency above one",
			doc: `version: 1
simulation: {duration: 1}
facilities:
  - name: sep
    archetype: Separations
    separations:
      feed_commods: [feed]
      feedbuf_size: 10
      streams: [{name: Fuel, efficiencies: {U: 1.5}}]
`,
			path: "facilities.0.separations.streams.0.efficiencies.U",
		},
		{
			name: "unknown field",
			doc:  "version: 1\nsimulation: {duration: 1, speed: 3}\nfacilities: [{name: a, archetype: Sink, sink: {in_commods: [x]}}]\n",
			path: "simulation.speed",
		},
		{
			name: "bad social behaviour",
			doc:  "version: 1\nsimulation: {duration: 1}\nfacilities: [{name: a, archetype: Sink, sink: {in_commods: [x], social_behav: Often}}]\n",
			path: "facilities.0.sink.social_behav",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("run.yaml", []byte(tt.doc))
			require.Error(t, err)
			require.True(t, IsValidationError(err), "got %v", err)

			var paths []string
			for _, fe := range err.(*ValidationError).Errors {
				paths = append(paths, fe.Path)
			}
			assert.Contains(t, paths, tt.path)
		})
	}
}

func TestParse_ErrorPositionsPointIntoFile(t *testing.T) {
	doc := "version: 1\nsimulation:\n  duration: -1\nfacilities: [{name: a, archetype: Sink, sink: {in_commods: [x]}}]\n"
	err := Validate("run.yaml", []byte(doc))
	require.Error(t, err)

	ve := err.(*ValidationError)
	require.NotEmpty(t, ve.Errors)
	fe := ve.Errors[0]
	require.True(t, fe.Pos.IsValid())
	assert.Equal(t, "run.yaml", fe.Pos.Filename())
	assert.Equal(t, 3, fe.Pos.Line())
	assert.Contains(t, fe.Error(), "run.yaml:3:")
}

func TestParse_MissingFacilities(t *testing.T) {
	_, err := Parse("run.yaml", []byte("version: 1\nsimulation: {duration: 1}\n"))
	assert.True(t, IsValidationError(err))
}

func TestCompositions(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "valid.yaml"))
	require.NoError(t, err)

	recipes, err := cfg.Compositions()
	require.NoError(t, err)
	natu := recipes["natu"]
	assert.InDelta(t, 0.0071, natu[material.Nuclide(922350000)], 1e-12)
	assert.InDelta(t, 1.0, natu.Total(), 1e-12)

	cfg.Recipes["bad"] = map[string]float64{"Xx999": 1}
	_, err = cfg.Compositions()
	assert.True(t, facility.IsConfigError(err))

	cfg.Recipes["bad"] = map[string]float64{}
	_, err = cfg.Compositions()
	assert.True(t, facility.IsConfigError(err))
}

func TestHash_IgnoresFormatting(t *testing.T) {
	a := "version: 1\nsimulation: {duration: 3, seed: 1}\nfacilities: [{name: a, archetype: Sink, sink: {in_commods: [x]}}]\n"
	b := `# same run, block style
facilities:
  - archetype: Sink
    name: a
    sink:
      in_commods: [x]
simulation:
  seed: 1
  duration: 3
version: 1
`
	ca, err := Parse("a.yaml", []byte(a))
	require.NoError(t, err)
	cb, err := Parse("b.yaml", []byte(b))
	require.NoError(t, err)

	ha, err := ca.Hash()
	require.NoError(t, err)
	hb, err := cb.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	cb.Simulation.Duration = 4
	hc, err := cb.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SEPFLOW_SEED=99\nSEPFLOW_DB=from-file.db\n"), 0o600))

	t.Setenv(EnvSeed, "")
	t.Setenv(EnvDB, "from-env.db")
	t.Setenv(EnvLogLevel, "debug")

	env, err := LoadEnv(envFile)
	require.NoError(t, err)
	require.NotNil(t, env.Seed)
	assert.Equal(t, int64(99), *env.Seed, "dotenv fills unset variables")
	assert.Equal(t, "from-env.db", env.DB, "process environment wins")
	assert.Equal(t, "debug", env.LogLevel)

	cfg := &Config{}
	cfg.ApplyEnv(env)
	require.NotNil(t, cfg.Simulation.Seed)
	assert.Equal(t, int64(99), *cfg.Simulation.Seed)
}

func TestLoadEnv_MissingFileAndBadSeed(t *testing.T) {
	t.Setenv(EnvSeed, "")
	env, err := LoadEnv(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Nil(t, env.Seed)

	t.Setenv(EnvSeed, "forty-two")
	_, err = LoadEnv(filepath.Join(t.TempDir(), "absent.env"))
	assert.Error(t, err)
}
