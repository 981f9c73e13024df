package facility

import "math"

// Spec describes one facility instance. Exactly one archetype section is
// set, matching Archetype.
type Spec struct {
	Name        string             `yaml:"name" json:"name"`
	Archetype   string             `yaml:"archetype" json:"archetype"`
	Separations *SeparationsConfig `yaml:"separations,omitempty" json:"separations,omitempty"`
	Sink        *SinkConfig        `yaml:"sink,omitempty" json:"sink,omitempty"`
	Source      *SourceConfig      `yaml:"source,omitempty" json:"source,omitempty"`
}

// SeparationsConfig configures a Separations facility.
type SeparationsConfig struct {
	// FeedCommods is the ordered list of commodities to request feed on.
	FeedCommods []string `yaml:"feed_commods" json:"feed_commods"`

	// FeedCommodPrefs holds one preference per feed commodity. Empty means
	// zero for all.
	FeedCommodPrefs []float64 `yaml:"feed_commod_prefs,omitempty" json:"feed_commod_prefs,omitempty"`

	// FeedRecipe names the requested composition. Empty accepts anything.
	FeedRecipe string `yaml:"feed_recipe,omitempty" json:"feed_recipe,omitempty"`

	FeedbufSize float64 `yaml:"feedbuf_size" json:"feedbuf_size"`

	// Throughput caps the feed processed per timestep. Nil is unbounded.
	Throughput *float64 `yaml:"throughput,omitempty" json:"throughput,omitempty"`

	LeftoverCommod string `yaml:"leftover_commod,omitempty" json:"leftover_commod,omitempty"`

	// LeftoverbufSize bounds the leftover buffer. Nil is unbounded.
	LeftoverbufSize *float64 `yaml:"leftoverbuf_size,omitempty" json:"leftoverbuf_size,omitempty"`

	Streams []StreamConfig `yaml:"streams" json:"streams"`

	// Variations perturbs stream efficiencies over time, keyed by stream
	// name. Only Fuel, Diverted and Losses are overridden.
	Variations map[string]VariationConfig `yaml:"variations,omitempty" json:"variations,omitempty"`

	// TTrade is the first timestep the Diverted stream may be nonzero.
	TTrade int `yaml:"t_trade,omitempty" json:"t_trade,omitempty"`

	// RNGSeed seeds the run modulator if nothing seeded it first.
	// -1 derives the seed from the clock.
	RNGSeed int `yaml:"rng_seed,omitempty" json:"rng_seed,omitempty"`
}

// StreamConfig is one output stream.
type StreamConfig struct {
	Name string `yaml:"name" json:"name"`

	// Capacity of the stream buffer in kg. Nil or negative is unbounded.
	Capacity *float64 `yaml:"capacity,omitempty" json:"capacity,omitempty"`

	// Efficiencies maps component names (U, Pu239, 942390000) to the
	// separated mass fraction.
	Efficiencies map[string]float64 `yaml:"efficiencies" json:"efficiencies"`
}

// VariationConfig is a (mean, sigma, frequency) efficiency perturbation.
// Frequency > 1 fires periodically, < 0 fires at random, anything else
// disables the stream for override purposes.
type VariationConfig struct {
	Average   float64 `yaml:"average" json:"average"`
	Sigma     float64 `yaml:"sigma" json:"sigma"`
	Frequency float64 `yaml:"frequency" json:"frequency"`
}

// Social behaviour modes for a Sink.
const (
	BehaviorNone   = "None"
	BehaviorEvery  = "Every"
	BehaviorRandom = "Random"
)

// SinkConfig configures a Sink facility.
type SinkConfig struct {
	InCommods []string `yaml:"in_commods" json:"in_commods"`
	Recipe    string   `yaml:"recipe,omitempty" json:"recipe,omitempty"`

	// Capacity bounds the total inventory. Nil is unbounded.
	Capacity *float64 `yaml:"capacity,omitempty" json:"capacity,omitempty"`

	// AvgQty is the mean request size per timestep. Nil is unbounded.
	AvgQty *float64 `yaml:"avg_qty,omitempty" json:"avg_qty,omitempty"`
	Sigma  float64  `yaml:"sigma,omitempty" json:"sigma,omitempty"`

	SocialBehav   string  `yaml:"social_behav,omitempty" json:"social_behav,omitempty"`
	BehavInterval float64 `yaml:"behav_interval,omitempty" json:"behav_interval,omitempty"`
	UserPref      float64 `yaml:"user_pref,omitempty" json:"user_pref,omitempty"`
	TTrade        int     `yaml:"t_trade,omitempty" json:"t_trade,omitempty"`
	RNGSeed       int     `yaml:"rng_seed,omitempty" json:"rng_seed,omitempty"`
}

// SourceConfig configures a Source facility.
type SourceConfig struct {
	OutCommod string `yaml:"out_commod" json:"out_commod"`
	Recipe    string `yaml:"recipe" json:"recipe"`

	// Throughput caps supply per timestep. Nil is unbounded.
	Throughput *float64 `yaml:"throughput,omitempty" json:"throughput,omitempty"`

	// InventorySize caps the lifetime supply. Nil is unbounded.
	InventorySize *float64 `yaml:"inventory_size,omitempty" json:"inventory_size,omitempty"`
}

// unbounded maps an optional limit to a value, nil and negative meaning +Inf.
func unbounded(v *float64) float64 {
	if v == nil || *v < 0 {
		return math.Inf(1)
	}
	return *v
}
