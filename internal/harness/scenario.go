package harness

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sepflow/internal/facility"
)

// Scenario defines one separations test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is an optional run configuration file. Paths are relative to
	// the scenario file. When set, Recipes and Facilities must be empty.
	Config string `yaml:"config,omitempty"`

	// Seed seeds the run modulator before facilities are built.
	Seed *int64 `yaml:"seed,omitempty"`

	// Steps is the number of timesteps to run. Zero with a Config uses the
	// configured duration.
	Steps int `yaml:"steps"`

	Recipes    map[string]map[string]float64 `yaml:"recipes,omitempty"`
	Facilities []facility.Spec               `yaml:"facilities,omitempty"`

	// Inventories preloads lots before the first timestep, keyed by
	// facility then inventory name.
	Inventories map[string]map[string][]Lot `yaml:"inventories,omitempty"`

	// ExpectError is the facility error code the run must fail with.
	// Empty means the run must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions validate the trace and final inventories.
	Assertions []Assertion `yaml:"assertions"`

	// dir is the directory the scenario was loaded from.
	dir string
}

// Lot is one preloaded material lot.
type Lot struct {
	Quantity float64 `yaml:"quantity"`
	Recipe   string  `yaml:"recipe"`
}

// Assertion validates the trace or the final inventories.
type Assertion struct {
	// Type is one of report, inventory, trade_total or conserved.
	Type string `yaml:"type"`

	// Agent names the facility (report, inventory).
	Agent string `yaml:"agent,omitempty"`

	// Time is the timestep of the report (report).
	Time int `yaml:"time,omitempty"`

	// Field is a report field: popped, governing, leftover, requeued,
	// staged.<stream> or pushed.<stream> (report).
	Field string `yaml:"field,omitempty"`

	// Value is the expected report field value (report).
	Value *float64 `yaml:"value,omitempty"`

	// Inventory names the inventory (inventory).
	Inventory string `yaml:"inventory,omitempty"`

	// Commodity filters trades (trade_total).
	Commodity string `yaml:"commodity,omitempty"`

	// Quantity is the exact expected quantity; Min and Max bound it
	// instead (inventory, trade_total).
	Quantity *float64 `yaml:"quantity,omitempty"`
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`

	// Tolerance for float comparisons. Zero uses DefaultTolerance.
	Tolerance float64 `yaml:"tolerance,omitempty"`
}

// Assertion type constants.
const (
	AssertReport     = "report"
	AssertInventory  = "inventory"
	AssertTradeTotal = "trade_total"
	AssertConserved  = "conserved"
)

// DefaultTolerance is used by assertions that set no tolerance.
const DefaultTolerance = 1e-6

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.dir = filepath.Dir(path)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ConfigPath resolves the scenario's configuration file, or returns "".
func (s *Scenario) ConfigPath() string {
	if s.Config == "" || filepath.IsAbs(s.Config) {
		return s.Config
	}
	return filepath.Join(s.dir, s.Config)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Steps < 0 {
		return fmt.Errorf("steps must not be negative")
	}

	switch {
	case s.Config != "" && (len(s.Facilities) > 0 || len(s.Recipes) > 0):
		return fmt.Errorf("config and inline facilities are mutually exclusive")
	case s.Config == "" && len(s.Facilities) == 0:
		return fmt.Errorf("facilities list is required and must be non-empty")
	case s.Config == "" && s.Steps == 0:
		return fmt.Errorf("steps is required for inline facilities")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertReport:
		if a.Agent == "" || a.Field == "" || a.Value == nil {
			return fmt.Errorf("report requires agent, field and value")
		}
		if !validField(a.Field) {
			return fmt.Errorf("unknown report field %q", a.Field)
		}
	case AssertInventory:
		if a.Agent == "" || a.Inventory == "" {
			return fmt.Errorf("inventory requires agent and inventory")
		}
		if a.Quantity == nil && a.Min == nil && a.Max == nil {
			return fmt.Errorf("inventory requires quantity, min or max")
		}
	case AssertTradeTotal:
		if a.Commodity == "" {
			return fmt.Errorf("trade_total requires commodity")
		}
		if a.Quantity == nil && a.Min == nil && a.Max == nil {
			return fmt.Errorf("trade_total requires quantity, min or max")
		}
	case AssertConserved:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func validField(f string) bool {
	switch f {
	case "popped", "governing", "leftover", "requeued":
		return true
	}
	stream, ok := strings.CutPrefix(f, "staged.")
	if !ok {
		stream, ok = strings.CutPrefix(f, "pushed.")
	}
	return ok && stream != ""
}

// FindScenarios returns every .yaml or .yml file below dir, sorted. A
// non-empty filter is a glob matched against the file name without its
// extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}
