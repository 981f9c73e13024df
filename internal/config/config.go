// Package config loads and validates run configuration files.
//
// A configuration is a YAML document with an explicit version. Loading
// checks it in two layers: structure against the embedded CUE schema, with
// positioned errors, then Go decoding into Config. Semantic checks belong
// to the facility constructors.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sepflow/internal/canon"
	"github.com/roach88/sepflow/internal/facility"
	"github.com/roach88/sepflow/internal/material"
)

// Version is the only configuration version this build reads.
const Version = 1

//go:embed schema.cue
var schemaSource string

// Config is a complete run configuration.
type Config struct {
	Version    int                           `yaml:"version" json:"version"`
	Simulation Simulation                    `yaml:"simulation" json:"simulation"`
	Recipes    map[string]map[string]float64 `yaml:"recipes,omitempty" json:"recipes,omitempty"`
	Facilities []facility.Spec               `yaml:"facilities" json:"facilities"`
}

// Simulation holds run-level settings.
type Simulation struct {
	// Duration is the number of timesteps to run.
	Duration int `yaml:"duration" json:"duration"`

	// Seed seeds the run modulator before any facility can. Nil leaves
	// seeding to the first facility that asks.
	Seed *int64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	StartTime int `yaml:"start_time,omitempty" json:"start_time,omitempty"`
}

// FieldError is a structural problem at a position in the config file.
type FieldError struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *FieldError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationError collects every structural problem found in one file.
type ValidationError struct {
	Errors []*FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "\n")
}

// IsValidationError reports whether err came from schema validation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Load reads, validates and decodes the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates and decodes a configuration document. filename is used
// in error positions only.
func Parse(filename string, data []byte) (*Config, error) {
	if err := Validate(filename, data); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	return &cfg, nil
}

// Validate checks data against the embedded schema.
func Validate(filename string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return &ValidationError{Errors: []*FieldError{{Path: "yaml", Message: err.Error()}}}
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fieldErrors(err, filename)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fieldErrors(err, filename)
	}
	return nil
}

// fieldErrors converts CUE errors, preferring positions inside the config
// file over positions inside the schema.
func fieldErrors(err error, filename string) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Errors: []*FieldError{{Path: "config", Message: err.Error()}}}
	}

	out := make([]*FieldError, 0, len(errs))
	for _, e := range errs {
		path := e.Path()
		if len(path) > 0 && path[0] == "#Config" {
			path = path[1:]
		}
		fe := &FieldError{Path: strings.Join(path, "."), Message: e.Error()}
		if fe.Path == "" {
			fe.Path = "config"
		}
		for _, p := range cueerrors.Positions(e) {
			if !fe.Pos.IsValid() || p.Filename() == filename {
				fe.Pos = p
			}
			if p.Filename() == filename {
				break
			}
		}
		out = append(out, fe)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return &ValidationError{Errors: out}
}

// Compositions parses every recipe into a composition.
func (c *Config) Compositions() (map[string]material.Composition, error) {
	out := make(map[string]material.Composition, len(c.Recipes))
	for name, raw := range c.Recipes {
		comp, err := material.ParseComposition(raw)
		if err != nil {
			return nil, &facility.Error{
				Code:    facility.ErrCodeInvalidConfig,
				Message: fmt.Sprintf("recipe %q: %v", name, err),
				Err:     err,
			}
		}
		if comp.Total() <= 0 {
			return nil, &facility.Error{
				Code:    facility.ErrCodeInvalidConfig,
				Message: fmt.Sprintf("recipe %q is empty", name),
			}
		}
		out[name] = comp
	}
	return out, nil
}

// Hash identifies the configuration content. Two configs that decode to
// the same values hash the same regardless of key order or formatting.
func (c *Config) Hash() (string, error) {
	return canon.ConfigHash(c)
}
