package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvSeed     = "SEPFLOW_SEED"
	EnvLogLevel = "SEPFLOW_LOG_LEVEL"
	EnvDB       = "SEPFLOW_DB"
)

// Env holds overrides taken from the environment.
type Env struct {
	Seed     *int64
	LogLevel string
	DB       string
}

// LoadEnv reads overrides from the process environment, falling back to
// the given dotenv files (".env" when none are named). Missing files are
// ignored. The process environment is never modified.
func LoadEnv(files ...string) (Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	dotenv := map[string]string{}
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Env{}, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := dotenv[k]; !ok {
				dotenv[k] = v
			}
		}
	}

	get := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	env := Env{LogLevel: get(EnvLogLevel), DB: get(EnvDB)}
	if s := get(EnvSeed); s != "" {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Env{}, fmt.Errorf("%s: %w", EnvSeed, err)
		}
		env.Seed = &seed
	}
	return env, nil
}

// ApplyEnv overrides file settings with environment settings.
func (c *Config) ApplyEnv(env Env) {
	if env.Seed != nil {
		seed := *env.Seed
		c.Simulation.Seed = &seed
	}
}
