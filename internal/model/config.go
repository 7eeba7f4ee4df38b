package model

import (
	"fmt"
	"io"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	EngineExec = "exec"
	EngineNoop = "noop"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version int      `json:"version" yaml:"version"` // fixed 0 for now
	Pool    Pool     `json:"pool" yaml:"pool"`
	Timeout Timeout  `json:"timeout" yaml:"timeout"`
	Reaper  Reaper   `json:"reaper" yaml:"reaper"`
	Engine  Engine   `json:"engine" yaml:"engine"`
	Results *Results `json:"results,omitempty" yaml:"results,omitempty"`
	Service Service  `json:"service" yaml:"service"`
}

// Pool describes how minions are launched and how many run at once.
type Pool struct {
	Size       int               `json:"size" yaml:"size"`
	Executable *string           `json:"executable,omitempty" yaml:"executable,omitempty"` // nil => this binary
	Args       []string          `json:"args,omitempty" yaml:"args,omitempty"`             // inherited launch flags
	Dir        *string           `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	SearchPath []string          `json:"search_path,omitempty" yaml:"search_path,omitempty"`
	InheritEnv bool              `json:"inherit_env" yaml:"inherit_env"`
}

// Timeout is the per test allowance: normal duration * percent / 100 + constant.
type Timeout struct {
	Percent  int    `json:"percent" yaml:"percent"`
	Constant string `json:"constant" yaml:"constant"`
}

type Reaper struct {
	Interval string `json:"interval" yaml:"interval"`
}

type Engine struct {
	ID       string            `json:"id" yaml:"id"`
	Settings map[string]string `json:"settings" yaml:"settings"`
}

type Results struct {
	Dir      *string `json:"dir,omitempty" yaml:"dir,omitempty"`           // NDJSON output directory
	Database *string `json:"database,omitempty" yaml:"database,omitempty"` // sqlite history
}

type Service struct {
	Verbose *bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("mutiny.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	if _, err := out.Timeout.ConstantDuration(); err != nil {
		return Config{}, fmt.Errorf("timeout.constant: %w", err)
	}
	if _, err := out.Reaper.IntervalDuration(); err != nil {
		return Config{}, fmt.Errorf("reaper.interval: %w", err)
	}
	return out, nil
}

// DefaultConfig returns a configuration with every schema default applied.
func DefaultConfig() Config {
	cfg, err := LoadConfig(strings.NewReader("version: 0\n"))
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

func (t Timeout) ConstantDuration() (time.Duration, error) {
	return ParseISODuration(t.Constant)
}

func (r Reaper) IntervalDuration() (time.Duration, error) {
	d, err := ParseISODuration(r.Interval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", d)
	}
	return d, nil
}

// SharedConfig is the part of the configuration every minion needs.
func (c Config) SharedConfig() SharedConfig {
	settings := make(map[string]string, len(c.Engine.Settings))
	for k, v := range c.Engine.Settings {
		settings[k] = v
	}
	return SharedConfig{
		EngineID: c.Engine.ID,
		Settings: settings,
	}
}

func (c Config) Verbose() bool {
	return c.Service.Verbose != nil && *c.Service.Verbose
}
