// Package config holds the settings shared by the smalien commands. Values
// come from a YAML file, then SMALIEN_* environment variables, then flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"smalien/internal/taint"
)

// Config represents configuration for the smalien tool
type Config struct {
	Debug            bool   `json:"debug" yaml:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	DataDir          string `json:"dataDir" yaml:"dataDir" jsonschema:"title=Data Directory,description=Directory of the results database"`
	OutputDir        string `json:"outputDir" yaml:"outputDir" jsonschema:"title=Output Directory,description=Directory receiving flow_details.log and reports"`
	Definitions      string `json:"definitions,omitempty" yaml:"definitions" jsonschema:"title=Taint Definitions,description=YAML file of sources and sinks; built-in lists when empty"`
	Strict           bool   `json:"strict" yaml:"strict" jsonschema:"title=Strict,description=Abort on the first trace inconsistency"`
	StepBudget       int    `json:"stepBudget,omitempty" yaml:"stepBudget" jsonschema:"title=Step Budget,description=Maximum steps replayed per directive,minimum=0"`
	TriggerCallbacks bool   `json:"triggerCallbacks" yaml:"triggerCallbacks" jsonschema:"title=Trigger Callbacks,description=Run onLowMemory() of live objects after the trace"`
	ProfilePath      string `json:"profilePath,omitempty" yaml:"profilePath" jsonschema:"title=Profile Path,description=Path for CPU profile output"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DataDir:   filepath.Join(".smalien", "results"),
		OutputDir: ".",
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.StepBudget < 0 {
		return nil, errors.New("config: stepBudget must not be negative")
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SMALIEN_DATA_DIR":    &c.DataDir,
		"SMALIEN_OUTPUT_DIR":  &c.OutputDir,
		"SMALIEN_DEFINITIONS": &c.Definitions,
		"SMALIEN_CPUPROFILE":  &c.ProfilePath,
	}
	for k, p := range strs {
		if v, ok := lookup(k); ok {
			*p = v
		}
	}
	bools := map[string]*bool{
		"SMALIEN_DEBUG":             &c.Debug,
		"SMALIEN_STRICT":            &c.Strict,
		"SMALIEN_TRIGGER_CALLBACKS": &c.TriggerCallbacks,
	}
	for k, p := range bools {
		v, ok := lookup(k)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", k, err)
		}
		*p = b
	}
	if v, ok := lookup("SMALIEN_STEP_BUDGET"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SMALIEN_STEP_BUDGET: %w", err)
		}
		c.StepBudget = n
	}
	return nil
}

// TaintDefinitions loads the configured definitions, or the built-in ones.
func (c *Config) TaintDefinitions() (*taint.Definitions, error) {
	if c.Definitions == "" {
		return taint.DefaultDefinitions(), nil
	}
	return taint.LoadDefinitions(c.Definitions)
}

// Schema returns the JSON schema of v, indented.
func Schema(v any) ([]byte, error) {
	reflector := new(jsonschema.Reflector)
	bts, err := json.MarshalIndent(reflector.Reflect(v), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return bts, nil
}
