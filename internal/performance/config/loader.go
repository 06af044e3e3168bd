package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "config.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("invalid config schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Default values applied by ApplyDefaults.
const (
	DefaultTimeout  = 60 * time.Second
	DefaultTimeUnit = time.Second
)

// LoadConfig loads a run configuration from a file and applies defaults.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON, checked against the embedded schema first
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path. JSON is the
// default for an empty or unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := ValidateSchema(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	return &config, nil
}

// ValidateSchema checks a JSON document against the config schema. Schema
// violations are returned as *ValidationErrors, one per failing location.
func ValidateSchema(data []byte) error {
	schema, err := configSchema()
	if err != nil {
		return err
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse JSON config: %w", err)
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	errs := &ValidationErrors{}
	collectSchemaErrors(verr, errs)
	if !errs.HasErrors() {
		errs.Add(verr.InstanceLocation, verr.Message)
	}
	return errs
}

// collectSchemaErrors flattens the cause tree into its leaves.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := strings.TrimPrefix(strings.ReplaceAll(err.InstanceLocation, "/", "."), ".")
		if field == "" {
			field = "(root)"
		}
		errs.Add(field, err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// ApplyDefaults fills unset settings and scenario fields.
func (c *TestConfig) ApplyDefaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.Settings.Timeout == 0 {
		c.Settings.Timeout = Duration(DefaultTimeout)
	}

	for _, scenarios := range []map[string]*ScenarioConfig{c.Scenarios, c.AuthScenarios} {
		for _, sc := range scenarios {
			if sc != nil {
				sc.ApplyDefaults()
			}
		}
	}
}

// ApplyDefaults fills unset fields of an arrival-rate scenario.
func (sc *ScenarioConfig) ApplyDefaults() {
	switch sc.Executor {
	case "constant-arrival-rate", "ramping-arrival-rate":
		if sc.TimeUnit == 0 {
			sc.TimeUnit = Duration(DefaultTimeUnit)
		}
		if sc.DropPolicy == "" {
			sc.DropPolicy = "drop"
		}
	}
}
