// config.go: Run configuration - file, environment, defaults
//
// Configuration merges three sources, lowest precedence first: built-in
// defaults, an optional YAML file, and CHARYBDIS_* environment variables.
// The merged result is validated once before a run starts.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// Config holds everything a fuzz run needs beyond the target itself.
type Config struct {
	// Bus selects the bus to connect to: "session" or "system".
	Bus string `yaml:"bus" json:"bus"`

	// MemoryLimitKB is the explicit resident-memory limit for the target;
	// 0 derives the limit from the pre-run baseline.
	MemoryLimitKB int64 `yaml:"memory_limit_kb" json:"memory_limit_kb"`

	// Value generation bounds, see GeneratorConfig.
	MaxStringLength    int `yaml:"max_string_length" json:"max_string_length"`
	StringIncrementCap int `yaml:"string_increment_cap" json:"string_increment_cap"`
	MaxArrayElements   int `yaml:"max_array_elements" json:"max_array_elements"`

	// CallTimeout bounds each synchronous call; an expired timeout is
	// treated as a target disconnect.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`

	// MaxIterations bounds each member's fuzz loop; 0 runs until the
	// target disconnects or the run is cancelled.
	MaxIterations uint64 `yaml:"max_iterations" json:"max_iterations"`

	// LogFile receives the textual run log; empty writes to stdout.
	LogFile string `yaml:"log_file" json:"log_file"`

	// SuppressionFile overrides the standard suppression file search.
	SuppressionFile string `yaml:"suppression_file" json:"suppression_file"`

	// FuzzProperties additionally fuzzes writable properties through
	// org.freedesktop.DBus.Properties.Set.
	FuzzProperties bool `yaml:"fuzz_properties" json:"fuzz_properties"`

	Audit AuditConfig `yaml:"audit" json:"audit"`
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() Config {
	gen := DefaultGeneratorConfig()
	return Config{
		Bus:                "session",
		MaxStringLength:    gen.MaxStringLength,
		StringIncrementCap: gen.StringIncrementCap,
		MaxArrayElements:   gen.MaxArrayElements,
		CallTimeout:        20 * time.Second,
		Audit:              DefaultAuditConfig(),
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Bus == "" {
		c.Bus = def.Bus
	}
	if c.MaxStringLength <= 0 {
		c.MaxStringLength = def.MaxStringLength
	}
	if c.StringIncrementCap <= 0 {
		c.StringIncrementCap = def.StringIncrementCap
	}
	if c.MaxArrayElements <= 0 {
		c.MaxArrayElements = def.MaxArrayElements
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = def.Audit.BufferSize
	}
	if c.Audit.FlushInterval <= 0 {
		c.Audit.FlushInterval = def.Audit.FlushInterval
	}
	return c
}

// Validate rejects configurations a run could not honor.
func (c Config) Validate() error {
	if c.Bus != "session" && c.Bus != "system" {
		return errors.New(ErrCodeInvalidConfig,
			fmt.Sprintf("bus must be session or system, got %q", c.Bus))
	}
	if c.MemoryLimitKB < 0 {
		return errors.New(ErrCodeInvalidConfig, "memory limit cannot be negative")
	}
	if c.MaxStringLength <= 0 {
		return errors.New(ErrCodeInvalidConfig, "max string length must be positive")
	}
	if c.StringIncrementCap <= 0 {
		return errors.New(ErrCodeInvalidConfig, "string increment cap must be positive")
	}
	if c.StringIncrementCap > c.MaxStringLength {
		return errors.New(ErrCodeInvalidConfig, "string increment cap exceeds max string length")
	}
	if c.MaxArrayElements <= 0 {
		return errors.New(ErrCodeInvalidConfig, "max array elements must be positive")
	}
	if c.CallTimeout <= 0 {
		return errors.New(ErrCodeInvalidConfig, "call timeout must be positive")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New(ErrCodeInvalidAuditConfig, "audit buffer size must be positive")
	}
	return nil
}

// GeneratorConfig extracts the value-generation bounds.
func (c Config) GeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxStringLength:    c.MaxStringLength,
		StringIncrementCap: c.StringIncrementCap,
		MaxArrayElements:   c.MaxArrayElements,
	}
}

// LoadConfigFile reads a YAML configuration file on top of the defaults.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, ErrCodeInvalidConfig, "reading config file")
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, ErrCodeInvalidConfig, "parsing config file")
	}
	return cfg.WithDefaults(), nil
}

// LoadConfigFromEnv applies CHARYBDIS_* environment overrides on top of c.
// Malformed values are ignored in favor of the existing setting, matching
// the usual twelve-factor tolerance for partial environments.
func LoadConfigFromEnv(c Config) Config {
	if v := os.Getenv("CHARYBDIS_BUS"); v != "" {
		c.Bus = v
	}
	if v := os.Getenv("CHARYBDIS_MEMORY_LIMIT_KB"); v != "" {
		if kb, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MemoryLimitKB = kb
		}
	}
	if v := os.Getenv("CHARYBDIS_MAX_STRING_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxStringLength = n
		}
	}
	if v := os.Getenv("CHARYBDIS_STRING_INCREMENT_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StringIncrementCap = n
		}
	}
	if v := os.Getenv("CHARYBDIS_MAX_ARRAY_ELEMENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxArrayElements = n
		}
	}
	if v := os.Getenv("CHARYBDIS_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.CallTimeout = d
		}
	}
	if v := os.Getenv("CHARYBDIS_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.MaxIterations = n
		}
	}
	if v := os.Getenv("CHARYBDIS_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("CHARYBDIS_SUPPRESSION_FILE"); v != "" {
		c.SuppressionFile = v
	}
	if v := os.Getenv("CHARYBDIS_FUZZ_PROPERTIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.FuzzProperties = b
		}
	}
	if v := os.Getenv("CHARYBDIS_AUDIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Audit.Enabled = b
		}
	}
	if v := os.Getenv("CHARYBDIS_AUDIT_OUTPUT_FILE"); v != "" {
		c.Audit.OutputFile = v
	}
	return c
}

// LoadConfig builds the effective configuration: defaults, then the
// optional YAML file, then environment overrides, validated last.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	cfg = LoadConfigFromEnv(cfg).WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
