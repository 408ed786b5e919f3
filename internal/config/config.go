// Package config loads the brain configuration from a YAML file with
// environment overrides for the connection settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"scanbrain/internal/model"
)

var (
	ErrUnknownKind = errors.New("unknown instance kind")
	ErrInvalid     = errors.New("invalid config")
)

// Config is the whole process configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	// SQLitePath selects the single-file store when DatabaseURL is empty.
	SQLitePath     string        `yaml:"sqlite_path"`
	RedisURL       string        `yaml:"redis_url"`
	LogLevel       string        `yaml:"log_level"`
	Timezone       string        `yaml:"timezone"`
	StorageTimeout time.Duration `yaml:"storage_timeout"`
	// PollRate and PollBurst bound how often one device may poll.
	PollRate  float64 `yaml:"poll_rate"`
	PollBurst int     `yaml:"poll_burst"`

	Instances []model.InstanceConfig `yaml:"instances"`
	Devices   []Device               `yaml:"devices"`
}

// Device assigns a device uuid to an instance at startup.
type Device struct {
	UUID     string `yaml:"uuid"`
	Instance string `yaml:"instance"`
}

// Default returns the configuration used for fields the file leaves empty.
func Default() *Config {
	return &Config{
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		Timezone:       "UTC",
		StorageTimeout: 5 * time.Second,
		PollRate:       5,
		PollBurst:      10,
	}
}

// Load reads path, applies the process environment and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides connection settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("DATABASE_URL"); ok && strings.TrimSpace(v) != "" {
		c.DatabaseURL = v
	}
	if v, ok := lookup("SQLITE_PATH"); ok && strings.TrimSpace(v) != "" {
		c.SQLitePath = v
	}
	if v, ok := lookup("REDIS_URL"); ok && strings.TrimSpace(v) != "" {
		c.RedisURL = v
	}
	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		c.HTTPAddr = ":" + strings.TrimSpace(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && strings.TrimSpace(v) != "" {
		c.LogLevel = v
	}
}

// Validate normalises instance kinds and modes and checks references.
// An empty area is allowed; such instances report it through their status.
func (c *Config) Validate() error {
	if c.StorageTimeout <= 0 {
		return fmt.Errorf("%w: storage_timeout must be positive", ErrInvalid)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	seen := make(map[string]bool, len(c.Instances))
	for i := range c.Instances {
		inst := &c.Instances[i]
		inst.Name = strings.TrimSpace(inst.Name)
		if inst.Name == "" {
			return fmt.Errorf("%w: instance %d has no name", ErrInvalid, i)
		}
		if seen[inst.Name] {
			return fmt.Errorf("%w: duplicate instance %q", ErrInvalid, inst.Name)
		}
		seen[inst.Name] = true
		kind, err := model.ParseKind(string(inst.Kind))
		if err != nil {
			return fmt.Errorf("instance %q: %w %q", inst.Name, ErrUnknownKind, inst.Kind)
		}
		inst.Kind = kind
		switch inst.RouteMode {
		case "", model.RouteLeapfrog, model.RouteSplit, model.RouteSmart:
		default:
			return fmt.Errorf("%w: instance %q: route_mode %q", ErrInvalid, inst.Name, inst.RouteMode)
		}
		switch inst.QuestMode {
		case "", model.QuestNormal, model.QuestAlternative, model.QuestBoth:
		default:
			return fmt.Errorf("%w: instance %q: quest_mode %q", ErrInvalid, inst.Name, inst.QuestMode)
		}
		if inst.MaxLevel > 0 && inst.MinLevel > inst.MaxLevel {
			return fmt.Errorf("%w: instance %q: min_level above max_level", ErrInvalid, inst.Name)
		}
		if inst.Timezone == "" {
			inst.Timezone = c.Timezone
		}
	}
	for _, inst := range c.Instances {
		if inst.NextInstance != "" && !seen[inst.NextInstance] {
			return fmt.Errorf("%w: instance %q: next_instance %q not configured", ErrInvalid, inst.Name, inst.NextInstance)
		}
	}
	for _, d := range c.Devices {
		if d.UUID == "" {
			return fmt.Errorf("%w: device without uuid", ErrInvalid)
		}
		if !seen[d.Instance] {
			return fmt.Errorf("%w: device %s: instance %q not configured", ErrInvalid, d.UUID, d.Instance)
		}
	}
	return nil
}

// DeviceMap returns the startup device assignment keyed by uuid.
func (c *Config) DeviceMap() map[string]string {
	out := make(map[string]string, len(c.Devices))
	for _, d := range c.Devices {
		out[d.UUID] = d.Instance
	}
	return out
}
