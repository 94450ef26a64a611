// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package config loads the bridge configuration: a YAML file with
// ${VAR} expansion plus credentials taken from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skyfleet/latticebridge/structs"
)

const (
	// Credential environment variables. These are never read from the
	// YAML file so configs stay safe to commit.
	envEnvironmentToken = "ENVIRONMENT_TOKEN"
	envSandboxToken     = "SANDBOXES_TOKEN"

	defaultLogLevel            = "INFO"
	defaultHealthCheckInterval = 10 * time.Second
	defaultIntegrationName     = "latticebridge"
)

// Config is the root bridge configuration.
type Config struct {
	// LogLevel is one of TRACE, DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level"`

	// Mock runs the bridge against simulated vehicles; no MAVLink
	// endpoints are opened.
	Mock bool `yaml:"mock"`

	HealthCheckIntervalS float64 `yaml:"health_check_interval_s"`

	// Publish cadences; zero keeps the publisher defaults.
	PositionIntervalS float64 `yaml:"position_interval_s"`
	EntityIntervalS   float64 `yaml:"entity_interval_s"`

	Lattice LatticeConfig          `yaml:"lattice"`
	Drones  []*structs.DroneConfig `yaml:"drones"`
}

// LatticeConfig is the C2 endpoint configuration. The tokens are
// resolved from the environment at load time.
type LatticeConfig struct {
	URL             string `yaml:"url"`
	IntegrationName string `yaml:"integration_name"`

	// PublishInfoIntervalS rate limits publish-success INFO logs; zero
	// keeps the client default.
	PublishInfoIntervalS float64 `yaml:"publish_info_interval_s"`

	EnvironmentToken string `yaml:"-"`
	SandboxToken     string `yaml:"-"`
}

// PublishInfoInterval returns the publish INFO rate limit as a
// duration, zero when unset.
func (c *LatticeConfig) PublishInfoInterval() time.Duration {
	return time.Duration(c.PublishInfoIntervalS * float64(time.Second))
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		LogLevel:             defaultLogLevel,
		HealthCheckIntervalS: defaultHealthCheckInterval.Seconds(),
		Lattice: LatticeConfig{
			IntegrationName: defaultIntegrationName,
		},
	}
}

// Load reads the YAML file at path, expands ${VAR} references from
// the environment, and resolves credentials. A .env file in the
// working directory seeds the environment when present.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	expanded := os.Expand(string(raw), func(key string) string {
		return os.Getenv(key)
	})

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Lattice.EnvironmentToken = os.Getenv(envEnvironmentToken)
	cfg.Lattice.SandboxToken = os.Getenv(envSandboxToken)
	if cfg.Lattice.IntegrationName == "" {
		cfg.Lattice.IntegrationName = defaultIntegrationName
	}
	if cfg.HealthCheckIntervalS <= 0 {
		cfg.HealthCheckIntervalS = defaultHealthCheckInterval.Seconds()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HealthCheckInterval returns the supervisor health cadence.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalS * float64(time.Second))
}

// PositionInterval returns the fast position publish cadence, zero
// when unset.
func (c *Config) PositionInterval() time.Duration {
	return time.Duration(c.PositionIntervalS * float64(time.Second))
}

// EntityInterval returns the full entity publish cadence, zero when
// unset.
func (c *Config) EntityInterval() time.Duration {
	return time.Duration(c.EntityIntervalS * float64(time.Second))
}

// Validate accumulates every configuration problem instead of
// stopping at the first.
func (c *Config) Validate() error {
	var mErr *multierror.Error

	switch c.LogLevel {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
	default:
		mErr = multierror.Append(mErr, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}

	if c.Lattice.URL == "" {
		mErr = multierror.Append(mErr, fmt.Errorf("lattice.url is required"))
	}

	if len(c.Drones) == 0 && !c.Mock {
		mErr = multierror.Append(mErr, fmt.Errorf("at least one drone must be configured"))
	}

	seen := make(map[string]bool, len(c.Drones))
	for i, d := range c.Drones {
		if err := d.Validate(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("drone %d: %w", i, err))
			continue
		}
		if seen[d.ID] {
			mErr = multierror.Append(mErr, fmt.Errorf("duplicate drone id %q", d.ID))
		}
		seen[d.ID] = true
	}

	return mErr.ErrorOrNil()
}
