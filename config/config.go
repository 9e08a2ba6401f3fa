// Package config defines the recognized option set of a runtime and loads
// it from YAML or JSON files with environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/eurc17/zenoh/internal/core"
)

// Config is the recognized option set.
type Config struct {
	// Mode is one of "peer", "client", "router".
	Mode string `yaml:"mode" json:"mode"`
	// Peers are locator strings this runtime connects to on open.
	Peers []string `yaml:"peers" json:"peers"`
	// Listeners are locator strings this runtime accepts sessions on.
	Listeners []string `yaml:"listeners" json:"listeners"`
	// Lease is the keep-alive lease in milliseconds.
	Lease uint64 `yaml:"lease" json:"lease"`
	// CongestionControlDefault is "block" or "drop", case-insensitive.
	CongestionControlDefault string `yaml:"congestion_control_default" json:"congestion_control_default"`
	// ScoutingAddress overrides the multicast scouting group.
	ScoutingAddress string `yaml:"scouting_address" json:"scouting_address"`
	// ScoutingEnabled controls whether the runtime answers scouts.
	ScoutingEnabled bool `yaml:"scouting_enabled" json:"scouting_enabled"`
}

// DefaultLeaseMs is the vendor default lease.
const DefaultLeaseMs = 10000

// Default returns the peer-mode defaults.
func Default() *Config {
	return &Config{
		Mode:                     "peer",
		Lease:                    DefaultLeaseMs,
		CongestionControlDefault: "drop",
		ScoutingEnabled:          true,
	}
}

// Client returns a client-mode config connecting to the given routers.
func Client(peers []string) *Config {
	c := Default()
	c.Mode = "client"
	c.Peers = peers
	return c
}

// Load reads a config file, .yaml/.yml or .json by extension, on top of the
// defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	c := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := jsoniter.Unmarshal(raw, c); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	default:
		return nil, errors.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv folds environment overrides into the config. A .env file in the
// working directory is honoured when present; explicit process environment
// wins over it.
func (c *Config) ApplyEnv() error {
	_ = godotenv.Load() // missing .env is not an error
	if v := os.Getenv("ZENOH_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("ZENOH_PEERS"); v != "" {
		c.Peers = splitList(v)
	}
	if v := os.Getenv("ZENOH_LISTENERS"); v != "" {
		c.Listeners = splitList(v)
	}
	if v := os.Getenv("ZENOH_LEASE"); v != "" {
		lease, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, "ZENOH_LEASE")
		}
		c.Lease = lease
	}
	if v := os.Getenv("ZENOH_CONGESTION_CONTROL"); v != "" {
		c.CongestionControlDefault = v
	}
	return c.Validate()
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks every recognized option.
func (c *Config) Validate() error {
	if _, err := c.WhatAmI(); err != nil {
		return err
	}
	if _, err := c.CongestionControl(); err != nil {
		return err
	}
	return nil
}

// WhatAmI maps the mode string onto the role mask.
func (c *Config) WhatAmI() (core.WhatAmI, error) {
	if c.Mode == "" {
		return core.Peer, nil
	}
	return core.ParseWhatAmI(c.Mode)
}

// CongestionControl parses the process-wide publication default.
func (c *Config) CongestionControl() (core.CongestionControl, error) {
	if c.CongestionControlDefault == "" {
		return core.Drop, nil
	}
	return core.ParseCongestionControl(c.CongestionControlDefault)
}

// LeaseDuration returns the lease as a duration.
func (c *Config) LeaseDuration() time.Duration {
	if c.Lease == 0 {
		return DefaultLeaseMs * time.Millisecond
	}
	return time.Duration(c.Lease) * time.Millisecond
}
