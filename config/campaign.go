package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBackend = "honggfuzz"
	DefaultTimeout = 10 * time.Second
)

// CampaignConfig describes one invocation of the continuous run loop.
// It is built once from caller input and never modified afterwards.
type CampaignConfig struct {
	Filter    string        // only run targets whose name contains Filter
	Timeout   time.Duration // per target session length, 0 means no limit
	Infinite  bool          // repeat cycles until interrupted
	Backend   string        // fuzzing engine name or alias
	Update    bool          // run `cargo update` between cycles
	MaxCycles int           // stop an infinite campaign after this many cycles, 0 means never
}

// campaign file layout, e.g.
//
//	fuzzer: afl
//	filter: wasmi
//	timeout: 10m
//	infinite: true
//	cargo_update: true
type campaignFile struct {
	Filter    *string `yaml:"filter"`
	Timeout   *string `yaml:"timeout"`
	Infinite  *bool   `yaml:"infinite"`
	Backend   *string `yaml:"fuzzer"`
	Update    *bool   `yaml:"cargo_update"`
	MaxCycles *int    `yaml:"max_cycles"`
}

// DefaultCampaignConfig returns the defaults, optionally tuned through WARF_TIMEOUT and WARF_MAX_CYCLES.
func DefaultCampaignConfig() CampaignConfig {
	return CampaignConfig{
		Timeout:   parseDuration(os.Getenv("WARF_TIMEOUT"), DefaultTimeout),
		Backend:   DefaultBackend,
		MaxCycles: parseInt(os.Getenv("WARF_MAX_CYCLES"), 0),
	}
}

// LoadCampaignFile reads a YAML campaign file on top of base. Keys missing from the file keep the base value.
func LoadCampaignFile(path string, base CampaignConfig) (CampaignConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("unable to read campaign file %s: %w", path, err)
	}

	var file campaignFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return base, fmt.Errorf("unable to parse campaign file %s: %w", path, err)
	}

	cfg := base
	if file.Filter != nil {
		cfg.Filter = *file.Filter
	}
	if file.Timeout != nil {
		timeout, err := ParseTimeout(*file.Timeout)
		if err != nil {
			return base, fmt.Errorf("invalid timeout in %s: %w", path, err)
		}
		cfg.Timeout = timeout
	}
	if file.Infinite != nil {
		cfg.Infinite = *file.Infinite
	}
	if file.Backend != nil {
		cfg.Backend = *file.Backend
	}
	if file.Update != nil {
		cfg.Update = *file.Update
	}
	if file.MaxCycles != nil {
		cfg.MaxCycles = *file.MaxCycles
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c CampaignConfig) Validate() error {
	var err error
	if c.Backend == "" {
		err = multierr.Append(err, errors.New("no fuzzer selected"))
	}
	if c.Timeout < 0 {
		err = multierr.Append(err, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if c.MaxCycles < 0 {
		err = multierr.Append(err, fmt.Errorf("max cycles must not be negative, got %d", c.MaxCycles))
	}
	return err
}

// ParseTimeout accepts either a plain number of seconds ("10") or a Go duration ("10m").
func ParseTimeout(val string) (time.Duration, error) {
	if secs, err := strconv.Atoi(val); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative timeout %q", val)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", val, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %q", val)
	}
	return d, nil
}
