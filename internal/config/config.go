// Package config loads scanner settings from YAML and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jenojiji/pion-examples/qrscan/internal/capture"
)

type Scan struct {
	Interval               time.Duration `yaml:"interval"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	TryHarder              bool          `yaml:"try_harder"`
}

type Preview struct {
	Listen  string `yaml:"listen"`
	BitRate int    `yaml:"bit_rate"`
}

type Config struct {
	LogLevel string `yaml:"log_level"`
	// NegotiateTimeout bounds camera acquisition. Zero waits forever.
	NegotiateTimeout time.Duration                 `yaml:"negotiate_timeout"`
	Devices          map[capture.FacingMode]string `yaml:"devices"`
	Profiles         []capture.Profile             `yaml:"profiles"`
	Scan             Scan                          `yaml:"scan"`
	Preview          Preview                       `yaml:"preview"`
}

// DefaultProfiles are tried when the config names none: a demanding
// rear-camera profile first, then a modest 720p fallback.
func DefaultProfiles() []capture.Profile {
	return []capture.Profile{
		{
			Name:        "high-res",
			Facing:      capture.FacingEnvironment,
			FacingExact: true,
			Width:       capture.IntRange{Min: 1024, Ideal: 4096, Max: 4096},
			Height:      capture.IntRange{Min: 540, Ideal: 2160, Max: 2160},
			FrameRate:   capture.FloatRange{Ideal: 60, Max: 60},
		},
		{
			Name:   "low-res",
			Facing: capture.FacingEnvironment,
			Width:  capture.IntRange{Ideal: 1280},
			Height: capture.IntRange{Ideal: 720},
		},
	}
}

func Default() Config {
	return Config{
		LogLevel: "info",
		Profiles: DefaultProfiles(),
		Scan: Scan{
			Interval:               100 * time.Millisecond,
			MaxConsecutiveFailures: 50,
		},
		Preview: Preview{
			Listen:  ":9091",
			BitRate: 500_000,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies QRSCAN_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the config path comes from the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return decode(data, cfg)
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	if v, ok := lookup("QRSCAN_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup("QRSCAN_PREVIEW_LISTEN"); ok {
		cfg.Preview.Listen = v
	}
	durations := map[string]*time.Duration{
		"QRSCAN_SCAN_INTERVAL":     &cfg.Scan.Interval,
		"QRSCAN_NEGOTIATE_TIMEOUT": &cfg.NegotiateTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	if v, ok := lookup("QRSCAN_SCAN_MAX_FAILURES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QRSCAN_SCAN_MAX_FAILURES: %w", err)
		}
		cfg.Scan.MaxConsecutiveFailures = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Profiles) == 0 {
		errs = append(errs, capture.ErrNoProfiles)
	}
	seen := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("profile %q: duplicate name", p.Name))
		}
		seen[p.Name] = true
	}
	if c.Scan.Interval <= 0 {
		errs = append(errs, fmt.Errorf("scan.interval must be positive, got %s", c.Scan.Interval))
	}
	if c.Scan.MaxConsecutiveFailures < 0 {
		errs = append(errs, fmt.Errorf("scan.max_consecutive_failures must not be negative"))
	}
	if c.NegotiateTimeout < 0 {
		errs = append(errs, fmt.Errorf("negotiate_timeout must not be negative"))
	}
	for facing := range c.Devices {
		if facing != capture.FacingUser && facing != capture.FacingEnvironment {
			errs = append(errs, fmt.Errorf("devices: unknown facing mode %q", facing))
		}
	}
	return errors.Join(errs...)
}
