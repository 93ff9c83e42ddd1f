// Emulator configuration, populated once at startup and validated eagerly.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Hard safety limits. The device cap can be overridden with --force,
// the duration cap cannot.
const (
	DefaultMaxDevices  = 500
	MaxDurationMinutes = 1440
	MaxBatchSize       = 50
)

var (
	ErrMissingSecret = errors.New("manufacturer secret is not configured")
	ErrDeviceCap     = errors.New("device count exceeds the per-instance cap")
	ErrDurationCap   = errors.New("duration exceeds the hard cap of 24 hours")
)

// Config holds every knob of one emulator run.
type Config struct {
	Domain       string
	APIBaseURL   string
	MQTTHost     string
	MQTTPort     int
	CACertPath   string
	Manufacturer string
	Secret       string

	Devices         int
	DurationMinutes int
	Protocol        string // "mqtt" or "http"
	BatchSize       int    // 0 disables batching
	RegistrationRPS float64
	Seed            int64

	Unsafe bool
	Force  bool
	DryRun bool
	TUI    bool

	ConfigDir string // credential artifacts
	LogFile   string // JSONL export of transmitted envelopes
	SitesPath string
	CuePath   string

	MaxDevices int
}

// New returns a Config with the documented defaults applied.
func New() Config {
	return Config{
		Domain:          "dg-dev.hikeandfly.app",
		MQTTPort:        8883,
		Manufacturer:    "DIGIFLY",
		Devices:         10,
		DurationMinutes: 60,
		Protocol:        "mqtt",
		RegistrationRPS: 10,
		ConfigDir:       ".",
		CACertPath:      "./ca.crt",
		MaxDevices:      DefaultMaxDevices,
	}
}

// ApplyEnv overlays PARAGLIDER_* and legacy environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PARAGLIDER_DOMAIN"); v != "" {
		c.Domain = v
	}
	if v := os.Getenv("MAX_DEVICES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxDevices = n
		}
	}
	if v := os.Getenv("API_RATE_LIMIT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			c.RegistrationRPS = n
		}
	}
	if c.Secret == "" {
		c.Secret = os.Getenv("MANUFACTURER_SECRET_" + c.Manufacturer)
	}
	if c.Secret == "" {
		c.Secret = os.Getenv("PARAGLIDER_MANUFACTURER_SECRET")
	}
}

// Finalize derives endpoint URLs from the domain.
func (c *Config) Finalize() {
	c.APIBaseURL = fmt.Sprintf("https://%s/api/v1", c.Domain)
	if c.MQTTHost == "" {
		c.MQTTHost = c.Domain
	}
}

// Validate rejects misconfiguration before any device starts. A failure
// here is fatal for the whole run.
func (c *Config) Validate() error {
	if c.Devices < 1 {
		return fmt.Errorf("device count must be at least 1, got %d", c.Devices)
	}
	if c.Devices >= c.MaxDevices && !c.Force {
		return fmt.Errorf("%w: %d >= %d (use --force to override)", ErrDeviceCap, c.Devices, c.MaxDevices)
	}
	if c.DurationMinutes < 1 || c.DurationMinutes > MaxDurationMinutes {
		return fmt.Errorf("%w: %d minutes", ErrDurationCap, c.DurationMinutes)
	}
	if c.Protocol != "mqtt" && c.Protocol != "http" {
		return fmt.Errorf("unknown protocol %q, want mqtt or http", c.Protocol)
	}
	if c.BatchSize < 0 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch size must be between 0 and %d, got %d", MaxBatchSize, c.BatchSize)
	}
	if !c.DryRun && c.Secret == "" {
		return ErrMissingSecret
	}
	return nil
}
