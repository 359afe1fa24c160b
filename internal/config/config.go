// Package config loads and persists the termwatch configuration.
// The config lives in <dir>/config.toml and covers every engine tunable:
// check intervals, circuit-breaker thresholds, cooldown windows, recovery
// policy, and the per-assistant provider priority lists.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the config file name inside the termwatch directory.
const FileName = "config.toml"

// Config is the root configuration object.
type Config struct {
	Daemon    DaemonConfig        `toml:"daemon"`
	Monitor   MonitorConfig       `toml:"monitor"`
	Health    HealthConfig        `toml:"health"`
	Cooldown  CooldownConfig      `toml:"cooldown"`
	Recovery  RecoveryConfig      `toml:"recovery"`
	Providers map[string][]string `toml:"providers"`
}

// DaemonConfig controls the background service.
type DaemonConfig struct {
	// TickMillis is the cadence of the monitor loop.
	TickMillis int `toml:"tick_millis"`

	// LogFile overrides the default log path (<dir>/daemon.log).
	LogFile string `toml:"log_file,omitempty"`
}

// MonitorConfig holds the adaptive check-interval staging.
type MonitorConfig struct {
	BurstSeconds   int `toml:"burst_seconds"`
	FastSeconds    int `toml:"fast_seconds"`
	MinSeconds     int `toml:"min_seconds"`
	DefaultSeconds int `toml:"default_seconds"`
	MaxMinutes     int `toml:"max_minutes"`
	BurstCount     int `toml:"burst_count"`

	// ClassifyGapMillis is the minimum spacing between external classifier
	// calls across all sessions.
	ClassifyGapMillis int `toml:"classify_gap_millis"`

	// TypingSuppressSeconds pauses automatic actions after a human keystroke.
	TypingSuppressSeconds int `toml:"typing_suppress_seconds"`

	// FingerprintWindow is how many trailing screen characters feed the
	// content fingerprint.
	FingerprintWindow int `toml:"fingerprint_window"`
}

// HealthConfig holds the circuit-breaker thresholds and recovery windows.
type HealthConfig struct {
	ErrorThreshold              int `toml:"error_threshold"`
	NetworkErrorThreshold       int `toml:"network_error_threshold"`
	RecoveryCheckMinutes        int `toml:"recovery_check_minutes"`
	NetworkRecoveryCheckMinutes int `toml:"network_recovery_check_minutes"`
}

// CooldownConfig holds the per-action-kind suppression windows.
type CooldownConfig struct {
	SelectSeconds    int `toml:"select_seconds"`
	DefaultSeconds   int `toml:"default_seconds"`
	RetentionMinutes int `toml:"retention_minutes"`
}

// RecoveryConfig holds the recovery state machine policy.
type RecoveryConfig struct {
	TimeoutSeconds         int  `toml:"timeout_seconds"`
	BaseCooldownMinutes    int  `toml:"base_cooldown_minutes"`
	ExtendedStepMinutes    int  `toml:"extended_step_minutes"`
	ExtendedCapMinutes     int  `toml:"extended_cap_minutes"`
	SettleSeconds          int  `toml:"settle_seconds"`
	ResetAttemptsAfterWait bool `toml:"reset_attempts_after_wait"`
}

// Default returns a Config populated with the stock tunables.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			TickMillis: 1000,
		},
		Monitor: MonitorConfig{
			BurstSeconds:          3,
			FastSeconds:           8,
			MinSeconds:            15,
			DefaultSeconds:        30,
			MaxMinutes:            30,
			BurstCount:            3,
			ClassifyGapMillis:     2000,
			TypingSuppressSeconds: 5,
			FingerprintWindow:     2000,
		},
		Health: HealthConfig{
			ErrorThreshold:              3,
			NetworkErrorThreshold:       2,
			RecoveryCheckMinutes:        5,
			NetworkRecoveryCheckMinutes: 2,
		},
		Cooldown: CooldownConfig{
			SelectSeconds:    3,
			DefaultSeconds:   30,
			RetentionMinutes: 60,
		},
		Recovery: RecoveryConfig{
			TimeoutSeconds:         120,
			BaseCooldownMinutes:    5,
			ExtendedStepMinutes:    30,
			ExtendedCapMinutes:     120,
			SettleSeconds:          3,
			ResetAttemptsAfterWait: true,
		},
		Providers: map[string][]string{},
	}
}

// Load reads the config file from dir, applying defaults for any missing
// fields. A missing file is not an error; the defaults are returned.
func Load(dir string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to dir atomically (temp file + rename).
func Save(dir string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	path := filepath.Join(dir, FileName)
	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

// Validate checks the invariants the engine depends on.
func (c *Config) Validate() error {
	m := c.Monitor
	if m.BurstSeconds <= 0 || m.FastSeconds <= 0 || m.MinSeconds <= 0 ||
		m.DefaultSeconds <= 0 || m.MaxMinutes <= 0 {
		return fmt.Errorf("monitor intervals must be positive")
	}
	if m.BurstCount < 0 {
		return fmt.Errorf("burst_count must be non-negative")
	}
	for assistant, chain := range c.Providers {
		seen := make(map[string]bool, len(chain))
		for _, p := range chain {
			if seen[p] {
				return fmt.Errorf("duplicate provider %q in priority list for %q", p, assistant)
			}
			seen[p] = true
		}
	}
	return nil
}

// Priority returns the provider priority list for an assistant type.
// Returns nil if none is configured.
func (c *Config) Priority(assistantType string) []string {
	return c.Providers[assistantType]
}

// Duration accessors. The TOML surface stores explicit-unit integers; the
// engine works in time.Duration.

func (d DaemonConfig) Tick() time.Duration { return time.Duration(d.TickMillis) * time.Millisecond }

func (m MonitorConfig) Burst() time.Duration   { return time.Duration(m.BurstSeconds) * time.Second }
func (m MonitorConfig) Fast() time.Duration    { return time.Duration(m.FastSeconds) * time.Second }
func (m MonitorConfig) Min() time.Duration     { return time.Duration(m.MinSeconds) * time.Second }
func (m MonitorConfig) Default() time.Duration { return time.Duration(m.DefaultSeconds) * time.Second }
func (m MonitorConfig) Max() time.Duration     { return time.Duration(m.MaxMinutes) * time.Minute }
func (m MonitorConfig) ClassifyGap() time.Duration {
	return time.Duration(m.ClassifyGapMillis) * time.Millisecond
}
func (m MonitorConfig) TypingSuppress() time.Duration {
	return time.Duration(m.TypingSuppressSeconds) * time.Second
}

func (h HealthConfig) RecoveryCheck() time.Duration {
	return time.Duration(h.RecoveryCheckMinutes) * time.Minute
}
func (h HealthConfig) NetworkRecoveryCheck() time.Duration {
	return time.Duration(h.NetworkRecoveryCheckMinutes) * time.Minute
}

func (cd CooldownConfig) Select() time.Duration {
	return time.Duration(cd.SelectSeconds) * time.Second
}
func (cd CooldownConfig) Default() time.Duration {
	return time.Duration(cd.DefaultSeconds) * time.Second
}
func (cd CooldownConfig) Retention() time.Duration {
	return time.Duration(cd.RetentionMinutes) * time.Minute
}

func (r RecoveryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}
func (r RecoveryConfig) BaseCooldown() time.Duration {
	return time.Duration(r.BaseCooldownMinutes) * time.Minute
}
func (r RecoveryConfig) ExtendedStep() time.Duration {
	return time.Duration(r.ExtendedStepMinutes) * time.Minute
}
func (r RecoveryConfig) ExtendedCap() time.Duration {
	return time.Duration(r.ExtendedCapMinutes) * time.Minute
}
func (r RecoveryConfig) Settle() time.Duration {
	return time.Duration(r.SettleSeconds) * time.Second
}
