// Package config defines Conductor's configuration surface (spec §6) and
// loads it from a TOML file, following the ancestor codebase's use of
// naoina/toml for its own configuration and genesis files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/naoina/toml"
)

// Config is the full node configuration surface. Every field in spec §6's
// enumerated list is present, plus node identity and storage location which
// the abstract spec leaves to the embedding process.
type Config struct {
	// Identity & storage.
	NodeKeyPath string `toml:"node_key_path"`
	DataDir     string `toml:"data_dir"`
	GenesisSeed string `toml:"genesis_seed"` // hex-encoded 32 bytes

	// VDF / day-advancement (spec §6, §4.1).
	DifficultyInitial      uint64 `toml:"difficulty_initial"`
	ProgressInterval       uint64 `toml:"progress_interval"`
	AdjustmentIntervalDays uint32 `toml:"adjustment_interval_days"`

	// Membership & thresholds.
	MinValidators  uint32  `toml:"min_validators"`
	ThresholdRatio float64 `toml:"threshold_ratio"`

	// Epoch / agreement timing.
	EpochTimeoutMS uint32 `toml:"epoch_timeout_ms"`

	// Caches.
	SeenCacheTTLMS uint32 `toml:"seen_cache_ttl_ms"`

	// Peer retry / circuit breaking (spec §4.12).
	PeerCircuitBreakerThreshold uint32 `toml:"peer_circuit_breaker_threshold"`
	PeerCircuitBreakerOpenMS    uint32 `toml:"peer_circuit_breaker_open_ms"`

	// Batch bounds (spec §3 EventBatch).
	MaxEventsPerBatch int `toml:"max_events_per_batch"`
	MaxBatchBytes     int `toml:"max_batch_bytes"`

	// Retention (spec §3, §4.9).
	DayProofRetentionDays int `toml:"day_proof_retention_days"`

	LogLevel string `toml:"log_level"`
}

// Default returns the configuration defaults enumerated in spec §6.
func Default() *Config {
	return &Config{
		DataDir:                     "./conductor-data",
		DifficultyInitial:           86_400_000,
		ProgressInterval:            1_000_000,
		AdjustmentIntervalDays:      10,
		MinValidators:               4,
		ThresholdRatio:              2.0 / 3.0,
		EpochTimeoutMS:              120_000,
		SeenCacheTTLMS:              86_400_000,
		PeerCircuitBreakerThreshold: 5,
		PeerCircuitBreakerOpenMS:    60_000,
		MaxEventsPerBatch:           4096,
		MaxBatchBytes:               1 << 20,
		DayProofRetentionDays:       30,
		LogLevel:                    "info",
	}
}

// Load reads a TOML file at path, applying it on top of Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are self-consistent.
func (c *Config) Validate() error {
	if c.MinValidators < 4 {
		return fmt.Errorf("config: min_validators must be >= 4, got %d", c.MinValidators)
	}
	if c.ThresholdRatio <= 0.5 || c.ThresholdRatio > 1.0 {
		return fmt.Errorf("config: threshold_ratio must be in (0.5, 1.0], got %f", c.ThresholdRatio)
	}
	if c.DifficultyInitial == 0 {
		return fmt.Errorf("config: difficulty_initial must be > 0")
	}
	if c.ProgressInterval == 0 {
		return fmt.Errorf("config: progress_interval must be > 0")
	}
	if c.AdjustmentIntervalDays == 0 {
		return fmt.Errorf("config: adjustment_interval_days must be > 0")
	}
	if c.EpochTimeoutMS == 0 {
		return fmt.Errorf("config: epoch_timeout_ms must be > 0")
	}
	if c.MaxEventsPerBatch <= 0 || c.MaxBatchBytes <= 0 {
		return fmt.Errorf("config: batch bounds must be positive")
	}
	return nil
}

func (c *Config) EpochTimeout() time.Duration {
	return time.Duration(c.EpochTimeoutMS) * time.Millisecond
}

func (c *Config) SeenCacheTTL() time.Duration {
	return time.Duration(c.SeenCacheTTLMS) * time.Millisecond
}

func (c *Config) CircuitBreakerOpenDuration() time.Duration {
	return time.Duration(c.PeerCircuitBreakerOpenMS) * time.Millisecond
}

func (c *Config) AdjustmentInterval() int {
	return int(c.AdjustmentIntervalDays)
}
