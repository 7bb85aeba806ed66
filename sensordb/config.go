package sensordb

import (
	"time"

	"github.com/pkg/errors"

	"github.com/sensordb/sensordb/sensordb/backend/azure"
	"github.com/sensordb/sensordb/sensordb/backend/local"
	"github.com/sensordb/sensordb/sensordb/pool"
)

type StorageMode string

const (
	StorageModeRemote StorageMode = "remote"
	StorageModeLocal  StorageMode = "local"
	StorageModeHybrid StorageMode = "hybrid"
)

type Config struct {
	StorageMode StorageMode   `yaml:"storage_mode"`
	Local       *local.Config `yaml:"local"`
	Azure       *azure.Config `yaml:"azure"`

	MaxQueryDurationHours int `yaml:"max_query_duration_hours"`
	DefaultMaxDatapoints  int `yaml:"default_max_datapoints"`
	MaxAbsoluteDatapoints int `yaml:"max_absolute_datapoints"`

	RawTierMaxHours         int `yaml:"raw_tier_max_hours"`
	AggregatedTierMaxHours  int `yaml:"aggregated_tier_max_hours"`
	DailyTierThresholdHours int `yaml:"daily_tier_threshold_hours"`

	CacheEnabled         bool `yaml:"cache_enabled"`
	CacheSizeMB          int  `yaml:"cache_size_mb"`
	CacheTTLSeconds      int  `yaml:"cache_ttl_seconds"`
	CacheMaxEntries      int  `yaml:"cache_max_entries"`
	FrequencyMaxAgeHours int  `yaml:"frequency_max_age_hours"`

	EnableSmartAggregation bool `yaml:"enable_smart_aggregation"`

	Pool *pool.Config `yaml:"pool"`
}

// DefaultConfig returns a local-mode configuration with the standard tier
// thresholds and a 100 MB cache.
func DefaultConfig() *Config {
	return &Config{
		StorageMode:             StorageModeLocal,
		Local:                   &local.Config{Path: "./data"},
		MaxQueryDurationHours:   8760,
		DefaultMaxDatapoints:    10000,
		MaxAbsoluteDatapoints:   50000,
		RawTierMaxHours:         24,
		AggregatedTierMaxHours:  168,
		DailyTierThresholdHours: 168,
		CacheEnabled:            true,
		CacheSizeMB:             100,
		CacheTTLSeconds:         300,
		CacheMaxEntries:         1000,
		FrequencyMaxAgeHours:    24,
		EnableSmartAggregation:  true,
		Pool: &pool.Config{
			MaxWorkers: 8,
			QueueDepth: 10000,
		},
	}
}

func (cfg *Config) Validate() error {
	switch cfg.StorageMode {
	case StorageModeRemote:
		if cfg.Azure == nil {
			return errors.New("storage_mode remote requires an azure section")
		}
	case StorageModeLocal:
		if cfg.Local == nil {
			return errors.New("storage_mode local requires a local section")
		}
	case StorageModeHybrid:
		if cfg.Azure == nil || cfg.Local == nil {
			return errors.New("storage_mode hybrid requires azure and local sections")
		}
	default:
		return errors.Errorf("unknown storage_mode %q", cfg.StorageMode)
	}

	if cfg.RawTierMaxHours <= 0 ||
		cfg.RawTierMaxHours >= cfg.AggregatedTierMaxHours ||
		cfg.AggregatedTierMaxHours > cfg.DailyTierThresholdHours {
		return errors.New("tier thresholds must satisfy raw < aggregated <= daily")
	}

	if cfg.MaxQueryDurationHours <= 0 {
		return errors.New("max_query_duration_hours must be positive")
	}
	if cfg.DefaultMaxDatapoints <= 0 || cfg.MaxAbsoluteDatapoints <= 0 {
		return errors.New("datapoint budgets must be positive")
	}
	if cfg.DefaultMaxDatapoints > cfg.MaxAbsoluteDatapoints {
		return errors.New("default_max_datapoints exceeds max_absolute_datapoints")
	}
	return nil
}

func (cfg *Config) maxQueryDuration() time.Duration {
	return time.Duration(cfg.MaxQueryDurationHours) * time.Hour
}

func (cfg *Config) cacheTTL() time.Duration {
	return time.Duration(cfg.CacheTTLSeconds) * time.Second
}

func (cfg *Config) frequencyMaxAge() time.Duration {
	return time.Duration(cfg.FrequencyMaxAgeHours) * time.Hour
}
